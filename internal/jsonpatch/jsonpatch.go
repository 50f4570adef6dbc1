package jsonpatch

import (
	"encoding/json"
	"fmt"

	jp "github.com/evanphx/json-patch/v5"
)

type PatchError struct {
	msg string
}

func (p *PatchError) Error() string {
	return p.msg
}

type Patch = jp.Patch

var opts = jp.ApplyOptions{
	EnsurePathExistsOnAdd:    true, // will create paths
	AllowMissingPathOnRemove: true,
}

// Decode builds a patch from a decoded configuration value, typically a
// list of operation objects.
func Decode(ops any) (Patch, error) {
	bs, err := json.Marshal(ops)
	if err != nil {
		return nil, &PatchError{fmt.Sprintf("invalid patch: %v", err)}
	}

	p, err := jp.DecodePatch(bs)
	if err != nil {
		return nil, &PatchError{fmt.Sprintf("invalid patch: %v", err)}
	}

	for _, op := range p {
		switch op.Kind() {
		case "replace", "remove", "add", "copy", "move", "test": // OK
		default:
			return nil, &PatchError{fmt.Sprintf("unsupported patch operation %q, must be one of \"replace\", \"add\", \"remove\", \"copy\", \"move\", \"test\"", op.Kind())}
		}
	}

	return p, nil
}

// Apply applies an RFC 6902 patch to a JSON document. Adds create missing
// parents and removes of missing paths are ignored.
func Apply(p Patch, doc []byte) ([]byte, error) {
	return p.ApplyWithOptions(doc, &opts)
}

// Merge applies an RFC 7386 merge patch to a JSON document.
func Merge(doc []byte, patch any) ([]byte, error) {
	bs, err := json.Marshal(patch)
	if err != nil {
		return nil, &PatchError{fmt.Sprintf("invalid merge patch: %v", err)}
	}
	return jp.MergePatch(doc, bs)
}
