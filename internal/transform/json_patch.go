package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/open-policy-agent/merge-into-file/internal/jsonpatch"
)

type jsonPatchOptions struct {
	Patch  []any          `json:"patch"` // RFC 6902 operations.
	Merge  map[string]any `json:"merge"` // RFC 7386 merge patch, applied after Patch.
	Indent string         `json:"indent"`
}

// newJSONPatch patches content holding a single JSON document.
func newJSONPatch(_ context.Context, opts map[string]any) (Step, error) {
	var o jsonPatchOptions
	if err := decode(opts, &o); err != nil {
		return nil, err
	}
	if o.Patch == nil && o.Merge == nil {
		return nil, errors.New("patch or merge is required")
	}

	var patch jsonpatch.Patch
	if o.Patch != nil {
		var err error
		if patch, err = jsonpatch.Decode(o.Patch); err != nil {
			return nil, err
		}
	}

	return stepFunc(func(_ context.Context, content string) (string, error) {
		doc := []byte(content)
		var err error

		if patch != nil {
			if doc, err = jsonpatch.Apply(patch, doc); err != nil {
				return "", err
			}
		}

		if o.Merge != nil {
			if doc, err = jsonpatch.Merge(doc, o.Merge); err != nil {
				return "", err
			}
		}

		if o.Indent != "" {
			var buf bytes.Buffer
			if err := json.Indent(&buf, doc, "", o.Indent); err != nil {
				return "", err
			}
			doc = buf.Bytes()
		}

		return string(doc), nil
	}), nil
}
