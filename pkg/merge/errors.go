package merge

import "fmt"

// Kind classifies the step a merge failed in.
type Kind int

const (
	KindResolve Kind = iota + 1
	KindRead
	KindTransform
	KindHash
	KindEmit
)

func (k Kind) String() string {
	switch k {
	case KindResolve:
		return "resolve"
	case KindRead:
		return "read"
	case KindTransform:
		return "transform"
	case KindHash:
		return "hash"
	case KindEmit:
		return "emit"
	}
	return "unknown"
}

// Error is returned for any failure inside a rule pipeline.
type Error struct {
	Kind Kind
	Rule string // name of the mapping rule
	Path string // pattern, source path or output name, depending on Kind
	Err  error
}

// Sentinels for errors.Is: errors.Is(err, merge.ErrRead).
var (
	ErrResolve   = &Error{Kind: KindResolve}
	ErrRead      = &Error{Kind: KindRead}
	ErrTransform = &Error{Kind: KindTransform}
	ErrHash      = &Error{Kind: KindHash}
	ErrEmit      = &Error{Kind: KindEmit}
)

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("merge %q: %v: %v", e.Rule, e.Kind, e.Err)
	}
	return fmt.Sprintf("merge %q: %v %s: %v", e.Rule, e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels (errors without a wrapped error) by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}
