package merge

import (
	"context"
	"maps"
	"slices"
	"strconv"
)

// DestFunc turns the joined content of a rule into one or more named
// outputs. Every returned Result is awaited before anything is emitted.
type DestFunc func(ctx context.Context, content string) (map[string]*Result, error)

// MappingRule is the normalized unit of work: the glob patterns to read
// and the function producing the outputs from their joined content.
type MappingRule struct {
	Name string // destination name, or "#<index>" for function destinations
	Src  []string
	Dest DestFunc
}

// Destination is either a plain output name or a DestFunc.
type Destination struct {
	name string
	fn   DestFunc
}

// Named returns a Destination emitting a single output called name, after
// applying the transform registered for name (if any).
func Named(name string) Destination {
	return Destination{name: name}
}

// Func returns a Destination computed by fn. Transforms registered by name
// are not consulted for it.
func Func(fn DestFunc) Destination {
	return Destination{fn: fn}
}

// Rule is one entry of the explicit-list form of Files.
type Rule struct {
	Src  []string
	Dest Destination
}

type filesKind int

const (
	byDestination filesKind = iota
	explicitList
)

// Files is the declarative input of a merge. It is built either from a
// destination → sources mapping (ByDestination) or from a list of rules
// (List), and normalized once by Rules.
type Files struct {
	kind   filesKind
	byDest map[string][]string
	list   []Rule
}

// ByDestination returns Files for the mapping form. Rules are produced in
// sorted destination order.
func ByDestination(m map[string][]string) Files {
	return Files{kind: byDestination, byDest: maps.Clone(m)}
}

// List returns Files for the explicit-list form. Rules keep their order.
func List(rules ...Rule) Files {
	return Files{kind: explicitList, list: slices.Clone(rules)}
}

// Len returns the number of rules.
func (f Files) Len() int {
	if f.kind == explicitList {
		return len(f.list)
	}
	return len(f.byDest)
}

// Rules normalizes f into MappingRules. Named destinations look up their
// transform in transforms.
func (f Files) Rules(transforms map[string]TransformFunc) []MappingRule {
	var rules []MappingRule

	switch f.kind {
	case explicitList:
		rules = make([]MappingRule, 0, len(f.list))
		for i, r := range f.list {
			rule := MappingRule{Src: slices.Clone(r.Src)}
			if r.Dest.fn != nil {
				rule.Name = "#" + strconv.Itoa(i)
				rule.Dest = r.Dest.fn
			} else {
				rule.Name = r.Dest.name
				rule.Dest = namedDest(r.Dest.name, transforms[r.Dest.name])
			}
			rules = append(rules, rule)
		}
	default:
		rules = make([]MappingRule, 0, len(f.byDest))
		for _, name := range slices.Sorted(maps.Keys(f.byDest)) {
			rules = append(rules, MappingRule{
				Name: name,
				Src:  slices.Clone(f.byDest[name]),
				Dest: namedDest(name, transforms[name]),
			})
		}
	}

	return rules
}

func namedDest(name string, transform TransformFunc) DestFunc {
	return func(ctx context.Context, content string) (map[string]*Result, error) {
		if transform == nil {
			return map[string]*Result{name: Value(content)}, nil
		}
		return map[string]*Result{name: transform(ctx, content)}, nil
	}
}
