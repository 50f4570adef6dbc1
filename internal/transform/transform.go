// Package transform turns the transform steps of a merge configuration into
// functions over merged content.
package transform

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/open-policy-agent/merge-into-file/internal/config"
	"github.com/open-policy-agent/merge-into-file/pkg/merge"
)

// Step rewrites content. Steps may be called concurrently.
type Step interface {
	Apply(ctx context.Context, content string) (string, error)
}

type stepFunc func(ctx context.Context, content string) (string, error)

func (f stepFunc) Apply(ctx context.Context, content string) (string, error) {
	return f(ctx, content)
}

var builders = map[string]func(ctx context.Context, opts map[string]any) (Step, error){
	"banner":     newBanner,
	"json_patch": newJSONPatch,
	"rego":       newRego,
	"replace":    newReplace,
	"trim":       newTrim,
}

// Types returns the supported step types in sorted order.
func Types() []string {
	return slices.Sorted(maps.Keys(builders))
}

// New compiles one configured step.
func New(ctx context.Context, step config.TransformStep) (Step, error) {
	build, ok := builders[step.Type()]
	if !ok {
		return nil, fmt.Errorf("unknown transform type %q", step.Type())
	}

	opts := maps.Clone(map[string]any(step))
	delete(opts, "type")

	s, err := build(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step.Type(), err)
	}
	return s, nil
}

// Chain compiles steps into a single transform that applies them in order.
func Chain(ctx context.Context, steps config.TransformSteps) (merge.TransformFunc, error) {
	compiled := make([]Step, 0, len(steps))
	for i, step := range steps {
		s, err := New(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		compiled = append(compiled, s)
	}

	return merge.Sync(func(ctx context.Context, content string) (string, error) {
		var err error
		for i, s := range compiled {
			if content, err = s.Apply(ctx, content); err != nil {
				return "", fmt.Errorf("step %d (%s): %w", i, steps[i].Type(), err)
			}
		}
		return content, nil
	}), nil
}

// ForMerge compiles the transforms of every destination of m.
func ForMerge(ctx context.Context, m *config.Merge) (map[string]merge.TransformFunc, error) {
	if len(m.Transforms) == 0 {
		return nil, nil
	}

	result := make(map[string]merge.TransformFunc, len(m.Transforms))
	for _, dest := range slices.Sorted(maps.Keys(m.Transforms)) {
		fn, err := Chain(ctx, m.Transforms[dest])
		if err != nil {
			return nil, fmt.Errorf("transform for %q: %w", dest, err)
		}
		result[dest] = fn
	}
	return result, nil
}

func decode(input map[string]any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      output,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}

type bannerOptions struct {
	Header string `json:"header"`
	Footer string `json:"footer"`
}

func newBanner(_ context.Context, opts map[string]any) (Step, error) {
	var o bannerOptions
	if err := decode(opts, &o); err != nil {
		return nil, err
	}
	if o.Header == "" && o.Footer == "" {
		return nil, errors.New("header or footer is required")
	}

	return stepFunc(func(_ context.Context, content string) (string, error) {
		return o.Header + content + o.Footer, nil
	}), nil
}

type replaceOptions struct {
	Old    string `json:"old"`
	New    string `json:"new"`
	Count  *int   `json:"count"` // Unset replaces all.
	Regexp bool   `json:"regexp"`
}

func newReplace(_ context.Context, opts map[string]any) (Step, error) {
	var o replaceOptions
	if err := decode(opts, &o); err != nil {
		return nil, err
	}
	if o.Old == "" {
		return nil, errors.New("old is required")
	}

	n := -1
	if o.Count != nil {
		n = *o.Count
	}

	if !o.Regexp {
		return stepFunc(func(_ context.Context, content string) (string, error) {
			return strings.Replace(content, o.Old, o.New, n), nil
		}), nil
	}

	re, err := regexp.Compile(o.Old)
	if err != nil {
		return nil, err
	}

	return stepFunc(func(_ context.Context, content string) (string, error) {
		if n < 0 {
			return re.ReplaceAllString(content, o.New), nil
		}
		return replaceN(re, content, o.New, n), nil
	}), nil
}

func replaceN(re *regexp.Regexp, s, repl string, n int) string {
	var sb strings.Builder
	last := 0
	for _, m := range re.FindAllStringSubmatchIndex(s, n) {
		sb.WriteString(s[last:m[0]])
		sb.Write(re.ExpandString(nil, repl, s, m))
		last = m[1]
	}
	sb.WriteString(s[last:])
	return sb.String()
}

type trimOptions struct {
	Cutset *string `json:"cutset"` // Unset trims white space.
}

func newTrim(_ context.Context, opts map[string]any) (Step, error) {
	var o trimOptions
	if err := decode(opts, &o); err != nil {
		return nil, err
	}

	return stepFunc(func(_ context.Context, content string) (string, error) {
		if o.Cutset == nil {
			return strings.TrimSpace(content), nil
		}
		return strings.Trim(content, *o.Cutset), nil
	}), nil
}
