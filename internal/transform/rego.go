package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/open-policy-agent/opa/v1/ast" // NB: v1 for template strings in queries.
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
)

type regoOptions struct {
	Query  string         `json:"query"`
	Module string         `json:"module"`
	Data   map[string]any `json:"data"`
}

// newRego evaluates a query with the content as input.content. The first
// expression of the first result is the new content.
func newRego(ctx context.Context, opts map[string]any) (Step, error) {
	var o regoOptions
	if err := decode(opts, &o); err != nil {
		return nil, err
	}
	if o.Query == "" {
		return nil, errors.New("query is required")
	}

	query, err := ast.ParseBody(o.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}

	args := []func(*rego.Rego){
		rego.ParsedQuery(query),
	}
	if o.Module != "" {
		args = append(args, rego.Module("transform.rego", o.Module))
	}
	if o.Data != nil {
		args = append(args, rego.Store(inmem.NewFromObject(o.Data)))
	}

	pq, err := rego.New(args...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	return stepFunc(func(ctx context.Context, content string) (string, error) {
		return evaluateRego(ctx, pq, map[string]any{"content": content})
	}), nil
}

func evaluateRego(ctx context.Context, pq rego.PreparedEvalQuery, input map[string]any) (string, error) {
	rs, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", err
	}

	if len(rs) == 0 {
		return "", errors.New("no results from Rego evaluation")
	}

	if len(rs[0].Expressions) == 0 {
		return "", errors.New("no expressions in result")
	}

	return formatValue(rs[0].Expressions[0].Value)
}

func formatValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", val), nil
	case json.Number:
		return val.String(), nil
	case ast.Number:
		if i, ok := val.Int(); ok {
			return strconv.Itoa(i), nil
		}
		if f, ok := val.Float64(); ok {
			return fmt.Sprintf("%g", f), nil
		}
		return val.String(), nil
	default:
		bs, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(bs), nil
	}
}
