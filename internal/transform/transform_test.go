package transform_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/merge-into-file/internal/config"
	"github.com/open-policy-agent/merge-into-file/internal/transform"
)

func TestChain(t *testing.T) {
	for _, tc := range []struct {
		note    string
		steps   config.TransformSteps
		content string
		exp     string
	}{
		{
			note:    "no steps",
			content: "a",
			exp:     "a",
		},
		{
			note: "banner",
			steps: config.TransformSteps{
				{"type": "banner", "header": "/* app */\n", "footer": "\n//# end"},
			},
			content: "var a;",
			exp:     "/* app */\nvar a;\n//# end",
		},
		{
			note: "replace all",
			steps: config.TransformSteps{
				{"type": "replace", "old": "__VERSION__", "new": "1.2.3"},
			},
			content: "__VERSION__ __VERSION__",
			exp:     "1.2.3 1.2.3",
		},
		{
			note: "replace count",
			steps: config.TransformSteps{
				{"type": "replace", "old": "a", "new": "b", "count": 1},
			},
			content: "aaa",
			exp:     "baa",
		},
		{
			note: "replace regexp",
			steps: config.TransformSteps{
				{"type": "replace", "old": `console\.log\([^)]*\);\n?`, "new": "", "regexp": true},
			},
			content: "a();\nconsole.log(1);\nb();\n",
			exp:     "a();\nb();\n",
		},
		{
			note: "replace regexp count with groups",
			steps: config.TransformSteps{
				{"type": "replace", "old": `(\w+)=(\w+)`, "new": "$2=$1", "regexp": true, "count": 1},
			},
			content: "a=b c=d",
			exp:     "b=a c=d",
		},
		{
			note: "trim",
			steps: config.TransformSteps{
				{"type": "trim"},
			},
			content: "\n\n  x  \n",
			exp:     "x",
		},
		{
			note: "trim cutset",
			steps: config.TransformSteps{
				{"type": "trim", "cutset": ";\n"},
			},
			content: ";\nx;\n",
			exp:     "x",
		},
		{
			note: "steps apply in order",
			steps: config.TransformSteps{
				{"type": "trim"},
				{"type": "banner", "header": "(function(){\n", "footer": "\n})();"},
			},
			content: "\nvar a = 1;\n",
			exp:     "(function(){\nvar a = 1;\n})();",
		},
		{
			note: "rego",
			steps: config.TransformSteps{
				{"type": "rego", "query": `upper(input.content)`},
			},
			content: "abc",
			exp:     "ABC",
		},
		{
			note: "rego with module and data",
			steps: config.TransformSteps{
				{
					"type":   "rego",
					"query":  "data.banner.out",
					"module": "package banner\n\nout := concat(\"\", [data.prefix, input.content])",
					"data":   map[string]any{"prefix": "// built\n"},
				},
			},
			content: "x",
			exp:     "// built\nx",
		},
		{
			note: "rego non-string result",
			steps: config.TransformSteps{
				{"type": "rego", "query": `count(input.content)`},
			},
			content: "abcd",
			exp:     "4",
		},
	} {
		t.Run(tc.note, func(t *testing.T) {
			fn, err := transform.Chain(t.Context(), tc.steps)
			if err != nil {
				t.Fatal(err)
			}
			got, err := fn(t.Context(), tc.content).Await(t.Context())
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.exp {
				t.Fatalf("expected %q, got %q", tc.exp, got)
			}
		})
	}
}

func TestJSONPatch(t *testing.T) {
	fn, err := transform.Chain(t.Context(), config.TransformSteps{
		{
			"type":   "json_patch",
			"patch":  []any{map[string]any{"op": "add", "path": "/version", "value": "2.0.0"}},
			"merge":  map[string]any{"private": nil},
			"indent": "  ",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := fn(t.Context(), `{"name":"app","private":true}`).Await(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(got), &doc); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"name": "app", "version": "2.0.0"}, doc); diff != "" {
		t.Fatalf("document (-want +got):\n%s", diff)
	}
	if !strings.Contains(got, "\n  \"") {
		t.Fatalf("expected indented output, got %q", got)
	}

	if _, err := fn(t.Context(), "not json").Await(t.Context()); err == nil {
		t.Fatal("expected error for content that is not JSON")
	}
}

func TestChainErrors(t *testing.T) {
	for _, tc := range []struct {
		note   string
		steps  config.TransformSteps
		expErr string
	}{
		{
			note:   "unknown type",
			steps:  config.TransformSteps{{"type": "uglify"}},
			expErr: `step 0: unknown transform type "uglify"`,
		},
		{
			note:   "unknown option",
			steps:  config.TransformSteps{{"type": "trim", "cut": "x"}},
			expErr: "invalid keys: cut",
		},
		{
			note:   "empty banner",
			steps:  config.TransformSteps{{"type": "banner"}},
			expErr: "header or footer is required",
		},
		{
			note:   "replace without old",
			steps:  config.TransformSteps{{"type": "replace", "new": "x"}},
			expErr: "old is required",
		},
		{
			note:   "bad regexp",
			steps:  config.TransformSteps{{"type": "replace", "old": "(", "regexp": true}},
			expErr: "missing closing )",
		},
		{
			note:   "rego parse error",
			steps:  config.TransformSteps{{"type": "rego", "query": "input.content ==="}},
			expErr: "failed to parse query",
		},
		{
			note:   "bad patch op",
			steps:  config.TransformSteps{{"type": "json_patch", "patch": []any{map[string]any{"op": "frob", "path": "/a"}}}},
			expErr: "unsupported patch operation",
		},
	} {
		t.Run(tc.note, func(t *testing.T) {
			_, err := transform.Chain(t.Context(), tc.steps)
			if err == nil || !strings.Contains(err.Error(), tc.expErr) {
				t.Fatalf("expected error containing %q, got %v", tc.expErr, err)
			}
		})
	}
}

func TestRuntimeError(t *testing.T) {
	fn, err := transform.Chain(t.Context(), config.TransformSteps{
		{"type": "trim"},
		{"type": "rego", "query": `input.content == "never"`},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := fn(t.Context(), "x").Await(t.Context()); err == nil || !strings.Contains(err.Error(), "step 1 (rego)") {
		t.Fatalf("expected failing step in error, got %v", err)
	}
}

func TestForMerge(t *testing.T) {
	fns, err := transform.ForMerge(t.Context(), &config.Merge{
		Transforms: map[string]config.TransformSteps{
			"a.js": {{"type": "trim"}},
			"b.js": {{"type": "banner", "header": "// b\n"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fns) != 2 {
		t.Fatalf("expected two transforms, got %d", len(fns))
	}

	if _, err := transform.ForMerge(t.Context(), &config.Merge{
		Transforms: map[string]config.TransformSteps{"a.js": {{"type": "nope"}}},
	}); err == nil || !strings.Contains(err.Error(), `transform for "a.js"`) {
		t.Fatalf("expected destination in error, got %v", err)
	}

	if diff := cmp.Diff([]string{"banner", "json_patch", "rego", "replace", "trim"}, transform.Types()); diff != "" {
		t.Fatalf("types (-want +got):\n%s", diff)
	}
}
