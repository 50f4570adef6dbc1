package merge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/merge-into-file/pkg/merge"
)

func TestFilesRules(t *testing.T) {
	fn := func(context.Context, string) (map[string]*merge.Result, error) { return nil, nil }

	cases := []struct {
		note     string
		files    merge.Files
		expNames []string
		expSrc   [][]string
	}{
		{
			note: "mapping in name order",
			files: merge.ByDestination(map[string][]string{
				"b.js": {"b/*.js"},
				"a.js": {"a/*.js", "a.js"},
			}),
			expNames: []string{"a.js", "b.js"},
			expSrc:   [][]string{{"a/*.js", "a.js"}, {"b/*.js"}},
		},
		{
			note: "list keeps order",
			files: merge.List(
				merge.Rule{Src: []string{"z"}, Dest: merge.Named("z.js")},
				merge.Rule{Src: []string{"y"}, Dest: merge.Func(fn)},
				merge.Rule{Src: []string{"x"}, Dest: merge.Named("x.js")},
			),
			expNames: []string{"z.js", "#1", "x.js"},
			expSrc:   [][]string{{"z"}, {"y"}, {"x"}},
		},
		{
			note:  "empty",
			files: merge.List(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			rules := tc.files.Rules(nil)
			if len(rules) != tc.files.Len() {
				t.Fatalf("expected %d rules, got %d", tc.files.Len(), len(rules))
			}

			var names []string
			var src [][]string
			for _, r := range rules {
				names = append(names, r.Name)
				src = append(src, r.Src)
			}
			if diff := cmp.Diff(tc.expNames, names); diff != "" {
				t.Errorf("names (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.expSrc, src); diff != "" {
				t.Errorf("sources (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilesAreCopied(t *testing.T) {
	m := map[string][]string{"a.js": {"a"}}
	files := merge.ByDestination(m)
	m["b.js"] = []string{"b"}

	if files.Len() != 1 {
		t.Fatalf("expected mapping to be copied, got %d rules", files.Len())
	}
}

func TestJoin(t *testing.T) {
	cases := []struct {
		note  string
		parts []string
		sep   string
		exp   string
	}{
		{note: "none", sep: "\n", exp: ""},
		{note: "one", parts: []string{"a"}, sep: "\n", exp: "a"},
		{note: "two", parts: []string{"a", "b"}, sep: "\n;\n", exp: "a\n;\nb"},
		{note: "leading empty", parts: []string{"", "a", "b"}, sep: ",", exp: "a,b"},
		{note: "inner empty", parts: []string{"a", "", "b"}, sep: ",", exp: "a,,b"},
		{note: "trailing empty", parts: []string{"a", ""}, sep: ",", exp: "a,"},
		{note: "empty separator", parts: []string{"a", "b"}, sep: "", exp: "ab"},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			parts := make([]*merge.Result, len(tc.parts))
			for i, p := range tc.parts {
				parts[i] = merge.Value(p)
			}
			got, err := merge.Join(t.Context(), parts, tc.sep)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.exp {
				t.Fatalf("expected %q, got %q", tc.exp, got)
			}
		})
	}
}

func TestJoinFailure(t *testing.T) {
	boom := errors.New("boom")
	parts := []*merge.Result{merge.Value("a"), merge.Failed(boom), merge.Value("b")}

	if _, err := merge.Join(t.Context(), parts, "\n"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestResultAwait(t *testing.T) {
	var nilResult *merge.Result
	if s, err := nilResult.Await(t.Context()); s != "" || err != nil {
		t.Fatalf("expected zero value from nil result, got %q, %v", s, err)
	}

	r := merge.Async(func() (string, error) { panic("boom") })
	if _, err := r.Await(t.Context()); err == nil {
		t.Fatal("expected panic to surface as an error")
	}

	release := make(chan struct{})
	blocked := merge.Async(func() (string, error) {
		<-release
		return "late", nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	if _, err := blocked.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSyncRecoversPanics(t *testing.T) {
	tf := merge.Sync(func(context.Context, string) (string, error) { panic("boom") })
	if _, err := tf(t.Context(), "x").Await(t.Context()); err == nil {
		t.Fatal("expected error")
	}
}
