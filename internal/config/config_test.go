package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/go-cmp/cmp"

	"github.com/open-policy-agent/merge-into-file/internal/config"
)

func TestParseSecretResolve(t *testing.T) {

	result, err := config.Parse([]byte(`{
		remote: {
			credentials: secret1
		},
		secrets: {
			secret1: {
				type: basic_auth,
				username: bob,
				password: '${MERGECTL_PASSWORD}'
			}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("MERGECTL_PASSWORD", "passw0rd")

	value, err := result.Remote.Credentials.Resolve(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	exp := &config.SecretBasicAuth{
		Username: "bob",
		Password: "passw0rd",
	}

	if !reflect.DeepEqual(value, exp) {
		t.Fatalf("expected: %v\n\ngot: %v", exp, value)
	}
}

func TestParseSecretMissing(t *testing.T) {
	result, err := config.Parse([]byte(`{remote: {credentials: nope}}`))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := result.Remote.Credentials.Resolve(t.Context()); err == nil || err.Error() != `secret "nope" not found` {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestParseFiles(t *testing.T) {
	cfg, err := config.Parse([]byte(`
merges:
  mapping:
    files:
      script.js: ./src/*.js
      style.css:
        - ./style/a.css
        - ./style/*.css
  list:
    files:
      - src: [a.js, b.js]
        dest: out.js
      - src: c.js
        dest: c.min.js
`))
	if err != nil {
		t.Fatal(err)
	}

	expMapping := config.Files{Mapping: map[string]config.Patterns{
		"script.js": {"./src/*.js"},
		"style.css": {"./style/a.css", "./style/*.css"},
	}}
	if diff := cmp.Diff(expMapping, cfg.Merges["mapping"].Files); diff != "" {
		t.Fatalf("mapping files (-want +got):\n%s", diff)
	}

	expList := config.Files{Rules: []config.FileRule{
		{Src: config.Patterns{"a.js", "b.js"}, Dest: "out.js"},
		{Src: config.Patterns{"c.js"}, Dest: "c.min.js"},
	}}
	if !expList.Equal(cfg.Merges["list"].Files) {
		t.Fatalf("expected %v, got %v", expList, cfg.Merges["list"].Files)
	}

	if cfg.Merges["list"].Name != "list" {
		t.Fatalf("expected merge name to be set, got %q", cfg.Merges["list"].Name)
	}
}

func TestMarshallingRoundtrip(t *testing.T) {

	cfg, err := config.Parse([]byte(`{
		roots: [src, vendor],
		output: {directory: dist, manifest: manifest.json},
		hash: {function: sha1, digest: base64url, digest_length: 8, salt: pepper},
		remote: {credentials: cdn, timeout: 5s},
		secrets: {
			cdn: {type: token_auth, token: abc}
		},
		merges: {
			app: {
				files: {"app.js": ["a.js", "b.js"]},
				transform: {
					"app.js": [{type: banner, header: "/* app */"}]
				},
				separator: "\n;\n",
				hash: true,
				chunks: [vendor],
				excluded_files: ["**.test.js"],
				rebuild_interval: 30s
			},
			vendor: {
				files: [{src: "lib/*.js", dest: "vendor.js"}],
				file_name: "{{.Base}}{{.Ext}}?v={{.Hash}}"
			}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Merges["app"].Interval != config.Duration(30*time.Second) {
		t.Fatalf("unexpected interval: %v", cfg.Merges["app"].Interval)
	}

	bs, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}

	cfg2, err := config.Parse(bs)
	if err != nil {
		t.Fatalf("%v\n%s", err, bs)
	}

	for name, m := range cfg.Merges {
		if !m.Equal(cfg2.Merges[name]) {
			t.Fatalf("expected merge %q to be equal after roundtrip:\n%s", name, bs)
		}
	}

	if !cfg.Hash.Equal(cfg2.Hash) {
		t.Fatal("expected hash configuration to be equal")
	}

	if !cfg.Remote.Equal(cfg2.Remote) {
		t.Fatal("expected remote configuration to be equal")
	}
}

func TestMergeEqual(t *testing.T) {
	sep := ";"
	for _, tc := range []struct {
		note string
		a, b *config.Merge
		exp  bool
	}{
		{
			note: "both nil",
			exp:  true,
		},
		{
			note: "one nil",
			a:    &config.Merge{Name: "a"},
		},
		{
			note: "chunks are a set",
			a:    &config.Merge{Name: "a", Chunks: config.StringSet{"x", "y"}},
			b:    &config.Merge{Name: "a", Chunks: config.StringSet{"y", "x"}},
			exp:  true,
		},
		{
			note: "unset and empty separator differ",
			a:    &config.Merge{Name: "a"},
			b:    &config.Merge{Name: "a", Separator: new(string)},
		},
		{
			note: "separator",
			a:    &config.Merge{Name: "a", Separator: &sep},
			b:    &config.Merge{Name: "a", Separator: &sep},
			exp:  true,
		},
		{
			note: "pattern order matters",
			a:    &config.Merge{Name: "a", Files: config.Files{Mapping: map[string]config.Patterns{"x": {"1", "2"}}}},
			b:    &config.Merge{Name: "a", Files: config.Files{Mapping: map[string]config.Patterns{"x": {"2", "1"}}}},
		},
		{
			note: "transforms",
			a:    &config.Merge{Name: "a", Transforms: map[string]config.TransformSteps{"x": {{"type": "trim"}}}},
			b:    &config.Merge{Name: "a", Transforms: map[string]config.TransformSteps{"x": {{"type": "trim"}}}},
			exp:  true,
		},
	} {
		t.Run(tc.note, func(t *testing.T) {
			if got := tc.a.Equal(tc.b); got != tc.exp {
				t.Fatalf("expected %v, got %v", tc.exp, got)
			}
		})
	}
}

func TestSeparatorOr(t *testing.T) {
	cfg, err := config.Parse([]byte(`{merges: {a: {files: {}}, b: {files: {}, separator: ""}}}`))
	if err != nil {
		t.Fatal(err)
	}

	if got := cfg.Merges["a"].SeparatorOr("\n"); got != "\n" {
		t.Fatalf("expected default separator, got %q", got)
	}
	if got := cfg.Merges["b"].SeparatorOr("\n"); got != "" {
		t.Fatalf("expected empty separator, got %q", got)
	}
}

func TestTopoSortMerges(t *testing.T) {

	config, err := config.Parse([]byte(`{
		merges: {
			A: {files: {}, chunks: [B]},
			B: {files: {}, chunks: [C, D]},
			C: {files: {}, chunks: [nonexistent]},
			D: {files: {}, chunks: [C]}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	sorted, err := config.TopologicalSortedMerges()
	if err != nil {
		t.Fatal(err)
	}

	exp := []string{"C", "D", "B", "A"}
	if len(sorted) != len(exp) {
		t.Fatal("unexpected number of merges")
	}

	for i := range exp {
		if exp[i] != sorted[i].Name {
			t.Fatalf("expected %v but got %v", exp, sorted)
		}
	}

}

func TestTopoSortMergesCycle(t *testing.T) {

	config, err := config.Parse([]byte(`{
		merges: {
			A: {files: {}, chunks: [B]},
			B: {files: {}, chunks: [C, D]},
			C: {files: {}, chunks: [E]},
			D: {files: {}, chunks: [C]},
			E: {files: {}, chunks: [A]}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	_, err = config.TopologicalSortedMerges()
	if err == nil || err.Error() != "cycle found on merge \"A\"" {
		t.Fatal("expected cycle error on merge A but got:", err)
	}

}

func TestValidateYAML(t *testing.T) {
	{ // These cannot be empty: It won't panic, but it won't pass validation either
		cfg := []byte(`
merges:
  empty-merge:
secrets:
  empty-secret:
`)
		_, err := config.Parse(cfg)
		if err == nil {
			t.Fatal("expected error")
		}
		exp := []string{
			`- at '/merges/empty-merge': got null, want object`,
			`- at '/secrets/empty-secret': got null, want object`,
		}
		for _, line := range exp {
			if !strings.Contains(err.Error(), line) {
				t.Errorf("expected error with line %q", line)
			}
		}
		if t.Failed() {
			t.Logf("error: %q", err.Error())
		}
	}
	{
		cfg := []byte(`
merges:
  app:
    separator: ";"
`)
		if _, err := config.Parse(cfg); err == nil || !strings.Contains(err.Error(), "missing property 'files'") {
			t.Fatalf("expected missing files error, got %v", err)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, tc := range []struct {
		note   string
		config string
		expErr string
	}{
		{
			note:   "unknown merge field",
			config: `{merges: {app: {files: {}, destination: x}}}`,
			expErr: "additional properties 'destination' not allowed",
		},
		{
			note:   "unknown hash function",
			config: `{hash: {function: md4}}`,
			expErr: "value must be one of",
		},
		{
			note:   "unknown transform type",
			config: `{merges: {app: {files: {}, transform: {"a.js": [{type: uglify}]}}}}`,
			expErr: "value must be one of",
		},
		{
			note:   "bad excluded pattern",
			config: `{merges: {app: {files: {}, excluded_files: ["[a"]}}}`,
			expErr: "failed to compile excluded file pattern",
		},
		{
			note:   "bad file name template",
			config: `{merges: {app: {files: {}, file_name: "{{.Base"}}}`,
			expErr: "failed to parse file name template",
		},
		{
			note:   "list rule without dest",
			config: `{merges: {app: {files: [{src: a.js, dest: ""}]}}}`,
			expErr: "missing dest",
		},
		{
			note:   "s3 without region",
			config: `{storage: {aws: {bucket: b}}}`,
			expErr: "amazon s3 region is required",
		},
		{
			note:   "filesystem without path",
			config: `{storage: {filesystem: {path: ""}}}`,
			expErr: "filesystem storage path is required",
		},
		{
			note:   "bad interval",
			config: `{merges: {app: {files: {}, rebuild_interval: soon}}}`,
			expErr: "invalid duration",
		},
	} {
		t.Run(tc.note, func(t *testing.T) {
			_, err := config.Parse([]byte(tc.config))
			if err == nil || !strings.Contains(err.Error(), tc.expErr) {
				t.Fatalf("expected error containing %q, got %v", tc.expErr, err)
			}
		})
	}
}

func TestMergeFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	base := write("base.yaml", "output:\n  directory: dist\nmerges:\n  app:\n    files:\n      app.js: [a.js]\n")
	write("conf.d/vendor.yaml", "merges:\n  vendor:\n    files:\n      vendor.js: [lib/*.js]\n")
	write("conf.d/README.md", "not configuration")

	bs, err := config.MergeFiles([]string{base, filepath.Join(dir, "conf.d")}, true)
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Parse(bs)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Output.Directory != "dist" {
		t.Fatalf("expected output directory from base, got %q", cfg.Output.Directory)
	}
	if len(cfg.Merges) != 2 || cfg.Merges["app"] == nil || cfg.Merges["vendor"] == nil {
		t.Fatalf("expected both merges, got %v", cfg.Merges)
	}

	conflict := write("conflict.yaml", "output:\n  directory: build\n")
	if _, err := config.MergeFiles([]string{base, conflict}, true); err == nil || err.Error() != "conflict for config path /output/directory" {
		t.Fatalf("expected conflict error, got %v", err)
	}

	bs, err = config.MergeFiles([]string{base, conflict}, false)
	if err != nil {
		t.Fatal(err)
	}
	if cfg, err = config.Parse(bs); err != nil {
		t.Fatal(err)
	} else if cfg.Output.Directory != "build" {
		t.Fatalf("expected later file to win, got %q", cfg.Output.Directory)
	}
}
