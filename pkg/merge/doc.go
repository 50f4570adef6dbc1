// Package merge concatenates source files into named build outputs.
//
// A merge reads every file matched by a set of glob patterns, joins their
// contents with a separator, optionally rewrites the result with a
// transform, optionally renames it after a content hash, and emits it into
// the asset collection of a host build.
//
// # Basic Usage
//
// Map destination names to the sources they are made of:
//
//	import "github.com/open-policy-agent/merge-into-file/pkg/merge"
//
//	m := merge.New(merge.ByDestination(map[string][]string{
//	    "script.js": {"src/a.js", "src/b.js"},
//	    "style.css": {"src/**/*.css"},
//	})).
//	    WithResolver(resolver).
//	    WithReader(reader)
//
//	report, err := m.Run(ctx, merge.Host{Assets: assets})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The report maps each output name to the name it was emitted under.
//
// # Explicit Rules
//
// The list form accepts either a destination name or a function producing
// any number of outputs from the joined content:
//
//	files := merge.List(
//	    merge.Rule{Src: []string{"a.js"}, Dest: merge.Named("a.js")},
//	    merge.Rule{Src: []string{"b.json"}, Dest: merge.Func(
//	        func(ctx context.Context, content string) (map[string]*merge.Result, error) {
//	            return map[string]*merge.Result{
//	                "b.json":     merge.Value(content),
//	                "b.min.json": merge.Async(func() (string, error) { return minify(content) }),
//	            }, nil
//	        })},
//	)
//
// # Transforms
//
// Transforms are keyed by destination name and only apply to named
// destinations. They return a *Result, which may already be resolved
// (Value, Failed) or still running (Async). Sync adapts ordinary functions:
//
//	m.WithTransforms(map[string]merge.TransformFunc{
//	    "script.js": merge.Sync(func(_ context.Context, s string) (string, error) {
//	        return "(function(){" + s + "})();", nil
//	    }),
//	})
//
// # Joining
//
// Sources are joined in pattern order, then in the order the Resolver
// returned matches for each pattern. The separator (default "\n") is only
// written between pieces once something has been accumulated, so zero
// matches give "" and a single match is emitted unchanged.
//
// # Hashing
//
// WithHash(true) appends a content hash in front of the extension:
//
//	script.js  -> script-0123456789abcdef0123.js
//	app.min.js -> app-0123456789abcdef0123.min.js
//	app.js.map -> app-0123456789abcdef0123.js.map
//
// WithFileName replaces that rule with a function of base name, extension
// and hash, and turns hashing on by itself. The digest is configured by
// Host.Hash. When the host has a UnitRegistry, each hashed output is also
// registered as a unit named after its unhashed identity ("app.min" for
// "app.min.js"), so manifests can find it.
//
// # Gating
//
// WithChunks makes the whole run conditional on at least one of the named
// units having been rendered in the host build. A gated run emits nothing
// and returns a nil Report.
//
// # Errors
//
// Every failure is an *Error carrying its Kind. All rules run to
// completion; Run returns the first error observed, along with the partial
// report of the outputs emitted by the rules that succeeded. The completion
// hook only sees complete reports. Execute hands the outcome to a callback,
// and panics on failure when there is none.
//
// # Thread Safety
//
// Rules, patterns and reads run on separate goroutines. Emission into the
// host and the report are serialized. Transforms of different rules may run
// in parallel and must not share mutable state.
package merge
