package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

const metaChars = `*?[{\`

// GlobResolver expands glob patterns against an fs.FS. Patterns use "/" as
// separator: "*" stays within one directory, "**" crosses directories and
// a "**/" segment also matches no directory at all.
//
// Matches come back in lexical path order. A pattern without meta
// characters is returned as is, whether it exists or not, and so is an
// http(s) URL.
type GlobResolver struct {
	fsys fs.FS
}

func NewGlobResolver(fsys fs.FS) *GlobResolver {
	return &GlobResolver{fsys: fsys}
}

func (r *GlobResolver) Resolve(ctx context.Context, pattern string) ([]string, error) {
	if IsRemote(pattern) {
		return []string{pattern}, nil
	}

	pattern = CleanPath(pattern)
	if !strings.ContainsAny(pattern, metaChars) {
		return []string{pattern}, nil
	}

	g, err := CompilePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var matches []string
	err = fs.WalkDir(r.fsys, staticPrefix(pattern), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() && g.Match(p) {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	return matches, nil
}

// Pattern matches slash separated paths. A "**/" segment matches zero or
// more directories, so "src/**/*.js" matches "src/a.js" as well as
// "src/lib/b.js".
type Pattern []glob.Glob

func CompilePattern(pattern string) (Pattern, error) {
	variants := expandDoubleStar(pattern)
	p := make(Pattern, 0, len(variants))
	for _, v := range variants {
		g, err := glob.Compile(v, '/')
		if err != nil {
			return nil, err
		}
		p = append(p, g)
	}
	return p, nil
}

func (p Pattern) Match(name string) bool {
	return slices.ContainsFunc(p, func(g glob.Glob) bool { return g.Match(name) })
}

// expandDoubleStar returns pattern with every "**/" segment both kept and
// dropped. gobwas/glob requires "**/" to match at least one directory.
func expandDoubleStar(pattern string) []string {
	i := doubleStarSegment(pattern)
	if i < 0 {
		return []string{pattern}
	}

	rest := expandDoubleStar(pattern[i+3:])
	out := make([]string, 0, 2*len(rest))
	for _, r := range rest {
		out = append(out, pattern[:i+3]+r, pattern[:i]+r)
	}
	return out
}

func doubleStarSegment(pattern string) int {
	for off := 0; ; {
		j := strings.Index(pattern[off:], "**/")
		if j < 0 {
			return -1
		}
		i := off + j
		if i == 0 || strings.ContainsRune("/{,", rune(pattern[i-1])) {
			return i
		}
		off = i + 1
	}
}

// IsRemote reports whether p is an http(s) URL.
func IsRemote(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

// CleanPath turns p into a valid fs.FS name: slash separated, no leading
// "./" or "/".
func CleanPath(p string) string {
	p = strings.TrimLeft(path.Clean("/"+p), "/")
	if p == "" {
		return "."
	}
	return p
}

// staticPrefix returns the longest leading directory of pattern without
// meta characters, the directory every match lives below.
func staticPrefix(pattern string) string {
	i := strings.IndexAny(pattern, metaChars)
	if i < 0 {
		return path.Dir(pattern)
	}
	if j := strings.LastIndex(pattern[:i], "/"); j >= 0 {
		return pattern[:j]
	}
	return "."
}
