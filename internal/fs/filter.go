package fs

import (
	"fmt"
	"io/fs"
	"slices"
)

// FilterFS hides every path matching one of its exclusion patterns. Hidden
// files cannot be opened, and hidden entries are left out of directory
// listings, so walks never see them.
type FilterFS struct {
	fsys     fs.FS
	excluded []Pattern
}

var (
	_ fs.FS        = (*FilterFS)(nil)
	_ fs.ReadDirFS = (*FilterFS)(nil)
)

// NewFilterFS wraps fsys. Without patterns fsys is returned unchanged.
func NewFilterFS(fsys fs.FS, patterns []string) (fs.FS, error) {
	if len(patterns) == 0 {
		return fsys, nil
	}

	f := &FilterFS{fsys: fsys, excluded: make([]Pattern, 0, len(patterns))}
	for _, p := range patterns {
		g, err := CompilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile excluded file pattern %q: %w", p, err)
		}
		f.excluded = append(f.excluded, g)
	}
	return f, nil
}

func (f *FilterFS) Open(name string) (fs.File, error) {
	if f.hidden(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return f.fsys.Open(name)
}

func (f *FilterFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if f.hidden(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}

	entries, err := fs.ReadDir(f.fsys, name)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(entries, func(e fs.DirEntry) bool {
		p := e.Name()
		if name != "." {
			p = name + "/" + p
		}
		return f.hidden(p)
	}), nil
}

func (f *FilterFS) hidden(name string) bool {
	return name != "." && slices.ContainsFunc(f.excluded, func(p Pattern) bool { return p.Match(name) })
}
