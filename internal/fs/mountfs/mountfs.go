// Parts of this are based on testing/fstest, go1.25.2:
// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mountfs

import (
	"io"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"
	"time"
)

// A MountFS combines existing file systems into one, each mounted under
// its own directory prefix.
//
// A name is served by the mount with the longest matching prefix. Parent
// directories of mount points are synthesized, and a mount point lists its
// own entries plus the mount points nested directly below it. Mounts nested
// inside a subdirectory of another mount are only reachable by name.
//
// The map must not be changed while the MountFS is in use.
type MountFS map[string]fs.FS

// New returns a MountFS for m. Prefixes are cleaned; "" and "." mount at
// the root.
func New(m map[string]fs.FS) MountFS {
	fsys := make(MountFS, len(m))
	for prefix, f := range m {
		fsys[clean(prefix)] = f
	}
	return fsys
}

var _ fs.FS = MountFS(nil)

// Mounts returns the mount prefixes in lexical order.
func (fsys MountFS) Mounts() []string {
	return slices.Sorted(maps.Keys(fsys))
}

// Open opens the named file.
func (fsys MountFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	mnt, rest, ok := fsys.lookup(name)
	if ok && rest != "." {
		return fsys[mnt].Open(rest)
	}

	var entries []fs.DirEntry
	if ok {
		inner, err := fs.ReadDir(fsys[mnt], ".")
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		entries = inner
	}

	for _, child := range fsys.children(name) {
		if !slices.ContainsFunc(entries, func(e fs.DirEntry) bool { return e.Name() == child }) {
			entries = append(entries, &dirInfo{name: child})
		}
	}

	if !ok && len(entries) == 0 && name != "." {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})

	return &dir{path: name, info: dirInfo{name: path.Base(name)}, entries: entries}, nil
}

// lookup finds the mount serving name and the name relative to it.
func (fsys MountFS) lookup(name string) (string, string, bool) {
	best, found := "", false
	for prefix := range fsys {
		if prefix != "." && name != prefix && !strings.HasPrefix(name, prefix+"/") {
			continue
		}
		if !found || len(prefix) > len(best) || best == "." {
			best, found = prefix, true
		}
	}
	if !found {
		return "", "", false
	}

	switch {
	case best == ".":
		return best, name, true
	case name == best:
		return best, ".", true
	}
	return best, name[len(best)+1:], true
}

// children returns the names of the directories directly below name that
// lead to a mount point.
func (fsys MountFS) children(name string) []string {
	prefix := name + "/"
	if name == "." {
		prefix = ""
	}

	var out []string
	for mnt := range fsys {
		if mnt == "." || !strings.HasPrefix(mnt, prefix) || mnt == name {
			continue
		}
		child, _, _ := strings.Cut(mnt[len(prefix):], "/")
		if !slices.Contains(out, child) {
			out = append(out, child)
		}
	}
	return out
}

func clean(prefix string) string {
	prefix = strings.Trim(path.Clean("/"+prefix), "/")
	if prefix == "" {
		return "."
	}
	return prefix
}

// dirInfo implements fs.FileInfo and fs.DirEntry for synthesized directories.
type dirInfo struct {
	name string
}

func (i *dirInfo) Name() string               { return i.name }
func (*dirInfo) Size() int64                  { return 0 }
func (*dirInfo) Mode() fs.FileMode            { return fs.ModeDir | 0o555 }
func (*dirInfo) Type() fs.FileMode            { return fs.ModeDir }
func (*dirInfo) ModTime() time.Time           { return time.Time{} }
func (*dirInfo) IsDir() bool                  { return true }
func (*dirInfo) Sys() any                     { return nil }
func (i *dirInfo) Info() (fs.FileInfo, error) { return i, nil }

func (i *dirInfo) String() string {
	return fs.FormatFileInfo(i)
}

// dir is a directory fs.File open for reading.
type dir struct {
	path    string
	info    dirInfo
	entries []fs.DirEntry
	offset  int
}

func (d *dir) Stat() (fs.FileInfo, error) { return &d.info, nil }
func (*dir) Close() error                 { return nil }
func (d *dir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.path, Err: fs.ErrInvalid}
}

func (d *dir) ReadDir(count int) ([]fs.DirEntry, error) {
	n := len(d.entries) - d.offset
	if n == 0 && count > 0 {
		return nil, io.EOF
	}
	if count > 0 && n > count {
		n = count
	}
	list := slices.Clone(d.entries[d.offset : d.offset+n])
	d.offset += n
	return list, nil
}
