package fs

import (
	"io/fs"
	"testing/fstest"
)

// MapFS returns an in-memory fs.FS holding the given path to content map.
func MapFS(m map[string]string) fs.FS {
	m0 := make(fstest.MapFS, len(m))
	for p, f := range m {
		m0[p] = &fstest.MapFile{Data: []byte(f)}
	}
	return m0
}
