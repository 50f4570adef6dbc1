package fs

import (
	"errors"
	"io/fs"
)

var errFound = errors.New("found")

// ContainsFiles reports whether dir in fsys holds at least one regular file,
// at any depth. A missing dir holds none.
func ContainsFiles(fsys fs.FS, dir string) (bool, error) {
	err := fs.WalkDir(fsys, dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return errFound
		}
		return nil
	})
	switch {
	case errors.Is(err, errFound):
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, err
}
