package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/yalue/merged_fs"

	"github.com/open-policy-agent/merge-into-file/internal/fs/mountfs"
)

// Sources describes the file tree merges read from.
type Sources struct {
	Base     string            // relative roots and mounts are resolved against Base
	Roots    []string          // overlaid, earlier roots win
	Mounts   map[string]string // prefix -> directory
	Excluded []string          // glob patterns hidden from all merges
}

// Open assembles the source tree: the overlay of all roots, with the mounts
// layered below it, minus the excluded files. Without roots or mounts the
// base directory itself is the tree.
func Open(s Sources) (fs.FS, error) {
	layers := make([]fs.FS, 0, len(s.Roots)+1)
	for _, root := range s.Roots {
		dir, err := s.dir(root)
		if err != nil {
			return nil, err
		}
		layers = append(layers, os.DirFS(dir))
	}

	if len(s.Mounts) > 0 {
		m := make(map[string]fs.FS, len(s.Mounts))
		for prefix, root := range s.Mounts {
			dir, err := s.dir(root)
			if err != nil {
				return nil, err
			}
			m[prefix] = os.DirFS(dir)
		}
		layers = append(layers, mountfs.New(m))
	}

	if len(layers) == 0 {
		dir, err := s.dir(".")
		if err != nil {
			return nil, err
		}
		layers = append(layers, os.DirFS(dir))
	}

	return NewFilterFS(Overlay(layers...), s.Excluded)
}

// Overlay merges layers into one fs.FS; for names present in several
// layers the earliest one wins.
func Overlay(layers ...fs.FS) fs.FS {
	if len(layers) == 0 {
		return MapFS(nil)
	}
	merged := layers[len(layers)-1]
	for _, l := range slices.Backward(layers[:len(layers)-1]) {
		merged = merged_fs.NewMergedFS(l, merged)
	}
	return merged
}

func (s Sources) dir(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.Base, p)
	}
	fi, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("source root: %w", err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("source root %s is not a directory", p)
	}
	return p, nil
}
