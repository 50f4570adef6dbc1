package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 300 * time.Millisecond

// watcher watches the source directories and the configuration files.
// Events below the output directory are ignored so that writing the build
// does not trigger another one.
type watcher struct {
	*fsnotify.Watcher
	configs []string
	output  string
}

func (s *Service) newWatcher() (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}

	s.mu.Lock()
	dirs := s.sourceDirs()
	out := s.OutputDir()
	s.mu.Unlock()

	w := &watcher{Watcher: fw, output: abs(out)}

	for _, dir := range dirs {
		if err := addDirsRecursive(fw, dir); err != nil {
			fw.Close()
			return nil, err
		}
	}

	for _, f := range s.configFiles {
		p := abs(f)
		fi, err := os.Stat(p)
		if err != nil {
			fw.Close()
			return nil, err
		}

		// The directory of a file is watched; editors replace files on save.
		if fi.IsDir() {
			err = addDirsRecursive(fw, p)
		} else {
			err = fw.Add(filepath.Dir(p))
		}
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.configs = append(w.configs, p)
	}

	return w, nil
}

// sourceDirs returns the directories the sources are read from. It must be
// called with s.mu held.
func (s *Service) sourceDirs() []string {
	var dirs []string
	for _, root := range s.root.Roots {
		dirs = append(dirs, s.resolve(root))
	}
	for _, root := range s.root.Mounts {
		dirs = append(dirs, s.resolve(root))
	}
	if len(dirs) == 0 {
		dirs = append(dirs, s.baseDir)
	}
	slices.Sort(dirs)
	return slices.Compact(dirs)
}

func (s *Service) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.baseDir, p)
}

// watchLoop triggers all merges after source changes settle, reloading the
// configuration first if one of its files changed. It returns when ctx is
// done.
func (s *Service) watchLoop(ctx context.Context, w *watcher) {
	defer w.Close()

	var (
		timer  *time.Timer
		fire   <-chan time.Time
		reload bool
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = addDirsRecursive(w.Watcher, ev.Name)
				}
			}

			s.log.Debugf("File change detected: %s %s", ev.Op, ev.Name)
			reload = reload || w.config(ev.Name)

			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil

			if reload {
				reload = false
				if err := s.Reload(ctx); err != nil {
					s.log.Errorf("failed to reload configuration: %v", err)
					continue
				}
				s.log.Infof("Configuration reloaded.")
			}

			s.pool.TriggerAll()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warnf("watcher error: %v", err)
		}
	}
}

func (w *watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	return !within(abs(ev.Name), w.output)
}

func (w *watcher) config(name string) bool {
	p := abs(name)
	return slices.ContainsFunc(w.configs, func(c string) bool {
		return within(p, c)
	})
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// within reports whether p is dir or below it.
func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
}

func abs(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return filepath.Clean(p)
}
