// Package service runs the configured merges, writes the merged files to
// the output directory and uploads them to object storage.
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/open-policy-agent/merge-into-file/internal/config"
	mfs "github.com/open-policy-agent/merge-into-file/internal/fs"
	"github.com/open-policy-agent/merge-into-file/internal/httpread"
	"github.com/open-policy-agent/merge-into-file/internal/logging"
	"github.com/open-policy-agent/merge-into-file/internal/output"
	"github.com/open-policy-agent/merge-into-file/internal/pool"
	"github.com/open-policy-agent/merge-into-file/internal/progress"
	"github.com/open-policy-agent/merge-into-file/internal/s3"
	"github.com/open-policy-agent/merge-into-file/pkg/merge"
)

const defaultOutputDir = "dist"

type Service struct {
	configFiles []string
	baseDir     string
	outputDir   string
	log         *logging.Logger
	progress    io.Writer
	workers     int
	watch       bool

	// Overrides for the backends derived from the configuration.
	sources fs.FS
	fetcher mfs.Fetcher
	storage s3.ObjectStorage

	mu         sync.Mutex
	root       *config.Root
	backend    backend
	opened     bool
	build      *output.Build
	pool       *pool.Pool
	running    map[string]*running
	generation int
}

type backend struct {
	sources fs.FS
	fetcher mfs.Fetcher
	storage s3.ObjectStorage
}

type running struct {
	worker *MergeWorker
	task   string
}

func New() *Service {
	return &Service{
		baseDir: ".",
		log:     logging.NewNoOpLogger(),
		workers: 1,
		build:   output.NewBuild(),
		running: make(map[string]*running),
	}
}

// WithConfigFiles sets the configuration files and directories, merged in
// order. They are read on first use and again on reload.
func (s *Service) WithConfigFiles(files []string) *Service {
	s.configFiles = files
	return s
}

func (s *Service) WithConfig(root *config.Root) *Service {
	s.root = root
	return s
}

// WithBaseDir sets the directory relative roots, mounts and the configured
// output directory are resolved against.
func (s *Service) WithBaseDir(dir string) *Service {
	s.baseDir = cmp.Or(dir, ".")
	return s
}

// WithOutputDir overrides the configured output directory.
func (s *Service) WithOutputDir(dir string) *Service {
	s.outputDir = dir
	return s
}

func (s *Service) WithLogger(logger *logging.Logger) *Service {
	s.log = logger
	return s
}

// WithProgress enables a progress bar on w for single pass builds.
func (s *Service) WithProgress(w io.Writer) *Service {
	s.progress = w
	return s
}

// WithWorkers sets the number of merges rebuilt in parallel by Run.
func (s *Service) WithWorkers(n int) *Service {
	s.workers = max(n, 1)
	return s
}

func (s *Service) WithWatch(watch bool) *Service {
	s.watch = watch
	return s
}

func (s *Service) WithSources(fsys fs.FS) *Service {
	s.sources = fsys
	return s
}

func (s *Service) WithFetcher(f mfs.Fetcher) *Service {
	s.fetcher = f
	return s
}

func (s *Service) WithStorage(storage s3.ObjectStorage) *Service {
	s.storage = storage
	return s
}

// Output returns the build the merges emit into.
func (s *Service) Output() *output.Build {
	return s.build
}

// Config returns the configuration in use.
func (s *Service) Config() *config.Root {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// Init loads the configuration, if not set, and opens the sources, the
// remote fetcher and the object storage. It is a no-op once it succeeded.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return nil
	}

	if s.root == nil {
		root, err := s.load()
		if err != nil {
			return err
		}
		s.root = root
	}

	b, err := s.open(ctx, s.root)
	if err != nil {
		return err
	}

	s.backend, s.opened = b, true
	return nil
}

func (s *Service) load() (*config.Root, error) {
	if len(s.configFiles) == 0 {
		return nil, errors.New("no configuration files")
	}

	bs, err := config.MergeFiles(s.configFiles, false)
	if err != nil {
		return nil, err
	}

	return config.Parse(bs)
}

func (s *Service) open(ctx context.Context, root *config.Root) (backend, error) {
	b := backend{sources: s.sources, fetcher: s.fetcher, storage: s.storage}

	if b.sources == nil {
		fsys, err := mfs.Open(mfs.Sources{Base: s.baseDir, Roots: root.Roots, Mounts: root.Mounts})
		if err != nil {
			return backend{}, err
		}
		b.sources = mfs.NewTraceFS(fsys, s.log)

		for _, prefix := range slices.Sorted(maps.Keys(root.Mounts)) {
			if ok, err := mfs.ContainsFiles(b.sources, prefix); err == nil && !ok {
				s.log.Warnf("mount %q contains no files", prefix)
			}
		}
	}

	if b.fetcher == nil {
		b.fetcher = httpread.FromConfig(root.Remote)
	}

	if b.storage == nil && root.Storage != nil {
		storage, err := s3.New(ctx, *root.Storage)
		if err != nil {
			return backend{}, fmt.Errorf("failed to open object storage: %w", err)
		}
		b.storage = storage
	}

	return b, nil
}

// Build runs every merge once, in chunk dependency order. A failing merge
// does not stop the others; all failures are returned joined.
func (s *Service) Build(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	workers, bar, err := s.workersOnce()
	if err != nil {
		return err
	}
	defer bar.Finish()

	var errs []error
	for _, w := range workers {
		w.Execute(ctx)

		switch st := w.Status(); st.State {
		case BuildStateSuccess:
			s.log.Infof("Merge %q built %d file(s).", w.Name(), len(st.Report))
		case BuildStateSkipped:
			s.log.Infof("Merge %q skipped, none of its chunks were rendered.", w.Name())
		default:
			errs = append(errs, fmt.Errorf("merge %q: %s", w.Name(), st.Message))
		}
	}

	return errors.Join(errs...)
}

// workersOnce returns single shot workers for all merges, in chunk
// dependency order, against the configuration in use at the time of the
// call, and the progress bar they count on.
func (s *Service) workersOnce() ([]*MergeWorker, *progress.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merges, err := s.root.TopologicalSortedMerges()
	if err != nil {
		return nil, nil, err
	}

	var bar *progress.Bar
	if s.progress != nil {
		bar = progress.New(s.progress, len(merges), "merging")
	}

	workers := make([]*MergeWorker, 0, len(merges))
	for _, m := range merges {
		workers = append(workers, s.newWorker(m, bar).WithSingleShot(true))
	}
	return workers, bar, nil
}

// Run builds the merges and rebuilds each one at its rebuild interval until
// ctx is done. Every successful build is written out. With watch enabled,
// changed sources trigger all merges and changed configuration files are
// reloaded.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	var w *watcher
	if s.watch {
		var err error
		if w, err = s.newWatcher(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	merges, err := s.root.TopologicalSortedMerges()
	if err != nil {
		s.mu.Unlock()
		if w != nil {
			w.Close()
		}
		return err
	}

	s.pool = pool.New(ctx, s.workers)
	for _, m := range merges {
		s.start(m)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	if w != nil {
		wg.Go(func() { s.watchLoop(ctx, w) })
	}

	s.log.Infof("Running %d merge(s).", len(merges))

	s.pool.Wait()
	wg.Wait()
	return nil
}

// Reload re-reads the configuration files and applies them.
func (s *Service) Reload(ctx context.Context) error {
	root, err := s.load()
	if err != nil {
		return err
	}
	return s.Reconfigure(ctx, root)
}

// Reconfigure replaces the configuration of a running service. Workers of
// changed or removed merges leave the pool, new workers are started for
// changed or added merges. A change to the settings shared by all merges
// restarts every worker.
func (s *Service) Reconfigure(ctx context.Context, root *config.Root) error {
	merges, err := root.TopologicalSortedMerges()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shared := sharedEqual(s.root, root)
	if !shared {
		b, err := s.open(ctx, root)
		if err != nil {
			return err
		}
		s.backend = b
	}
	s.root = root

	for name, r := range s.running {
		if shared {
			r.worker.UpdateConfig(root.Merges[name])
		} else {
			r.worker.UpdateConfig(nil)
		}

		if !r.worker.configurationChanged() {
			continue
		}

		delete(s.running, name)
		if s.pool != nil {
			_ = s.pool.Trigger(r.task) // the worker leaves on its next run
		}
		if root.Merges[name] == nil {
			s.build.Forget(name)
		}
	}

	if s.pool == nil {
		return nil
	}

	for _, m := range merges {
		if _, ok := s.running[m.Name]; !ok {
			s.start(m)
		}
	}

	return nil
}

// start adds a worker for m to the pool. It must be called with s.mu held.
func (s *Service) start(m *config.Merge) {
	s.generation++
	task := fmt.Sprintf("%s@%d", m.Name, s.generation)

	w := s.newWorker(m, nil).
		WithInterval(m.Interval).
		WithPublisher(s.Write)

	s.running[m.Name] = &running{worker: w, task: task}
	s.pool.Add(task, w.Execute)
}

// newWorker must be called with s.mu held.
func (s *Service) newWorker(m *config.Merge, bar *progress.Bar) *MergeWorker {
	return NewMergeWorker(m, s.build, s.log.With("merge", m.Name), bar).
		WithSources(s.backend.sources).
		WithFetcher(s.backend.fetcher).
		WithHash(hashOptions(s.root.Hash))
}

// OutputDir returns the directory the build is written to.
func (s *Service) OutputDir() string {
	if s.outputDir != "" {
		return s.outputDir
	}

	dir := cmp.Or(s.root.Output.Directory, defaultOutputDir)
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(s.baseDir, dir)
}

// Write writes the build to the output directory and uploads the files that
// changed to the object storage, if one is configured.
func (s *Service) Write(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.OutputDir()
	written, err := s.build.WriteDir(dir, s.root.Output.Manifest)
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	s.log.Debugf("Wrote %d file(s) to %s.", len(written), dir)

	if s.backend.storage == nil {
		return nil
	}
	return s.upload(ctx, s.backend.storage)
}

// Check compares the build with the output directory, writing a diff for
// every file that is out of date to w.
func (s *Service) Check(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.build.Check(w, s.OutputDir(), s.root.Output.Manifest)
}

func (s *Service) upload(ctx context.Context, storage s3.ObjectStorage) error {
	files, err := s.build.Files(s.root.Output.Manifest)
	if err != nil {
		return err
	}

	var n int
	for _, name := range slices.Sorted(maps.Keys(files)) {
		content := files[name]
		if stored(ctx, storage, name, content) {
			continue
		}
		if err := storage.Upload(ctx, name, strings.NewReader(content)); err != nil {
			return err
		}
		n++
	}

	s.log.Debugf("Uploaded %d of %d file(s).", n, len(files))
	return nil
}

// stored reports whether storage holds content under name already.
func stored(ctx context.Context, storage s3.ObjectStorage, name, content string) bool {
	r, err := storage.Download(ctx, name)
	if err != nil {
		return false
	}
	bs, err := io.ReadAll(r)
	return err == nil && string(bs) == content
}

func hashOptions(h *config.Hash) merge.HashOptions {
	if h == nil {
		return merge.HashOptions{}
	}
	return merge.HashOptions{
		Function:     h.Function,
		Digest:       h.Digest,
		DigestLength: h.DigestLength,
		Salt:         h.Salt,
	}
}

// sharedEqual compares the settings every merge depends on.
func sharedEqual(a, b *config.Root) bool {
	return slices.Equal(a.Roots, b.Roots) &&
		maps.Equal(a.Mounts, b.Mounts) &&
		a.Output == b.Output &&
		a.Hash.Equal(b.Hash) &&
		a.Remote.Equal(b.Remote) &&
		a.Storage.Equal(b.Storage) &&
		maps.EqualFunc(a.Secrets, b.Secrets, (*config.Secret).Equal)
}
