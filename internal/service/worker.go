package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/merge-into-file/internal/config"
	mfs "github.com/open-policy-agent/merge-into-file/internal/fs"
	"github.com/open-policy-agent/merge-into-file/internal/logging"
	"github.com/open-policy-agent/merge-into-file/internal/metrics"
	"github.com/open-policy-agent/merge-into-file/internal/output"
	"github.com/open-policy-agent/merge-into-file/internal/progress"
	"github.com/open-policy-agent/merge-into-file/internal/transform"
	"github.com/open-policy-agent/merge-into-file/pkg/merge"
)

var (
	defaultInterval = 30 * time.Second
	errorInterval   = 30 * time.Second
)

// MergeWorker builds one configured merge into a shared output build and
// publishes the result. Between runs it is parked in the pool until the
// deadline returned by Execute.
type MergeWorker struct {
	mergeConfig *config.Merge
	build       *output.Build
	hash        merge.HashOptions
	sources     fs.FS
	fetcher     mfs.Fetcher
	publish     func(ctx context.Context) error
	changed     chan struct{}
	done        chan struct{}
	singleShot  bool
	log         *logging.Logger
	bar         *progress.Bar
	mu          sync.Mutex
	status      Status
	interval    time.Duration
}

func NewMergeWorker(m *config.Merge, b *output.Build, logger *logging.Logger, bar *progress.Bar) *MergeWorker {
	return &MergeWorker{
		mergeConfig: m,
		build:       b,
		log:         logger,
		bar:         bar,
		changed:     make(chan struct{}),
		done:        make(chan struct{}),
		interval:    defaultInterval,
	}
}

func (w *MergeWorker) WithSources(fsys fs.FS) *MergeWorker {
	w.sources = fsys
	return w
}

func (w *MergeWorker) WithFetcher(f mfs.Fetcher) *MergeWorker {
	w.fetcher = f
	return w
}

func (w *MergeWorker) WithHash(h merge.HashOptions) *MergeWorker {
	w.hash = h
	return w
}

// WithPublisher sets the function called after every successful build.
func (w *MergeWorker) WithPublisher(fn func(ctx context.Context) error) *MergeWorker {
	w.publish = fn
	return w
}

func (w *MergeWorker) WithSingleShot(singleShot bool) *MergeWorker {
	w.singleShot = singleShot
	return w
}

func (w *MergeWorker) WithInterval(d config.Duration) *MergeWorker {
	w.interval = cmp.Or(time.Duration(d), defaultInterval)
	return w
}

func (w *MergeWorker) Name() string {
	return w.mergeConfig.Name
}

func (w *MergeWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *MergeWorker) Done() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// UpdateConfig makes the worker leave the pool on its next run if m differs
// from the configuration it was created with.
func (w *MergeWorker) UpdateConfig(m *config.Merge) {
	if m == nil || !w.mergeConfig.Equal(m) {
		w.changeConfiguration()
	}
}

// Build runs the merge once against the shared output build. A merge gated
// on chunks that were not rendered yet returns a nil report. A failed merge
// leaves no assets behind.
func (w *MergeWorker) Build(ctx context.Context) (merge.Report, error) {
	m, err := w.merger(ctx)
	if err != nil {
		return nil, err
	}
	report, err := m.Run(ctx, w.build.Host(w.hash))
	if err != nil {
		w.build.Discard(report)
		return nil, err
	}
	return report, nil
}

// Execute runs a build iteration: merge, then publish. It returns the time
// of the next iteration, or the zero time when the worker leaves the pool.
func (w *MergeWorker) Execute(ctx context.Context) time.Time {
	startTime := time.Now() // Used for timing metric

	defer w.bar.Add(1)

	if w.configurationChanged() {
		return w.die()
	}

	m, err := w.merger(ctx)
	if err != nil {
		w.log.Warnf("failed to configure merge %q: %v", w.Name(), err)
		return w.report(BuildStateConfigFailed, startTime, nil, err)
	}

	host := w.build.Host(w.hash)
	if m.Gated(host) {
		w.log.Debugf("Merge %q skipped, none of the chunks %v were rendered.", w.Name(), w.mergeConfig.Chunks)
		return w.report(BuildStateSkipped, startTime, nil, nil)
	}

	report, err := m.Run(ctx, host)
	if err != nil {
		w.build.Discard(report)
		w.log.Warnf("failed to build merge %q: %v", w.Name(), err)
		return w.report(BuildStateBuildFailed, startTime, nil, err)
	}

	if w.publish != nil {
		if err := w.publish(ctx); err != nil {
			w.log.Warnf("failed to publish merge %q: %v", w.Name(), err)
			return w.report(BuildStatePublishFailed, startTime, report, err)
		}
	}

	w.log.Debugf("Merge %q built %d file(s).", w.Name(), len(report))
	return w.report(BuildStateSuccess, startTime, report, nil)
}

// merger assembles the pipeline for the merge configuration.
func (w *MergeWorker) merger(ctx context.Context) (*merge.Merger, error) {
	mc := w.mergeConfig

	sources := w.sources
	if sources == nil {
		sources = mfs.MapFS(nil)
	}

	fsys, err := mfs.NewFilterFS(sources, mc.ExcludedFiles)
	if err != nil {
		return nil, err
	}

	transforms, err := transform.ForMerge(ctx, mc)
	if err != nil {
		return nil, err
	}

	reader := mfs.NewReader(fsys)
	if w.fetcher != nil {
		reader = reader.WithFetcher(w.fetcher)
	}

	m := merge.New(files(mc.Files)).
		WithTransforms(transforms).
		WithSeparator(mc.SeparatorOr(merge.DefaultSeparator)).
		WithEncoding(mc.Encoding).
		WithHash(mc.Hash).
		WithChunks(mc.Chunks).
		WithResolver(mfs.NewGlobResolver(fsys)).
		WithReader(reader).
		WithOnComplete(func(r merge.Report) { w.build.Record(mc.Name, r) })

	if mc.FileName != "" {
		fn, err := fileNameFunc(mc, w.log)
		if err != nil {
			return nil, err
		}
		m = m.WithFileName(fn)
	}

	return m, nil
}

func (w *MergeWorker) report(state BuildState, startTime time.Time, r merge.Report, err error) time.Time {
	interval := w.interval

	w.mu.Lock()
	w.status = Status{State: state, Report: r}
	if err != nil {
		interval = errorInterval // faster retry on error
		w.status.Message = err.Error()
	}
	w.mu.Unlock()

	switch state {
	case BuildStateSuccess:
		metrics.MergeBuildSucceeded(w.Name(), len(r), startTime)
	case BuildStateSkipped:
	default:
		metrics.MergeBuildFailed(w.Name(), errorType(state, err))
	}

	if w.singleShot {
		return w.die()
	}

	return time.Now().Add(interval)
}

func (w *MergeWorker) changeConfiguration() {
	select {
	case <-w.changed:
	default:
		close(w.changed)
	}
}

func (w *MergeWorker) configurationChanged() bool {
	select {
	case <-w.changed:
		return true
	default:
		return false
	}
}

func (w *MergeWorker) die() time.Time {
	select {
	case <-w.done:
	default:
		close(w.done)
	}

	var zero time.Time
	return zero
}

// errorType labels a failure with the pipeline step it happened in, if
// known.
func errorType(state BuildState, err error) string {
	var merr *merge.Error
	if errors.As(err, &merr) {
		return merr.Kind.String()
	}
	return state.String()
}

func files(f config.Files) merge.Files {
	if f.Rules == nil {
		m := make(map[string][]string, len(f.Mapping))
		for dest, patterns := range f.Mapping {
			m[dest] = patterns
		}
		return merge.ByDestination(m)
	}

	rules := make([]merge.Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		rules = append(rules, merge.Rule{Src: r.Src, Dest: merge.Named(r.Dest)})
	}
	return merge.List(rules...)
}

type fileNameData struct {
	Base, Ext, Hash string
}

// fileNameFunc executes the file name template of m. The template is
// executed once up front so that references to unknown fields fail the
// build instead of producing a broken name. A template that still fails
// for some name falls back to the default naming, with a warning.
func fileNameFunc(m *config.Merge, logger *logging.Logger) (merge.FileNameFunc, error) {
	tmpl, err := m.FileNameTemplate()
	if err != nil {
		return nil, err
	}
	if err := tmpl.Execute(io.Discard, fileNameData{}); err != nil {
		return nil, fmt.Errorf("invalid file name template %q: %w", m.FileName, err)
	}

	return func(base, ext, hash string) string {
		var sb strings.Builder
		if err := tmpl.Execute(&sb, fileNameData{Base: base, Ext: ext, Hash: hash}); err != nil {
			name := merge.FileName(base+ext, hash, nil)
			logger.Warnf("file name template %q failed for %s, using %s: %v", m.FileName, base+ext, name, err)
			return name
		}
		return sb.String()
	}, nil
}
