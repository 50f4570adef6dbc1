package merge

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultSeparator = "\n"
	DefaultEncoding  = "utf-8"
)

// Resolver expands a glob pattern into an ordered list of paths.
type Resolver interface {
	Resolve(ctx context.Context, pattern string) ([]string, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(ctx context.Context, pattern string) ([]string, error)

func (f ResolverFunc) Resolve(ctx context.Context, pattern string) ([]string, error) {
	return f(ctx, pattern)
}

// Reader returns the full text content of a path, decoded from encoding.
type Reader interface {
	Read(ctx context.Context, path, encoding string) (string, error)
}

// ReaderFunc adapts a function to a Reader.
type ReaderFunc func(ctx context.Context, path, encoding string) (string, error)

func (f ReaderFunc) Read(ctx context.Context, path, encoding string) (string, error) {
	return f(ctx, path, encoding)
}

// Report maps output names to the names they were emitted under.
type Report map[string]string

// Output is a resolved destination.
type Output struct {
	Name      string
	Content   string
	FinalName string
}

// Merger runs the merge pipeline for one set of Files.
type Merger struct {
	files       Files
	transforms  map[string]TransformFunc
	separator   string
	encoding    string
	hash        bool
	fileName    FileNameFunc
	chunks      []string
	onComplete  func(Report)
	resolver    Resolver
	reader      Reader
	concurrency int
}

func New(files Files) *Merger {
	return &Merger{
		files:       files,
		separator:   DefaultSeparator,
		encoding:    DefaultEncoding,
		concurrency: -1,
	}
}

func (m *Merger) WithTransforms(t map[string]TransformFunc) *Merger {
	m.transforms = t
	return m
}

// WithSeparator sets the string placed between joined sources. The empty
// string is a valid separator.
func (m *Merger) WithSeparator(sep string) *Merger {
	m.separator = sep
	return m
}

func (m *Merger) WithEncoding(enc string) *Merger {
	if enc != "" {
		m.encoding = enc
	}
	return m
}

func (m *Merger) WithHash(hash bool) *Merger {
	m.hash = hash
	return m
}

// WithFileName sets the naming function. It turns hashing on regardless of
// WithHash.
func (m *Merger) WithFileName(fn FileNameFunc) *Merger {
	m.fileName = fn
	return m
}

// WithChunks gates the run on at least one of the named units having been
// rendered in the host build.
func (m *Merger) WithChunks(chunks []string) *Merger {
	m.chunks = chunks
	return m
}

// WithOnComplete sets the hook receiving the report after a successful run.
func (m *Merger) WithOnComplete(fn func(Report)) *Merger {
	m.onComplete = fn
	return m
}

func (m *Merger) WithResolver(r Resolver) *Merger {
	m.resolver = r
	return m
}

func (m *Merger) WithReader(r Reader) *Merger {
	m.reader = r
	return m
}

// WithConcurrency bounds the number of reads in flight per run. A value
// below one means no bound.
func (m *Merger) WithConcurrency(n int) *Merger {
	m.concurrency = n
	return m
}

func (m *Merger) hashing() bool {
	return m.hash || m.fileName != nil
}

// Gated reports whether the run would be skipped for host.
func (m *Merger) Gated(host Host) bool {
	if len(m.chunks) == 0 || host.Units == nil {
		return false
	}
	return !slices.ContainsFunc(m.chunks, host.Units.Rendered)
}

// Run executes all rules concurrently and waits for every one of them to
// settle. On success the completion hook is called with the report. The
// first observed error is returned; other rules are not interrupted. With
// the error comes the partial report of the outputs that were emitted
// anyway, so the host can discard them.
//
// A gated run returns a nil Report and no error.
func (m *Merger) Run(ctx context.Context, host Host) (Report, error) {
	if host.Assets == nil {
		return nil, errors.New("merge: host has no asset collection")
	}
	if m.resolver == nil || m.reader == nil {
		return nil, errors.New("merge: resolver and reader are required")
	}
	if m.Gated(host) {
		return nil, nil
	}

	r := &run{Merger: m, host: host, report: make(Report, m.files.Len())}
	if m.concurrency > 0 {
		r.sem = make(chan struct{}, m.concurrency)
	}

	var g errgroup.Group
	for _, rule := range m.files.Rules(m.transforms) {
		g.Go(func() error {
			return r.rule(ctx, rule)
		})
	}
	if err := g.Wait(); err != nil {
		return r.report, err
	}

	if m.onComplete != nil {
		m.onComplete(r.report)
	}
	return r.report, nil
}

// Execute is Run with callback-style completion. callback receives the
// outcome; without a callback a failure panics, so it can never go
// unnoticed.
func (m *Merger) Execute(ctx context.Context, host Host, callback func(error)) {
	_, err := m.Run(ctx, host)
	if callback != nil {
		callback(err)
		return
	}
	if err != nil {
		panic(err)
	}
}

type run struct {
	*Merger
	host Host
	sem  chan struct{}

	mu     sync.Mutex // guards report and host emission
	report Report
}

func (r *run) rule(ctx context.Context, rule MappingRule) error {
	paths, err := r.resolve(ctx, rule)
	if err != nil {
		return err
	}

	parts := make([]*Result, len(paths))
	for i, path := range paths {
		parts[i] = r.read(ctx, rule, path)
	}

	content, err := Join(ctx, parts, r.separator)
	if err != nil {
		return err
	}

	results, err := r.dest(ctx, rule, content)
	if err != nil {
		return err
	}

	outputs := make([]Output, 0, len(results))
	for _, name := range slices.Sorted(maps.Keys(results)) {
		s, err := results[name].Await(ctx)
		if err != nil {
			return &Error{Kind: KindTransform, Rule: rule.Name, Path: name, Err: err}
		}
		outputs = append(outputs, Output{Name: name, Content: s, FinalName: name})
	}

	for _, out := range outputs {
		if err := r.emit(rule, out); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) resolve(ctx context.Context, rule MappingRule) ([]string, error) {
	lists := make([][]string, len(rule.Src))

	var g errgroup.Group
	for i, pattern := range rule.Src {
		g.Go(func() error {
			paths, err := r.resolver.Resolve(ctx, pattern)
			if err != nil {
				return &Error{Kind: KindResolve, Rule: rule.Name, Path: pattern, Err: err}
			}
			lists[i] = paths
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return slices.Concat(lists...), nil
}

func (r *run) read(ctx context.Context, rule MappingRule, path string) *Result {
	return Async(func() (string, error) {
		if r.sem != nil {
			r.sem <- struct{}{}
			defer func() { <-r.sem }()
		}
		s, err := r.reader.Read(ctx, path, r.encoding)
		if err != nil {
			return "", &Error{Kind: KindRead, Rule: rule.Name, Path: path, Err: err}
		}
		return s, nil
	})
}

func (r *run) dest(ctx context.Context, rule MappingRule, content string) (results map[string]*Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &Error{Kind: KindTransform, Rule: rule.Name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	results, err = rule.Dest(ctx, content)
	if err != nil {
		return nil, &Error{Kind: KindTransform, Rule: rule.Name, Err: err}
	}
	return results, nil
}

func (r *run) emit(rule MappingRule, out Output) error {
	if r.hashing() {
		sum, err := r.host.Hash.Sum(out.Content)
		if err != nil {
			return &Error{Kind: KindHash, Rule: rule.Name, Path: out.Name, Err: err}
		}
		out.FinalName = FileName(out.Name, sum, r.fileName)
	}
	artifact := r.host.artifact(out.Content)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hashing() && r.host.Units != nil {
		registerUnit(r.host.Units, out.Name, out.FinalName)
	}
	r.report[out.Name] = out.FinalName

	if err := r.host.Assets.EmitAsset(out.FinalName, artifact); err != nil {
		return &Error{Kind: KindEmit, Rule: rule.Name, Path: out.FinalName, Err: err}
	}
	return nil
}
