// Package output holds the in-memory result of a build: the emitted assets,
// the build units and the per-merge reports.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/akedrou/textdiff"
	"github.com/olekukonko/tablewriter"

	"github.com/open-policy-agent/merge-into-file/pkg/merge"
)

// Build collects the assets of one build pass. It implements
// merge.AssetCollection and merge.UnitRegistry and is safe for concurrent
// use.
type Build struct {
	mu      sync.Mutex
	assets  map[string]merge.Artifact
	units   []*Unit
	reports map[string]merge.Report
}

func NewBuild() *Build {
	return &Build{
		assets:  make(map[string]merge.Artifact),
		reports: make(map[string]merge.Report),
	}
}

// Host returns the capabilities handed to a merge run.
func (b *Build) Host(hash merge.HashOptions) merge.Host {
	return merge.Host{Hash: hash, Assets: b, Units: b}
}

func (b *Build) EmitAsset(name string, a merge.Artifact) error {
	if _, err := diskPath(name); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.assets[name] = a
	return nil
}

// Rendered reports whether a unit called name produced files, or a merge
// called name completed with at least one output.
func (b *Build) Rendered(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.reports[name]) > 0 {
		return true
	}
	return slices.ContainsFunc(b.units, func(u *Unit) bool {
		return u.ID == name && len(u.Files) > 0
	})
}

func (b *Build) AddUnit(identity string) merge.Unit {
	b.mu.Lock()
	defer b.mu.Unlock()

	u := &Unit{build: b, ID: identity}
	b.units = append(b.units, u)
	return u
}

// Record stores the report of a completed merge. Assets that only the
// previous report of the same merge referenced are dropped.
func (b *Build) Record(name string, report merge.Report) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := slices.Collect(maps.Values(report))
	for _, final := range b.reports[name] {
		if !slices.Contains(current, final) {
			delete(b.assets, final)
		}
	}
	b.reports[name] = report
}

// Forget drops the report of the named merge and the assets it referenced.
func (b *Build) Forget(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, final := range b.reports[name] {
		delete(b.assets, final)
	}
	delete(b.reports, name)
}

// Discard drops the assets of a failed merge run that no recorded report
// references.
func (b *Build) Discard(partial merge.Report) {
	b.mu.Lock()
	defer b.mu.Unlock()

	referenced := make(map[string]struct{})
	for _, r := range b.reports {
		for _, final := range r {
			referenced[final] = struct{}{}
		}
	}

	for _, final := range partial {
		if _, ok := referenced[final]; !ok {
			delete(b.assets, final)
		}
	}
}

// Names returns the emitted asset names in sorted order.
func (b *Build) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.assets))
}

func (b *Build) Asset(name string) (merge.Artifact, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.assets[name]
	return a, ok
}

func (b *Build) Units() []*Unit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.units)
}

// Manifest returns the reports keyed by merge name.
func (b *Build) Manifest() map[string]merge.Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := make(map[string]merge.Report, len(b.reports))
	for name, r := range b.reports {
		m[name] = maps.Clone(r)
	}
	return m
}

// ManifestJSON encodes the manifest with sorted keys.
func (b *Build) ManifestJSON() ([]byte, error) {
	bs, err := json.MarshalIndent(b.Manifest(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(bs, '\n'), nil
}

// Files returns the content to write for every asset, keyed by the path
// relative to the output directory. A non-empty manifest name adds the
// manifest.
func (b *Build) Files(manifest string) (map[string]string, error) {
	files := make(map[string]string)
	for _, name := range b.Names() {
		p, err := diskPath(name)
		if err != nil {
			return nil, err
		}
		a, _ := b.Asset(name)
		files[p] = a.Source()
	}

	if manifest != "" {
		bs, err := b.ManifestJSON()
		if err != nil {
			return nil, err
		}
		files[path.Clean(manifest)] = string(bs)
	}

	return files, nil
}

// WriteDir writes the assets and the optional manifest below dir.
func (b *Build) WriteDir(dir, manifest string) ([]string, error) {
	files, err := b.Files(manifest)
	if err != nil {
		return nil, err
	}

	written := slices.Sorted(maps.Keys(files))
	for _, p := range written {
		dst := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, []byte(files[p]), 0o644); err != nil {
			return nil, err
		}
	}

	return written, nil
}

// ErrOutOfDate is returned by Check when dir does not match the build.
var ErrOutOfDate = errors.New("output is out of date")

// Check compares the build against the files in dir and writes a unified
// diff for every mismatch to w.
func (b *Build) Check(w io.Writer, dir, manifest string) error {
	files, err := b.Files(manifest)
	if err != nil {
		return err
	}

	var stale int
	for _, p := range slices.Sorted(maps.Keys(files)) {
		bs, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if string(bs) == files[p] && err == nil {
			continue
		}
		stale++
		fmt.Fprint(w, textdiff.Unified(path.Join("a", p), path.Join("b", p), string(bs), files[p]))
	}

	if stale > 0 {
		return fmt.Errorf("%w: %d file(s) differ", ErrOutOfDate, stale)
	}
	return nil
}

// Table writes one row per emitted output.
func (b *Build) Table(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Merge", "Output", "File", "Size")

	manifest := b.Manifest()
	for _, name := range slices.Sorted(maps.Keys(manifest)) {
		report := manifest[name]
		for _, out := range slices.Sorted(maps.Keys(report)) {
			final := report[out]
			size := "-"
			if a, ok := b.Asset(final); ok {
				size = fmt.Sprint(a.Size())
			}
			if err := table.Append(name, out, final, size); err != nil {
				return err
			}
		}
	}

	return table.Render()
}

// diskPath maps an asset name to its path below the output directory. A
// query string, as produced by some file name templates, is not part of the
// path.
func diskPath(name string) (string, error) {
	p, _, _ := strings.Cut(name, "?")
	p = path.Clean(strings.TrimPrefix(p, "./"))
	if !fs.ValidPath(p) || p == "." {
		return "", fmt.Errorf("invalid output name %q", name)
	}
	return p, nil
}

// Unit is a build unit registered by a merge run.
type Unit struct {
	build *Build
	ID    string
	IDs   []string
	Files []string
}

func (u *Unit) SetID(id string) {
	u.build.mu.Lock()
	defer u.build.mu.Unlock()
	u.ID = id
}

func (u *Unit) SetIDs(ids []string) {
	u.build.mu.Lock()
	defer u.build.mu.Unlock()
	u.IDs = slices.Clone(ids)
}

func (u *Unit) AddFile(name string) {
	u.build.mu.Lock()
	defer u.build.mu.Unlock()
	u.Files = append(u.Files, name)
}
