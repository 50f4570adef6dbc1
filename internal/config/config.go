package config

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"reflect"
	"slices"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"
)

// Internal configuration data structures for mergectl.

// Root is the top-level configuration structure used by mergectl.
type Root struct {
	Roots   []string           `json:"roots,omitempty"`  // Overlaid source directories, earlier roots win.
	Mounts  map[string]string  `json:"mounts,omitempty"` // Mount point to source directory.
	Output  Output             `json:"output,omitzero"`
	Hash    *Hash              `json:"hash,omitempty"`
	Remote  *Remote            `json:"remote,omitempty"`
	Storage *ObjectStorage     `json:"storage,omitempty"`
	Secrets map[string]*Secret `json:"secrets,omitempty"` // Schema validation overrides Secret to object type.
	Merges  map[string]*Merge  `json:"merges,omitempty"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for the Root struct.
// Merges and secrets are defined as mappings keyed by name; the names are
// copied into the values and the secret store is injected into each secret
// reference so that internal callers can resolve secret values as needed.
func (r *Root) UnmarshalYAML(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawRoot

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal()
}

func (r *Root) UnmarshalJSON(bs []byte) error {
	type rawRoot Root // avoid recursive calls to UnmarshalJSON by type aliasing
	var raw rawRoot

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode Root: %w", err)
	}

	*r = Root(raw)
	return r.unmarshal()
}

func (r *Root) unmarshal() error {
	for name := range r.Secrets {
		r.Secrets[name] = cmp.Or(r.Secrets[name], &Secret{})
		r.Secrets[name].Name = name
	}

	for name := range r.Merges {
		r.Merges[name] = cmp.Or(r.Merges[name], &Merge{})
		r.Merges[name].Name = name
	}

	if r.Remote != nil {
		r.bind(r.Remote.Credentials)
	}

	if r.Storage != nil {
		if r.Storage.AmazonS3 != nil {
			r.bind(r.Storage.AmazonS3.Credentials)
		}
		if r.Storage.GCPCloudStorage != nil {
			r.bind(r.Storage.GCPCloudStorage.Credentials)
		}
		if r.Storage.AzureBlobStorage != nil {
			r.bind(r.Storage.AzureBlobStorage.Credentials)
		}
		if err := r.Storage.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (r *Root) bind(ref *SecretRef) {
	if ref != nil {
		ref.value = r.Secrets[ref.Name]
	}
}

func (r *Root) SortedMerges() iter.Seq2[int, *Merge] {
	return iterator(r.Merges, func(m *Merge) string { return m.Name })
}

// TopologicalSortedMerges returns the merges ordered so that every merge
// comes after the merges named in its chunks. Cycles are treated as errors.
// Chunks that do not name a merge are ignored.
func (r *Root) TopologicalSortedMerges() ([]*Merge, error) {
	sorter := topologicalSortMerges{
		merges:     r.Merges,
		inprogress: make(map[string]struct{}),
		done:       make(map[string]struct{}),
	}

	for _, name := range slices.Sorted(maps.Keys(r.Merges)) {
		if err := sorter.Visit(r.Merges[name]); err != nil {
			return nil, err
		}
	}
	return sorter.sorted, nil
}

type topologicalSortMerges struct {
	merges     map[string]*Merge
	inprogress map[string]struct{}
	done       map[string]struct{}
	sorted     []*Merge
}

func (s *topologicalSortMerges) Visit(m *Merge) error {
	if _, ok := s.inprogress[m.Name]; ok {
		return fmt.Errorf("cycle found on merge %q", m.Name)
	}
	if _, ok := s.done[m.Name]; ok {
		return nil
	}
	s.inprogress[m.Name] = struct{}{}
	for _, chunk := range m.Chunks {
		if other, ok := s.merges[chunk]; ok {
			if err := s.Visit(other); err != nil {
				return err
			}
		}
	}
	s.done[m.Name] = struct{}{}
	delete(s.inprogress, m.Name)
	s.sorted = append(s.sorted, m)
	return nil
}

func iterator[V any](m map[string]V, name func(V) string) func(func(int, V) bool) {
	names := make([]string, 0, len(m))
	for _, v := range m {
		names = append(names, name(v))
	}

	sort.Strings(names)

	return func(yield func(int, V) bool) {
		for i, name := range names {
			if !yield(i, m[name]) {
				return
			}
		}
	}
}

func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

func Parse(bs []byte) (*Root, error) {
	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &root, nil
}

// Output defines where merged files are written.
type Output struct {
	Directory string `json:"directory,omitempty"`
	Manifest  string `json:"manifest,omitempty"` // Relative to the output directory.
}

// Hash configures content hashing for hashed file names.
type Hash struct {
	Function     string `json:"function,omitempty" enum:"md5,sha1,sha256,sha384,sha512,xxhash64"`
	Digest       string `json:"digest,omitempty" enum:"hex,base64,base64url,base32"`
	DigestLength int    `json:"digest_length,omitempty"` // Zero selects the default, negative keeps the full digest.
	Salt         string `json:"salt,omitempty"`
}

func (h *Hash) Equal(other *Hash) bool {
	return fastEqual(h, other, func(h, other *Hash) bool {
		return *h == *other
	})
}

// Remote configures how http(s) sources are fetched.
type Remote struct {
	Headers     map[string]string `json:"headers,omitempty"`
	Credentials *SecretRef        `json:"credentials,omitempty"` // Schema validation overrides this to string type.
	Timeout     Duration          `json:"timeout,omitzero"`
}

func (r *Remote) Equal(other *Remote) bool {
	return fastEqual(r, other, func(r, other *Remote) bool {
		return maps.Equal(r.Headers, other.Headers) &&
			r.Credentials.Equal(other.Credentials) &&
			r.Timeout == other.Timeout
	})
}

// Merge defines one set of merged output files.
type Merge struct {
	Name          string                    `json:"-"`
	Files         Files                     `json:"files"`
	Transforms    map[string]TransformSteps `json:"transform,omitempty"` // Destination name to steps.
	Separator     *string                   `json:"separator,omitempty"`
	Encoding      string                    `json:"encoding,omitempty"`
	Hash          bool                      `json:"hash,omitempty"`
	FileName      string                    `json:"file_name,omitempty"` // Template over .Base, .Ext and .Hash.
	Chunks        StringSet                 `json:"chunks,omitempty"`
	ExcludedFiles StringSet                 `json:"excluded_files,omitempty"`
	Interval      Duration                  `json:"rebuild_interval,omitzero"`
}

func (m *Merge) UnmarshalJSON(bs []byte) error {
	type rawMerge Merge // avoid recursive calls to UnmarshalJSON by type aliasing
	var raw rawMerge

	if err := json.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode merge: %w", err)
	}

	*m = Merge(raw)
	return m.validate()
}

func (m *Merge) UnmarshalYAML(bs []byte) error {
	type rawMerge Merge // avoid recursive calls to UnmarshalYAML by type aliasing
	var raw rawMerge

	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return fmt.Errorf("failed to decode merge: %w", err)
	}

	*m = Merge(raw)
	return m.validate()
}

func (m *Merge) validate() error {
	for _, pattern := range m.ExcludedFiles {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("failed to compile excluded file pattern %q: %w", pattern, err)
		}
	}

	if m.FileName != "" {
		if _, err := m.FileNameTemplate(); err != nil {
			return err
		}
	}

	for dest, steps := range m.Transforms {
		for i, step := range steps {
			if step.Type() == "" {
				return fmt.Errorf("transform %d for %q: missing type", i, dest)
			}
		}
	}

	return m.Files.validate()
}

// FileNameTemplate parses the file name template. Templates are executed
// with a value carrying the Base, Ext and Hash fields.
func (m *Merge) FileNameTemplate() (*template.Template, error) {
	t, err := template.New(m.Name).Option("missingkey=error").Parse(m.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file name template %q: %w", m.FileName, err)
	}
	return t, nil
}

// SeparatorOr returns the configured separator or def when unset. An empty
// separator is a valid setting.
func (m *Merge) SeparatorOr(def string) string {
	if m.Separator == nil {
		return def
	}
	return *m.Separator
}

func (m *Merge) Equal(other *Merge) bool {
	return fastEqual(m, other, func(m, other *Merge) bool {
		return m.Name == other.Name &&
			m.Files.Equal(other.Files) &&
			maps.EqualFunc(m.Transforms, other.Transforms, TransformSteps.Equal) &&
			stringPtrEqual(m.Separator, other.Separator) &&
			m.Encoding == other.Encoding &&
			m.Hash == other.Hash &&
			m.FileName == other.FileName &&
			m.Chunks.Equal(other.Chunks) &&
			m.ExcludedFiles.Equal(other.ExcludedFiles) &&
			m.Interval == other.Interval
	})
}

// Files is either a mapping from destination name to source patterns or an
// ordered list of rules. Exactly one of the two is set.
type Files struct {
	Mapping map[string]Patterns
	Rules   []FileRule
}

// FileRule is one entry of the list form of Files.
type FileRule struct {
	Src  Patterns `json:"src"`
	Dest string   `json:"dest"`

	_ struct{} `additionalProperties:"false"`
}

func (f Files) IsZero() bool {
	return f.Mapping == nil && f.Rules == nil
}

func (f Files) Equal(other Files) bool {
	return maps.EqualFunc(f.Mapping, other.Mapping, Patterns.Equal) &&
		slices.EqualFunc(f.Rules, other.Rules, func(a, b FileRule) bool {
			return a.Dest == b.Dest && a.Src.Equal(b.Src)
		})
}

func (f Files) MarshalYAML() (any, error) {
	if f.Rules != nil {
		return f.Rules, nil
	}
	return f.Mapping, nil
}

func (f Files) MarshalJSON() ([]byte, error) {
	v, err := f.MarshalYAML()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (f *Files) UnmarshalYAML(bs []byte) error {
	var v any
	if err := yaml.Unmarshal(bs, &v); err != nil {
		return err
	}

	switch v.(type) {
	case []any:
		var rules []FileRule
		if err := yaml.Unmarshal(bs, &rules); err != nil {
			return fmt.Errorf("failed to decode files: %w", err)
		}
		*f = Files{Rules: rules}
	default:
		var m map[string]Patterns
		if err := yaml.Unmarshal(bs, &m); err != nil {
			return fmt.Errorf("failed to decode files: %w", err)
		}
		*f = Files{Mapping: m}
	}

	return nil
}

func (f *Files) UnmarshalJSON(bs []byte) error {
	var v any
	if err := json.Unmarshal(bs, &v); err != nil {
		return err
	}

	switch v.(type) {
	case []any:
		var rules []FileRule
		if err := json.Unmarshal(bs, &rules); err != nil {
			return fmt.Errorf("failed to decode files: %w", err)
		}
		*f = Files{Rules: rules}
	default:
		var m map[string]Patterns
		if err := json.Unmarshal(bs, &m); err != nil {
			return fmt.Errorf("failed to decode files: %w", err)
		}
		*f = Files{Mapping: m}
	}

	return nil
}

func (f Files) validate() error {
	for i, rule := range f.Rules {
		if rule.Dest == "" {
			return fmt.Errorf("files rule %d: missing dest", i)
		}
	}
	for dest := range f.Mapping {
		if dest == "" {
			return errors.New("files: empty destination name")
		}
	}
	return nil
}

// Patterns is a list of source glob patterns. A single string is accepted
// in place of a one-element list.
type Patterns []string

func (p Patterns) Equal(other Patterns) bool {
	return slices.Equal(p, other)
}

func (p *Patterns) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err == nil {
		*p = Patterns{s}
		return nil
	}

	var l []string
	if err := yaml.Unmarshal(bs, &l); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*p = l
	return nil
}

func (p *Patterns) UnmarshalJSON(bs []byte) error {
	var s string
	if err := json.Unmarshal(bs, &s); err == nil {
		*p = Patterns{s}
		return nil
	}

	var l []string
	if err := json.Unmarshal(bs, &l); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*p = l
	return nil
}

// TransformStep is a single transform applied to merged content. The "type"
// key selects the transform; the remaining keys are its options.
type TransformStep map[string]any

func (s TransformStep) Type() string {
	t, _ := s["type"].(string)
	return t
}

func (s TransformStep) Equal(other TransformStep) bool {
	return reflect.DeepEqual(s, other)
}

type TransformSteps []TransformStep

func (a TransformSteps) Equal(b TransformSteps) bool {
	return slices.EqualFunc(a, b, TransformStep.Equal)
}

// Instead of marshaling and unmarshaling as int64 it uses strings, like "5m" or "0.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

type StringSet []string

func (a StringSet) Equal(b StringSet) bool {
	return setEqual(a, b, func(s string) string { return s }, func(a, b string) bool { return a == b })
}

type SecretRef struct {
	Name  string `json:"-"`
	value *Secret
}

// Resolve retrieves the secret value from the secret store. If the secret is not found, an error is returned.
// If the secret is found, it returns the value as an interface{} which can be further typed as needed.
func (s *SecretRef) Resolve(ctx context.Context) (any, error) {
	if s.value == nil {
		return nil, fmt.Errorf("secret %q not found", s.Name)
	}

	return s.value.Typed(ctx)
}

func (s *SecretRef) MarshalYAML() (any, error) {
	if s.Name == "" {
		return nil, nil
	}
	return s.Name, nil
}

func (s *SecretRef) MarshalJSON() ([]byte, error) {
	v, err := s.MarshalYAML()
	if err != nil {
		return nil, err
	}

	return json.Marshal(v)
}

func (s *SecretRef) UnmarshalYAML(bs []byte) error {
	if err := yaml.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("expected scalar node: %w", err)
	}
	return nil
}

func (s *SecretRef) UnmarshalJSON(bs []byte) error {
	if err := json.Unmarshal(bs, &s.Name); err != nil {
		return fmt.Errorf("failed to unmarshal SecretRef: %w", err)
	}

	return nil
}

func (s *SecretRef) Equal(other *SecretRef) bool {
	return fastEqual(s, other, func(s, other *SecretRef) bool {
		return s.Name == other.Name && s.value.Equal(other.value)
	})
}

// ObjectStorage selects where merged files are uploaded after a build.
type ObjectStorage struct {
	AmazonS3          *AmazonS3          `json:"aws,omitempty"`
	GCPCloudStorage   *GCPCloudStorage   `json:"gcp,omitempty"`
	AzureBlobStorage  *AzureBlobStorage  `json:"azure,omitempty"`
	FileSystemStorage *FileSystemStorage `json:"filesystem,omitempty"`
}

func (o *ObjectStorage) Equal(other *ObjectStorage) bool {
	return fastEqual(o, other, func(o, other *ObjectStorage) bool {
		return o.AmazonS3.Equal(other.AmazonS3) &&
			o.GCPCloudStorage.Equal(other.GCPCloudStorage) &&
			o.AzureBlobStorage.Equal(other.AzureBlobStorage) &&
			o.FileSystemStorage.Equal(other.FileSystemStorage)
	})
}

func (o *ObjectStorage) validate() error {
	if err := o.AmazonS3.validate(); err != nil {
		return err
	}
	if err := o.GCPCloudStorage.validate(); err != nil {
		return err
	}
	if err := o.AzureBlobStorage.validate(); err != nil {
		return err
	}
	return o.FileSystemStorage.validate()
}

// AmazonS3 defines the configuration for an Amazon S3-compatible object storage.
type AmazonS3 struct {
	Bucket      string     `json:"bucket"`
	Prefix      string     `json:"prefix,omitempty"` // Key prefix for uploaded files.
	Region      string     `json:"region,omitempty"`
	Credentials *SecretRef `json:"credentials,omitempty"` // If nil, use default credentials chain: environment variables,
	// shared credentials file, ECS or EC2 instance role. More details in s3.go.
	URL string `json:"url,omitempty"` // for test purposes
}

// GCPCloudStorage defines the configuration for a Google Cloud Storage bucket.
type GCPCloudStorage struct {
	Project     string     `json:"project"`
	Bucket      string     `json:"bucket"`
	Prefix      string     `json:"prefix,omitempty"`
	Credentials *SecretRef `json:"credentials,omitempty"` // If nil, use default credentials chain: environment variables,
	// file created by gcloud auth application-default login, GCE/GKE metadata server. More details in s3.go.
}

// AzureBlobStorage defines the configuration for an Azure Blob Storage container.
type AzureBlobStorage struct {
	AccountURL  string     `json:"account_url"`
	Container   string     `json:"container"`
	Prefix      string     `json:"prefix,omitempty"`
	Credentials *SecretRef `json:"credentials,omitempty"` // If nil, use default credentials chain: environment variables,
	// managed identity, Azure CLI login. More details in s3.go.
}

// FileSystemStorage defines the configuration for a local filesystem storage.
type FileSystemStorage struct {
	Path string `json:"path"` // Directory the merged files are copied to.
}

func (a *AmazonS3) Equal(other *AmazonS3) bool {
	return fastEqual(a, other, func(a, other *AmazonS3) bool {
		return a.Bucket == other.Bucket &&
			a.Prefix == other.Prefix &&
			a.Region == other.Region &&
			a.Credentials.Equal(other.Credentials) &&
			a.URL == other.URL
	})
}

func (a *AmazonS3) validate() error {
	if a == nil {
		return nil
	}

	if a.Bucket == "" {
		return errors.New("amazon s3 bucket is required")
	}

	if a.Region == "" {
		return errors.New("amazon s3 region is required")
	}

	return nil
}

func (g *GCPCloudStorage) Equal(other *GCPCloudStorage) bool {
	return fastEqual(g, other, func(g, other *GCPCloudStorage) bool {
		return g.Project == other.Project &&
			g.Bucket == other.Bucket &&
			g.Prefix == other.Prefix &&
			g.Credentials.Equal(other.Credentials)
	})
}

func (g *GCPCloudStorage) validate() error {
	if g == nil {
		return nil
	}

	if g.Project == "" {
		return errors.New("gcp cloud storage project is required")
	}

	if g.Bucket == "" {
		return errors.New("gcp cloud storage bucket is required")
	}

	return nil
}

func (a *AzureBlobStorage) Equal(other *AzureBlobStorage) bool {
	return fastEqual(a, other, func(a, other *AzureBlobStorage) bool {
		return a.AccountURL == other.AccountURL &&
			a.Container == other.Container &&
			a.Prefix == other.Prefix &&
			a.Credentials.Equal(other.Credentials)
	})
}

func (a *AzureBlobStorage) validate() error {
	if a == nil {
		return nil
	}

	if a.AccountURL == "" {
		return errors.New("azure blob storage account URL is required")
	}

	if a.Container == "" {
		return errors.New("azure blob storage container is required")
	}

	return nil
}

func (f *FileSystemStorage) Equal(other *FileSystemStorage) bool {
	return fastEqual(f, other, func(f, other *FileSystemStorage) bool {
		return f.Path == other.Path
	})
}

func (f *FileSystemStorage) validate() error {
	if f == nil {
		return nil
	}

	if f.Path == "" {
		return errors.New("filesystem storage path is required")
	}

	return nil
}

// Prefix joins a storage key prefix and a file name.
func Prefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

func setEqual[K comparable, V any](a, b []V, key func(V) K, eq func(a, b V) bool) bool {
	if len(a) == 1 && len(b) == 1 {
		return eq(a[0], b[0])
	}

	// NB: duplicate keys collapse, so []string{"a", "a"} is setEqual to []string{"a"}.
	m := make(map[K]V, len(a))
	for _, v := range a {
		m[key(v)] = v
	}

	n := make(map[K]V, len(b))
	for _, v := range b {
		n[key(v)] = v
	}

	return maps.EqualFunc(m, n, eq)
}

func stringPtrEqual(a, b *string) bool {
	return fastEqual(a, b, func(a, b *string) bool { return *a == *b })
}

func fastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}
