package fs

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/open-policy-agent/merge-into-file/internal/metrics"
)

const DefaultCacheSize = 1024

// Fetcher downloads remote sources.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Reader reads and decodes sources from an fs.FS, or through a Fetcher for
// http(s) URLs. Decoded content is memoized per path and encoding for the
// lifetime of the Reader, so a Reader must not outlive one build.
type Reader struct {
	fsys   fs.FS
	remote Fetcher
	cache  *lru.Cache
}

func NewReader(fsys fs.FS) *Reader {
	return (&Reader{fsys: fsys}).WithCacheSize(DefaultCacheSize)
}

func (r *Reader) WithFetcher(f Fetcher) *Reader {
	r.remote = f
	return r
}

// WithCacheSize bounds the number of memoized sources. Zero disables the
// cache.
func (r *Reader) WithCacheSize(n int) *Reader {
	r.cache = nil
	if n > 0 {
		r.cache, _ = lru.New(n) // only fails for n <= 0
	}
	return r
}

// Read returns the content of p decoded from encoding, which is any WHATWG
// encoding label ("utf-8", "latin1", "utf-16le", "shift_jis", ...).
func (r *Reader) Read(ctx context.Context, p, encoding string) (string, error) {
	if !IsRemote(p) {
		p = CleanPath(p)
	}

	key := encoding + "\x00" + p
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			metrics.SourceCacheHit()
			return v.(string), nil
		}
	}

	bs, err := r.load(ctx, p)
	if err != nil {
		return "", err
	}

	s, err := decode(bs, encoding)
	if err != nil {
		return "", err
	}

	if r.cache != nil {
		r.cache.Add(key, s)
	}
	return s, nil
}

func (r *Reader) load(ctx context.Context, p string) (bs []byte, err error) {
	start := time.Now()
	scheme := "file"
	defer func() { metrics.SourceRead(scheme, len(bs), start, err) }()

	if IsRemote(p) {
		scheme = "http"
		if r.remote == nil {
			return nil, fmt.Errorf("remote sources are not enabled: %s", p)
		}
		return r.remote.Fetch(ctx, p)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fs.ReadFile(r.fsys, p)
}

func decode(bs []byte, encoding string) (string, error) {
	if encoding == "" || strings.EqualFold(encoding, "utf-8") || strings.EqualFold(encoding, "utf8") {
		return string(bs), nil
	}

	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return "", fmt.Errorf("unsupported encoding %q: %w", encoding, err)
	}

	out, err := enc.NewDecoder().Bytes(bs)
	if err != nil {
		return "", fmt.Errorf("failed to decode as %s: %w", encoding, err)
	}
	return string(out), nil
}
