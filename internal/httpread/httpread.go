package httpread

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/open-policy-agent/merge-into-file/internal/config"
)

// Fetcher downloads remote merge sources with HTTP GET. Only 2xx responses
// are accepted. It is safe for concurrent use.
type Fetcher struct {
	headers     map[string]string // Headers to include in every request
	credentials *config.SecretRef
	timeout     time.Duration

	mu     sync.Mutex
	client *http.Client
}

func New(headers map[string]string, credentials *config.SecretRef) *Fetcher {
	return &Fetcher{headers: headers, credentials: credentials}
}

// FromConfig returns a Fetcher for the remote section of the configuration,
// or one without credentials if it is nil.
func FromConfig(r *config.Remote) *Fetcher {
	if r == nil {
		return New(nil, nil)
	}
	return New(r.Headers, r.Credentials).WithTimeout(time.Duration(r.Timeout))
}

func (f *Fetcher) WithTimeout(d time.Duration) *Fetcher {
	f.timeout = d
	return f
}

// WithClient sets the client used for requests, skipping credentials.
func (f *Fetcher) WithClient(c *http.Client) *Fetcher {
	f.client = c
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client, err := f.initClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init client: %w", err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for name, value := range f.headers {
		if value != "" {
			req.Header.Set(name, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("GET %s: unsuccessful status code %d", url, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (f *Fetcher) initClient(ctx context.Context) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.client != nil {
		// Resolved once per Fetcher, on first use, so that secret errors
		// surface as fetch errors.
		return f.client, nil
	}

	if f.credentials == nil {
		f.client = http.DefaultClient
		return f.client, nil
	}

	secret, err := f.credentials.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	cs, ok := secret.(config.ClientSecret)
	if !ok {
		return nil, fmt.Errorf("unsupported secret type for remote sources: %T", secret)
	}

	client, err := cs.Client(ctx)
	if err != nil {
		return nil, err
	}
	f.client = client
	return client, nil
}
