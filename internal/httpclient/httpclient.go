// Package httpclient implements the fetch-equivalent described in
// spec.md §4.3: per-attempt timeout, exponential backoff with jitter,
// a configurable retry-on-status list, merged cancellation signals, and
// a process-wide shutdown signal. It generalises the retry loop the
// teacher hand-rolls in cursor/client.go's doRequest into a reusable,
// shutdown-aware client shared by every provider and forge adapter.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/agensys/mr-agent/internal/primitives"
)

// ErrShuttingDown is the stable sentinel returned once begin_shutdown has
// been called; callers branch on it per spec.md §7 (ShutdownRequested).
var ErrShuttingDown = errors.New("http client is shutting down")

var defaultRetryStatuses = map[int]bool{
	408: true, 409: true, 425: true, 429: true,
	500: true, 502: true, 503: true, 504: true,
}

// Options configures a single Request call.
type Options struct {
	Method            string
	Headers           map[string]string
	Body              []byte
	Timeout           time.Duration
	Retries           int
	Backoff           time.Duration
	RetryOnStatuses   map[int]bool
	Signal            <-chan struct{}
}

// Client is a process-wide HTTP client with retry/backoff and a
// cooperatively-drained shutdown signal.
type Client struct {
	transport *http.Client
	jitter    func() float64

	mu         sync.Mutex
	shutdown   bool
	shutdownCh chan struct{}
}

// New creates a Client. jitter defaults to math/rand and must be
// overridden in tests for determinism.
func New(jitter func() float64) *Client {
	if jitter == nil {
		jitter = rand.Float64
	}
	return &Client{
		transport:  &http.Client{},
		jitter:     jitter,
		shutdownCh: make(chan struct{}),
	}
}

// BeginShutdown aborts the shared shutdown signal; subsequent Request
// calls fail immediately with ErrShuttingDown, and in-flight calls are
// aborted on their next I/O step via the merged context.
func (c *Client) BeginShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return
	}
	c.shutdown = true
	close(c.shutdownCh)
}

func (c *Client) isShuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// Request performs url with the given options, retrying on transport
// errors and any status in RetryOnStatuses (defaulting to
// {408,409,425,429,500,502,503,504}).
func (c *Client) Request(ctx context.Context, url string, opts Options) (*http.Response, []byte, error) {
	if c.isShuttingDown() {
		return nil, nil, ErrShuttingDown
	}

	retryStatuses := opts.RetryOnStatuses
	if retryStatuses == nil {
		retryStatuses = defaultRetryStatuses
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 400 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			delay := primitives.Backoff(attempt-1, backoff, c.jitter)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-c.shutdownCh:
				timer.Stop()
				return nil, nil, ErrShuttingDown
			case <-ctx.Done():
				timer.Stop()
				return nil, nil, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, nonZero(opts.Timeout, 30*time.Second))
		mergedCtx, mergedCancel := primitives.MergeSignals(attemptCtx, c.shutdownCh, opts.Signal)

		var bodyReader io.Reader
		if opts.Body != nil {
			bodyReader = bytes.NewReader(opts.Body)
		}
		req, err := http.NewRequestWithContext(mergedCtx, method, url, bodyReader)
		if err != nil {
			cancel()
			mergedCancel()
			return nil, nil, err
		}
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}

		resp, err := c.transport.Do(req)
		if err != nil {
			cancel()
			mergedCancel()
			if c.isShuttingDown() {
				return nil, nil, ErrShuttingDown
			}
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		cancel()
		mergedCancel()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, respBody, nil
		}
		if !retryStatuses[resp.StatusCode] {
			return resp, respBody, nil
		}
		lastErr = errHTTPStatus(resp.StatusCode)
	}

	return nil, nil, lastErr
}

type statusError struct{ status int }

func (e statusError) Error() string { return "http request failed after retries" }

func errHTTPStatus(status int) error { return statusError{status: status} }

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
