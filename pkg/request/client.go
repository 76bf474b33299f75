package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"workbench/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("Workbench/%s", version.Version)

// StatusError is returned for non-retryable HTTP error responses.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d from %s", e.Code, e.URL)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client serialises requests per host and retries transient failures.
type Client struct {
	httpClient  *http.Client
	backoff     *HostBackoff
	maxAttempts int
	baseDelay   time.Duration
	gap         time.Duration

	queues map[string]chan job
	mu     sync.Mutex
}

type job struct {
	req      *http.Request
	headers  map[string]string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// Option tunes a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetry sets the attempt count and base delay of the retry loop.
func WithRetry(attempts int, base time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		c.baseDelay = base
	}
}

// WithBackoff sets the per-host cooldown after failed requests.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) { c.backoff = NewHostBackoff(base, max) }
}

// WithGap sets the pause a host worker takes between requests.
func WithGap(d time.Duration) Option {
	return func(c *Client) { c.gap = d }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		backoff:     NewHostBackoff(time.Second, time.Minute),
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		gap:         10 * time.Millisecond,
		queues:      make(map[string]chan job),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Backoff exposes the per-host failure state.
func (c *Client) Backoff() *HostBackoff { return c.backoff }

// Get performs a queued GET request.
func (c *Client) Get(ctx context.Context, u string) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, u, nil, nil)
}

// Put performs a queued PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, u string, body []byte) ([]byte, error) {
	return c.Do(ctx, http.MethodPut, u, body, map[string]string{"Content-Type": "application/json"})
}

// Delete performs a queued DELETE request.
func (c *Client) Delete(ctx context.Context, u string) ([]byte, error) {
	return c.Do(ctx, http.MethodDelete, u, nil, nil)
}

// Do enqueues a request on its host's worker and waits for the result.
func (c *Client) Do(ctx context.Context, method, u string, body []byte, headers map[string]string) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	var rdr io.Reader = http.NoBody
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(parsedURL.Host, job{req: req, headers: headers, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

func (c *Client) dispatch(host string, j job) {
	c.mu.Lock()
	q, ok := c.queues[host]
	if !ok {
		q = make(chan job, 100)
		c.queues[host] = q
		go c.worker(host, q)
	}
	c.mu.Unlock()

	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker runs the requests for one host in order.
func (c *Client) worker(host string, q <-chan job) {
	for j := range q {
		if j.req.Context().Err() != nil {
			slog.Debug("Request: job dropped from queue", "host", host, "error", j.req.Context().Err())
			j.respChan <- jobResult{err: j.req.Context().Err()}
			continue
		}

		hasUA := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				hasUA = true
			}
		}
		if !hasUA {
			j.req.Header.Set("User-Agent", defaultUserAgent)
		}

		c.backoff.Wait(j.req.Context(), host)
		body, err := c.executeWithBackoff(j.req)
		var se *StatusError
		switch {
		case err == nil, errors.As(err, &se):
			c.backoff.RecordSuccess(host)
		case j.req.Context().Err() == nil:
			c.backoff.RecordFailure(host)
		}

		j.respChan <- jobResult{body: body, err: err}

		if c.gap > 0 {
			time.Sleep(c.gap)
		}
	}
}

// executeWithBackoff retries network errors, 429 and 5xx responses.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		if attempt > 0 && req.GetBody != nil {
			b, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = b
		}

		slog.Debug("Request: sending", "method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			lastErr = err
			slog.Warn("Request: failed, retrying", "url", req.URL, "attempt", attempt+1, "error", err)
			if !c.sleep(req.Context(), attempt) {
				return nil, req.Context().Err()
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("api error: status %d", resp.StatusCode)
			slog.Warn("Request: backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)
			if !c.sleep(req.Context(), attempt) {
				return nil, req.Context().Err()
			}
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, &StatusError{Code: resp.StatusCode, URL: req.URL.String()}
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) sleep(ctx context.Context, attempt int) bool {
	d := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
