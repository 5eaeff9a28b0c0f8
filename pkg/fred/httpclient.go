package fred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fredx-io/fredx/pkg/utils"
)

const DefaultBaseURL = "https://api.stlouisfed.org/fred"

// Client is a FRED API client with a token bucket and a per-endpoint circuit breaker.
type Client struct {
	endpoints []string
	apiKey    string
	client    *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration

	calls atomic.Int64
}

// Opts is the set of options for a new Client.
type Opts struct {
	// Endpoints are base URLs tried in order. Defaults to DefaultBaseURL.
	Endpoints       []string
	APIKey          string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// OptsFromEnv reads FRED_API_KEY, FRED_BASE_URL, FRED_RPS and FRED_TIMEOUT.
func OptsFromEnv() Opts {
	return Opts{
		Endpoints: utils.SplitList(utils.Env("FRED_BASE_URL", DefaultBaseURL)),
		APIKey:    utils.Env("FRED_API_KEY", ""),
		Timeout:   utils.EnvDuration("FRED_TIMEOUT", 30*time.Second),
		RPS:       utils.EnvInt("FRED_RPS", 2),
	}
}

// NewWithOpts creates a new Client with the given options.
// The defaults allow one request every 500ms with no burst.
func NewWithOpts(o Opts) *Client {
	if len(o.Endpoints) == 0 {
		o.Endpoints = []string{DefaultBaseURL}
	}
	if o.RPS <= 0 {
		o.RPS = 2
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	endpoints := make([]string, 0, len(o.Endpoints))
	for _, ep := range utils.Dedup(o.Endpoints) {
		endpoints = append(endpoints, strings.TrimRight(ep, "/"))
	}

	c := &Client{
		endpoints:        endpoints,
		apiKey:           o.APIKey,
		client:           client,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

// Calls returns the number of requests sent since the client was created.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

// refill refills the token-bucket with new tokens if necessary.
func (c *Client) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

// acquire takes a token from the bucket, waiting until one is available or ctx ends.
func (c *Client) acquire(ctx context.Context) error {
	for {
		c.refill()
		if n := atomic.LoadInt64(&c.tokens); n > 0 && atomic.CompareAndSwapInt64(&c.tokens, n, n-1) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refillEvery / 2):
		}
	}
}

// isOpen returns true while the endpoint's breaker is OPEN.
func (c *Client) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

// noteFailure marks an endpoint as failed and opens the circuit-breaker if the failure count exceeds the threshold.
func (c *Client) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

func (c *Client) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// getJSON issues a GET for path with params plus api_key and file_type, trying each endpoint whose
// breaker is closed. Server errors and transport errors move on to the next endpoint; client errors
// are final. The body is decoded into a generic map with numbers kept as json.Number.
// It returns the last HTTP status seen (0 when no response arrived).
func (c *Client) getJSON(ctx context.Context, path string, params url.Values) (map[string]any, int, error) {
	if c.apiKey == "" {
		return nil, 0, ErrMissingAPIKey
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")

	var (
		lastErr    error = ErrCircuitOpen
		lastStatus int
	)
	for _, ep := range c.endpoints {
		// Skip endpoints whose breaker is OPEN.
		if c.isOpen(ep) {
			continue
		}

		if err := c.acquire(ctx); err != nil {
			return nil, 0, err
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, ep+"/"+path+"?"+q.Encode(), nil)
		if reqErr != nil {
			return nil, 0, reqErr
		}
		req.Header.Set("Accept", "application/json")

		c.calls.Add(1)
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			lastErr, lastStatus = err, 0
			c.noteFailure(ep)
			continue
		}

		// From here on, always drain+close the body before continuing/returning.
		lastStatus = resp.StatusCode
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server %d", resp.StatusCode)
			c.noteFailure(ep)
			_ = drainAndClose(resp.Body)
			continue
		}

		out := map[string]any{}
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		decErr := dec.Decode(&out)
		_ = drainAndClose(resp.Body)

		if resp.StatusCode >= 300 {
			return nil, resp.StatusCode, apiErrorFrom(out, resp.StatusCode)
		}
		if decErr != nil {
			return nil, resp.StatusCode, fmt.Errorf("decode response: %w", decErr)
		}
		if _, ok := out["error_code"]; ok {
			return nil, resp.StatusCode, apiErrorFrom(out, resp.StatusCode)
		}

		c.noteSuccess(ep)
		return out, resp.StatusCode, nil
	}

	return nil, lastStatus, lastErr
}

func apiErrorFrom(body map[string]any, status int) error {
	msg, _ := body["error_message"].(string)
	if msg == "" {
		return fmt.Errorf("http %d", status)
	}
	return fmt.Errorf("http %d: %s", status, msg)
}

// drainAndClose reads the remaining body so the connection can be reused, then closes it.
func drainAndClose(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	return body.Close()
}

// IsRetryable reports whether a fetch error is transient: a transport failure, a 429 or a 5xx.
func IsRetryable(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	if errors.Is(err, ErrMissingAPIKey) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return fe.Status == 0 || fe.Status == http.StatusTooManyRequests || fe.Status >= 500
}
