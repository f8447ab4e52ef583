// Package api is the single choke point for calls to the smartwaste REST
// backend. It attaches the bearer credential, refuses to send with an
// expired one, and normalizes 401/403/429/network failures uniformly.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"smartwaste.org/internal/auth"
	"smartwaste.org/internal/ids"
	"smartwaste.org/internal/obs"
)

const (
	DefaultBaseURL = "http://localhost:8080/api"
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 16 << 20
)

// Credentials supplies the bearer token and receives teardown requests.
// Invalidate is called with ErrUnauthorized on a 401 and with
// ErrSessionExpired when the held token is past its exp claim.
type Credentials interface {
	Token() string
	Invalidate(reason error)
}

// Client issues backend calls. It is safe for concurrent use.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
	now     func() time.Time

	mu    sync.RWMutex
	creds Credentials
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client. Its Timeout is kept as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit installs an outbound token bucket. Calls wait for a token;
// nothing is retried. perSec <= 0 disables the limiter.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *Client) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithLogger routes api_call log lines to l.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides the clock used for credential expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		base: baseURL,
		http: &http.Client{Timeout: DefaultTimeout},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = obs.Logger()
	}
	return c
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string { return c.base }

// UseCredentials sets the bearer source and teardown hook. nil detaches.
func (c *Client) UseCredentials(creds Credentials) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

func (c *Client) credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

type call struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	anonymous   bool
	idempotent  bool
}

func jsonCall(method, path string, payload any) (call, error) {
	cl := call{method: method, path: path}
	if payload == nil {
		return cl, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return cl, fmt.Errorf("api: encode %s %s: %w", method, path, err)
	}
	cl.body = bytes.NewReader(data)
	cl.contentType = "application/json"
	return cl, nil
}

// do sends cl and decodes a 2xx body into out. out may be nil, or *[]byte
// for raw bodies.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	var (
		creds Credentials
		token string
	)
	if !cl.anonymous {
		creds = c.credentials()
		if creds != nil {
			token = creds.Token()
		}
		if token != "" && auth.Expired(token, c.now()) {
			creds.Invalidate(ErrSessionExpired)
			c.logCall(cl, "expired", 0, "")
			return ErrSessionExpired
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("api: rate limiter: %w", err)
		}
	}

	target := c.base + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, target, cl.body)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	requestID := ids.RequestID()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if cl.body != nil {
		ct := cl.contentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	if cl.idempotent {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		obs.ObserveCall(cl.method, cl.path, "error", elapsed)
		c.logCall(cl, "error", elapsed, requestID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	status := strconv.Itoa(resp.StatusCode)
	obs.ObserveCall(cl.method, cl.path, status, elapsed)
	c.logCall(cl, status, elapsed, requestID)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newError(resp.StatusCode, body)
		if resp.StatusCode == http.StatusUnauthorized && creds != nil {
			creds.Invalidate(ErrUnauthorized)
		}
		return apiErr
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*v = body
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", cl.method, cl.path, err)
	}
	return nil
}

func (c *Client) logCall(cl call, status string, d time.Duration, requestID string) {
	level := "info"
	if status == "error" || status == "expired" || strings.HasPrefix(status, "5") {
		level = "warn"
	}
	obs.LogTo(c.logger, level, "api_call", map[string]any{
		"method":      cl.method,
		"path":        obs.CanonicalPath(cl.path),
		"status":      status,
		"duration_ms": d.Milliseconds(),
		"request_id":  requestID,
	})
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
