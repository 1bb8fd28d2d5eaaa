// Package remote talks to the remote recipe repository: a listing endpoint
// in the GitHub contents API shape and a raw content endpoint.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"github.com/starford/airules/internal/apperr"
	"github.com/starford/airules/internal/endpoint"
	"github.com/starford/airules/internal/recipe"
)

// DefaultTimeout bounds every request made by the client.
const DefaultTimeout = 10 * time.Second

// DefaultUserAgent is sent when no WithUserAgent option is given.
const DefaultUserAgent = "airules/dev"

// maxBody caps how much of a response body is read.
const maxBody = 4 << 20

// Entry is one recipe file advertised by the listing endpoint.
type Entry struct {
	Name       string `json:"name"`
	ContentURL string `json:"contentUrl"`
}

// RateLimit is the last rate-limit state reported by the remote. ObservedAt
// is when the response carrying it arrived.
type RateLimit struct {
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"resetAt"`
	Observed   bool      `json:"observed"`
	ObservedAt time.Time `json:"observedAt"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Message string
	URL     string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("remote: %s: status %d: %s", e.URL, e.Status, e.Message)
}

// Unwrap lets errors.Is match apperr.ErrRemoteUnavailable.
func (e *StatusError) Unwrap() error { return apperr.ErrRemoteUnavailable }

// Client is a thin resty wrapper. It does not cache and does not retry.
type Client struct {
	http   *resty.Client
	cfg    *endpoint.Config
	logger *slog.Logger
	token  string

	mu   sync.Mutex
	rate RateLimit
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.http.SetHeader("User-Agent", ua)
		}
	}
}

// WithLogger sets the logger used for debug request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client that reads endpoint URLs from cfg on every call.
func New(cfg *endpoint.Config, opts ...Option) *Client {
	c := &Client{
		http:   resty.New(),
		cfg:    cfg,
		logger: slog.Default(),
	}
	c.http.SetTimeout(DefaultTimeout)
	c.http.SetHeader("User-Agent", DefaultUserAgent)
	for _, o := range opts {
		o(c)
	}
	if c.token != "" {
		c.http.SetAuthToken(c.token)
	}
	return c
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// Authenticated reports whether a token is configured.
func (c *Client) Authenticated() bool { return c.token != "" }

// Endpoints returns the current endpoint settings.
func (c *Client) Endpoints() endpoint.Settings { return c.cfg.Snapshot() }

type listItem struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
}

// ListEntries fetches the listing endpoint and returns the recipe files it
// advertises, in listing order. Directories and unrecognised extensions are
// dropped.
func (c *Client) ListEntries(ctx context.Context) ([]Entry, error) {
	s := c.cfg.Snapshot()
	body, _, err := c.get(ctx, s.ListEndpoint)
	if err != nil {
		return nil, err
	}

	var items []listItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("remote: decode listing: %w: %v", apperr.ErrRemoteUnavailable, err)
	}

	out := make([]Entry, 0, len(items))
	for _, it := range items {
		if it.Type != "file" || !recipe.Recognized(it.Name) {
			continue
		}
		u := it.DownloadURL
		if s.ContentEndpointBase != "" {
			u = s.ContentEndpointBase + it.Name
		}
		if u == "" {
			c.logger.Debug("remote: entry without content url", slog.String("name", it.Name))
			continue
		}
		out = append(out, Entry{Name: it.Name, ContentURL: u})
	}
	return out, nil
}

// FetchContent returns the raw body at url.
func (c *Client) FetchContent(ctx context.Context, url string) ([]byte, error) {
	body, _, err := c.get(ctx, url)
	return body, err
}

// ContentURL builds the content URL for a file name from the configured base.
func (c *Client) ContentURL(name string) string {
	return c.cfg.Snapshot().ContentEndpointBase + name
}

// Ping issues a HEAD request and returns the status code. Any HTTP response
// counts as reachable; only transport failures are returned as errors.
func (c *Client) Ping(ctx context.Context, url string) (int, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Head(url)
	if err != nil {
		return 0, transportError(url, err)
	}
	if resp.RawResponse != nil && resp.RawResponse.Body != nil {
		_ = resp.RawResponse.Body.Close()
	}
	c.observe(resp.Header())
	return resp.StatusCode(), nil
}

// RateLimit returns the last observed rate-limit headers.
func (c *Client) RateLimit() RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, 0, transportError(url, err)
	}
	c.observe(resp.Header())

	body, err := readBody(resp)
	if err != nil {
		return nil, resp.StatusCode(), transportError(url, err)
	}
	c.logger.Debug("remote: get",
		slog.String("url", url),
		slog.Int("status", resp.StatusCode()),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)),
	)
	if resp.IsError() || resp.StatusCode() >= http.StatusMultipleChoices {
		return nil, resp.StatusCode(), &StatusError{
			Status:  resp.StatusCode(),
			Message: errorMessage(body),
			URL:     url,
		}
	}
	return body, resp.StatusCode(), nil
}

func readBody(resp *resty.Response) ([]byte, error) {
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, nil
	}
	defer resp.RawResponse.Body.Close()
	return io.ReadAll(io.LimitReader(resp.RawResponse.Body, maxBody))
}

// errorMessage extracts the "message" field GitHub puts in error bodies,
// falling back to the trimmed body text.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func transportError(url string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("remote: %s: %w: %v", url, apperr.ErrRemoteTimeout, err)
	}
	return fmt.Errorf("remote: %s: %w: %v", url, apperr.ErrRemoteUnavailable, err)
}

func (c *Client) observe(h http.Header) {
	limit, okL := headerInt(h, "X-RateLimit-Limit")
	remaining, okR := headerInt(h, "X-RateLimit-Remaining")
	if !okL && !okR {
		return
	}
	rl := RateLimit{Limit: limit, Remaining: remaining, Observed: true, ObservedAt: time.Now()}
	if reset, ok := headerInt(h, "X-RateLimit-Reset"); ok {
		rl.ResetAt = time.Unix(int64(reset), 0).UTC()
	}
	c.mu.Lock()
	c.rate = rl
	c.mu.Unlock()
}

func headerInt(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}
