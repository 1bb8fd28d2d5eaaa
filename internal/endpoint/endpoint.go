// Package endpoint holds the process-wide remote endpoint configuration
// shared by the remote client, the cache policy and the resolver.
package endpoint

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/airules/internal/checksum"
)

// Default endpoint values.
const (
	DefaultListEndpoint = "https://api.github.com/repos/starford/airules-recipes/contents/recipes"
	DefaultContentBase  = "https://raw.githubusercontent.com/starford/airules-recipes/main/recipes/"
	DefaultTTL          = 24 * time.Hour
)

// Settings is a value snapshot of the endpoint configuration.
type Settings struct {
	ListEndpoint         string        `json:"listEndpoint"`
	ContentEndpointBase  string        `json:"contentEndpointBase"`
	TTL                  time.Duration `json:"ttl"`
	AllowBundledFallback bool          `json:"allowBundledFallback"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		ListEndpoint:         DefaultListEndpoint,
		ContentEndpointBase:  DefaultContentBase,
		TTL:                  DefaultTTL,
		AllowBundledFallback: true,
	}
}

// Validate checks that both URLs are absolute http(s) URLs and TTL is positive.
// An empty content base is allowed: entries then use the listed download URL.
func (s Settings) Validate() error {
	if err := validation.ValidateStruct(&s,
		validation.Field(&s.ListEndpoint, validation.Required, is.RequestURL, validation.By(httpScheme)),
		validation.Field(&s.ContentEndpointBase, is.RequestURL, validation.By(httpScheme)),
		validation.Field(&s.TTL, validation.Required, validation.Min(time.Nanosecond)),
	); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	return nil
}

func httpScheme(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https")
	}
	return nil
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	ListEndpoint         *string        `json:"listEndpoint,omitempty"`
	ContentEndpointBase  *string        `json:"contentEndpointBase,omitempty"`
	TTL                  *time.Duration `json:"ttl,omitempty"`
	AllowBundledFallback *bool          `json:"allowBundledFallback,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.ListEndpoint == nil && p.ContentEndpointBase == nil && p.TTL == nil && p.AllowBundledFallback == nil
}

// Config is the mutable endpoint registry. It is safe for concurrent use.
type Config struct {
	mu sync.RWMutex
	s  Settings
}

// New creates a Config from s. The content base is normalised to end in "/".
func New(s Settings) *Config {
	s.ContentEndpointBase = normalizeBase(s.ContentEndpointBase)
	return &Config{s: s}
}

// Snapshot returns a copy of the current settings.
func (c *Config) Snapshot() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s
}

// TTL returns the cache time-to-live.
func (c *Config) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.TTL
}

// AllowBundledFallback reports whether the bundled set may be served.
func (c *Config) AllowBundledFallback() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.AllowBundledFallback
}

// Fingerprint identifies the remote source the current settings point at.
// A cache written under a different fingerprint is not reused.
func (c *Config) Fingerprint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return checksum.Sum([]byte(c.s.ListEndpoint + "\n" + c.s.ContentEndpointBase))
}

// Update applies p after validating the resulting settings as a whole.
// An invalid patch leaves the configuration untouched.
func (c *Config) Update(p Patch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.s
	if p.ListEndpoint != nil {
		next.ListEndpoint = strings.TrimSpace(*p.ListEndpoint)
	}
	if p.ContentEndpointBase != nil {
		next.ContentEndpointBase = normalizeBase(*p.ContentEndpointBase)
	}
	if p.TTL != nil {
		next.TTL = *p.TTL
	}
	if p.AllowBundledFallback != nil {
		next.AllowBundledFallback = *p.AllowBundledFallback
	}
	if err := next.Validate(); err != nil {
		return err
	}
	c.s = next
	return nil
}

func normalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}
