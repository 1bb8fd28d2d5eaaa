package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/airules/internal/cache"
	"github.com/starford/airules/internal/endpoint"
	"github.com/starford/airules/internal/recipeservice"
	"github.com/starford/airules/internal/remote"
	"github.com/starford/airules/internal/resolver"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Remote RemoteConfig      `yaml:"remote"`
	Cache  CacheConfig       `yaml:"cache"`
	Local  LocalConfig       `yaml:"local"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return c.Auth.Validate()
}

// EndpointSettings returns the initial endpoint registry values.
func (c *Config) EndpointSettings() endpoint.Settings {
	return endpoint.Settings{
		ListEndpoint:         c.Remote.ListEndpoint,
		ContentEndpointBase:  c.Remote.ContentBase,
		TTL:                  c.Cache.TTL,
		AllowBundledFallback: c.Cache.AllowBundledFallback,
	}
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level" env:"AIRULES_LOG_LEVEL"`
	LogFormat string     `yaml:"log_format" env:"AIRULES_LOG_FORMAT"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatJSON
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" env:"AIRULES_HTTP_PORT"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// RemoteConfig holds the remote recipe repository settings.
type RemoteConfig struct {
	ListEndpoint string        `yaml:"list_endpoint" env:"AIRULES_LIST_ENDPOINT"`
	ContentBase  string        `yaml:"content_base" env:"AIRULES_CONTENT_BASE"`
	Token        string        `yaml:"token" env:"AIRULES_TOKEN"`
	GitHubToken  string        `yaml:"-" env:"GITHUB_TOKEN"`
	Timeout      time.Duration `yaml:"timeout" env:"AIRULES_TIMEOUT"`
	Workers      int           `yaml:"workers" env:"AIRULES_WORKERS"`
	UserAgent    string        `yaml:"user_agent"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ListEndpoint, validation.Required, is.RequestURL),
		validation.Field(&c.ContentBase, is.RequestURL),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(32)),
	)
}

// BearerToken returns the configured token, preferring AIRULES_TOKEN over
// GITHUB_TOKEN.
func (c *RemoteConfig) BearerToken() string {
	if c.Token != "" {
		return c.Token
	}
	return c.GitHubToken
}

// CacheConfig holds the local cache settings.
type CacheConfig struct {
	Dir                  string        `yaml:"dir" env:"AIRULES_CACHE_DIR"`
	TTL                  time.Duration `yaml:"ttl" env:"AIRULES_CACHE_TTL"`
	AllowBundledFallback bool          `yaml:"allow_bundled_fallback" env:"AIRULES_ALLOW_BUNDLED"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if c.TTL <= 0 {
		return errors.New("ttl: must be positive")
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// LocalConfig points at the directory of user-authored recipes. An empty Dir
// disables the overlay.
type LocalConfig struct {
	Dir string `yaml:"dir" env:"AIRULES_LOCAL_DIR"`
}

// SQLiteConfig holds the catalog database location. An empty Path disables
// the catalog.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"AIRULES_SQLITE_PATH"`
}

// AuthConfig holds authentication configuration for the HTTP API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" env:"AIRULES_AUTH_MODE"`
	Token string `yaml:"token" env:"AIRULES_AUTH_TOKEN"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Remote: RemoteConfig{
			ListEndpoint: endpoint.DefaultListEndpoint,
			ContentBase:  endpoint.DefaultContentBase,
			Timeout:      remote.DefaultTimeout,
			Workers:      resolver.DefaultWorkers,
		},
		Cache: CacheConfig{
			Dir:                  cache.DefaultDir(),
			TTL:                  endpoint.DefaultTTL,
			AllowBundledFallback: true,
		},
		Local: LocalConfig{
			Dir: recipeservice.DefaultLocalDir(),
		},
		SQLite: SQLiteConfig{
			Path: "",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
