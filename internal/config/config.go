// Package config loads the relay configuration from a YAML file. ${VAR}
// references are replaced with environment variables before parsing, so
// secrets can stay out of the file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Relay    RelayConfig    `yaml:"relay"`
	Request  RequestConfig  `yaml:"request"`
	Debug    DebugConfig    `yaml:"debug"`
	Static   StaticConfig   `yaml:"static"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
	// TokenKey is a base64 encoded 32 byte key. Tokens are stored in plain
	// text when it's empty.
	TokenKey string `yaml:"token_key"`
}

type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	TokenURL     string `yaml:"token_url"`
}

type RelayConfig struct {
	URL string `yaml:"url"`
}

type RequestConfig struct {
	MaxAttempts int `yaml:"max_attempts"`

	BaseDelay    time.Duration `yaml:"-"`
	BaseDelayRaw string        `yaml:"base_delay"`
}

type DebugConfig struct {
	MirrorHost string `yaml:"mirror_host"` // exhausted requests are re-posted here
}

type StaticConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	DefaultHTTPAddr        = ":8080"
	DefaultTokenURL        = "https://accounts.google.com/o/oauth2/token"
	DefaultRelayURL        = "https://www.googleapis.com/gcm_for_chrome/v1/messages"
	DefaultMaxAttempts     = 3
	DefaultBaseDelay       = time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultStaticDir       = "static"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads a configuration document, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.OAuth.TokenURL == "" {
		c.OAuth.TokenURL = DefaultTokenURL
	}
	if c.Relay.URL == "" {
		c.Relay.URL = DefaultRelayURL
	}
	if c.Request.MaxAttempts == 0 {
		c.Request.MaxAttempts = DefaultMaxAttempts
	}
	if c.Request.BaseDelay == 0 {
		c.Request.BaseDelay = DefaultBaseDelay
	}
	if c.Static.Dir == "" {
		c.Static.Dir = DefaultStaticDir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.OAuth.ClientID == "" {
		return fmt.Errorf("oauth.client_id is required")
	}
	if c.OAuth.ClientSecret == "" {
		return fmt.Errorf("oauth.client_secret is required")
	}
	if c.OAuth.RedirectURI == "" {
		return fmt.Errorf("oauth.redirect_uri is required")
	}
	if c.OAuth.TokenURL == "" {
		return fmt.Errorf("oauth.token_url is required")
	}
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	if c.Request.MaxAttempts < 0 {
		return fmt.Errorf("request.max_attempts must be positive")
	}
	if c.Request.MaxAttempts > DefaultMaxAttempts {
		return fmt.Errorf("request.max_attempts must be at most %d", DefaultMaxAttempts)
	}
	if c.Request.BaseDelay < 0 {
		return fmt.Errorf("request.base_delay must be positive")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if cfg.Request.BaseDelayRaw != "" {
		cfg.Request.BaseDelay, err = time.ParseDuration(cfg.Request.BaseDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing base_delay %q: %w", cfg.Request.BaseDelayRaw, err)
		}
	}

	return nil
}
