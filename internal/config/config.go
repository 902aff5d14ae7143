// ABOUTME: Configuration loading and parsing for the Skilloc server
// ABOUTME: YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Chat     ChatConfig     `yaml:"chat"`
	Static   StaticConfig   `yaml:"static"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig selects and configures the record store backend.
type DatabaseConfig struct {
	// Driver is "jsonfile" (default) or "sqlite".
	Driver string `yaml:"driver"`
	// Dir is the data directory for the jsonfile driver.
	Dir string `yaml:"dir"`
	// Path is the database file for the sqlite driver.
	Path string `yaml:"path"`
}

// AuthConfig holds token signing configuration.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl"`
}

// ChatConfig holds the websocket timing knobs.
type ChatConfig struct {
	HandshakeTimeout time.Duration `yaml:"-"`
	WriteTimeout     time.Duration `yaml:"-"`
	PongWait         time.Duration `yaml:"-"`
	SendTimeout      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HandshakeTimeoutRaw string `yaml:"handshake_timeout"`
	WriteTimeoutRaw     string `yaml:"write_timeout"`
	PongWaitRaw         string `yaml:"pong_wait"`
	SendTimeoutRaw      string `yaml:"send_timeout"`

	MaxMessageSize int64 `yaml:"max_message_size"`
}

// StaticConfig holds the optional bundled frontend directory.
type StaticConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. An unset variable expands to the empty
// string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure
// encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	switch c.Database.Driver {
	case "", "jsonfile":
		if c.Database.Dir == "" {
			return fmt.Errorf("database.dir is required for the jsonfile driver")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q (use jsonfile or sqlite)", c.Database.Driver)
	}

	if c.Static.Enabled && c.Static.Dir == "" {
		return fmt.Errorf("static.dir is required when static serving is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration
// values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"chat.handshake_timeout", cfg.Chat.HandshakeTimeoutRaw, &cfg.Chat.HandshakeTimeout},
		{"chat.write_timeout", cfg.Chat.WriteTimeoutRaw, &cfg.Chat.WriteTimeout},
		{"chat.pong_wait", cfg.Chat.PongWaitRaw, &cfg.Chat.PongWait},
		{"chat.send_timeout", cfg.Chat.SendTimeoutRaw, &cfg.Chat.SendTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
