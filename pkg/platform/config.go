// Package platform wires configuration, the connector, the schema cache,
// and the toolkit registry into one explicit application context.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, resolved once at startup and
// immutable afterwards. The spec keys come from the environment; the
// optional YAML file covers the server block.
type Config struct {
	ConnectionString     string `env:"ORACLE_CONNECTION_STRING"`
	TargetSchema         string `env:"TARGET_SCHEMA"`
	CacheDir             string `env:"CACHE_DIR" envDefault:".cache"`
	ThickMode            bool   `env:"THICK_MODE"`
	ClientLibDir         string `env:"ORACLE_CLIENT_LIB_DIR"`
	PoolSize             int    `env:"POOL_SIZE" envDefault:"8"`
	PoolAcquireTimeoutMS int    `env:"POOL_ACQUIRE_TIMEOUT_MS" envDefault:"5000"`
	ToolDeadlineMS       int    `env:"TOOL_DEADLINE_MS" envDefault:"30000"`
	StalenessProbe       bool   `env:"STALENESS_PROBE"`

	Server ServerConfig `env:"-"`
}

// ServerConfig configures the MCP server identity and transport.
type ServerConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Transport string `yaml:"transport"` // "stdio", "sse", "streamable"
	Address   string `yaml:"address"`
}

// serverFile is the YAML shape of the optional config file.
type serverFile struct {
	Server ServerConfig `yaml:"server"`
}

// LoadConfig resolves configuration: .env file, then environment, then
// the optional YAML file for the server block.
func LoadConfig(path string) (*Config, error) {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, configErr(fmt.Errorf("parsing environment: %w", err))
	}

	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, configErr(fmt.Errorf("reading config file: %w", err))
		}
		data = []byte(expandEnvVars(string(data)))
		var f serverFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, configErr(fmt.Errorf("parsing config file: %w", err))
		}
		cfg.Server = f.Server
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars expands ${VAR} patterns.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "oracle-mcp-server"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "stdio"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8000"
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []string
	if c.ConnectionString == "" {
		errs = append(errs, "ORACLE_CONNECTION_STRING is required")
	}
	if c.PoolAcquireTimeoutMS < 0 {
		errs = append(errs, "POOL_ACQUIRE_TIMEOUT_MS must not be negative")
	}
	if c.ToolDeadlineMS < 0 {
		errs = append(errs, "TOOL_DEADLINE_MS must not be negative")
	}
	switch c.Server.Transport {
	case "stdio", "sse", "streamable":
	default:
		errs = append(errs, fmt.Sprintf("unknown transport %q", c.Server.Transport))
	}
	if len(errs) > 0 {
		return configErr(fmt.Errorf("config validation errors: %s", strings.Join(errs, "; ")))
	}
	return nil
}

// AcquireTimeout returns the pool acquire timeout as a duration.
func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.PoolAcquireTimeoutMS) * time.Millisecond
}

// ToolDeadline returns the per-tool deadline as a duration.
func (c *Config) ToolDeadline() time.Duration {
	return time.Duration(c.ToolDeadlineMS) * time.Millisecond
}
