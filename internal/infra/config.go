package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"swapbook/internal/domain"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where cmd binaries look for the config file.
const DefaultConfigPath = "configs/config.yaml"

// Config holds every setting of the service. LoadConfig fills it from yaml and
// then lets environment variables override deployment specific values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Storage struct {
		Driver string `yaml:"driver"` // sqlite | memory
		Path   string `yaml:"path"`   // empty selects the per-user data dir
	} `yaml:"storage"`

	Engine struct {
		VerifyTimeout time.Duration `yaml:"verify_timeout"`
		MaxCASRetries int           `yaml:"max_cas_retries"`
		EventBuffer   int           `yaml:"event_buffer"`
		EventRetries  uint64        `yaml:"event_retries"`
	} `yaml:"engine"`

	Verifier struct {
		RatePerSecond   float64       `yaml:"rate_per_second"`
		Burst           int           `yaml:"burst"`
		RetryInitial    time.Duration `yaml:"retry_initial"`
		RetryMax        time.Duration `yaml:"retry_max"`
		RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed"`
	} `yaml:"verifier"`

	Chains []ChainConfig `yaml:"chains"`

	HTTP struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// ChainConfig overrides the built-in metadata of one chain.
type ChainConfig struct {
	Name           domain.Chain `yaml:"name"`
	Decimals       *int32       `yaml:"decimals"`
	Disabled       bool         `yaml:"disabled"`
	SameChainSwaps bool         `yaml:"same_chain_swaps"`
}

// DefaultConfig returns the settings used for anything the file leaves out.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "swapbook"
	cfg.App.Version = "dev"
	cfg.Storage.Driver = "sqlite"
	cfg.Engine.VerifyTimeout = 5 * time.Second
	cfg.Engine.MaxCASRetries = 3
	cfg.Engine.EventBuffer = 1024
	cfg.Engine.EventRetries = 5
	cfg.Verifier.RatePerSecond = 20
	cfg.Verifier.Burst = 5
	cfg.Verifier.RetryInitial = 500 * time.Millisecond
	cfg.Verifier.RetryMax = 30 * time.Second
	cfg.Verifier.RetryMaxElapsed = 2 * time.Minute
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	cfg.Logging.File = "swapbook.log"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28
	cfg.Logging.Compress = true
	return &cfg
}

// LoadConfig reads path on top of DefaultConfig. A missing file is not an
// error; the defaults plus environment overrides are used instead.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func invalid(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return invalid("storage.driver", "unknown driver %q", c.Storage.Driver)
	}

	if c.Engine.VerifyTimeout <= 0 {
		return invalid("engine.verify_timeout", "must be positive")
	}
	if c.Engine.MaxCASRetries < 0 {
		return invalid("engine.max_cas_retries", "must not be negative")
	}
	if c.Engine.EventBuffer <= 0 {
		return invalid("engine.event_buffer", "must be positive")
	}

	if c.Verifier.RatePerSecond <= 0 {
		return invalid("verifier.rate_per_second", "must be positive")
	}
	if c.Verifier.Burst < 1 {
		return invalid("verifier.burst", "must be at least 1")
	}
	if c.Verifier.RetryInitial <= 0 || c.Verifier.RetryMax < c.Verifier.RetryInitial {
		return invalid("verifier.retry_max", "must be at least retry_initial (%s)", c.Verifier.RetryInitial)
	}

	seen := make(map[domain.Chain]bool, len(c.Chains))
	for i, ch := range c.Chains {
		field := fmt.Sprintf("chains[%d]", i)
		if ch.Name == domain.ChainUnknown {
			return invalid(field+".name", "chain name required")
		}
		if seen[ch.Name] {
			return invalid(field+".name", "duplicate chain %s", ch.Name)
		}
		seen[ch.Name] = true
		if ch.Decimals != nil && (*ch.Decimals < 0 || *ch.Decimals > 36) {
			return invalid(field+".decimals", "out of range: %d", *ch.Decimals)
		}
	}
	if !hasSwapPair(c.ChainRegistry()) {
		return invalid("chains", "no pair of enabled chains can be swapped")
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "listen address required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", "unknown level %q", c.Logging.Level)
	}
	return nil
}

func hasSwapPair(r *domain.ChainRegistry) bool {
	infos := r.Chains()
	for _, info := range infos {
		if len(infos) > 1 || info.SameChainSwaps {
			return true
		}
	}
	return false
}

// ChainRegistry applies the chain overrides to the built-in chain list.
// Chains not mentioned keep their defaults.
func (c *Config) ChainRegistry() *domain.ChainRegistry {
	overrides := make(map[domain.Chain]ChainConfig, len(c.Chains))
	for _, ch := range c.Chains {
		overrides[ch.Name] = ch
	}

	var infos []domain.ChainInfo
	for _, info := range domain.DefaultChains() {
		if o, ok := overrides[info.Chain]; ok {
			if o.Disabled {
				continue
			}
			if o.Decimals != nil {
				info.Decimals = *o.Decimals
			}
			info.SameChainSwaps = o.SameChainSwaps
		}
		infos = append(infos, info)
	}
	return domain.NewChainRegistry(infos)
}

// overrideWithEnv replaces settings that differ per deployment.
func overrideWithEnv(cfg *Config) {
	if path := os.Getenv("SWAPBOOK_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if addr := os.Getenv("SWAPBOOK_HTTP_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if level := os.Getenv("SWAPBOOK_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
