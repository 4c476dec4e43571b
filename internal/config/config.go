// Package config loads and validates the runtime configuration for the
// agent core: model providers, session persistence, tool policy, and the
// ambient logging/tracing stack.
package config

import (
	"fmt"
	"os"
)

// Config is the root configuration structure for the runtime.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Session       SessionConfig       `yaml:"session"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Budget        BudgetConfig        `yaml:"budget"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PersistenceConfig selects and configures the session store backend.
type PersistenceConfig struct {
	// Backend selects the session store implementation: "memory", "journal",
	// or "postgres".
	Backend string `yaml:"backend"`

	// JournalDir is the root directory for the line-appended JSON journal
	// backend, holding "<root>/projects/<encoded-cwd>/<session-uuid>.jsonl".
	JournalDir string `yaml:"journal_dir"`

	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn"`
}

// BudgetConfig configures per-run and per-tenant cost tracking.
type BudgetConfig struct {
	// MaxUSD stops a run once accrued cost crosses this ceiling. Zero means
	// no limit.
	MaxUSD float64 `yaml:"max_usd"`

	// PricingFile optionally overrides the built-in per-model price table
	// with a YAML file of the same shape.
	PricingFile string `yaml:"pricing_file"`
}

// Load reads, merges $include directives, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv builds a minimal config from environment variables, used when
// no config file is supplied.
func LoadFromEnv() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	if dsn := os.Getenv("NEXUS_DSN"); dsn != "" {
		cfg.Persistence.Backend = "postgres"
		cfg.Persistence.DSN = dsn
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Persistence.Backend == "" {
		cfg.Persistence.Backend = "memory"
	}
	if cfg.Session.MaxMessagesPerSession == 0 {
		cfg.Session.MaxMessagesPerSession = 1000
	}
	if cfg.Session.Compaction == (CompactionConfig{}) {
		cfg.Session.Compaction = DefaultCompactionConfig()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks structural invariants that the YAML schema can't express.
func (c *Config) Validate() error {
	switch c.Persistence.Backend {
	case "memory", "journal", "postgres":
	default:
		return fmt.Errorf("persistence.backend must be one of memory|journal|postgres, got %q", c.Persistence.Backend)
	}
	if c.Persistence.Backend == "postgres" && c.Persistence.DSN == "" {
		return fmt.Errorf("persistence.dsn is required when persistence.backend is postgres")
	}
	if c.Session.Compaction.ThresholdPercent <= 0 || c.Session.Compaction.ThresholdPercent > 100 {
		return fmt.Errorf("session.compaction.threshold_percent must be in (0, 100]")
	}
	return nil
}
