// Package config loads analyst configuration.
//
// Sources, highest priority first:
//   - environment variables (ANALYST_* prefix, "." replaced by "_")
//   - a YAML file (--config, or ./analyst.yaml when present)
//   - built-in defaults
//
// A .env file in the working directory is loaded into the process
// environment before anything else, so provider API keys can live there.
package config

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	LLM        LLMConfig        `mapstructure:"llm"`
	DataSource DataSourceConfig `mapstructure:"datasource"`
	Schema     SchemaConfig     `mapstructure:"schema"`
	Agent      AgentConfig      `mapstructure:"agent"`
}

type ServerConfig struct {
	Addr            string `mapstructure:"addr"`
	AllowAllOrigins bool   `mapstructure:"allow_all_origins"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json | console
	File       string `mapstructure:"file"`   // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ProviderConfig describes one reasoning-service provider. Providers are
// tried in list order.
type ProviderConfig struct {
	Name      string            `mapstructure:"name"`
	Kind      string            `mapstructure:"kind"` // openai | gemini | anthropic | mock
	BaseURL   string            `mapstructure:"base_url"`
	APIKeyEnv string            `mapstructure:"api_key_env"`
	Model     string            `mapstructure:"model"`
	Models    map[string]string `mapstructure:"models"` // tier -> model
	Timeout   time.Duration     `mapstructure:"timeout"`
}

type EnsembleConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Mode    string        `mapstructure:"mode"` // wait_all | first_success
	Timeout time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	Providers []ProviderConfig `mapstructure:"providers"`
	Ensemble  EnsembleConfig   `mapstructure:"ensemble"`
	// Tasks overrides the task category -> model identifier table.
	Tasks map[string]string `mapstructure:"tasks"`
}

type DataSourceConfig struct {
	Kind            string        `mapstructure:"kind"` // sqlite | bigquery
	Path            string        `mapstructure:"path"`
	Project         string        `mapstructure:"project"`
	Dataset         string        `mapstructure:"dataset"`
	Location        string        `mapstructure:"location"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	MaxRows         int           `mapstructure:"max_rows"`
}

// SchemaConfig is business-schema metadata attached to the explored schema.
type SchemaConfig struct {
	Tables        []string          `mapstructure:"tables"`
	Relationships []string          `mapstructure:"relationships"`
	Descriptions  map[string]string `mapstructure:"descriptions"`
	CommonQueries []string          `mapstructure:"common_queries"`
	SampleRows    int               `mapstructure:"sample_rows"`
}

type AgentConfig struct {
	EnableExploration  bool `mapstructure:"enable_exploration"`
	MaxPlanRetries     int  `mapstructure:"max_plan_retries"`
	MaxRepairRetries   int  `mapstructure:"max_repair_retries"`
	QueryCacheSize     int  `mapstructure:"query_cache_size"`
	ShortTermSize      int  `mapstructure:"short_term_size"`
	ConsolidateCount   int  `mapstructure:"consolidate_count"`
	MaxHistory         int  `mapstructure:"max_history"`
	AnalyzeConcurrency int  `mapstructure:"analyze_concurrency"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		LLM: LLMConfig{
			Providers: []ProviderConfig{
				{
					Name:    "ollama",
					Kind:    "openai",
					BaseURL: "http://localhost:11434/v1",
					Model:   "llama3.1",
					Timeout: 120 * time.Second,
				},
				{
					Name:      "gemini",
					Kind:      "gemini",
					APIKeyEnv: "GOOGLE_API_KEY",
					Model:     "gemini-1.5-flash",
					Models:    map[string]string{"high-capability": "gemini-1.5-pro", "fast": "gemini-1.5-flash"},
					Timeout:   120 * time.Second,
				},
			},
			Ensemble: EnsembleConfig{Mode: "wait_all", Timeout: 120 * time.Second},
		},
		DataSource: DataSourceConfig{
			Kind:         "sqlite",
			Path:         "data/analyst.db",
			QueryTimeout: 60 * time.Second,
			MaxRows:      100,
		},
		Schema: SchemaConfig{SampleRows: 3},
		Agent: AgentConfig{
			EnableExploration:  true,
			MaxPlanRetries:     2,
			MaxRepairRetries:   2,
			QueryCacheSize:     256,
			ShortTermSize:      10,
			ConsolidateCount:   5,
			MaxHistory:         50,
			AnalyzeConcurrency: 4,
		},
	}
}

// Validate returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}
	for i, p := range c.LLM.Providers {
		switch p.Kind {
		case "openai", "gemini", "anthropic", "mock":
		default:
			errs = append(errs, fmt.Errorf("llm.providers[%d].kind %q is not supported", i, p.Kind))
		}
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("llm.providers[%d].name is required", i))
		}
	}
	switch c.LLM.Ensemble.Mode {
	case "wait_all", "first_success":
	default:
		errs = append(errs, fmt.Errorf("llm.ensemble.mode %q must be wait_all or first_success", c.LLM.Ensemble.Mode))
	}
	if c.LLM.Ensemble.Enabled && len(c.LLM.Providers) < 2 {
		errs = append(errs, errors.New("llm.ensemble.enabled requires at least two providers"))
	}
	switch c.DataSource.Kind {
	case "sqlite":
		if c.DataSource.Path == "" {
			errs = append(errs, errors.New("datasource.path is required for sqlite"))
		}
	case "bigquery":
		if c.DataSource.Project == "" || c.DataSource.Dataset == "" {
			errs = append(errs, errors.New("datasource.project and datasource.dataset are required for bigquery"))
		}
	default:
		errs = append(errs, fmt.Errorf("datasource.kind %q must be sqlite or bigquery", c.DataSource.Kind))
	}
	if c.Agent.MaxPlanRetries < 0 || c.Agent.MaxRepairRetries < 0 {
		errs = append(errs, errors.New("agent retry limits must not be negative"))
	}
	if c.Agent.ShortTermSize <= 0 || c.Agent.ConsolidateCount <= 0 || c.Agent.ConsolidateCount > c.Agent.ShortTermSize {
		errs = append(errs, errors.New("agent.consolidate_count must be between 1 and agent.short_term_size"))
	}
	if c.Agent.MaxHistory <= 0 {
		errs = append(errs, errors.New("agent.max_history must be positive"))
	}
	return errors.Join(errs...)
}
