package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "ANALYST"

// Load reads configuration from path (optional), the environment and the
// built-in defaults, then validates the result.
func Load(path string) (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("analyst")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allow_all_origins", d.Server.AllowAllOrigins)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	providers := make([]map[string]any, 0, len(d.LLM.Providers))
	for _, p := range d.LLM.Providers {
		providers = append(providers, map[string]any{
			"name":        p.Name,
			"kind":        p.Kind,
			"base_url":    p.BaseURL,
			"api_key_env": p.APIKeyEnv,
			"model":       p.Model,
			"models":      p.Models,
			"timeout":     p.Timeout,
		})
	}
	v.SetDefault("llm.providers", providers)
	v.SetDefault("llm.ensemble.enabled", d.LLM.Ensemble.Enabled)
	v.SetDefault("llm.ensemble.mode", d.LLM.Ensemble.Mode)
	v.SetDefault("llm.ensemble.timeout", d.LLM.Ensemble.Timeout)
	v.SetDefault("llm.tasks", map[string]string{})

	v.SetDefault("datasource.kind", d.DataSource.Kind)
	v.SetDefault("datasource.path", d.DataSource.Path)
	v.SetDefault("datasource.project", d.DataSource.Project)
	v.SetDefault("datasource.dataset", d.DataSource.Dataset)
	v.SetDefault("datasource.location", d.DataSource.Location)
	v.SetDefault("datasource.credentials_file", d.DataSource.CredentialsFile)
	v.SetDefault("datasource.query_timeout", d.DataSource.QueryTimeout)
	v.SetDefault("datasource.max_rows", d.DataSource.MaxRows)

	v.SetDefault("schema.tables", d.Schema.Tables)
	v.SetDefault("schema.relationships", d.Schema.Relationships)
	v.SetDefault("schema.descriptions", map[string]string{})
	v.SetDefault("schema.common_queries", d.Schema.CommonQueries)
	v.SetDefault("schema.sample_rows", d.Schema.SampleRows)

	v.SetDefault("agent.enable_exploration", d.Agent.EnableExploration)
	v.SetDefault("agent.max_plan_retries", d.Agent.MaxPlanRetries)
	v.SetDefault("agent.max_repair_retries", d.Agent.MaxRepairRetries)
	v.SetDefault("agent.query_cache_size", d.Agent.QueryCacheSize)
	v.SetDefault("agent.short_term_size", d.Agent.ShortTermSize)
	v.SetDefault("agent.consolidate_count", d.Agent.ConsolidateCount)
	v.SetDefault("agent.max_history", d.Agent.MaxHistory)
	v.SetDefault("agent.analyze_concurrency", d.Agent.AnalyzeConcurrency)
}
