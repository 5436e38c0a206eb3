package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/example/insight-orchestrator/internal/cache"
	"github.com/example/insight-orchestrator/internal/config"
	"github.com/example/insight-orchestrator/internal/datasource"
	"github.com/example/insight-orchestrator/internal/logging"
	"github.com/example/insight-orchestrator/internal/orchestrator"
	"github.com/example/insight-orchestrator/internal/providers/llm"
	"github.com/example/insight-orchestrator/internal/router"
	"github.com/example/insight-orchestrator/internal/tools"
)

// app holds the process-wide components shared by every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers []llm.Client
	source    datasource.Source
	schema    *cache.SchemaCache
	queries   *cache.QueryCache
	orch      *orchestrator.Orchestrator
}

// newApp loads configuration and wires the components. quietLevel replaces
// the configured log level unless --verbose is set; empty keeps it.
func newApp(ctx context.Context, quietLevel string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	switch {
	case verbose:
		cfg.Logging.Level = "debug"
	case quietLevel != "":
		cfg.Logging.Level = quietLevel
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	providers := llm.NewFromConfig(ctx, cfg.LLM.Providers, logger.Named("llm"))
	rt := router.New(providers, router.Config{
		Tasks:    cfg.LLM.Tasks,
		Ensemble: cfg.LLM.Ensemble.Enabled,
		Join:     router.JoinMode(cfg.LLM.Ensemble.Mode),
		Timeout:  cfg.LLM.Ensemble.Timeout,
		Logger:   logger.Named("router"),
	})

	src, err := datasource.New(ctx, cfg.DataSource)
	if err != nil {
		return nil, fmt.Errorf("opening data source: %w", err)
	}
	queries, err := cache.NewQueryCache(cfg.Agent.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating query cache: %w", err)
	}
	schema := cache.NewSchemaCache(cache.SchemaOptions{
		Tables:        cfg.Schema.Tables,
		Relationships: cfg.Schema.Relationships,
		Descriptions:  cfg.Schema.Descriptions,
		CommonQueries: cfg.Schema.CommonQueries,
		SampleRows:    cfg.Schema.SampleRows,
		Logger:        logger.Named("schema"),
	})
	registry := tools.NewRegistry(
		&tools.QueryTool{Source: src, Cache: queries, MaxRows: cfg.DataSource.MaxRows},
		&tools.AnalyzeTool{Reasoner: rt, MaxParallel: cfg.Agent.AnalyzeConcurrency},
		tools.NewReportTool(),
	)
	orch := orchestrator.New(orchestrator.Config{
		Reasoner: rt,
		Source:   src,
		Schema:   schema,
		Tools:    registry,
		Agent:    cfg.Agent,
		Logger:   logger,
	})

	logger.Info("analyst ready",
		zap.Strings("providers", providerNames(providers)),
		zap.String("datasource", cfg.DataSource.Kind),
		zap.Bool("ensemble", cfg.LLM.Ensemble.Enabled))
	return &app{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		source:    src,
		schema:    schema,
		queries:   queries,
		orch:      orch,
	}, nil
}

func (a *app) Close() {
	if err := llm.CloseAll(a.providers); err != nil {
		a.logger.Warn("closing reasoning providers", zap.Error(err))
	}
	if c, ok := a.source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("closing data source", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func providerNames(clients []llm.Client) []string {
	names := make([]string, 0, len(clients))
	for _, c := range clients {
		names = append(names, c.Name())
	}
	return names
}
