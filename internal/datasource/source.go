// Package datasource defines the tabular data-source capability and its
// sqlite and BigQuery backends.
package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/insight-orchestrator/internal/config"
	"github.com/example/insight-orchestrator/internal/models"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrEmptyQuery    = errors.New("empty query")
	ErrNotReadOnly   = errors.New("only SELECT or WITH statements are allowed")
)

// Source is a query engine that returns rows plus schema metadata.
type Source interface {
	Query(ctx context.Context, sql string) (*Rows, error)
	DescribeTable(ctx context.Context, name string) (*TableInfo, error)
	ListTables(ctx context.Context) ([]string, error)
}

type Rows struct {
	Columns []string
	Records []map[string]any
}

type TableInfo struct {
	Name      string
	FullName  string
	Columns   []models.Column
	RowCount  int64
	SizeBytes int64
}

// New opens the backend selected by cfg.Kind.
func New(ctx context.Context, cfg config.DataSourceConfig) (Source, error) {
	switch cfg.Kind {
	case "", "sqlite":
		return OpenSQLite(cfg.Path)
	case "bigquery":
		return NewBigQuery(ctx, BigQueryConfig{
			Project:         cfg.Project,
			Dataset:         cfg.Dataset,
			Location:        cfg.Location,
			CredentialsFile: cfg.CredentialsFile,
			Timeout:         cfg.QueryTimeout,
			MaxRows:         int64(cfg.MaxRows),
		})
	default:
		return nil, fmt.Errorf("unsupported datasource kind %q", cfg.Kind)
	}
}
