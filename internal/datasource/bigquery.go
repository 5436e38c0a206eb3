package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	bigquery "google.golang.org/api/bigquery/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/example/insight-orchestrator/internal/models"
)

type BigQueryConfig struct {
	Project         string
	Dataset         string
	Location        string
	CredentialsFile string
	Timeout         time.Duration
	MaxRows         int64
	// Options are appended to the client options, e.g. a test endpoint.
	Options []option.ClientOption
}

// BigQuerySource runs standard SQL against one BigQuery dataset through the
// REST API.
type BigQuerySource struct {
	svc      *bigquery.Service
	project  string
	dataset  string
	location string
	timeout  time.Duration
	maxRows  int64
}

func NewBigQuery(ctx context.Context, cfg BigQueryConfig) (*BigQuerySource, error) {
	if cfg.Project == "" || cfg.Dataset == "" {
		return nil, errors.New("bigquery: project and dataset are required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, cfg.Options...)
	svc, err := bigquery.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 500
	}
	return &BigQuerySource{
		svc:      svc,
		project:  cfg.Project,
		dataset:  cfg.Dataset,
		location: cfg.Location,
		timeout:  timeout,
		maxRows:  maxRows,
	}, nil
}

func (s *BigQuerySource) FullName(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.project, s.dataset, table)
}

func (s *BigQuerySource) Query(ctx context.Context, query string) (*Rows, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.checkReadOnly(ctx, query); err != nil {
		return nil, err
	}

	legacy := false
	waitMs := s.timeout.Milliseconds()
	resp, err := s.svc.Jobs.Query(s.project, &bigquery.QueryRequest{
		Query:        query,
		UseLegacySql: &legacy,
		TimeoutMs:    waitMs,
		MaxResults:   s.maxRows,
		Location:     s.location,
	}).Context(ctx).Do()
	if err != nil {
		return nil, apiError(err)
	}

	schema, rows, complete := resp.Schema, resp.Rows, resp.JobComplete
	for !complete {
		if resp.JobReference == nil {
			return nil, errors.New("bigquery: incomplete job without reference")
		}
		call := s.svc.Jobs.GetQueryResults(s.project, resp.JobReference.JobId).
			TimeoutMs(waitMs).
			MaxResults(s.maxRows)
		if resp.JobReference.Location != "" {
			call = call.Location(resp.JobReference.Location)
		}
		r, err := call.Context(ctx).Do()
		if err != nil {
			return nil, apiError(err)
		}
		schema, rows, complete = r.Schema, r.Rows, r.JobComplete
	}
	return convertRows(schema, rows), nil
}

// checkReadOnly dry-runs query and rejects anything BigQuery does not
// classify as a SELECT. A dry run is free and touches no data.
func (s *BigQuerySource) checkReadOnly(ctx context.Context, query string) error {
	legacy := false
	job := &bigquery.Job{
		Configuration: &bigquery.JobConfiguration{
			DryRun: true,
			Query:  &bigquery.JobConfigurationQuery{Query: query, UseLegacySql: &legacy},
		},
	}
	if s.location != "" {
		job.JobReference = &bigquery.JobReference{ProjectId: s.project, Location: s.location}
	}
	resp, err := s.svc.Jobs.Insert(s.project, job).Context(ctx).Do()
	if err != nil {
		return apiError(err)
	}
	var typ string
	if resp.Statistics != nil && resp.Statistics.Query != nil {
		typ = resp.Statistics.Query.StatementType
	}
	if typ != "SELECT" {
		return fmt.Errorf("%w: statement type %q", ErrNotReadOnly, typ)
	}
	return nil
}

func (s *BigQuerySource) DescribeTable(ctx context.Context, name string) (*TableInfo, error) {
	t, err := s.svc.Tables.Get(s.project, s.dataset, name).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
		}
		return nil, apiError(err)
	}
	info := &TableInfo{
		Name:      name,
		FullName:  s.FullName(name),
		RowCount:  int64(t.NumRows),
		SizeBytes: t.NumBytes,
	}
	if t.Schema != nil {
		for _, f := range t.Schema.Fields {
			info.Columns = append(info.Columns, models.Column{Name: f.Name, Type: f.Type})
		}
	}
	return info, nil
}

func (s *BigQuerySource) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	err := s.svc.Tables.List(s.project, s.dataset).Pages(ctx, func(page *bigquery.TableList) error {
		for _, t := range page.Tables {
			if t.TableReference != nil {
				names = append(names, t.TableReference.TableId)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apiError(err)
	}
	return names, nil
}

// apiError keeps the server's message, which the repair prompt relies on.
func apiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Message != "" {
		return fmt.Errorf("bigquery: %s", gerr.Message)
	}
	return err
}

func convertRows(schema *bigquery.TableSchema, rows []*bigquery.TableRow) *Rows {
	out := &Rows{}
	if schema == nil {
		return out
	}
	for _, f := range schema.Fields {
		out.Columns = append(out.Columns, f.Name)
	}
	for _, row := range rows {
		rec := make(map[string]any, len(schema.Fields))
		for i, f := range schema.Fields {
			if i >= len(row.F) {
				break
			}
			rec[f.Name] = convertCell(f.Type, row.F[i].V)
		}
		out.Records = append(out.Records, rec)
	}
	return out
}

func convertCell(typ string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch strings.ToUpper(typ) {
	case "INTEGER", "INT64":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case "FLOAT", "FLOAT64", "NUMERIC", "BIGNUMERIC":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case "BOOLEAN", "BOOL":
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case "TIMESTAMP":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			sec := int64(f)
			nsec := int64((f - float64(sec)) * 1e9)
			return time.Unix(sec, nsec).UTC().Format(time.RFC3339)
		}
	}
	return s
}
