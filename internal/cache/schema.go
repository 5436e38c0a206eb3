// Package cache holds the process-wide schema/sample cache and the
// query-result cache. Both are constructed once and injected.
package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/insight-orchestrator/internal/datasource"
	"github.com/example/insight-orchestrator/internal/metrics"
	"github.com/example/insight-orchestrator/internal/models"
)

// Snapshot is the explored schema. It is never mutated after it is stored.
type Snapshot struct {
	Tables        []models.SchemaCacheEntry `json:"tables"`
	Relationships []string                  `json:"relationships,omitempty"`
	CommonQueries []string                  `json:"common_queries,omitempty"`
	ExploredAt    time.Time                 `json:"explored_at"`
}

func (s *Snapshot) TableNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.TableName)
	}
	return names
}

// FirstTable returns the fully qualified name of the first table, or "".
func (s *Snapshot) FirstTable() string {
	if s == nil || len(s.Tables) == 0 {
		return ""
	}
	return s.Tables[0].FullyQualifiedName
}

// Describe renders the schema as prompt text, one table per line.
func (s *Snapshot) Describe() string {
	if s == nil || len(s.Tables) == 0 {
		return "(schema unavailable)"
	}
	var b strings.Builder
	for _, t := range s.Tables {
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			if c.Type != "" {
				cols = append(cols, c.Name+" "+c.Type)
			} else {
				cols = append(cols, c.Name)
			}
		}
		fmt.Fprintf(&b, "- %s (%s)", t.FullyQualifiedName, strings.Join(cols, ", "))
		if t.Description != "" {
			fmt.Fprintf(&b, ": %s", t.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

type SchemaOptions struct {
	// Tables restricts exploration; empty explores every table.
	Tables        []string
	Relationships []string
	Descriptions  map[string]string
	CommonQueries []string
	SampleRows    int
	Logger        *zap.Logger

	// PopulateTimeout bounds one shared population; defaults to two minutes.
	PopulateTimeout time.Duration
}

type SchemaStats struct {
	Populated      bool  `json:"populated"`
	Tables         int   `json:"tables"`
	Explorations   int64 `json:"explorations"`
	FetchCalls     int64 `json:"fetch_calls"`
	Hits           int64 `json:"hits"`
	SamplesFetched bool  `json:"samples_fetched"`
}

// SchemaCache populates the schema snapshot and data samples at most once
// until Reset. Concurrent cold callers share a single population.
type SchemaCache struct {
	opts   SchemaOptions
	logger *zap.Logger
	group  singleflight.Group

	mu         sync.RWMutex
	snapshot   *Snapshot
	samples    map[string]models.DataSample
	sampled    bool
	generation uint64

	explorations atomic.Int64
	fetchCalls   atomic.Int64
	hits         atomic.Int64
}

func NewSchemaCache(opts SchemaOptions) *SchemaCache {
	if opts.SampleRows <= 0 {
		opts.SampleRows = 3
	}
	if opts.PopulateTimeout <= 0 {
		opts.PopulateTimeout = 2 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaCache{opts: opts, logger: logger}
}

// Cached returns the stored snapshot without touching the data source.
func (c *SchemaCache) Cached() (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, c.snapshot != nil
}

// Explore returns the cached snapshot, populating it from src on first use.
// A failed population is not stored.
func (c *SchemaCache) Explore(ctx context.Context, src datasource.Source) (*Snapshot, error) {
	if snap, ok := c.Cached(); ok {
		c.hits.Add(1)
		metrics.CacheRequestsTotal.WithLabelValues("schema", "hit").Inc()
		return snap, nil
	}
	metrics.CacheRequestsTotal.WithLabelValues("schema", "miss").Inc()

	v, err := c.shared(ctx, "schema", func(ctx context.Context) (any, error) {
		if snap, ok := c.Cached(); ok {
			return snap, nil
		}
		c.mu.RLock()
		gen := c.generation
		c.mu.RUnlock()

		snap, err := c.explore(ctx, src)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.snapshot = snap
		}
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *SchemaCache) explore(ctx context.Context, src datasource.Source) (*Snapshot, error) {
	c.explorations.Add(1)
	names := c.opts.Tables
	if len(names) == 0 {
		c.fetchCalls.Add(1)
		metrics.SchemaFetchesTotal.WithLabelValues("list_tables").Inc()
		listed, err := src.ListTables(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		names = listed
	}

	snap := &Snapshot{
		Relationships: append([]string(nil), c.opts.Relationships...),
		CommonQueries: append([]string(nil), c.opts.CommonQueries...),
		ExploredAt:    time.Now().UTC(),
	}
	for _, name := range names {
		c.fetchCalls.Add(1)
		metrics.SchemaFetchesTotal.WithLabelValues("describe_table").Inc()
		info, err := src.DescribeTable(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("describe table failed", zap.String("table", name), zap.Error(err))
			continue
		}
		snap.Tables = append(snap.Tables, models.SchemaCacheEntry{
			TableName:          info.Name,
			FullyQualifiedName: info.FullName,
			Columns:            info.Columns,
			Relationships:      relationshipsFor(info.Name, c.opts.Relationships),
			Description:        c.opts.Descriptions[info.Name],
			RowCount:           info.RowCount,
			SizeBytes:          info.SizeBytes,
		})
	}
	c.logger.Info("schema explored", zap.Int("tables", len(snap.Tables)))
	return snap, nil
}

// Samples returns up to SampleRows rows per table with inferred column
// types. Rows are fetched at most once until Reset; per-table failures are
// skipped.
func (c *SchemaCache) Samples(ctx context.Context, src datasource.Source) (map[string]models.DataSample, error) {
	c.mu.RLock()
	if c.sampled {
		samples := c.samples
		c.mu.RUnlock()
		metrics.CacheRequestsTotal.WithLabelValues("samples", "hit").Inc()
		return samples, nil
	}
	c.mu.RUnlock()
	metrics.CacheRequestsTotal.WithLabelValues("samples", "miss").Inc()

	snap, err := c.Explore(ctx, src)
	if err != nil {
		return nil, err
	}
	v, err := c.shared(ctx, "samples", func(ctx context.Context) (any, error) {
		c.mu.RLock()
		if c.sampled {
			samples := c.samples
			c.mu.RUnlock()
			return samples, nil
		}
		gen := c.generation
		c.mu.RUnlock()

		samples := make(map[string]models.DataSample, len(snap.Tables))
		for _, t := range snap.Tables {
			c.fetchCalls.Add(1)
			metrics.SchemaFetchesTotal.WithLabelValues("sample").Inc()
			rows, err := src.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", t.FullyQualifiedName, c.opts.SampleRows))
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				c.logger.Warn("sample failed", zap.String("table", t.TableName), zap.Error(err))
				continue
			}
			recs := rows.Records
			if len(recs) > c.opts.SampleRows {
				recs = recs[:c.opts.SampleRows]
			}
			samples[t.TableName] = models.DataSample{
				TableName:     t.TableName,
				Rows:          recs,
				InferredTypes: InferTypes(recs),
			}
		}
		c.mu.Lock()
		if c.generation == gen {
			c.samples = samples
			c.sampled = true
		}
		c.mu.Unlock()
		return samples, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]models.DataSample), nil
}

// CachedSamples returns the stored samples without touching the data source.
func (c *SchemaCache) CachedSamples() (map[string]models.DataSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.samples, c.sampled
}

// shared runs fn once for every concurrent caller of key. fn is detached
// from the cancellation of whichever caller started it and bounded by
// PopulateTimeout instead; each caller still stops waiting when its own ctx
// ends.
func (c *SchemaCache) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.PopulateTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

// Reset drops the snapshot and samples; the next Explore repopulates.
func (c *SchemaCache) Reset() {
	c.mu.Lock()
	c.snapshot = nil
	c.samples = nil
	c.sampled = false
	c.generation++
	c.mu.Unlock()
	c.logger.Info("schema cache reset")
}

func (c *SchemaCache) Stats() SchemaStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := SchemaStats{
		Populated:      c.snapshot != nil,
		Explorations:   c.explorations.Load(),
		FetchCalls:     c.fetchCalls.Load(),
		Hits:           c.hits.Load(),
		SamplesFetched: c.sampled,
	}
	if c.snapshot != nil {
		st.Tables = len(c.snapshot.Tables)
	}
	return st
}

// InferTypes guesses column types from the first sample row.
func InferTypes(rows []map[string]any) map[string]string {
	types := map[string]string{}
	if len(rows) == 0 {
		return types
	}
	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := rows[0][k].(type) {
		case nil:
			types[k] = "NULLABLE"
		case bool:
			types[k] = "BOOLEAN"
		case int, int32, int64, uint, uint32, uint64:
			types[k] = "INTEGER"
		case float32, float64:
			types[k] = "FLOAT"
		case string, time.Time:
			lk := strings.ToLower(k)
			if _, isTime := v.(time.Time); isTime || strings.Contains(lk, "date") || strings.Contains(lk, "time") || strings.Contains(lk, "created") {
				types[k] = "TIMESTAMP/DATE"
			} else {
				types[k] = "STRING"
			}
		default:
			types[k] = fmt.Sprintf("%T", v)
		}
	}
	return types
}

func relationshipsFor(table string, all []string) []string {
	var out []string
	prefix := table + "."
	for _, r := range all {
		if strings.Contains(r, prefix) {
			out = append(out, r)
		}
	}
	return out
}
