package datasource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/example/insight-orchestrator/internal/models"
)

// SQLiteSource serves queries from a local sqlite database.
type SQLiteSource struct {
	db   *sql.DB
	path string
}

func OpenSQLite(path string) (*SQLiteSource, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &SQLiteSource{db: db, path: path}, nil
}

// OpenSQLiteMemory opens a private in-memory database.
func OpenSQLiteMemory() (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	// Every pooled connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)
	return &SQLiteSource{db: db, path: ":memory:"}, nil
}

func (s *SQLiteSource) Close() error { return s.db.Close() }

// Exec runs a statement that returns no rows, e.g. seeding a fixture.
func (s *SQLiteSource) Exec(ctx context.Context, stmt string, args ...any) error {
	_, err := s.db.ExecContext(ctx, stmt, args...)
	return err
}

// Query runs query on a connection switched to query_only, so statements
// that would write fail inside sqlite whatever their text looks like.
func (s *SQLiteSource) Query(ctx context.Context, query string) (*Rows, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, fmt.Errorf("enabling query_only: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF"); err != nil {
			// Drop the connection rather than return a read-only one to the pool.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}()
	return scanRows(ctx, conn, query)
}

func scanRows(ctx context.Context, conn *sql.Conn, query string) (*Rows, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &Rows{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			rec[c] = normalize(vals[i])
		}
		out.Records = append(out.Records, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteSource) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLiteSource) DescribeTable(ctx context.Context, name string) (*TableInfo, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(name)+")")
	if err != nil {
		return nil, err
	}
	info := &TableInfo{Name: name, FullName: name}
	for rows.Next() {
		var (
			cid     int
			col     string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, err
		}
		info.Columns = append(info.Columns, models.Column{Name: col, Type: strings.ToUpper(typ)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(name)).Scan(&info.RowCount); err != nil {
		return nil, err
	}
	// dbstat is optional in sqlite builds; size stays 0 without it.
	var size sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT SUM(pgsize) FROM dbstat WHERE name = ?", name).Scan(&size); err == nil {
		info.SizeBytes = size.Int64
	}
	return info, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
