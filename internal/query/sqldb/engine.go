package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/askmesh/askmesh/internal/query"
)

// Engine runs statements against any database/sql handle. Dialect selects
// the catalog queries used by Describe.
type Engine struct {
	db      *sql.DB
	dialect string
}

func NewEngine(db *sql.DB, dialect string) *Engine {
	return &Engine{db: db, dialect: dialect}
}

func (e *Engine) DB() *sql.DB {
	return e.db
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := query.StripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	columns, rows, err := e.queryRows(ctx, sqlText)
	if err != nil {
		return query.Result{}, classify(ctx, request.SQL, err)
	}
	return query.Result{
		Columns:  columns,
		Rows:     rows,
		Duration: time.Since(start),
	}, nil
}

// Describe lists user tables and views with their columns and up to
// sampleRows rows each.
func (e *Engine) Describe(ctx context.Context, sampleRows int) ([]query.Table, error) {
	names, err := e.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	tables := make([]query.Table, 0, len(names))
	for _, name := range names {
		columns, err := e.tableColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		table := query.Table{Name: name, Columns: columns, SampleRows: [][]any{}}
		if sampleRows > 0 {
			_, rows, err := e.queryRows(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", QuoteIdent(name), sampleRows))
			if err != nil {
				return nil, fmt.Errorf("sample table %q: %w", name, err)
			}
			table.SampleRows = rows
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (e *Engine) tableNames(ctx context.Context) ([]string, error) {
	var statement string
	switch e.dialect {
	case "sqlite":
		statement = `SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`
	case "postgres":
		statement = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name`
	default:
		statement = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name`
	}
	rows, err := e.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}

func (e *Engine) tableColumns(ctx context.Context, table string) ([]query.Column, error) {
	var (
		statement string
		args      []any
	)
	switch e.dialect {
	case "sqlite":
		statement = `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`
		args = []any{table}
	case "postgres":
		statement = `SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position`
		args = []any{table}
	default:
		statement = `SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' AND table_name = ? ORDER BY ordinal_position`
		args = []any{table}
	}
	rows, err := e.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("list columns for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]query.Column, 0)
	for rows.Next() {
		var column query.Column
		if err := rows.Scan(&column.Name, &column.Type); err != nil {
			return nil, fmt.Errorf("scan column for %q: %w", table, err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns for %q: %w", table, err)
	}
	return columns, nil
}

func (e *Engine) queryRows(ctx context.Context, sqlText string) ([]string, [][]any, error) {
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, resultRows, nil
}

// classify separates statement failures, which users see as text, from
// cancellation and connection failures.
func classify(ctx context.Context, sqlText string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("execute query: %w", ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("execute query: %w", err)
	}
	return &query.ExecutionError{SQL: sqlText, Err: err}
}

type float64er interface {
	Float64() float64
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case *big.Int:
			if typed != nil && typed.IsInt64() {
				normalized[i] = typed.Int64()
			} else if typed != nil {
				normalized[i], _ = new(big.Float).SetInt(typed).Float64()
			}
		case float64er:
			normalized[i] = typed.Float64()
		default:
			normalized[i] = typed
		}
		normalized[i] = query.JSONValue(normalized[i])
	}
	return normalized
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
