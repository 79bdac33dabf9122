package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/askmesh/askmesh/internal/query"
)

func TestExecuteWrapsRowLimitAndNormalizesValues(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(db, "duckdb")

	mock.ExpectQuery(`SELECT \* FROM \(SELECT item_id, name FROM items\) AS q LIMIT 10`).
		WillReturnRows(sqlmock.NewRows([]string{"item_id", "name"}).
			AddRow(int64(1), []byte("widget")).
			AddRow(int64(2), []byte("gadget")))

	result, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT item_id, name FROM items;", RowLimit: 10})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[1] != "name" {
		t.Fatalf("columns = %#v", result.Columns)
	}
	if len(result.Rows) != 2 || result.Rows[0][1] != "widget" || result.Rows[1][0] != int64(2) {
		t.Fatalf("rows = %#v", result.Rows)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReplacesNonFiniteFloats(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(db, "postgres")

	mock.ExpectQuery(`^SELECT x, y FROM ratios$`).
		WillReturnRows(sqlmock.NewRows([]string{"x", "y"}).AddRow(math.Inf(1), math.NaN()).AddRow(2.5, 0.0))

	result, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT x, y FROM ratios"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Rows[0][0] != nil || result.Rows[0][1] != nil {
		t.Fatalf("first row = %#v, want nils", result.Rows[0])
	}
	if result.Rows[1][0] != 2.5 {
		t.Fatalf("second row = %#v", result.Rows[1])
	}
	assertSQLMock(t, mock)
}

func TestExecuteWithoutRowLimitRunsStatementVerbatim(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(db, "sqlite")

	mock.ExpectQuery(`^SELECT 1$`).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))

	result, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT 1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %#v", result.Rows)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReportsStatementFailuresAsExecutionError(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(db, "duckdb")

	mock.ExpectQuery(`SELECT nope FROM items`).WillReturnError(errors.New(`Binder Error: Referenced column "nope" not found`))

	_, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT nope FROM items"})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want *query.ExecutionError", err)
	}
	if execErr.SQL != "SELECT nope FROM items" {
		t.Fatalf("ExecutionError.SQL = %q", execErr.SQL)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReportsRowErrorsAsExecutionError(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(db, "duckdb")

	mock.ExpectQuery(`SELECT 1 / 0`).WillReturnRows(
		sqlmock.NewRows([]string{"x"}).AddRow(int64(1)).RowError(0, errors.New("Conversion Error")))

	_, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT 1 / 0"})
	if !query.IsExecutionError(err) {
		t.Fatalf("Execute() error = %v, want *query.ExecutionError", err)
	}
}

func TestExecuteConnectionFailureIsNotExecutionError(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(db, "postgres")

	mock.ExpectQuery(`SELECT 1`).WillReturnError(sql.ErrConnDone)

	_, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT 1"})
	if err == nil || query.IsExecutionError(err) {
		t.Fatalf("Execute() error = %v, want plain engine failure", err)
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("Execute() error = %v, want wrapped sql.ErrConnDone", err)
	}
}

func TestExecuteCancelledContextIsNotExecutionError(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(db, "duckdb")

	mock.ExpectQuery(`SELECT 1`).WillReturnError(driver.ErrBadConn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Execute(ctx, query.Request{SQL: "SELECT 1"})
	if err == nil || query.IsExecutionError(err) {
		t.Fatalf("Execute() error = %v, want cancellation", err)
	}
}

func TestExecuteRequiresSQL(t *testing.T) {
	db, _ := newSQLMock(t)
	if _, err := NewEngine(db, "duckdb").Execute(context.Background(), query.Request{SQL: " ; "}); err == nil {
		t.Fatal("expected error for empty SQL")
	}
}

func TestDescribeDuckDB(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(db, "duckdb")

	mock.ExpectQuery(`SELECT table_name FROM information_schema.tables WHERE table_schema = 'main'`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("total_sales_metrics"))
	mock.ExpectQuery(`SELECT column_name, data_type FROM information_schema.columns`).
		WithArgs("total_sales_metrics").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("date", "DATE").
			AddRow("total_sales", "DOUBLE"))
	mock.ExpectQuery(`SELECT \* FROM "total_sales_metrics" LIMIT 3`).
		WillReturnRows(sqlmock.NewRows([]string{"date", "total_sales"}).AddRow("2025-01-01", 12.5))

	tables, err := engine.Describe(context.Background(), 3)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "total_sales_metrics" {
		t.Fatalf("tables = %#v", tables)
	}
	if len(tables[0].Columns) != 2 || tables[0].Columns[1] != (query.Column{Name: "total_sales", Type: "DOUBLE"}) {
		t.Fatalf("columns = %#v", tables[0].Columns)
	}
	if len(tables[0].SampleRows) != 1 || tables[0].SampleRows[0][1] != 12.5 {
		t.Fatalf("sample rows = %#v", tables[0].SampleRows)
	}
	assertSQLMock(t, mock)
}

func TestDescribeSQLiteWithoutSamples(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(db, "sqlite")

	mock.ExpectQuery(`SELECT name FROM sqlite_master`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("eligibility_table"))
	mock.ExpectQuery(`SELECT name, type FROM pragma_table_info\(\?\)`).
		WithArgs("eligibility_table").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type"}).AddRow("item_id", "INTEGER"))

	tables, err := engine.Describe(context.Background(), 0)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if len(tables) != 1 || len(tables[0].SampleRows) != 0 {
		t.Fatalf("tables = %#v", tables)
	}
	assertSQLMock(t, mock)
}

func TestDescribePostgresUsesPublicSchema(t *testing.T) {
	db, mock := newSQLMock(t)
	engine := NewEngine(db, "postgres")

	mock.ExpectQuery(`table_schema = 'public'`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}))

	tables, err := engine.Describe(context.Background(), 3)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if len(tables) != 0 {
		t.Fatalf("tables = %#v", tables)
	}
	assertSQLMock(t, mock)
}

func TestNormalizeValues(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 80)
	got := normalizeValues([]any{[]byte("a"), big.NewInt(42), huge, decimal(2.5), nil})
	if got[0] != "a" || got[1] != int64(42) || got[3] != 2.5 || got[4] != nil {
		t.Fatalf("normalizeValues() = %#v", got)
	}
	if _, ok := got[2].(float64); !ok {
		t.Fatalf("huge int normalized to %T, want float64", got[2])
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	if _, err := Open(context.Background(), Config{Driver: "postgres"}); err == nil {
		t.Fatal("expected missing DSN error")
	}
}

func TestOpenSQLiteInMemory(t *testing.T) {
	db, err := Open(context.Background(), Config{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(`CREATE TABLE total_sales_metrics (item_id INTEGER, total_sales REAL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO total_sales_metrics VALUES (1, 10.5), (2, 4.5)`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	engine := NewEngine(db, "sqlite")
	result, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT SUM(total_sales) AS total FROM total_sales_metrics", RowLimit: 100})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Rows[0][0] != 15.0 {
		t.Fatalf("total = %#v", result.Rows[0][0])
	}

	tables, err := engine.Describe(context.Background(), 1)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if len(tables) != 1 || len(tables[0].Columns) != 2 || len(tables[0].SampleRows) != 1 {
		t.Fatalf("tables = %#v", tables)
	}

	_, err = engine.Execute(context.Background(), query.Request{SQL: "SELECT missing FROM total_sales_metrics"})
	if !query.IsExecutionError(err) {
		t.Fatalf("Execute() error = %v, want *query.ExecutionError", err)
	}
}

type decimal float64

func (d decimal) Float64() float64 { return float64(d) }

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
