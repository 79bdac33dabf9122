package query

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestRecordsPreservesRowOrder(t *testing.T) {
	result := Result{
		Columns: []string{"item_id", "total_sales"},
		Rows:    [][]any{{int64(1), 10.5}, {int64(2), 7.25}},
	}
	records := result.Records()
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0]["item_id"] != int64(1) || records[1]["total_sales"] != 7.25 {
		t.Fatalf("records = %#v", records)
	}
	if got := (Result{Columns: []string{"a"}}).Records(); got == nil || len(got) != 0 {
		t.Fatalf("empty Records() = %#v, want non-nil empty slice", got)
	}
}

func TestRecordsReplaceNonFiniteFloats(t *testing.T) {
	result := Result{
		Columns: []string{"inf", "nan", "small", "ok"},
		Rows:    [][]any{{math.Inf(1), math.NaN(), float32(math.Inf(-1)), 1.5}},
	}
	records := result.Records()
	if records[0]["inf"] != nil || records[0]["nan"] != nil || records[0]["small"] != nil {
		t.Fatalf("records = %#v", records)
	}
	if records[0]["ok"] != 1.5 {
		t.Fatalf("ok = %#v", records[0]["ok"])
	}
	if _, err := json.Marshal(records); err != nil {
		t.Fatalf("json.Marshal(records) error = %v", err)
	}
}

func TestValidateReadOnly(t *testing.T) {
	allowed := []string{
		"SELECT 1",
		"  select created_at, updated_by from t;  ",
		"WITH x AS (SELECT 1) SELECT * FROM x",
	}
	for _, sqlText := range allowed {
		if err := ValidateReadOnly(sqlText); err != nil {
			t.Fatalf("ValidateReadOnly(%q) error = %v", sqlText, err)
		}
	}

	rejected := []string{
		"",
		"DROP TABLE t",
		"SELECT 1; DELETE FROM t",
		"WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d",
		"INSERT INTO t VALUES (1)",
		"SELECT * FROM t; ATTACH 'x.db'",
	}
	for _, sqlText := range rejected {
		if err := ValidateReadOnly(sqlText); err == nil {
			t.Fatalf("ValidateReadOnly(%q) expected error", sqlText)
		}
	}
}

type recordingEngine struct {
	calls int
}

func (e *recordingEngine) Execute(context.Context, Request) (Result, error) {
	e.calls++
	return Result{Columns: []string{"c"}, Rows: [][]any{{int64(1)}}}, nil
}

func TestReadOnlyEngineBlocksMutations(t *testing.T) {
	inner := &recordingEngine{}
	engine := ReadOnly(inner)

	_, err := engine.Execute(context.Background(), Request{SQL: "DELETE FROM ad_sales_metrics"})
	if !IsExecutionError(err) {
		t.Fatalf("Execute() error = %v, want *ExecutionError", err)
	}
	if !errors.Is(err, ErrNotReadOnly) {
		t.Fatalf("Execute() error = %v, want ErrNotReadOnly", err)
	}
	if inner.calls != 0 {
		t.Fatalf("inner engine called %d times", inner.calls)
	}

	if _, err := engine.Execute(context.Background(), Request{SQL: "SELECT 1;"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("inner engine calls = %d", inner.calls)
	}
}

func TestStripTrailingSemicolons(t *testing.T) {
	if got := StripTrailingSemicolons(" SELECT 1 ; ;"); got != "SELECT 1" {
		t.Fatalf("StripTrailingSemicolons() = %q", got)
	}
}
