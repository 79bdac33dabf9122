package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Records returns the rows as column name to value maps, in row order.
func (r Result) Records() []map[string]any {
	records := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				record[column] = JSONValue(row[i])
			}
		}
		records = append(records, record)
	}
	return records
}

// JSONValue maps NaN and infinite floats to nil, which JSON cannot
// represent. Other values are returned unchanged.
func JSONValue(value any) any {
	switch typed := value.(type) {
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(typed)) || math.IsInf(float64(typed), 0) {
			return nil
		}
	}
	return value
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	SampleRows [][]any  `json:"sample_rows"`
}

// Describer lists the tables an engine can query.
type Describer interface {
	Describe(ctx context.Context, sampleRows int) ([]Table, error)
}

// ExecutionError reports that the database rejected or failed a statement.
// Callers surface it to users as text; any other engine error means the
// engine itself is unavailable.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func IsExecutionError(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr)
}

var ErrNotReadOnly = errors.New("only read-only SELECT or WITH statements are allowed")

var mutatingKeywords = []string{"DROP", "DELETE", "INSERT", "UPDATE", "ALTER", "CREATE", "ATTACH", "COPY", "PRAGMA", "TRUNCATE", "GRANT"}

// ValidateReadOnly accepts a single SELECT or WITH statement that does not
// mention a mutating keyword as a standalone word.
func ValidateReadOnly(sqlText string) error {
	trimmed := StripTrailingSemicolons(sqlText)
	if trimmed == "" {
		return fmt.Errorf("sql is required")
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ErrNotReadOnly
	}
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	words := strings.FieldsFunc(upper, func(r rune) bool {
		return !(r == '_' || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
	for _, word := range words {
		for _, keyword := range mutatingKeywords {
			if word == keyword {
				return fmt.Errorf("%w: found %s", ErrNotReadOnly, keyword)
			}
		}
	}
	return nil
}

func StripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

type readOnlyEngine struct {
	next Engine
}

// ReadOnly wraps next so statements failing ValidateReadOnly are reported
// as *ExecutionError without reaching the database.
func ReadOnly(next Engine) Engine {
	return readOnlyEngine{next: next}
}

func (e readOnlyEngine) Execute(ctx context.Context, request Request) (Result, error) {
	if err := ValidateReadOnly(request.SQL); err != nil {
		return Result{}, &ExecutionError{SQL: request.SQL, Err: err}
	}
	return e.next.Execute(ctx, request)
}
