package nl2sql

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable is returned by translators that are not configured.
var ErrUnavailable = errors.New("sql translation is not configured")

type TableContext struct {
	TableName  string   `json:"table_name"`
	Columns    []string `json:"columns"`
	SampleRows [][]any  `json:"sample_rows,omitempty"`
}

type Request struct {
	Question string         `json:"question"`
	Tables   []TableContext `json:"tables,omitempty"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Translator turns a natural language question into one SQL statement.
// Implementations report every failure as an error and never return an
// error message in place of SQL.
type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// CleanSQL removes markdown code fences wherever they appear in the model
// output and trims surrounding whitespace.
func CleanSQL(value string) string {
	cleaned := strings.ReplaceAll(value, "```sql", "")
	cleaned = strings.ReplaceAll(cleaned, "```SQL", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

type unavailableTranslator struct{}

// Unavailable returns a Translator that always fails with ErrUnavailable.
func Unavailable() Translator {
	return unavailableTranslator{}
}

func (unavailableTranslator) Translate(context.Context, Request) (Result, error) {
	return Result{}, ErrUnavailable
}

func finish(raw, provider, model string) (Result, error) {
	sql := CleanSQL(raw)
	if sql == "" {
		return Result{}, errors.New("model returned empty SQL")
	}
	return Result{SQL: sql, Provider: provider, Model: model}, nil
}
