// Package chart renders query rows as Plotly HTML documents, with a PNG
// bar chart and finally a JSON table as fallbacks.
package chart

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	TypeLine    = "line"
	TypeBar     = "bar"
	TypePie     = "pie"
	TypeScatter = "scatter"
	TypeTable   = "table"
	TypeImage   = "image"
	TypeNone    = "none"

	FormatHTML   = "html"
	FormatBase64 = "base64"
	FormatJSON   = "json"
)

var ErrUnknownChartType = errors.New("unknown chart type")

type Visualization struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
	Format  string `json:"format"`
	Error   string `json:"error,omitempty"`
}

// ValidType reports whether chartType can be requested explicitly. The empty
// string selects a type from the data.
func ValidType(chartType string) bool {
	switch chartType {
	case "", TypeLine, TypeBar, TypePie, TypeScatter, TypeTable, TypeImage, TypeNone:
		return true
	default:
		return false
	}
}

type Renderer struct {
	PlotlyURL string
}

func NewRenderer() *Renderer {
	return &Renderer{PlotlyURL: "https://cdn.plot.ly/plotly-2.35.2.min.js"}
}

// Render returns nil when there is nothing to draw. Rendering failures fall
// back to a PNG bar chart and then to a table carrying the error, so the
// only error returned is ErrUnknownChartType.
func (r *Renderer) Render(rows []map[string]any, question, chartType string) (*Visualization, error) {
	chartType = strings.ToLower(strings.TrimSpace(chartType))
	if !ValidType(chartType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChartType, chartType)
	}
	if len(rows) == 0 || chartType == TypeNone {
		return nil, nil
	}
	if chartType == "" {
		chartType = DetermineType(rows, question)
	}

	frame := newFrame(rows)
	var (
		content string
		err     error
	)
	switch chartType {
	case TypeTable:
		return tableVisualization(rows, ""), nil
	case TypeImage:
		content, err = renderPNG(frame)
		if err != nil {
			return tableVisualization(rows, err.Error()), nil
		}
		return &Visualization{Type: TypeImage, Content: content, Format: FormatBase64}, nil
	default:
		content, err = r.renderHTML(frame, chartType, question)
	}
	if err == nil {
		return &Visualization{Type: chartType, Content: content, Format: FormatHTML}, nil
	}

	image, imageErr := renderPNG(frame)
	if imageErr != nil {
		return tableVisualization(rows, err.Error()), nil
	}
	return &Visualization{Type: TypeImage, Content: image, Format: FormatBase64}, nil
}

// DetermineType picks a chart type from question keywords and the shape of
// the first row.
func DetermineType(rows []map[string]any, question string) string {
	if len(rows) == 0 {
		return TypeNone
	}
	q := strings.ToLower(question)
	hasDate := false
	hasNumeric := false
	for column, value := range rows[0] {
		if strings.Contains(strings.ToLower(column), "date") {
			hasDate = true
		}
		if _, ok := toFloat(value); ok {
			hasNumeric = true
		}
	}

	switch {
	case strings.Contains(q, "trend") || strings.Contains(q, "over time") || hasDate:
		return TypeLine
	case strings.Contains(q, "compare") || strings.Contains(q, "comparison"):
		return TypeBar
	case strings.Contains(q, "distribution") || strings.Contains(q, "breakdown"):
		return TypePie
	case strings.Contains(q, "correlation") || strings.Contains(q, "relationship"):
		return TypeScatter
	case len(rows) > 1 && hasNumeric:
		return TypeBar
	default:
		return TypeTable
	}
}

func tableVisualization(rows []map[string]any, errText string) *Visualization {
	return &Visualization{Type: TypeTable, Content: rows, Format: FormatJSON, Error: errText}
}

// frame is a column oriented view of the rows with a stable column order.
type frame struct {
	columns []string
	rows    []map[string]any
}

func newFrame(rows []map[string]any) frame {
	seen := map[string]bool{}
	var columns []string
	for _, row := range rows {
		for column := range row {
			if !seen[column] {
				seen[column] = true
				columns = append(columns, column)
			}
		}
	}
	sort.Strings(columns)
	return frame{columns: columns, rows: rows}
}

func (f frame) values(column string) []any {
	out := make([]any, len(f.rows))
	for i, row := range f.rows {
		out[i] = displayValue(row[column])
	}
	return out
}

func (f frame) floats(column string) []float64 {
	out := make([]float64, len(f.rows))
	for i, row := range f.rows {
		out[i], _ = toFloat(row[column])
	}
	return out
}

func (f frame) isNumeric(column string) bool {
	found := false
	for _, row := range f.rows {
		value := row[column]
		if value == nil {
			continue
		}
		if _, ok := toFloat(value); !ok {
			return false
		}
		found = true
	}
	return found
}

func (f frame) numericColumns() []string {
	var out []string
	for _, column := range f.columns {
		if f.isNumeric(column) {
			out = append(out, column)
		}
	}
	return out
}

// categoryColumn is the first non numeric column, or the first column.
func (f frame) categoryColumn() string {
	for _, column := range f.columns {
		if !f.isNumeric(column) {
			return column
		}
	}
	return f.columns[0]
}

// dateColumn is the first column whose name mentions a date, or the first
// column.
func (f frame) dateColumn() string {
	for _, column := range f.columns {
		if strings.Contains(strings.ToLower(column), "date") {
			return column
		}
	}
	return f.columns[0]
}

// valueColumn is the first numeric column other than exclude.
func (f frame) valueColumn(exclude string) (string, error) {
	for _, column := range f.numericColumns() {
		if column != exclude {
			return column, nil
		}
	}
	return "", errors.New("no numeric column to plot")
}

func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int8:
		return float64(typed), true
	case int16:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint8:
		return float64(typed), true
	case uint16:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	default:
		return 0, false
	}
}

func displayValue(value any) any {
	switch typed := value.(type) {
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format(time.DateOnly)
		}
		return typed.Format(time.RFC3339)
	default:
		return value
	}
}

func titleCase(column string) string {
	words := strings.Fields(strings.ReplaceAll(column, "_", " "))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
