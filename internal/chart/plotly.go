package chart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
)

var plotlyTemplate = template.Must(template.New("plotly").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="{{.PlotlyURL}}"></script>
</head>
<body>
<div id="chart" style="width:100%;height:100%;"></div>
<script>
Plotly.newPlot("chart", JSON.parse({{.Traces}}), JSON.parse({{.Layout}}), {responsive: true});
</script>
</body>
</html>
`))

type plotlyDocument struct {
	Title     string
	PlotlyURL string
	Traces    string
	Layout    string
}

func (r *Renderer) renderHTML(f frame, chartType, question string) (string, error) {
	var (
		traces []map[string]any
		layout = map[string]any{"template": "plotly_white"}
		title  string
		err    error
	)
	switch chartType {
	case TypeLine:
		title = "Analysis: " + question
		traces, err = lineTraces(f, layout)
	case TypeBar:
		title = "Analysis: " + question
		traces, err = barTraces(f, layout)
	case TypePie:
		title = "Distribution: " + question
		traces, err = pieTraces(f)
	case TypeScatter:
		title = "Correlation: " + question
		traces, err = scatterTraces(f, layout)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChartType, chartType)
	}
	if err != nil {
		return "", fmt.Errorf("render %s chart: %w", chartType, err)
	}
	layout["title"] = map[string]any{"text": title}

	tracesJSON, err := json.Marshal(traces)
	if err != nil {
		return "", fmt.Errorf("marshal traces: %w", err)
	}
	layoutJSON, err := json.Marshal(layout)
	if err != nil {
		return "", fmt.Errorf("marshal layout: %w", err)
	}

	var buf bytes.Buffer
	if err := plotlyTemplate.Execute(&buf, plotlyDocument{
		Title:     title,
		PlotlyURL: r.PlotlyURL,
		Traces:    string(tracesJSON),
		Layout:    string(layoutJSON),
	}); err != nil {
		return "", fmt.Errorf("execute plotly template: %w", err)
	}
	return buf.String(), nil
}

func lineTraces(f frame, layout map[string]any) ([]map[string]any, error) {
	x := f.dateColumn()
	var traces []map[string]any
	for _, column := range f.numericColumns() {
		if column == x {
			continue
		}
		traces = append(traces, map[string]any{
			"type": "scatter",
			"mode": "lines+markers",
			"name": titleCase(column),
			"x":    f.values(x),
			"y":    f.floats(column),
			"line": map[string]any{"width": 2},
		})
	}
	if len(traces) == 0 {
		return nil, fmt.Errorf("no numeric column to plot against %q", x)
	}
	layout["xaxis"] = map[string]any{"title": map[string]any{"text": titleCase(x)}}
	layout["yaxis"] = map[string]any{"title": map[string]any{"text": "Value"}}
	layout["hovermode"] = "x unified"
	return traces, nil
}

func barTraces(f frame, layout map[string]any) ([]map[string]any, error) {
	x := f.categoryColumn()
	y, err := f.valueColumn(x)
	if err != nil {
		return nil, err
	}
	values := f.floats(y)
	layout["xaxis"] = map[string]any{"title": map[string]any{"text": titleCase(x)}}
	layout["yaxis"] = map[string]any{"title": map[string]any{"text": titleCase(y)}}
	return []map[string]any{{
		"type": "bar",
		"name": titleCase(y),
		"x":    f.values(x),
		"y":    values,
		"marker": map[string]any{
			"color":      values,
			"colorscale": "Viridis",
			"showscale":  true,
		},
	}}, nil
}

func pieTraces(f frame) ([]map[string]any, error) {
	labels := f.categoryColumn()
	values, err := f.valueColumn(labels)
	if err != nil {
		return nil, err
	}
	for _, value := range f.floats(values) {
		if value < 0 {
			return nil, fmt.Errorf("pie chart values must not be negative")
		}
	}
	return []map[string]any{{
		"type":   "pie",
		"labels": f.values(labels),
		"values": f.floats(values),
	}}, nil
}

// scatterTraces plots the first two numeric columns with a least squares
// trend line.
func scatterTraces(f frame, layout map[string]any) ([]map[string]any, error) {
	numeric := f.numericColumns()
	if len(numeric) < 2 {
		return nil, fmt.Errorf("scatter needs two numeric columns, found %d", len(numeric))
	}
	xs, ys := f.floats(numeric[0]), f.floats(numeric[1])
	traces := []map[string]any{{
		"type": "scatter",
		"mode": "markers",
		"name": titleCase(numeric[1]),
		"x":    xs,
		"y":    ys,
	}}
	if slope, intercept, ok := leastSquares(xs, ys); ok {
		minX, maxX := xs[0], xs[0]
		for _, x := range xs {
			minX = min(minX, x)
			maxX = max(maxX, x)
		}
		traces = append(traces, map[string]any{
			"type": "scatter",
			"mode": "lines",
			"name": "Trend",
			"x":    []float64{minX, maxX},
			"y":    []float64{slope*minX + intercept, slope*maxX + intercept},
		})
	}
	layout["xaxis"] = map[string]any{"title": map[string]any{"text": titleCase(numeric[0])}}
	layout["yaxis"] = map[string]any{"title": map[string]any{"text": titleCase(numeric[1])}}
	return traces, nil
}

func leastSquares(xs, ys []float64) (float64, float64, bool) {
	n := float64(len(xs))
	if n < 2 {
		return 0, 0, false
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denominator := n*sumXX - sumX*sumX
	if denominator == 0 {
		return 0, 0, false
	}
	slope := (n*sumXY - sumX*sumY) / denominator
	return slope, (sumY - slope*sumX) / n, true
}
