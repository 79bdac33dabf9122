package askmeshctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askmeshctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8000"), "askmesh API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")
	chartType := fs.String("chart", "", "chart type for ask/stream: line|bar|pie|scatter|table|none")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	base := strings.TrimRight(*baseURL, "/")

	command := strings.TrimSpace(fs.Arg(0))
	question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	var (
		method string
		path   string
		body   []byte
	)
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "schema":
		method, path = http.MethodGet, "/v1/schema"
	case "connections":
		method, path = http.MethodGet, "/v1/connections"
	case "ask", "stream":
		if question == "" {
			_, _ = fmt.Fprintf(stderr, "%s requires a question\n", command)
			return 2
		}
		payload := map[string]any{"question": question}
		if *chartType != "" {
			payload["chart_type"] = *chartType
		}
		body, _ = json.Marshal(payload)
		method, path = http.MethodPost, "/v1/ask"
		if command == "stream" {
			return runStream(ctx, client, base+"/v1/ask/stream", *apiKey, body, stdout, stderr)
		}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	code, responseBody, err := doRequest(ctx, client, method, base+path, *apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func newRequest(ctx context.Context, method, endpoint, apiKey string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	return req, nil
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, body []byte) (int, []byte, error) {
	req, err := newRequest(ctx, method, endpoint, apiKey, body)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

// runStream prints one line per server-sent envelope as it arrives and
// fails when the stream ends with an error envelope.
func runStream(ctx context.Context, client *http.Client, endpoint, apiKey string, body []byte, stdout, stderr io.Writer) int {
	req, err := newRequest(ctx, http.MethodPost, endpoint, apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := client.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		responseBody, _ := io.ReadAll(resp.Body)
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(responseBody)))
		return 1
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	exit := 0
	for scanner.Scan() {
		payload, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var envelope struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
			_, _ = fmt.Fprintf(stderr, "invalid event: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(stdout, describeEvent(envelope.Event, envelope.Data))
		if envelope.Event == "error" {
			exit = 1
		}
	}
	if err := scanner.Err(); err != nil {
		_, _ = fmt.Fprintf(stderr, "read stream: %v\n", err)
		return 1
	}
	return exit
}

func describeEvent(event string, data map[string]any) string {
	switch event {
	case "sql_chunk", "answer_chunk":
		return fmt.Sprintf("%-26s %q", event, data["chunk"])
	case "response_complete":
		answer, _ := json.Marshal(data["answer"])
		return fmt.Sprintf("%-26s sql=%v answer=%s", event, data["sql_query"], answer)
	case "error":
		return fmt.Sprintf("%-26s stage=%v error=%v", event, data["stage"], data["error"])
	default:
		if message, ok := data["message"]; ok {
			return fmt.Sprintf("%-26s %v (%v%%)", event, message, data["progress"])
		}
		return fmt.Sprintf("%-26s %v", event, data["status"])
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askmeshctl [flags] <command> [question]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health            GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready             GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema            GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  connections       GET /v1/connections")
	_, _ = fmt.Fprintln(w, "  ask <question>    POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  stream <question> POST /v1/ask/stream")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
