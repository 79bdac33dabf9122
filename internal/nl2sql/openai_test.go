package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/askmesh/askmesh/internal/config"
)

func TestCleanSQL(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "```sql\nSELECT 1;\n```", want: "SELECT 1;"},
		{input: "SELECT 1", want: "SELECT 1"},
		{input: "  Here:\n```\nSELECT 2\n```  ", want: "Here:\n\nSELECT 2"},
		{input: "```SQL\nSELECT 3\n```", want: "SELECT 3"},
		{input: "", want: ""},
	}
	for _, tc := range cases {
		if got := CleanSQL(tc.input); got != tc.want {
			t.Fatalf("CleanSQL(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestOpenAITranslatorSendsPromptAndCleansSQL(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"`+"```sql\\nSELECT SUM(total_sales) FROM total_sales_metrics\\n```"+`"}}]}`)
	}))
	defer server.Close()

	translator, err := NewOpenAITranslator(OpenAIConfig{BaseURL: server.URL + "/", APIKey: "secret", Model: "gpt-test"})
	if err != nil {
		t.Fatalf("NewOpenAITranslator() error = %v", err)
	}
	result, err := translator.Translate(context.Background(), Request{Question: "What is total sales?"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT SUM(total_sales) FROM total_sales_metrics" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.Provider != "openai-compatible" || result.Model != "gpt-test" {
		t.Fatalf("result = %#v", result)
	}
	if captured["model"] != "gpt-test" {
		t.Fatalf("model = %v", captured["model"])
	}
	messages := captured["messages"].([]any)
	user := messages[1].(map[string]any)["content"].(string)
	if !strings.Contains(user, "What is total sales?") || !strings.Contains(user, "total_sales_metrics") {
		t.Fatalf("user prompt missing question or schema: %q", user)
	}
}

func TestOpenAITranslatorReturnsErrorsInsteadOfSQL(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "http error", status: http.StatusTooManyRequests, body: `{"error":"rate limited"}`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "empty sql", status: http.StatusOK, body: `{"choices":[{"message":{"content":"` + "```sql```" + `"}}]}`},
		{name: "bad json", status: http.StatusOK, body: `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer server.Close()

			translator, err := NewOpenAITranslator(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
			if err != nil {
				t.Fatalf("NewOpenAITranslator() error = %v", err)
			}
			result, err := translator.Translate(context.Background(), Request{Question: "q"})
			if err == nil {
				t.Fatalf("Translate() expected error, got %#v", result)
			}
			if result.SQL != "" {
				t.Fatalf("SQL = %q, want empty on failure", result.SQL)
			}
		})
	}
}

func TestNewOpenAITranslatorValidatesConfig(t *testing.T) {
	if _, err := NewOpenAITranslator(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Fatal("expected missing base URL error")
	}
	if _, err := NewOpenAITranslator(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected missing api key error")
	}
}

func TestGeminiTranslator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-test:generateContent" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if r.URL.RawQuery != "" {
			t.Fatalf("query = %q, want none", r.URL.RawQuery)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "g-key" {
			t.Fatalf("x-goog-api-key = %q", got)
		}
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"SELECT "},{"text":"1"}]}}]}`)
	}))
	defer server.Close()

	translator, err := NewGeminiTranslator(GeminiConfig{BaseURL: server.URL, APIKey: "g-key", Model: "gemini-test"})
	if err != nil {
		t.Fatalf("NewGeminiTranslator() error = %v", err)
	}
	result, err := translator.Translate(context.Background(), Request{Question: "one"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT 1" || result.Provider != "gemini" {
		t.Fatalf("result = %#v", result)
	}
}

func TestGeminiTranslatorEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	}))
	defer server.Close()

	translator, err := NewGeminiTranslator(GeminiConfig{BaseURL: server.URL, APIKey: "g"})
	if err != nil {
		t.Fatalf("NewGeminiTranslator() error = %v", err)
	}
	if _, err := translator.Translate(context.Background(), Request{Question: "q"}); err == nil {
		t.Fatal("expected error for empty candidates")
	}
}

func TestGeminiTranslatorTransportErrorOmitsAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	translator, err := NewGeminiTranslator(GeminiConfig{BaseURL: baseURL, APIKey: "SUPERSECRETKEY", Model: "gemini-test"})
	if err != nil {
		t.Fatalf("NewGeminiTranslator() error = %v", err)
	}
	_, err = translator.Translate(context.Background(), Request{Question: "q"})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "SUPERSECRETKEY") {
		t.Fatalf("error leaks api key: %v", err)
	}
}

type stubMessages struct {
	params sdk.MessageNewParams
	resp   *sdk.Message
	err    error
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.params = body
	return s.resp, s.err
}

func TestAnthropicTranslator(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "```sql\nSELECT item_id FROM ad_sales_metrics\n```"}},
	}}
	translator := newAnthropicTranslator(stub, AnthropicConfig{Model: "claude-test", Temperature: 0.2})

	result, err := translator.Translate(context.Background(), Request{Question: "which items?"})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if result.SQL != "SELECT item_id FROM ad_sales_metrics" || result.Provider != "anthropic" {
		t.Fatalf("result = %#v", result)
	}
	if string(stub.params.Model) != "claude-test" {
		t.Fatalf("model = %q", stub.params.Model)
	}
	if stub.params.MaxTokens != 1024 {
		t.Fatalf("MaxTokens = %d", stub.params.MaxTokens)
	}
	if len(stub.params.System) != 1 || !strings.Contains(stub.params.System[0].Text, "SQL expert") {
		t.Fatalf("system = %#v", stub.params.System)
	}
}

func TestAnthropicTranslatorWrapsErrors(t *testing.T) {
	boom := errors.New("overloaded")
	translator := newAnthropicTranslator(&stubMessages{err: boom}, AnthropicConfig{})
	_, err := translator.Translate(context.Background(), Request{Question: "q"})
	if !errors.Is(err, boom) {
		t.Fatalf("Translate() error = %v, want wrapped %v", err, boom)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	cases := map[string]string{
		"openai":    "*nl2sql.OpenAITranslator",
		"gemini":    "*nl2sql.GeminiTranslator",
		"anthropic": "*nl2sql.AnthropicTranslator",
		"none":      "nl2sql.unavailableTranslator",
	}
	for provider, want := range cases {
		translator, err := New(config.AIConfig{Provider: provider, BaseURL: "http://localhost", APIKey: "k"}, DefaultSchema())
		if err != nil {
			t.Fatalf("New(%q) error = %v", provider, err)
		}
		if got := typeName(translator); got != want {
			t.Fatalf("New(%q) = %s, want %s", provider, got, want)
		}
	}
	if _, err := New(config.AIConfig{Provider: "cohere"}, DefaultSchema()); err == nil {
		t.Fatal("expected unknown provider error")
	}
	if _, err := Unavailable().Translate(context.Background(), Request{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Unavailable().Translate() error = %v", err)
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
