package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// messageClient is the subset of *sdk.MessageService the translator uses.
type messageClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

type AnthropicConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Schema      Schema
}

type AnthropicTranslator struct {
	messages    messageClient
	model       string
	temperature float64
	maxTokens   int64
	schema      Schema
}

func NewAnthropicTranslator(cfg AnthropicConfig) (*AnthropicTranslator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithRequestTimeout(defaultTimeout(cfg.Timeout)),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := sdk.NewClient(opts...)
	return newAnthropicTranslator(&client.Messages, cfg), nil
}

func newAnthropicTranslator(messages messageClient, cfg AnthropicConfig) *AnthropicTranslator {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(sdk.ModelClaudeSonnet4_5_20250929)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicTranslator{
		messages:    messages,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   int64(maxTokens),
		schema:      schemaOrDefault(cfg.Schema),
	}
}

func (t *AnthropicTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	system, user := t.schema.Prompt(req)
	params := sdk.MessageNewParams{
		MaxTokens: t.maxTokens,
		Model:     sdk.Model(t.model),
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(user))},
	}
	if t.temperature > 0 {
		params.Temperature = sdk.Float(t.temperature)
	}

	msg, err := t.messages.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("anthropic messages: %w", err)
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return finish(text.String(), "anthropic", t.model)
}
