package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agensys/mr-agent/internal/apperrors"
	"github.com/agensys/mr-agent/internal/domain"
)

const anthropicMaxTokens = 4096

type anthropicAdapter struct {
	client anthropic.Client
	model  string
}

func newAnthropicAdapter(settings Settings) *anthropicAdapter {
	opts := []option.RequestOption{option.WithAPIKey(settings.APIKey)}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
	}
	return &anthropicAdapter{client: anthropic.NewClient(opts...), model: settings.Model}
}

func (a *anthropicAdapter) callWithTool(ctx context.Context, prompt, toolName string, schema map[string]any) (string, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	var inputSchema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(schemaJSON, &inputSchema); err != nil {
		return "", err
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(a.model)),
		MaxTokens: anthropic.F(int64(anthropicMaxTokens)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}),
		Tools: anthropic.F([]anthropic.ToolParam{
			{
				Name:        anthropic.F(toolName),
				InputSchema: anthropic.F(inputSchema),
			},
		}),
		ToolChoice: anthropic.F[anthropic.ToolChoiceUnionParam](anthropic.ToolChoiceToolParam{
			Type: anthropic.F(anthropic.ToolChoiceToolTypeTool),
			Name: anthropic.F(toolName),
		}),
	})
	if err != nil {
		return "", err
	}

	for _, block := range message.Content {
		if block.Type == anthropic.ContentBlockTypeToolUse {
			raw, err := json.Marshal(block.Input)
			if err != nil {
				return "", err
			}
			return string(raw), nil
		}
	}
	return "", apperrors.New(apperrors.ProviderCall, "model returned empty response")
}

func (a *anthropicAdapter) callFreeform(ctx context.Context, prompt string) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(a.model)),
		MaxTokens: anthropic.F(int64(anthropicMaxTokens)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}),
	})
	if err != nil {
		return "", err
	}
	var text string
	for _, block := range message.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			text += block.Text
		}
	}
	return text, nil
}

// runLadder: tool-use with a strict input schema, then a plain
// freeform call whose text is best-effort parsed, per spec.md §4.8's
// "for P_B, the analogous retry drops tools".
func (a *anthropicAdapter) runLadder(ctx context.Context, prompt, toolName string, schema map[string]any) (map[string]any, string, error) {
	text, err := a.callWithTool(ctx, prompt, toolName, schema)
	if err == nil {
		if obj, ok := extractJSON(text); ok {
			return obj, text, nil
		}
	}

	text, err = a.callFreeform(ctx, prompt)
	if err != nil {
		return nil, "", err
	}
	if obj, ok := extractJSON(text); ok {
		return obj, text, nil
	}
	return nil, text, nil
}

func (a *anthropicAdapter) Analyze(ctx context.Context, _ domain.ReviewInput, prompt string) (domain.ReviewResult, error) {
	obj, text, err := a.runLadder(ctx, prompt, "submit_review", reviewResultSchema())
	if err != nil {
		return domain.ReviewResult{}, err
	}
	if obj == nil {
		return fallbackResult(text), nil
	}
	return normalize(obj), nil
}

func (a *anthropicAdapter) Describe(ctx context.Context, prompt string) (string, string, error) {
	obj, _, err := a.runLadder(ctx, prompt, "submit_description", describeResultSchema())
	if err != nil {
		return "", "", err
	}
	if obj == nil {
		return "", "", apperrors.New(apperrors.ProviderCall, "model response is not valid JSON")
	}
	title, _ := obj["title"].(string)
	body, _ := obj["body"].(string)
	return title, body, nil
}

func (a *anthropicAdapter) Changelog(ctx context.Context, prompt string) ([]ChangelogEntry, error) {
	obj, _, err := a.runLadder(ctx, prompt, "submit_changelog", changelogResultSchema())
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, apperrors.New(apperrors.ProviderCall, "model response is not valid JSON")
	}
	return parseChangelogEntries(obj), nil
}

func (a *anthropicAdapter) Ask(ctx context.Context, prompt string) (string, error) {
	return a.callFreeform(ctx, prompt)
}

func (a *anthropicAdapter) HealthProbe(ctx context.Context) HealthResult {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := a.client.Messages.New(probeCtx, anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(a.model)),
		MaxTokens: anthropic.F(int64(1)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		}),
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthResult{OK: false, Provider: KindAnthropic, Model: a.model, LatencyMs: latency, Error: err.Error()}
	}
	return HealthResult{OK: true, Provider: KindAnthropic, Model: a.model, HTTPStatus: 200, LatencyMs: latency}
}
