package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/agensys/mr-agent/internal/apperrors"
	"github.com/agensys/mr-agent/internal/domain"
)

// jsonSchema adapts a plain map to the json.Marshaler the SDK's
// structured-output field expects.
type jsonSchema map[string]any

func (s jsonSchema) MarshalJSON() ([]byte, error) { return json.Marshal(map[string]any(s)) }

type openAIAdapter struct {
	client  *openai.Client
	model   string
	kind    string
}

func newOpenAIAdapter(settings Settings) *openAIAdapter {
	cfg := openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		cfg.BaseURL = settings.BaseURL
	}
	return &openAIAdapter{client: openai.NewClientWithConfig(cfg), model: settings.Model, kind: settings.Kind}
}

func (a *openAIAdapter) baseRequest(prompt string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
}

func (a *openAIAdapter) callWithSchema(ctx context.Context, prompt, schemaName string, schema map[string]any) (string, error) {
	req := a.baseRequest(prompt)
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   schemaName,
			Schema: jsonSchema(schema),
			Strict: true,
		},
	}
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	return firstMessageContent(resp), nil
}

func (a *openAIAdapter) callWithJSONObject(ctx context.Context, prompt string) (string, error) {
	req := a.baseRequest(prompt)
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	return firstMessageContent(resp), nil
}

func (a *openAIAdapter) callFreeform(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, a.baseRequest(prompt))
	if err != nil {
		return "", err
	}
	return firstMessageContent(resp), nil
}

func firstMessageContent(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

// runLadder implements the shared structured-output call ladder from
// spec.md §4.8, steps 1-3: strict schema, then json_object, then
// freeform best-effort parse.
func (a *openAIAdapter) runLadder(ctx context.Context, prompt, schemaName string, schema map[string]any) (map[string]any, string, error) {
	text, err := a.callWithSchema(ctx, prompt, schemaName, schema)
	if err == nil {
		if text == "" {
			err = apperrors.New(apperrors.ProviderCall, "model returned empty response")
		} else if obj, ok := extractJSON(text); ok {
			return obj, text, nil
		} else {
			err = apperrors.New(apperrors.ProviderCall, "model response is not valid JSON")
		}
	}

	if !isSchemaUnsupportedError(err.Error()) && !isEmptyResponseError(err.Error()) {
		return nil, "", err
	}

	text, err = a.callWithJSONObject(ctx, prompt)
	if err == nil {
		if text == "" {
			err = apperrors.New(apperrors.ProviderCall, "model returned empty response")
		} else if obj, ok := extractJSON(text); ok {
			return obj, text, nil
		} else {
			err = apperrors.New(apperrors.ProviderCall, "model response is not valid JSON")
		}
	}
	if !isSchemaUnsupportedError(err.Error()) && !isEmptyResponseError(err.Error()) {
		return nil, "", err
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

func (a *openAIAdapter) Analyze(ctx context.Context, _ domain.ReviewInput, prompt string) (domain.ReviewResult, error) {
	obj, text, err := a.runLadder(ctx, prompt, "review_result", reviewResultSchema())
	if err != nil {
		return domain.ReviewResult{}, err
	}
	if obj == nil {
		return fallbackResult(text), nil
	}
	return normalize(obj), nil
}

func (a *openAIAdapter) Describe(ctx context.Context, prompt string) (string, string, error) {
	obj, _, err := a.runLadder(ctx, prompt, "describe_result", describeResultSchema())
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

func (a *openAIAdapter) Changelog(ctx context.Context, prompt string) ([]ChangelogEntry, error) {
	obj, _, err := a.runLadder(ctx, prompt, "changelog_result", changelogResultSchema())
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, apperrors.New(apperrors.ProviderCall, "model response is not valid JSON")
	}
	return parseChangelogEntries(obj), nil
}

func parseChangelogEntries(obj map[string]any) []ChangelogEntry {
	items, _ := obj["entries"].([]any)
	out := make([]ChangelogEntry, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := m["kind"].(string)
		text, _ := m["text"].(string)
		out = append(out, ChangelogEntry{Kind: kind, Text: text})
	}
	return out
}

func (a *openAIAdapter) Ask(ctx context.Context, prompt string) (string, error) {
	return a.callFreeform(ctx, prompt)
}

func (a *openAIAdapter) HealthProbe(ctx context.Context) HealthResult {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(probeCtx, openai.ChatCompletionRequest{
		Model:     a.model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthResult{OK: false, Provider: a.kind, Model: a.model, LatencyMs: latency, Error: err.Error()}
	}
	status := 200
	if len(resp.Choices) == 0 {
		status = 502
	}
	return HealthResult{OK: status == 200, Provider: a.kind, Model: a.model, HTTPStatus: status, LatencyMs: latency}
}
