package provider

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/genai"

	"github.com/agensys/mr-agent/internal/apperrors"
	"github.com/agensys/mr-agent/internal/domain"
)

type geminiAdapter struct {
	client *genai.Client
	model  string
}

func newGeminiAdapter(settings Settings) *geminiAdapter {
	client, _ := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  settings.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	return &geminiAdapter{client: client, model: settings.Model}
}

func (a *geminiAdapter) callWithSchema(ctx context.Context, prompt string, schema map[string]any) (string, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	var responseSchema genai.Schema
	if err := json.Unmarshal(schemaJSON, &responseSchema); err != nil {
		return "", err
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   &responseSchema,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (a *geminiAdapter) callFreeform(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// runLadder: response-schema call, then a freeform call whose text is
// best-effort parsed, per spec.md §4.8's "for P_C, the analogous retry
// drops the response schema".
func (a *geminiAdapter) runLadder(ctx context.Context, prompt string, schema map[string]any) (map[string]any, string, error) {
	text, err := a.callWithSchema(ctx, prompt, schema)
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

func (a *geminiAdapter) Analyze(ctx context.Context, _ domain.ReviewInput, prompt string) (domain.ReviewResult, error) {
	obj, text, err := a.runLadder(ctx, prompt, reviewResultSchema())
	if err != nil {
		return domain.ReviewResult{}, err
	}
	if obj == nil {
		return fallbackResult(text), nil
	}
	return normalize(obj), nil
}

func (a *geminiAdapter) Describe(ctx context.Context, prompt string) (string, string, error) {
	obj, _, err := a.runLadder(ctx, prompt, describeResultSchema())
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

func (a *geminiAdapter) Changelog(ctx context.Context, prompt string) ([]ChangelogEntry, error) {
	obj, _, err := a.runLadder(ctx, prompt, changelogResultSchema())
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, apperrors.New(apperrors.ProviderCall, "model response is not valid JSON")
	}
	return parseChangelogEntries(obj), nil
}

func (a *geminiAdapter) Ask(ctx context.Context, prompt string) (string, error) {
	return a.callFreeform(ctx, prompt)
}

func (a *geminiAdapter) HealthProbe(ctx context.Context) HealthResult {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := a.client.Models.GenerateContent(probeCtx, a.model, genai.Text("ping"), nil)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthResult{OK: false, Provider: KindGemini, Model: a.model, LatencyMs: latency, Error: err.Error()}
	}
	return HealthResult{OK: true, Provider: KindGemini, Model: a.model, HTTPStatus: 200, LatencyMs: latency}
}
