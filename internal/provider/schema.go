package provider

// reviewResultSchema is the JSON schema every provider is asked to
// conform to for a review call, shared across OpenAI's json_schema
// response format, Gemini's response schema, and Anthropic's tool
// input schema. Expressed as a plain map so it can be marshalled for
// whichever transport the active provider expects.
func reviewResultSchema() map[string]any {
	issueSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"severity":      map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
			"new_path":      map[string]any{"type": "string"},
			"old_path":      map[string]any{"type": "string"},
			"type":          map[string]any{"type": "string", "enum": []string{"old", "new"}},
			"start_line":    map[string]any{"type": "integer"},
			"end_line":      map[string]any{"type": "integer"},
			"issue_header":  map[string]any{"type": "string"},
			"issue_content": map[string]any{"type": "string"},
			"suggestion":    map[string]any{"type": "string"},
		},
		"required":             []string{"severity", "type", "start_line", "end_line", "issue_header", "issue_content"},
		"additionalProperties": false,
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":      map[string]any{"type": "string"},
			"risk_level":   map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
			"reviews":      map[string]any{"type": "array", "items": issueSchema, "maxItems": 30},
			"positives":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "maxItems": 10},
			"action_items": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "maxItems": 10},
		},
		"required":             []string{"summary", "risk_level", "reviews"},
		"additionalProperties": false,
	}
}

func describeResultSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"body":  map[string]any{"type": "string"},
		},
		"required":             []string{"title", "body"},
		"additionalProperties": false,
	}
}

func changelogResultSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entries": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"kind": map[string]any{"type": "string", "enum": []string{"added", "changed", "fixed", "removed", "security"}},
						"text": map[string]any{"type": "string"},
					},
					"required":             []string{"kind", "text"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"entries"},
		"additionalProperties": false,
	}
}
