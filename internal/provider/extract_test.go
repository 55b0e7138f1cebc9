package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agensys/mr-agent/internal/domain"
)

func TestExtractJSONDirectParse(t *testing.T) {
	obj, ok := extractJSON(`{"summary": "looks fine"}`)
	require.True(t, ok)
	assert.Equal(t, "looks fine", obj["summary"])
}

func TestExtractJSONFencedBlock(t *testing.T) {
	text := "Here is my review:\n```json\n{\"summary\": \"ok\"}\n```\nThanks."
	obj, ok := extractJSON(text)
	require.True(t, ok)
	assert.Equal(t, "ok", obj["summary"])
}

func TestExtractJSONOutermostBraces(t *testing.T) {
	text := `Sure thing -> {"summary": "fine", "risk_level": "low"} <- done`
	obj, ok := extractJSON(text)
	require.True(t, ok)
	assert.Equal(t, "fine", obj["summary"])
}

func TestExtractJSONNoCandidateFails(t *testing.T) {
	_, ok := extractJSON("no json anywhere in this text")
	assert.False(t, ok)
}

func TestNormalizeAppliesDefaultsAndCaps(t *testing.T) {
	raw := map[string]any{
		"positives":    []any{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"},
		"action_items": []any{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"},
	}
	result := normalize(raw)
	assert.Equal(t, "No issues found.", result.Summary)
	assert.Equal(t, domain.SeverityLow, result.RiskLevel)
	assert.Len(t, result.Positives, 10)
	assert.Len(t, result.ActionItems, 10)
}

func TestNormalizeEscalatesRiskLevelFromIssues(t *testing.T) {
	raw := map[string]any{
		"risk_level": "low",
		"reviews": []any{
			map[string]any{"severity": "high", "new_path": "a.go", "start_line": 1.0, "end_line": 2.0},
		},
	}
	result := normalize(raw)
	assert.Equal(t, domain.SeverityMedium, result.RiskLevel, "a high-severity finding escalates an under-reported low risk level, but not past medium")
	require.Len(t, result.Reviews, 1)
	assert.Equal(t, domain.SeverityHigh, result.Reviews[0].Severity)
}

func TestNormalizeIssueClampsAndSwapsLineRange(t *testing.T) {
	raw := map[string]any{
		"reviews": []any{
			map[string]any{"severity": "bogus", "type": "bogus", "start_line": 10.0, "end_line": 3.0},
		},
	}
	result := normalize(raw)
	require.Len(t, result.Reviews, 1)
	issue := result.Reviews[0]
	assert.Equal(t, domain.SeverityLow, issue.Severity, "an unrecognised severity falls back to low")
	assert.Equal(t, "new", issue.Type, "an unrecognised type falls back to new")
	assert.Equal(t, 3, issue.StartLine)
	assert.Equal(t, 10, issue.EndLine)
}

func TestNormalizeCapsReviewsAtThirty(t *testing.T) {
	items := make([]any, 0, 40)
	for i := 0; i < 40; i++ {
		items = append(items, map[string]any{"severity": "low", "start_line": 1.0, "end_line": 1.0})
	}
	result := normalize(map[string]any{"reviews": items})
	assert.Len(t, result.Reviews, 30)
}

func TestIsSchemaUnsupportedErrorRequiresFormatMentionAndComplaint(t *testing.T) {
	assert.True(t, isSchemaUnsupportedError("response_format is not supported for this model"))
	assert.True(t, isSchemaUnsupportedError("json_schema 不支持"))
	assert.False(t, isSchemaUnsupportedError("response_format looks fine"), "a mention without a complaint marker isn't a schema-unsupported signal")
	assert.False(t, isSchemaUnsupportedError("something else is not supported"), "a complaint without a format mention isn't a schema-unsupported signal")
}

func TestIsEmptyResponseError(t *testing.T) {
	assert.True(t, isEmptyResponseError("model returned empty content"))
	assert.True(t, isEmptyResponseError("Model response is not valid JSON"))
	assert.False(t, isEmptyResponseError("totally unrelated failure"))
}

func TestFallbackResultTruncatesLongPreview(t *testing.T) {
	preview := make([]byte, 500)
	for i := range preview {
		preview[i] = 'x'
	}
	result := fallbackResult(string(preview))
	assert.Len(t, result.ActionItems, 1)
	assert.Equal(t, domain.SeverityLow, result.RiskLevel)
}
