package provider

import (
	"encoding/json"
	"strings"

	"github.com/agensys/mr-agent/internal/domain"
)

// extractJSON implements the three-pass best-effort extractor from
// spec.md §4.8: direct parse, fenced ``` block, outermost {…} slice.
func extractJSON(text string) (map[string]any, bool) {
	if obj, ok := tryUnmarshal(text); ok {
		return obj, true
	}
	if fenced, ok := fencedBlock(text); ok {
		if obj, ok := tryUnmarshal(fenced); ok {
			return obj, true
		}
	}
	if sliced, ok := outermostBraces(text); ok {
		if obj, ok := tryUnmarshal(sliced); ok {
			return obj, true
		}
	}
	return nil, false
}

func tryUnmarshal(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func fencedBlock(text string) (string, bool) {
	const fence = "```"
	start := strings.Index(text, fence)
	if start == -1 {
		return "", false
	}
	rest := text[start+len(fence):]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		// Skip an optional language tag on the opening fence line.
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine != "" && !strings.Contains(firstLine, "{") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, fence)
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}

func outermostBraces(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// normalize maps a best-effort-parsed object onto domain.ReviewResult,
// applying every default and clamp rule in spec.md §4.8. It never
// returns an error: a missing or malformed field just falls back to its
// documented default.
func normalize(raw map[string]any) domain.ReviewResult {
	result := domain.ReviewResult{}

	result.Summary, _ = raw["summary"].(string)
	result.RiskLevel, _ = raw["risk_level"].(string)
	result.Positives = stringSlice(raw["positives"])
	result.ActionItems = stringSlice(raw["action_items"])

	if items, ok := raw["reviews"].([]any); ok {
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			result.Reviews = append(result.Reviews, normalizeIssue(m))
		}
	}
	if len(result.Reviews) > 30 {
		result.Reviews = result.Reviews[:30]
	}
	if len(result.Positives) > 10 {
		result.Positives = result.Positives[:10]
	}
	if len(result.ActionItems) > 10 {
		result.ActionItems = result.ActionItems[:10]
	}

	if strings.TrimSpace(result.Summary) == "" {
		result.Summary = synthesizeSummary(len(result.Reviews))
	}

	result.RiskLevel = normalizeRiskLevel(result.RiskLevel, result.Reviews)
	return result
}

func normalizeIssue(m map[string]any) domain.ReviewIssue {
	issue := domain.ReviewIssue{}
	issue.Severity, _ = m["severity"].(string)
	if issue.Severity != domain.SeverityLow && issue.Severity != domain.SeverityMedium && issue.Severity != domain.SeverityHigh {
		issue.Severity = domain.SeverityLow
	}
	issue.NewPath, _ = m["new_path"].(string)
	issue.OldPath, _ = m["old_path"].(string)
	issue.Type, _ = m["type"].(string)
	if issue.Type != "old" && issue.Type != "new" {
		issue.Type = "new"
	}
	issue.StartLine = clampLine(m["start_line"])
	issue.EndLine = clampLine(m["end_line"])
	if issue.StartLine > issue.EndLine {
		issue.StartLine, issue.EndLine = issue.EndLine, issue.StartLine
	}
	issue.IssueHeader, _ = m["issue_header"].(string)
	issue.IssueContent, _ = m["issue_content"].(string)
	issue.Suggestion, _ = m["suggestion"].(string)
	return issue
}

func clampLine(v any) int {
	n := 0
	switch t := v.(type) {
	case float64:
		n = int(t)
	case int:
		n = t
	}
	if n < 1 {
		return 1
	}
	return n
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func synthesizeSummary(reviewCount int) string {
	if reviewCount == 0 {
		return "No issues found."
	}
	if reviewCount == 1 {
		return "1 issue found."
	}
	return itoa(reviewCount) + " issues found."
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func normalizeRiskLevel(level string, issues []domain.ReviewIssue) string {
	hasHigh, hasMedium := false, false
	for _, issue := range issues {
		switch issue.Severity {
		case domain.SeverityHigh:
			hasHigh = true
		case domain.SeverityMedium:
			hasMedium = true
		}
	}
	switch level {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh:
	default:
		level = domain.SeverityLow
	}
	if hasHigh && level != domain.SeverityHigh {
		level = domain.SeverityMedium
	}
	if hasMedium && level == domain.SeverityLow {
		level = domain.SeverityMedium
	}
	return level
}

// fallbackResult builds the "model did not return structured JSON"
// ReviewResult for the last rung of the call ladder.
func fallbackResult(preview string) domain.ReviewResult {
	if len(preview) > 400 {
		preview = preview[:400]
	}
	return domain.ReviewResult{
		Summary:     "Model output was not structured JSON.",
		RiskLevel:   domain.SeverityLow,
		ActionItems: []string{"Model output was not structured JSON: " + preview},
	}
}
