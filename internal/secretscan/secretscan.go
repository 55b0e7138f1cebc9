// Package secretscan flags probable credentials in added diff lines
// before a patch is ever sent to a provider, per spec.md §4.5. Rules are
// deliberately narrow, known-format regexes (grounded on the teacher's
// own regex-driven parsing in server/parser/parser.go) plus a
// placeholder/template heuristic to keep example values and interpolated
// config out of the findings.
package secretscan

import (
	"regexp"
	"strings"
)

// Rule is one named secret-shaped pattern.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultRules covers the credential shapes common enough to be worth a
// fixed signature: cloud access keys, common vendor API-key prefixes,
// bearer/JWT tokens, and PEM private key blocks.
var DefaultRules = []Rule{
	{Name: "aws_access_key_id", Pattern: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{Name: "aws_secret_access_key", Pattern: regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`)},
	{Name: "github_token", Pattern: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{Name: "slack_token", Pattern: regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{Name: "openai_key", Pattern: regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`)},
	{Name: "generic_bearer", Pattern: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{20,}`)},
	{Name: "jwt", Pattern: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`)},
	{Name: "private_key_block", Pattern: regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA |)PRIVATE KEY-----`)},
	{Name: "generic_assignment", Pattern: regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|passwd|password)\b\s*[:=]\s*['"][^'"\s]{8,}['"]`)},
}

var placeholderMarkers = []string{
	"xxxx", "yyyy", "changeme", "example", "your_", "your-", "<", "{{", "${",
	"placeholder", "dummy", "sample", "fake", "redacted", "todo", "fixme",
	"0000000000",
}

// Finding is one flagged line.
type Finding struct {
	File     string
	Line     int
	Rule     string
	Redacted string
}

// Scanner holds the rule set so callers can extend it per policy.
type Scanner struct {
	rules []Rule
}

// New returns a Scanner using DefaultRules plus any extra rules supplied.
func New(extra ...Rule) *Scanner {
	rules := append([]Rule(nil), DefaultRules...)
	rules = append(rules, extra...)
	return &Scanner{rules: rules}
}

// ScanAddedLines runs every rule against each added line of file and
// returns one Finding per first-matching rule per line, skipping lines
// that look like placeholders or template interpolation.
func (s *Scanner) ScanAddedLines(file string, newLinesByNumber map[int]string) []Finding {
	var findings []Finding
	for lineNo, text := range newLinesByNumber {
		if isPlaceholder(text) {
			continue
		}
		for _, rule := range s.rules {
			loc := rule.Pattern.FindString(text)
			if loc == "" {
				continue
			}
			findings = append(findings, Finding{
				File:     file,
				Line:     lineNo,
				Rule:     rule.Name,
				Redacted: redact(loc),
			})
			break
		}
	}
	return findings
}

// isPlaceholder reports whether text contains a marker strongly
// correlated with example/template values rather than live secrets.
func isPlaceholder(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// redact keeps a short prefix/suffix of value and masks the middle so a
// finding is verifiable without reproducing the credential itself.
func redact(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
