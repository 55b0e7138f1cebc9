// Package policy parses and validates the repository-scoped config file
// (.mr-agent.yml / .mr-agent.yaml), accepting either JSON or a
// constrained YAML subset, per spec.md §4.6. Unknown keys are rejected
// rather than silently ignored — every shape below is the strict schema.
package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ModeRemind  = "remind"
	ModeEnforce = "enforce"

	ReviewModeComment = "comment"
	ReviewModeReport  = "report"

	maxCustomRules           = 30
	maxSecretScanPatterns    = 20
	maxSecretScanPatternLen  = 240
)

// IssuePolicy gates the issue-body quality check.
type IssuePolicy struct {
	Enabled          bool
	MinBodyLength    int
	RequiredSections []string
}

// PRPolicy gates the pull/merge-request body quality check.
type PRPolicy struct {
	Enabled             bool
	MinBodyLength       int
	RequiredSections    []string
	IssueReferenceRegex string
}

// ReviewPolicy gates auto-review triggers and every slash-command.
type ReviewPolicy struct {
	Enabled       bool
	OnOpened      bool
	OnEdited      bool
	OnSynchronize bool
	Mode          string

	CustomRules              []string
	IncludeCIChecks          bool
	SecretScanEnabled        bool
	SecretScanCustomPatterns []string
	AutoLabelEnabled         bool

	AskCommandEnabled           bool
	DescribeCommandEnabled      bool
	ChecksCommandEnabled        bool
	GenerateTestsCommandEnabled bool
	GenerateTestsAllowApply     bool
	ChangelogCommandEnabled     bool
	ChangelogAllowApply         bool
	FeedbackCommandEnabled      bool
	SimilarIssueCommandEnabled  bool
	AIReviewCommandEnabled      bool
}

// Config is the fully resolved, validated policy tree.
type Config struct {
	Mode        string
	Issue       IssuePolicy
	PullRequest PRPolicy
	Review      ReviewPolicy
}

// Default returns the embedded fallback config: every boolean "on",
// mode=remind, comment-mode reviews — used whenever no config file is
// present or parsing/validation fails.
func Default() Config {
	return Config{
		Mode: ModeRemind,
		Issue: IssuePolicy{
			Enabled:       true,
			MinBodyLength: 20,
		},
		PullRequest: PRPolicy{
			Enabled:       true,
			MinBodyLength: 20,
		},
		Review: ReviewPolicy{
			Enabled:                     true,
			OnOpened:                    true,
			OnEdited:                    true,
			OnSynchronize:               true,
			Mode:                        ReviewModeComment,
			IncludeCIChecks:             true,
			SecretScanEnabled:           true,
			AutoLabelEnabled:            true,
			AskCommandEnabled:           true,
			DescribeCommandEnabled:      true,
			ChecksCommandEnabled:        true,
			GenerateTestsCommandEnabled: true,
			GenerateTestsAllowApply:     false,
			ChangelogCommandEnabled:     true,
			ChangelogAllowApply:         false,
			FeedbackCommandEnabled:      true,
			SimilarIssueCommandEnabled:  true,
			AIReviewCommandEnabled:      true,
		},
	}
}

// allowedKeys enumerates the strict schema: section -> accepted keys.
// Anything outside this shape is rejected during Parse.
var allowedTopKeys = map[string]bool{"mode": true, "issue": true, "pull_request": true, "review": true}

var allowedIssueKeys = map[string]bool{"enabled": true, "min_body_length": true, "required_sections": true}

var allowedPRKeys = map[string]bool{
	"enabled": true, "min_body_length": true, "required_sections": true, "issue_reference_regex": true,
}

var allowedReviewKeys = map[string]bool{
	"enabled": true, "on_opened": true, "on_edited": true, "on_synchronize": true, "mode": true,
	"custom_rules": true, "include_ci_checks": true, "secret_scan_enabled": true,
	"secret_scan_custom_patterns": true, "auto_label_enabled": true,
	"ask_command_enabled": true, "describe_command_enabled": true, "checks_command_enabled": true,
	"generate_tests_command_enabled": true, "generate_tests_allow_apply": true,
	"changelog_command_enabled": true, "changelog_allow_apply": true,
	"feedback_command_enabled": true, "similar_issue_command_enabled": true,
	"ai_review_command_enabled": true,
}

// ParseError is returned for any structural or schema violation; the
// engine logs it and falls back to Default(), never propagating it to
// the caller as a hard failure.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "policy config: " + e.Reason }

// Parse accepts either JSON (raw starts with '{' after trimming
// whitespace) or the YAML subset, validates it against the strict
// schema, and returns a fully-defaulted Config.
func Parse(raw []byte) (Config, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return Default(), nil
	}

	var tree map[string]any
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(raw, &tree); err != nil {
			return Config{}, &ParseError{Reason: "invalid JSON: " + err.Error()}
		}
	} else {
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return Config{}, &ParseError{Reason: "invalid YAML: " + err.Error()}
		}
	}
	if tree == nil {
		return Default(), nil
	}

	cfg := Default()
	for key, value := range tree {
		if !allowedTopKeys[key] {
			return Config{}, &ParseError{Reason: "unknown top-level key " + key}
		}
		switch key {
		case "mode":
			s, ok := asString(value)
			if !ok || (s != ModeRemind && s != ModeEnforce) {
				return Config{}, &ParseError{Reason: "mode must be remind or enforce"}
			}
			cfg.Mode = s
		case "issue":
			sub, ok := asMap(value)
			if !ok {
				return Config{}, &ParseError{Reason: "issue must be a mapping"}
			}
			if err := applyIssue(sub, &cfg.Issue); err != nil {
				return Config{}, err
			}
		case "pull_request":
			sub, ok := asMap(value)
			if !ok {
				return Config{}, &ParseError{Reason: "pull_request must be a mapping"}
			}
			if err := applyPR(sub, &cfg.PullRequest); err != nil {
				return Config{}, err
			}
		case "review":
			sub, ok := asMap(value)
			if !ok {
				return Config{}, &ParseError{Reason: "review must be a mapping"}
			}
			if err := applyReview(sub, &cfg.Review); err != nil {
				return Config{}, err
			}
		}
	}
	return cfg, nil
}

func applyIssue(tree map[string]any, p *IssuePolicy) error {
	for key, value := range tree {
		if !allowedIssueKeys[key] {
			return &ParseError{Reason: "unknown issue key " + key}
		}
		switch key {
		case "enabled":
			b, ok := asBool(value)
			if !ok {
				return &ParseError{Reason: "issue.enabled must be boolean-like"}
			}
			p.Enabled = b
		case "min_body_length":
			n, ok := asInt(value)
			if !ok {
				return &ParseError{Reason: "issue.min_body_length must be an integer"}
			}
			p.MinBodyLength = n
		case "required_sections":
			list, ok := asStringList(value)
			if !ok {
				return &ParseError{Reason: "issue.required_sections must be a string list"}
			}
			p.RequiredSections = dedupeStrings(list)
		}
	}
	return nil
}

func applyPR(tree map[string]any, p *PRPolicy) error {
	for key, value := range tree {
		if !allowedPRKeys[key] {
			return &ParseError{Reason: "unknown pull_request key " + key}
		}
		switch key {
		case "enabled":
			b, ok := asBool(value)
			if !ok {
				return &ParseError{Reason: "pull_request.enabled must be boolean-like"}
			}
			p.Enabled = b
		case "min_body_length":
			n, ok := asInt(value)
			if !ok {
				return &ParseError{Reason: "pull_request.min_body_length must be an integer"}
			}
			p.MinBodyLength = n
		case "required_sections":
			list, ok := asStringList(value)
			if !ok {
				return &ParseError{Reason: "pull_request.required_sections must be a string list"}
			}
			p.RequiredSections = dedupeStrings(list)
		case "issue_reference_regex":
			s, ok := asString(value)
			if !ok {
				return &ParseError{Reason: "pull_request.issue_reference_regex must be a string"}
			}
			p.IssueReferenceRegex = s
		}
	}
	return nil
}

func applyReview(tree map[string]any, p *ReviewPolicy) error {
	boolFields := map[string]*bool{
		"enabled":                         &p.Enabled,
		"on_opened":                       &p.OnOpened,
		"on_edited":                       &p.OnEdited,
		"on_synchronize":                  &p.OnSynchronize,
		"include_ci_checks":               &p.IncludeCIChecks,
		"secret_scan_enabled":             &p.SecretScanEnabled,
		"auto_label_enabled":              &p.AutoLabelEnabled,
		"ask_command_enabled":             &p.AskCommandEnabled,
		"describe_command_enabled":        &p.DescribeCommandEnabled,
		"checks_command_enabled":          &p.ChecksCommandEnabled,
		"generate_tests_command_enabled":  &p.GenerateTestsCommandEnabled,
		"generate_tests_allow_apply":      &p.GenerateTestsAllowApply,
		"changelog_command_enabled":       &p.ChangelogCommandEnabled,
		"changelog_allow_apply":           &p.ChangelogAllowApply,
		"feedback_command_enabled":        &p.FeedbackCommandEnabled,
		"similar_issue_command_enabled":   &p.SimilarIssueCommandEnabled,
		"ai_review_command_enabled":       &p.AIReviewCommandEnabled,
	}

	for key, value := range tree {
		if !allowedReviewKeys[key] {
			return &ParseError{Reason: "unknown review key " + key}
		}
		if target, ok := boolFields[key]; ok {
			b, ok := asBool(value)
			if !ok {
				return &ParseError{Reason: fmt.Sprintf("review.%s must be boolean-like", key)}
			}
			*target = b
			continue
		}
		switch key {
		case "mode":
			s, ok := asString(value)
			if !ok || (s != ReviewModeComment && s != ReviewModeReport) {
				return &ParseError{Reason: "review.mode must be comment or report"}
			}
			p.Mode = s
		case "custom_rules":
			list, ok := asStringList(value)
			if !ok {
				return &ParseError{Reason: "review.custom_rules must be a string list"}
			}
			list = dedupeStrings(list)
			if len(list) > maxCustomRules {
				list = list[:maxCustomRules]
			}
			p.CustomRules = list
		case "secret_scan_custom_patterns":
			list, ok := asStringList(value)
			if !ok {
				return &ParseError{Reason: "review.secret_scan_custom_patterns must be a string list"}
			}
			list = dedupeStrings(list)
			if len(list) > maxSecretScanPatterns {
				list = list[:maxSecretScanPatterns]
			}
			for i, pattern := range list {
				if len(pattern) > maxSecretScanPatternLen {
					list[i] = pattern[:maxSecretScanPatternLen]
				}
			}
			p.SecretScanCustomPatterns = list
		}
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[s] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// asBool coerces per spec.md §4.6: {true,yes,on,1} / {false,no,off,0},
// in addition to native booleans from JSON/YAML parsing.
func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "on", "1":
			return true, true
		case "false", "no", "off", "0":
			return false, true
		default:
			return false, false
		}
	case int:
		return b != 0, true
	case float64:
		return b != 0, true
	default:
		return false, false
	}
}

func asStringList(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func dedupeStrings(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
