package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agensys/mr-agent/internal/primitives"
)

var (
	htmlCommentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	checkboxRe     = regexp.MustCompile(`(?m)^\s*[-*]\s*\[[ xX]\]\s*`)
	noResponseRe   = regexp.MustCompile(`(?i)_no response_`)
	headingRe      = regexp.MustCompile(`(?m)^#{1,6}\s*(.+?)\s*$`)
)

// messages carries the two UI locales spec.md §4.6 requires. English is
// authoritative; Chinese mirrors it for the same message keys.
var messages = map[primitives.Locale]map[string]string{
	primitives.LocaleEN: {
		"title_required":    "Issue title is required",
		"body_too_short":    "Description is too short (minimum %d characters)",
		"missing_reference": "Description must reference an issue",
		"missing_section":   "Missing or empty template section: %s",
	},
	primitives.LocaleZH: {
		"title_required":    "标题不能为空",
		"body_too_short":    "描述过短（至少需要 %d 个字符）",
		"missing_reference": "描述中必须关联一个 issue",
		"missing_section":   "缺少或为空的模板章节：%s",
	},
}

func message(locale primitives.Locale, key string, args ...any) string {
	set, ok := messages[locale]
	if !ok {
		set = messages[primitives.LocaleEN]
	}
	template, ok := set[key]
	if !ok {
		template = messages[primitives.LocaleEN][key]
	}
	if len(args) == 0 {
		return template
	}
	return fmt.Sprintf(template, args...)
}

// CheckBody runs the issue/PR body quality check described in
// spec.md §4.6 and returns one localised message per violation, in a
// stable order: title, length, reference, then one per missing section.
func CheckBody(title, body string, minBodyLength int, requiredSections []string, issueReferenceRegex string, locale primitives.Locale) []string {
	var problems []string

	if strings.TrimSpace(title) == "" {
		problems = append(problems, message(locale, "title_required"))
	}

	if len(strings.TrimSpace(body)) < minBodyLength {
		problems = append(problems, message(locale, "body_too_short", minBodyLength))
	}

	if issueReferenceRegex != "" {
		if re, err := regexp.Compile(issueReferenceRegex); err == nil {
			if !re.MatchString(body) {
				problems = append(problems, message(locale, "missing_reference"))
			}
		}
	}

	if len(requiredSections) > 0 {
		sections := extractSections(body)
		for _, name := range requiredSections {
			content, found := sections[strings.ToLower(strings.TrimSpace(name))]
			if !found || strings.TrimSpace(cleanSectionContent(content)) == "" {
				problems = append(problems, message(locale, "missing_section", name))
			}
		}
	}

	return problems
}

// extractSections splits body into heading -> content (lowercased
// heading key) using markdown ATX headings as section boundaries.
func extractSections(body string) map[string]string {
	lines := strings.Split(body, "\n")
	sections := make(map[string]string)

	var currentKey string
	var buf strings.Builder
	flush := func() {
		if currentKey != "" {
			sections[currentKey] = buf.String()
		}
		buf.Reset()
	}

	for _, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			currentKey = strings.ToLower(strings.TrimSpace(m[1]))
			continue
		}
		if currentKey != "" {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	flush()
	return sections
}

// cleanSectionContent strips HTML comments, checkbox markers, and the
// literal "_No response_" placeholder before the emptiness check.
func cleanSectionContent(content string) string {
	content = htmlCommentRe.ReplaceAllString(content, "")
	content = checkboxRe.ReplaceAllString(content, "")
	content = noResponseRe.ReplaceAllString(content, "")
	return content
}
