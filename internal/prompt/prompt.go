// Package prompt composes deterministic review/ask/describe/changelog
// prompts from a ReviewInput, per spec.md §4.7. Section order is fixed
// so that two identical inputs always produce byte-identical prompts.
package prompt

import (
	"fmt"
	"strings"

	"github.com/agensys/mr-agent/internal/domain"
)

const (
	maxGuidelineChars = 2000
	askMaxFiles       = 40
	askMaxHistoryTurn = 6
)

// QATurn is one previously-answered question in an ask session.
type QATurn struct {
	Question string
	Answer   string
}

func platformLabel(platform string) string {
	if platform == domain.PlatformB {
		return "merge request"
	}
	return "pull request"
}

func header(input domain.ReviewInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Code review context\n\n")
	fmt.Fprintf(&b, "Platform: %s\n", platformLabel(input.Platform))
	fmt.Fprintf(&b, "Repository: %s/%s\n", input.Owner, input.Repo)
	fmt.Fprintf(&b, "Number: #%d\n", input.Number)
	fmt.Fprintf(&b, "Title: %s\n", input.Title)
	fmt.Fprintf(&b, "Author: %s\n", input.Author)
	fmt.Fprintf(&b, "Base -> Head: %s -> %s\n", input.BaseBranch, input.HeadBranch)
	fmt.Fprintf(&b, "Totals: +%d -%d across %d files\n", input.TotalAdditions, input.TotalDeletions, len(input.Files))
	if input.ListTruncated {
		b.WriteString("Note: file list was truncated by the forge's pagination limit.\n")
	}
	b.WriteString("\nDescription:\n")
	if strings.TrimSpace(input.Body) == "" {
		b.WriteString("(empty)\n")
	} else {
		b.WriteString(input.Body)
		b.WriteString("\n")
	}
	return b.String()
}

func appendProcessTemplateSection(b *strings.Builder, input domain.ReviewInput, isProcessTemplate func(path string) bool) bool {
	if isProcessTemplate == nil {
		return false
	}
	var names []string
	for _, f := range input.Files {
		if isProcessTemplate(f.NewPath) {
			names = append(names, f.NewPath)
		}
	}
	if len(names) == 0 {
		return false
	}
	b.WriteString("\n## Process/template files changed\n")
	for _, n := range names {
		fmt.Fprintf(b, "- %s\n", n)
	}
	b.WriteString("Review these for process-flow quality (ownership, CI wiring, required checks), not code correctness.\n")
	return true
}

func appendGuidelines(b *strings.Builder, guidelines []domain.ProcessGuideline) {
	if len(guidelines) == 0 {
		return
	}
	b.WriteString("\n## Repository process guidelines\n")
	for _, g := range guidelines {
		content := g.Content
		if len(content) > maxGuidelineChars {
			content = content[:maxGuidelineChars]
		}
		fmt.Fprintf(b, "### %s\n%s\n", g.Path, content)
	}
}

func appendCustomRules(b *strings.Builder, rules []string) {
	if len(rules) == 0 {
		return
	}
	b.WriteString("\n## Team custom rules\n")
	for _, r := range rules {
		fmt.Fprintf(b, "- %s\n", r)
	}
}

func appendFeedbackSignals(b *strings.Builder, signals []string) {
	if len(signals) == 0 {
		return
	}
	b.WriteString("\n## Developer feedback signals\n")
	for _, s := range signals {
		fmt.Fprintf(b, "- %s\n", s)
	}
}

func appendCIChecks(b *strings.Builder, checks []domain.CICheck) {
	if len(checks) == 0 {
		return
	}
	b.WriteString("\n## CI check results\n")
	for _, c := range checks {
		fmt.Fprintf(b, "- %s: %s/%s", c.Name, c.Status, c.Conclusion)
		if c.Summary != "" {
			fmt.Fprintf(b, " — %s", c.Summary)
		}
		b.WriteString("\n")
	}
}

func appendDiff(b *strings.Builder, files []domain.DiffFile) {
	if len(files) == 0 {
		b.WriteString("\n## Diff\n(no reviewable files)\n")
		return
	}
	b.WriteString("\n## Diff (line numbers from the (old,new) gutter)\n")
	for _, f := range files {
		fmt.Fprintf(b, "\n--- %s (%s, +%d/-%d) ---\n", f.NewPath, f.Status, f.Additions, f.Deletions)
		b.WriteString(f.ExtendedDiff)
		b.WriteString("\n")
	}
}

// outputRequirements is the fixed instruction tail every review prompt
// carries, spelling out the obligations in spec.md §4.7.
func outputRequirements(hasProcessTemplateFiles bool, customRuleCount int, hasFailingCI bool) string {
	var b strings.Builder
	b.WriteString("\n## Output requirements\n")
	b.WriteString("Respond with JSON only, matching the review schema exactly.\n")
	b.WriteString("Line numbers must come from the shown diff's gutter, in the line-number space of the side you reference.\n")
	b.WriteString("An empty reviews array is allowed when the change has no findings.\n")
	b.WriteString("Only include `suggestion` when the replacement is directly substitutable for the flagged lines.\n")
	if hasProcessTemplateFiles {
		b.WriteString("Include at least one action item about process-flow quality, since process/template files changed.\n")
	}
	if customRuleCount > 0 {
		b.WriteString("Explicitly address every team custom rule listed above, one way or another.\n")
	}
	if hasFailingCI {
		b.WriteString("Include an action item addressing the failing CI check(s) listed above.\n")
	}
	return b.String()
}

func hasFailingCheck(checks []domain.CICheck) bool {
	for _, c := range checks {
		if strings.EqualFold(c.Conclusion, "failure") || strings.EqualFold(c.Status, "failed") {
			return true
		}
	}
	return false
}

// BuildReviewPrompt composes the full review prompt for a ReviewInput.
// isProcessTemplate classifies a new_path as a process/template file;
// pass nil to skip that section entirely.
func BuildReviewPrompt(input domain.ReviewInput, isProcessTemplate func(path string) bool) string {
	var b strings.Builder
	b.WriteString(header(input))
	hasTemplate := appendProcessTemplateSection(&b, input, isProcessTemplate)
	appendGuidelines(&b, input.ProcessGuidelines)
	appendCustomRules(&b, input.CustomRules)
	appendFeedbackSignals(&b, input.FeedbackSignals)
	appendCIChecks(&b, input.CIChecks)
	appendDiff(&b, input.Files)
	b.WriteString(outputRequirements(hasTemplate, len(input.CustomRules), hasFailingCheck(input.CIChecks)))
	return b.String()
}

// BuildAskPrompt composes a freeform question-answering prompt, capping
// the diff at 40 files and history at the last 6 turns.
func BuildAskPrompt(input domain.ReviewInput, question string, history []QATurn) string {
	var b strings.Builder
	b.WriteString(header(input))

	files := input.Files
	if len(files) > askMaxFiles {
		files = files[:askMaxFiles]
	}
	appendDiff(&b, files)

	if len(history) > 0 {
		start := 0
		if len(history) > askMaxHistoryTurn {
			start = len(history) - askMaxHistoryTurn
		}
		b.WriteString("\n## Prior Q&A in this session\n")
		for _, turn := range history[start:] {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", turn.Question, turn.Answer)
		}
	}

	b.WriteString("\n## Question\n")
	b.WriteString(question)
	b.WriteString("\n\nAnswer directly and concisely, grounded only in the diff and context shown above.\n")
	return b.String()
}

// BuildDescribePrompt composes a prompt that asks for a PR/MR
// description summarising the diff.
func BuildDescribePrompt(input domain.ReviewInput) string {
	var b strings.Builder
	b.WriteString(header(input))
	appendDiff(&b, input.Files)
	b.WriteString("\n## Output requirements\n")
	b.WriteString("Respond with JSON only, matching the describe schema exactly.\n")
	b.WriteString("Summarise what changed and why, in a form suitable as the PR/MR description body.\n")
	return b.String()
}

// BuildChangelogPrompt composes a prompt that asks for a changelog entry
// covering the diff.
func BuildChangelogPrompt(input domain.ReviewInput) string {
	var b strings.Builder
	b.WriteString(header(input))
	appendDiff(&b, input.Files)
	b.WriteString("\n## Output requirements\n")
	b.WriteString("Respond with JSON only, matching the changelog schema exactly.\n")
	b.WriteString("Produce one or more changelog entries in Keep a Changelog style, grouped by change type.\n")
	return b.String()
}
