package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agensys/mr-agent/internal/primitives"
)

func TestCheckBodyFlagsMissingTitleAndShortBody(t *testing.T) {
	problems := CheckBody("", "short", 50, nil, "", primitives.LocaleEN)
	assert.Contains(t, problems, "Issue title is required")
	assert.Contains(t, problems, "Description is too short (minimum 50 characters)")
}

func TestCheckBodyRequiresIssueReferenceWhenConfigured(t *testing.T) {
	body := "This change does something useful and long enough to pass the length check easily."
	problems := CheckBody("fix: thing", body, 10, nil, `#\d+`, primitives.LocaleEN)
	assert.Contains(t, problems, "Description must reference an issue")

	problems = CheckBody("fix: thing", body+" Fixes #42.", 10, nil, `#\d+`, primitives.LocaleEN)
	assert.NotContains(t, problems, "Description must reference an issue")
}

func TestCheckBodyFlagsMissingOrEmptyRequiredSection(t *testing.T) {
	body := "## Description\nSomething happened.\n\n## Testing\n_No response_\n"
	problems := CheckBody("title", body, 0, []string{"Testing", "Rollout"}, "", primitives.LocaleEN)
	assert.Contains(t, problems, "Missing or empty template section: Testing", "a section present only as the literal no-response placeholder counts as empty")
	assert.Contains(t, problems, "Missing or empty template section: Rollout")
}

func TestCheckBodyAcceptsWellFormedContent(t *testing.T) {
	body := "## Description\nThis adds a new feature to the dashboard and is long enough.\n\n## Testing\nRan the full suite locally.\n"
	problems := CheckBody("feat: dashboard widget", body, 10, []string{"Description", "Testing"}, "", primitives.LocaleEN)
	assert.Empty(t, problems)
}

func TestCheckBodyLocalisesMessagesToChinese(t *testing.T) {
	problems := CheckBody("", "", 10, nil, "", primitives.LocaleZH)
	assert.Contains(t, problems, "标题不能为空")
}
