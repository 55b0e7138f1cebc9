package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agensys/mr-agent/internal/domain"
)

func TestBuildReviewPromptIncludesCustomRulesAndFeedback(t *testing.T) {
	input := domain.ReviewInput{
		Platform:        "github",
		Owner:           "acme",
		Repo:            "demo",
		Number:          7,
		CustomRules:     []string{"no TODOs in production code"},
		FeedbackSignals: []string{"reviewer flagged this pattern as noisy last time"},
		Files: []domain.DiffFile{
			{NewPath: "a.go", ExtendedDiff: "+ added line"},
		},
	}
	text := BuildReviewPrompt(input, nil)
	assert.Contains(t, text, "no TODOs in production code")
	assert.Contains(t, text, "reviewer flagged this pattern as noisy last time")
	assert.Contains(t, text, "a.go")
}

func TestBuildAskPromptCapsFilesAndHistory(t *testing.T) {
	var files []domain.DiffFile
	for i := 0; i < askMaxFiles+10; i++ {
		files = append(files, domain.DiffFile{NewPath: fmt.Sprintf("file%d.go", i), ExtendedDiff: "+ x"})
	}
	var history []QATurn
	for i := 0; i < askMaxHistoryTurn+5; i++ {
		history = append(history, QATurn{Question: fmt.Sprintf("q%d", i), Answer: fmt.Sprintf("a%d", i)})
	}

	text := BuildAskPrompt(domain.ReviewInput{Files: files}, "why?", history)

	for i := 0; i < askMaxFiles; i++ {
		assert.Contains(t, text, fmt.Sprintf("file%d.go", i))
	}
	for i := askMaxFiles; i < len(files); i++ {
		assert.NotContains(t, text, fmt.Sprintf("file%d.go", i))
	}

	for _, turn := range history[len(history)-askMaxHistoryTurn:] {
		assert.Contains(t, text, turn.Question)
	}
	for _, turn := range history[:len(history)-askMaxHistoryTurn] {
		assert.NotContains(t, text, "Q: "+turn.Question)
	}
	assert.True(t, strings.Contains(text, "why?"))
}

func TestBuildDescribePromptAsksForJSON(t *testing.T) {
	text := BuildDescribePrompt(domain.ReviewInput{Files: []domain.DiffFile{{NewPath: "a.go"}}})
	assert.Contains(t, text, "JSON only")
}

func TestBuildReviewPromptIsDeterministic(t *testing.T) {
	input := domain.ReviewInput{
		Platform: "github",
		Files:    []domain.DiffFile{{NewPath: "a.go", ExtendedDiff: "+ x"}},
		CIChecks: []domain.CICheck{{Name: "build", Status: "completed", Conclusion: "failure"}},
	}
	first := BuildReviewPrompt(input, nil)
	second := BuildReviewPrompt(input, nil)
	assert.Equal(t, first, second, "identical input must always produce a byte-identical prompt")
}
