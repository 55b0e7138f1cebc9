package commandrouter

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agensys/mr-agent/internal/policy"
	"github.com/agensys/mr-agent/internal/ratelimit"
	"github.com/agensys/mr-agent/internal/runtimestate"
)

func newTestRouter() *Router {
	store := runtimestate.New(nil)
	limiter := ratelimit.New(store, nil)
	return New(limiter, zerolog.Nop())
}

func TestParseExtractsCommandAndArgs(t *testing.T) {
	cmd, ok := Parse("please take a look\n/ask what does this do\nthanks")
	require.True(t, ok)
	assert.Equal(t, CommandAsk, cmd.Name)
	assert.Equal(t, "what does this do", cmd.Args)
}

func TestParseNoCommandFound(t *testing.T) {
	_, ok := Parse("just a regular comment")
	assert.False(t, ok)
}

func TestIsBotCommenterGitHubSuffix(t *testing.T) {
	assert.True(t, IsBotCommenter("github", "mr-agent[bot]"))
	assert.False(t, IsBotCommenter("github", "alice"))
}

func TestIsBotCommenterGitLabPatterns(t *testing.T) {
	assert.True(t, IsBotCommenter("gitlab", "project_123_bot"))
	assert.True(t, IsBotCommenter("gitlab", "gitlab-ci-bot"))
	assert.False(t, IsBotCommenter("gitlab", "alice"))
}

func TestHandlePolicyGateDisabledCommandNeverDispatches(t *testing.T) {
	r := newTestRouter()
	cfg := policy.Default()
	cfg.Review.AskCommandEnabled = false

	handled, reply, err := r.Handle(context.Background(), Context{
		Platform: "github", Owner: "acme", Repo: "demo", Number: 12,
		Commenter: "alice", Body: "/ask what is this",
		PolicyConfig: cfg,
	})

	assert.False(t, handled, "a policy-disabled command must never be marked handled")
	assert.Empty(t, reply)
	assert.NoError(t, err)
}

func TestHandleBotCommenterIsIgnored(t *testing.T) {
	r := newTestRouter()
	handled, _, err := r.Handle(context.Background(), Context{
		Platform: "github", Owner: "acme", Repo: "demo", Number: 12,
		Commenter: "mr-agent[bot]", Body: "/ai-review report",
		PolicyConfig: policy.Default(),
	})
	assert.False(t, handled)
	assert.NoError(t, err)
}

func TestHandleRateLimitsRepeatedCommands(t *testing.T) {
	store := runtimestate.New(nil)
	limiter := ratelimit.New(store, nil, ratelimit.WithCapacity(10))
	r := &Router{limiter: limiter, log: zerolog.Nop()}

	cfg := policy.Default()
	cfg.Review.FeedbackCommandEnabled = true

	mkCtx := func() Context {
		return Context{
			Platform: "github", Owner: "acme", Repo: "demo", Number: 12,
			Commenter: "alice", Body: "/feedback resolved",
			PolicyConfig: cfg,
		}
	}

	for i := 0; i < defaultRateLimit; i++ {
		handled, _, err := r.Handle(context.Background(), mkCtx())
		require.NoError(t, err)
		assert.True(t, handled)
	}

	handled, _, err := r.Handle(context.Background(), mkCtx())
	assert.False(t, handled, "requests past the per-command rate limit are silently dropped")
	assert.NoError(t, err)
	_ = time.Now
}
