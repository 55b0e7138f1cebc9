package policy

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	content map[string][]byte
	calls   int
}

func (f *fakeFetcher) FetchFile(ctx context.Context, owner, repo, ref, path string) ([]byte, bool, error) {
	f.calls++
	content, ok := f.content[path]
	return content, ok, nil
}

func TestResolveFallsBackToDefaultWhenNoConfigFilePresent(t *testing.T) {
	e := NewEngine(zerolog.Nop(), nil)
	fetcher := &fakeFetcher{content: map[string][]byte{}}

	cfg := e.Resolve(context.Background(), fetcher, "acme", "demo", "main")
	assert.Equal(t, Default(), cfg)
}

func TestResolveParsesFirstMatchingConfigFile(t *testing.T) {
	e := NewEngine(zerolog.Nop(), nil)
	fetcher := &fakeFetcher{content: map[string][]byte{
		".mr-agent.yml": []byte("review:\n  ask_command_enabled: false\n"),
	}}

	cfg := e.Resolve(context.Background(), fetcher, "acme", "demo", "main")
	assert.False(t, cfg.Review.AskCommandEnabled)
}

func TestResolveFallsBackToDefaultOnInvalidConfigFile(t *testing.T) {
	e := NewEngine(zerolog.Nop(), nil)
	fetcher := &fakeFetcher{content: map[string][]byte{
		".mr-agent.yml": []byte("review:\n  bogus_key: true\n"),
	}}

	cfg := e.Resolve(context.Background(), fetcher, "acme", "demo", "main")
	assert.Equal(t, Default(), cfg)
}

func TestResolveCachesWithinTTL(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	e := NewEngine(zerolog.Nop(), clock)
	fetcher := &fakeFetcher{content: map[string][]byte{}}

	e.Resolve(context.Background(), fetcher, "acme", "demo", "main")
	e.Resolve(context.Background(), fetcher, "acme", "demo", "main")
	assert.Equal(t, 1, fetcher.calls, "a second resolve within the cache TTL must not refetch")
}

func TestInvalidateForTestsForcesRefetch(t *testing.T) {
	e := NewEngine(zerolog.Nop(), nil)
	fetcher := &fakeFetcher{content: map[string][]byte{}}

	e.Resolve(context.Background(), fetcher, "acme", "demo", "main")
	e.InvalidateForTests("acme", "demo", "main")
	e.Resolve(context.Background(), fetcher, "acme", "demo", "main")
	assert.Equal(t, 2, fetcher.calls)
}

func TestResolveAutoReviewGatesOnActionAndFlag(t *testing.T) {
	cfg := Default()
	cfg.Review.OnSynchronize = false

	decision := ResolveAutoReview(cfg, "opened")
	assert.True(t, decision.Enabled)

	decision = ResolveAutoReview(cfg, "synchronize")
	assert.False(t, decision.Enabled)

	decision = ResolveAutoReview(cfg, "closed")
	assert.False(t, decision.Enabled, "an unrecognised action is never treated as an auto-review trigger")
}

func TestResolveReviewBehaviorMirrorsConfig(t *testing.T) {
	cfg := Default()
	cfg.Review.AskCommandEnabled = false
	behavior := ResolveReviewBehavior(cfg)
	assert.False(t, behavior.AskCommandEnabled)
}

func TestResolveIssueAndPRSections(t *testing.T) {
	cfg := Default()
	require.Equal(t, cfg.Issue, ResolveIssueSection(cfg))
	require.Equal(t, cfg.PullRequest, ResolvePRSection(cfg))
}
