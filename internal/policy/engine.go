package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agensys/mr-agent/internal/expiringcache"
)

const (
	cacheTTL = 5 * time.Minute
	cacheCap = 500
)

// ConfigFile lists the load order from spec.md §4.6: .mr-agent.yml then
// .mr-agent.yaml.
var ConfigFile = []string{".mr-agent.yml", ".mr-agent.yaml"}

// FileFetcher is the narrow capability the engine needs from a forge
// client: read one file's raw content at a ref, or report it is absent.
type FileFetcher interface {
	FetchFile(ctx context.Context, owner, repo, ref, path string) ([]byte, bool, error)
}

// Engine caches resolved Config per (owner/repo@ref).
type Engine struct {
	cache  *expiringcache.Cache[string, Config]
	log    zerolog.Logger
	nowFn  func() time.Time
}

// NewEngine creates an Engine backed by a fresh cache.
func NewEngine(log zerolog.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{cache: expiringcache.New[string, Config](now), log: log, nowFn: now}
}

func cacheKey(owner, repo, ref string) string {
	return fmt.Sprintf("%s/%s@%s", owner, repo, ref)
}

// Resolve returns the cached Config for (owner/repo@ref), loading and
// validating the file on a cache miss. Any parse/schema failure or
// missing file falls back to Default() — the engine never returns an
// error to the caller, mirroring spec.md §4.6's "logs and falls back".
func (e *Engine) Resolve(ctx context.Context, fetcher FileFetcher, owner, repo, ref string) Config {
	key := cacheKey(owner, repo, ref)
	e.cache.Prune(e.nowFn())
	if cfg, ok := e.cache.GetFresh(key); ok {
		return cfg
	}

	cfg := e.load(ctx, fetcher, owner, repo, ref)
	e.cache.Set(key, cfg, e.nowFn().Add(cacheTTL))
	e.cache.Trim(cacheCap)
	return cfg
}

func (e *Engine) load(ctx context.Context, fetcher FileFetcher, owner, repo, ref string) Config {
	for _, path := range ConfigFile {
		raw, found, err := fetcher.FetchFile(ctx, owner, repo, ref, path)
		if err != nil {
			e.log.Warn().Err(err).Str("path", path).Str("repo", owner+"/"+repo).Msg("policy file fetch failed")
			continue
		}
		if !found {
			continue
		}
		cfg, err := Parse(raw)
		if err != nil {
			e.log.Warn().Err(err).Str("path", path).Str("repo", owner+"/"+repo).Msg("policy file invalid, using defaults")
			return Default()
		}
		return cfg
	}
	return Default()
}

// InvalidateForTests clears the cache entry for (owner/repo@ref).
func (e *Engine) InvalidateForTests(owner, repo, ref string) {
	e.cache.Delete(cacheKey(owner, repo, ref))
}

// AutoReviewDecision is the resolved shape for an auto-review trigger.
type AutoReviewDecision struct {
	Enabled                  bool
	Mode                     string
	CustomRules              []string
	IncludeCIChecks          bool
	SecretScanEnabled        bool
	SecretScanCustomPatterns []string
	AutoLabelEnabled         bool
}

// ResolveAutoReview implements resolve_auto_review(action) for
// action ∈ {opened, edited, synchronize}.
func ResolveAutoReview(cfg Config, action string) AutoReviewDecision {
	enabled := cfg.Review.Enabled
	switch action {
	case "opened":
		enabled = enabled && cfg.Review.OnOpened
	case "edited":
		enabled = enabled && cfg.Review.OnEdited
	case "synchronize":
		enabled = enabled && cfg.Review.OnSynchronize
	default:
		enabled = false
	}
	return AutoReviewDecision{
		Enabled:                  enabled,
		Mode:                     cfg.Review.Mode,
		CustomRules:              cfg.Review.CustomRules,
		IncludeCIChecks:          cfg.Review.IncludeCIChecks,
		SecretScanEnabled:        cfg.Review.SecretScanEnabled,
		SecretScanCustomPatterns: cfg.Review.SecretScanCustomPatterns,
		AutoLabelEnabled:         cfg.Review.AutoLabelEnabled,
	}
}

// ReviewBehavior is every command toggle plus apply-permission flags.
type ReviewBehavior struct {
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

// ResolveReviewBehavior implements resolve_review_behavior().
func ResolveReviewBehavior(cfg Config) ReviewBehavior {
	return ReviewBehavior{
		AskCommandEnabled:           cfg.Review.AskCommandEnabled,
		DescribeCommandEnabled:      cfg.Review.DescribeCommandEnabled,
		ChecksCommandEnabled:        cfg.Review.ChecksCommandEnabled,
		GenerateTestsCommandEnabled: cfg.Review.GenerateTestsCommandEnabled,
		GenerateTestsAllowApply:     cfg.Review.GenerateTestsAllowApply,
		ChangelogCommandEnabled:     cfg.Review.ChangelogCommandEnabled,
		ChangelogAllowApply:         cfg.Review.ChangelogAllowApply,
		FeedbackCommandEnabled:      cfg.Review.FeedbackCommandEnabled,
		SimilarIssueCommandEnabled:  cfg.Review.SimilarIssueCommandEnabled,
		AIReviewCommandEnabled:      cfg.Review.AIReviewCommandEnabled,
	}
}

// ResolveDescribe implements resolve_describe(): describe shares the
// review command's enablement and apply semantics always require
// explicit opt-in like the other mutating commands.
func ResolveDescribe(cfg Config) (enabled bool) {
	return cfg.Review.DescribeCommandEnabled
}

// ResolveIssueSection implements resolve_issue_section().
func ResolveIssueSection(cfg Config) IssuePolicy { return cfg.Issue }

// ResolvePRSection implements resolve_pr_section().
func ResolvePRSection(cfg Config) PRPolicy { return cfg.PullRequest }
