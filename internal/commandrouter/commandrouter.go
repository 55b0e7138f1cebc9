// Package commandrouter parses slash commands out of issue/PR comments
// and dispatches each to its handler, gated by bot-commenter filtering,
// a per-(platform,repo,pr,user,command) rate limit, and the resolved
// policy's per-command enable/allow flags, per spec.md §4.9.
package commandrouter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agensys/mr-agent/internal/domain"
	"github.com/agensys/mr-agent/internal/managedcomment"
	"github.com/agensys/mr-agent/internal/policy"
	"github.com/agensys/mr-agent/internal/prompt"
	"github.com/agensys/mr-agent/internal/provider"
	"github.com/agensys/mr-agent/internal/ratelimit"
	"github.com/agensys/mr-agent/internal/reviewcore"
)

const (
	CommandAIReview      = "ai-review"
	CommandAsk           = "ask"
	CommandDescribe      = "describe"
	CommandChecks        = "checks"
	CommandGenerateTests = "generate_tests"
	CommandChangelog     = "changelog"
	CommandFeedback      = "feedback"
	CommandSimilarIssue  = "similar_issue"

	defaultRateLimit  = 10
	defaultRateWindow = time.Hour
)

var commandRe = regexp.MustCompile(`(?m)^/(ai-review|ask|describe|checks|generate_tests|changelog|feedback|similar_issue)\b[ \t]*(.*)$`)

// gitlabBotRe matches GitLab's own service-account naming conventions
// for project/CI bots, per spec.md §4.9.
var gitlabBotRe = regexp.MustCompile(`(?i)(^|[-_])bot$|^project_\d+_bot(_\w+)?$|gitlab[_-]ci[_-]bot`)

// Command is one parsed slash-command invocation.
type Command struct {
	Name string
	Args string
}

// Parse extracts the first recognised slash command from a comment
// body. ok is false when none was found.
func Parse(body string) (Command, bool) {
	m := commandRe.FindStringSubmatch(body)
	if m == nil {
		return Command{}, false
	}
	return Command{Name: m[1], Args: strings.TrimSpace(m[2])}, true
}

// IsBotCommenter reports whether username should be ignored as a
// command source: GitHub's own "[bot]"-suffixed accounts, or one of
// GitLab's service-account naming patterns.
func IsBotCommenter(platform, username string) bool {
	lower := strings.ToLower(username)
	if strings.HasSuffix(lower, "[bot]") {
		return true
	}
	if platform == domain.PlatformB {
		return gitlabBotRe.MatchString(lower)
	}
	return false
}

func commandEnabled(cfg policy.Config, name string) bool {
	switch name {
	case CommandAIReview:
		return cfg.Review.AIReviewCommandEnabled
	case CommandAsk:
		return cfg.Review.AskCommandEnabled
	case CommandDescribe:
		return cfg.Review.DescribeCommandEnabled
	case CommandChecks:
		return cfg.Review.ChecksCommandEnabled
	case CommandGenerateTests:
		return cfg.Review.GenerateTestsCommandEnabled
	case CommandChangelog:
		return cfg.Review.ChangelogCommandEnabled
	case CommandFeedback:
		return cfg.Review.FeedbackCommandEnabled
	case CommandSimilarIssue:
		return cfg.Review.SimilarIssueCommandEnabled
	default:
		return false
	}
}

// Context carries everything one command dispatch needs.
type Context struct {
	Platform  string
	Owner     string
	Repo      string
	Number    int
	Commenter string
	Body      string

	PolicyConfig policy.Config
	Input        domain.ReviewInput
	Settings     provider.Settings

	Reader    reviewcore.ForgeReader
	Publisher reviewcore.ForgePublisher
	Core      *reviewcore.Core
	Registry  *provider.Registry
}

// Router dispatches parsed commands.
type Router struct {
	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

// New creates a Router.
func New(limiter *ratelimit.Limiter, log zerolog.Logger) *Router {
	return &Router{limiter: limiter, log: log}
}

func rateKey(platform, owner, repo string, number int, commenter, command string) string {
	return fmt.Sprintf("%s:%s/%s#%d:%s:%s", platform, owner, repo, number, commenter, command)
}

// Handle parses cctx.Body for a slash command and, if one is found and
// not filtered out, runs it. handled is false when no recognised
// command was present, the commenter is a bot, the command is disabled
// by policy, or the caller is rate limited — in every such case err is
// nil and the caller should simply take no further action.
func (r *Router) Handle(ctx context.Context, cctx Context) (handled bool, reply string, err error) {
	if IsBotCommenter(cctx.Platform, cctx.Commenter) {
		return false, "", nil
	}

	cmd, ok := Parse(cctx.Body)
	if !ok {
		return false, "", nil
	}

	if !commandEnabled(cctx.PolicyConfig, cmd.Name) {
		return false, "", nil
	}

	key := rateKey(cctx.Platform, cctx.Owner, cctx.Repo, cctx.Number, cctx.Commenter, cmd.Name)
	if r.limiter.IsLimited(key, defaultRateLimit, defaultRateWindow) {
		return false, "", nil
	}

	reply, err = r.dispatch(ctx, cctx, cmd)
	if err != nil {
		return true, "", err
	}
	return true, reply, nil
}

func (r *Router) dispatch(ctx context.Context, cctx Context, cmd Command) (string, error) {
	switch cmd.Name {
	case CommandAsk:
		adapter, err := cctx.Registry.Dial(cctx.Settings)
		if err != nil {
			return "", err
		}
		text := prompt.BuildAskPrompt(cctx.Input, cmd.Args, nil)
		answer, err := adapter.Ask(ctx, text)
		if err != nil {
			return "", err
		}
		return r.upsertAsk(ctx, cctx, cmd.Args, answer)

	case CommandDescribe:
		adapter, err := cctx.Registry.Dial(cctx.Settings)
		if err != nil {
			return "", err
		}
		text := prompt.BuildDescribePrompt(cctx.Input)
		title, body, err := adapter.Describe(ctx, text)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("**%s**\n\n%s", title, body), nil

	case CommandChangelog:
		adapter, err := cctx.Registry.Dial(cctx.Settings)
		if err != nil {
			return "", err
		}
		text := prompt.BuildChangelogPrompt(cctx.Input)
		entries, err := adapter.Changelog(ctx, text)
		if err != nil {
			return "", err
		}
		return renderChangelog(entries), nil

	case CommandAIReview, CommandGenerateTests, CommandChecks, CommandFeedback, CommandSimilarIssue:
		// These reuse the review pipeline or a forge-specific lookup that
		// belongs to ReviewCore/the forge client, not the command router
		// itself; the caller wires cctx.Core.Run for ai-review and leaves
		// the rest to the handlers registered alongside the forge client.
		return "", nil

	default:
		return "", nil
	}
}

func (r *Router) upsertAsk(ctx context.Context, cctx Context, question, answer string) (string, error) {
	body := fmt.Sprintf("**Q:** %s\n\n**A:** %s", question, answer)
	digest := fmt.Sprintf("%x", len(answer))
	marked := managedcomment.WithMarker(body, "ask", digest)
	if err := cctx.Publisher.UpsertManagedComment(ctx, cctx.Owner, cctx.Repo, cctx.Number, "ask", digest, marked); err != nil {
		return "", err
	}
	return body, nil
}

func renderChangelog(entries []provider.ChangelogEntry) string {
	var b strings.Builder
	b.WriteString("**Changelog**\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- **%s**: %s\n", e.Kind, e.Text)
	}
	return b.String()
}
