package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agensys/mr-agent/internal/apperrors"
	"github.com/agensys/mr-agent/internal/commandrouter"
	"github.com/agensys/mr-agent/internal/config"
	forgegithub "github.com/agensys/mr-agent/internal/forge/github"
	forgegitlab "github.com/agensys/mr-agent/internal/forge/gitlab"
	"github.com/agensys/mr-agent/internal/domain"
	"github.com/agensys/mr-agent/internal/expiringcache"
	"github.com/agensys/mr-agent/internal/managedcomment"
	"github.com/agensys/mr-agent/internal/policy"
	"github.com/agensys/mr-agent/internal/primitives"
	"github.com/agensys/mr-agent/internal/provider"
	"github.com/agensys/mr-agent/internal/reviewcore"
	"github.com/agensys/mr-agent/internal/webhookfront"
)

// appDispatcher implements webhookfront.Dispatcher, translating a
// verified, schema-validated webhook payload into a ReviewCore run or a
// command-router dispatch.
type appDispatcher struct {
	cfg           *config.Configuration
	log           zerolog.Logger
	core          *reviewcore.Core
	cmdRouter     *commandrouter.Router
	policyEngine  *policy.Engine
	registry      *provider.Registry
	githubClient  *forgegithub.Client
	gitlabClient  *forgegitlab.Client
	feedbackCache *expiringcache.Cache[string, []string]
}

var _ webhookfront.Dispatcher = (*appDispatcher)(nil)

func (d *appDispatcher) forgeFor(platform string) (reviewcore.ForgeReader, reviewcore.ForgePublisher, policy.FileFetcher, bool) {
	switch platform {
	case webhookfront.PlatformGitHub:
		if d.githubClient == nil {
			return nil, nil, nil, false
		}
		return d.githubClient, d.githubClient, d.githubClient, true
	case webhookfront.PlatformGitLab:
		if d.gitlabClient == nil {
			return nil, nil, nil, false
		}
		return d.gitlabClient, d.gitlabClient, d.gitlabClient, true
	default:
		return nil, nil, nil, false
	}
}

func (d *appDispatcher) settingsFor(platform string) provider.Settings {
	switch d.cfg.AIProvider {
	case provider.KindAnthropic:
		return provider.Settings{Kind: provider.KindAnthropic, APIKey: d.cfg.AnthropicAPIKey, Model: nonEmpty(d.cfg.AnthropicModel, d.cfg.AIModel), Timeout: d.cfg.AIHTTPTimeout, Retries: d.cfg.AIHTTPRetries, Backoff: d.cfg.AIHTTPRetryBackoff}
	case provider.KindGemini:
		return provider.Settings{Kind: provider.KindGemini, APIKey: d.cfg.GeminiAPIKey, Model: nonEmpty(d.cfg.GeminiModel, d.cfg.AIModel), Timeout: d.cfg.AIHTTPTimeout, Retries: d.cfg.AIHTTPRetries, Backoff: d.cfg.AIHTTPRetryBackoff}
	case provider.KindOpenAICompat:
		return provider.Settings{Kind: provider.KindOpenAICompat, APIKey: d.cfg.OpenAIAPIKey, BaseURL: d.cfg.OpenAIBaseURL, Model: nonEmpty(d.cfg.OpenAIModel, d.cfg.AIModel), Timeout: d.cfg.AIHTTPTimeout, Retries: d.cfg.AIHTTPRetries, Backoff: d.cfg.AIHTTPRetryBackoff}
	default:
		return provider.Settings{Kind: provider.KindOpenAI, APIKey: d.cfg.OpenAIAPIKey, BaseURL: d.cfg.OpenAIBaseURL, Model: nonEmpty(d.cfg.OpenAIModel, d.cfg.AIModel), Timeout: d.cfg.AIHTTPTimeout, Retries: d.cfg.AIHTTPRetries, Backoff: d.cfg.AIHTTPRetryBackoff}
	}
}

func nonEmpty(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

func extractOwnerRepo(payload map[string]any) (owner, repo string, ok bool) {
	if repository, ok := asMap(payload["repository"]); ok {
		if fullName, ok := repository["full_name"].(string); ok {
			return splitOwnerRepo(fullName)
		}
	}
	if project, ok := asMap(payload["project"]); ok {
		if pathWithNamespace, ok := project["path_with_namespace"].(string); ok {
			return splitOwnerRepo(pathWithNamespace)
		}
	}
	return "", "", false
}

func splitOwnerRepo(fullName string) (string, string, bool) {
	idx := strings.LastIndex(fullName, "/")
	if idx < 0 {
		return "", "", false
	}
	return fullName[:idx], fullName[idx+1:], true
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asNumber(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func extractNumber(payload map[string]any) (int, bool) {
	if pr, ok := asMap(payload["pull_request"]); ok {
		if n, ok := asNumber(pr["number"]); ok {
			return n, true
		}
	}
	if attrs, ok := asMap(payload["object_attributes"]); ok {
		if n, ok := asNumber(attrs["iid"]); ok {
			return n, true
		}
	}
	if issue, ok := asMap(payload["issue"]); ok {
		if n, ok := asNumber(issue["number"]); ok {
			return n, true
		}
	}
	if n, ok := asNumber(payload["number"]); ok {
		return n, true
	}
	return 0, false
}

func extractAction(payload map[string]any) string {
	if action, ok := payload["action"].(string); ok {
		return action
	}
	if attrs, ok := asMap(payload["object_attributes"]); ok {
		if action, ok := attrs["action"].(string); ok {
			return gitlabActionToGitHubAction(action)
		}
	}
	return ""
}

func gitlabActionToGitHubAction(glAction string) string {
	switch glAction {
	case "open":
		return "opened"
	case "update":
		return "synchronize"
	case "close":
		return "closed"
	case "merge":
		return "closed"
	case "reopen":
		return "reopened"
	default:
		return glAction
	}
}

func triggerForAction(action string) string {
	switch action {
	case "opened", "reopened":
		return "opened"
	case "edited":
		return "edited"
	case "synchronize":
		return "synchronize"
	default:
		return ""
	}
}

// HandlePullRequestEvent runs the auto-review pipeline for an
// opened/edited/synchronized PR or MR, and the final report path for
// mode=="report" (routed here by webhookfront's maybeFinalReport).
func (d *appDispatcher) HandlePullRequestEvent(ctx context.Context, platform, mode, pushURL string, payload map[string]any) error {
	owner, repo, ok := extractOwnerRepo(payload)
	if !ok {
		return nil
	}
	number, ok := extractNumber(payload)
	if !ok {
		return nil
	}
	action := extractAction(payload)

	reader, publisher, fetcher, ok := d.forgeFor(platform)
	if !ok {
		return apperrors.New(apperrors.MissingConfig, "no forge client configured for platform "+platform)
	}

	policyCfg := d.policyEngine.Resolve(ctx, fetcher, owner, repo, "")

	if mode == reviewcore.ModeReport {
		req := reviewcore.Request{
			Platform: platform, Owner: owner, Repo: repo, Number: number,
			Trigger: "final-report", Mode: reviewcore.ModeReport, IsAutoTrigger: false,
			AutoLabelEnabled:  false,
			SecretScanEnabled: policyCfg.Review.SecretScanEnabled,
			CodeExtensions:    d.cfg.ReviewCodeExtensions,
			PushURL:           pushURL,
			Reader:            reader, Publisher: publisher, Settings: d.settingsFor(platform),
		}
		d.core.Run(ctx, req)
		return nil
	}

	trigger := triggerForAction(action)
	if trigger == "" {
		return nil
	}

	decision := policy.ResolveAutoReview(policyCfg, trigger)
	if !decision.Enabled {
		return nil
	}

	feedbackKey := owner + "/" + repo + "#" + strconv.Itoa(number)
	signals, _ := d.feedbackCache.GetFresh(feedbackKey)

	var ciChecks []domain.CICheck
	if decision.IncludeCIChecks {
		if meta, err := reader.FetchMetadata(ctx, owner, repo, number); err == nil {
			ciChecks = d.fetchCIChecks(ctx, platform, owner, repo, meta.HeadSHA)
		} else {
			d.log.Warn().Err(err).Str("repo", owner+"/"+repo).Msg("failed to resolve head SHA for CI checks")
		}
	}

	req := reviewcore.Request{
		Platform: platform, Owner: owner, Repo: repo, Number: number,
		Trigger: trigger, Mode: decision.Mode, IsAutoTrigger: true,
		CustomRules:              decision.CustomRules,
		FeedbackSignals:          signals,
		CIChecks:                 ciChecks,
		SecretScanEnabled:        decision.SecretScanEnabled,
		SecretScanCustomPatterns: decision.SecretScanCustomPatterns,
		AutoLabelEnabled:         decision.AutoLabelEnabled,
		CodeExtensions:           d.cfg.ReviewCodeExtensions,
		PushURL:                  pushURL,
		Reader:                   reader, Publisher: publisher, Settings: d.settingsFor(platform),
	}
	d.core.Run(ctx, req)
	return nil
}

// fetchCIChecks fetches the CI/status-check results for headSHA from
// whichever forge client platform names, mapping each provider's native
// shape into domain.CICheck. A fetch failure is logged and treated as
// "no checks" rather than failing the whole review.
func (d *appDispatcher) fetchCIChecks(ctx context.Context, platform, owner, repo, headSHA string) []domain.CICheck {
	switch platform {
	case webhookfront.PlatformGitHub:
		if d.githubClient == nil {
			return nil
		}
		runs, err := d.githubClient.CheckRuns(ctx, owner, repo, headSHA)
		if err != nil {
			d.log.Warn().Err(err).Str("repo", owner+"/"+repo).Msg("failed to fetch check runs")
			return nil
		}
		checks := make([]domain.CICheck, 0, len(runs))
		for _, r := range runs {
			checks = append(checks, domain.CICheck{
				Name:       r.GetName(),
				Status:     r.GetStatus(),
				Conclusion: r.GetConclusion(),
				DetailsURL: r.GetDetailsURL(),
				Summary:    r.GetOutput().GetSummary(),
			})
		}
		return checks

	case webhookfront.PlatformGitLab:
		if d.gitlabClient == nil {
			return nil
		}
		statuses, err := d.gitlabClient.CommitStatuses(ctx, owner, repo, headSHA)
		if err != nil {
			d.log.Warn().Err(err).Str("repo", owner+"/"+repo).Msg("failed to fetch commit statuses")
			return nil
		}
		checks := make([]domain.CICheck, 0, len(statuses))
		for _, s := range statuses {
			checks = append(checks, domain.CICheck{
				Name:       s.Name,
				Status:     s.Status,
				Conclusion: s.Status,
				DetailsURL: s.TargetURL,
				Summary:    s.Description,
			})
		}
		return checks

	default:
		return nil
	}
}

// HandleIssueEvent runs the issue body-quality check described in
// spec.md §4.6, publishing a managed comment when the body fails it.
func (d *appDispatcher) HandleIssueEvent(ctx context.Context, platform string, payload map[string]any) error {
	owner, repo, ok := extractOwnerRepo(payload)
	if !ok {
		return nil
	}
	number, ok := extractNumber(payload)
	if !ok {
		return nil
	}
	action := extractAction(payload)
	if action != "opened" && action != "edited" {
		return nil
	}

	_, publisher, fetcher, ok := d.forgeFor(platform)
	if !ok {
		return nil
	}

	policyCfg := d.policyEngine.Resolve(ctx, fetcher, owner, repo, "")
	issuePolicy := policy.ResolveIssueSection(policyCfg)
	if !issuePolicy.Enabled {
		return nil
	}

	issue, _ := asMap(payload["issue"])
	title, _ := issue["title"].(string)
	body, _ := issue["body"].(string)

	problems := policy.CheckBody(title, body, issuePolicy.MinBodyLength, issuePolicy.RequiredSections, "", primitives.ResolveLocale(d.cfg.Locale))
	if len(problems) == 0 {
		return nil
	}

	marked := managedcomment.WithMarker(renderProblems(problems), "issue-body-check", "")
	return publisher.UpsertManagedComment(ctx, owner, repo, number, "issue-body-check", "", marked)
}

// HandleCommentEvent routes an issue/MR comment through the
// command router.
func (d *appDispatcher) HandleCommentEvent(ctx context.Context, platform, mode, pushURL string, payload map[string]any) error {
	owner, repo, ok := extractOwnerRepo(payload)
	if !ok {
		return nil
	}
	number, ok := extractNumber(payload)
	if !ok {
		return nil
	}

	comment, _ := asMap(payload["comment"])
	body, _ := comment["body"].(string)
	if body == "" {
		if note, ok := payload["object_attributes"].(map[string]any); ok {
			body, _ = note["note"].(string)
		}
	}
	commenter := commentAuthor(payload)

	reader, publisher, fetcher, ok := d.forgeFor(platform)
	if !ok {
		return nil
	}
	policyCfg := d.policyEngine.Resolve(ctx, fetcher, owner, repo, "")

	meta, err := reader.FetchMetadata(ctx, owner, repo, number)
	if err != nil {
		return err
	}

	cctx := commandrouter.Context{
		Platform: platform, Owner: owner, Repo: repo, Number: number,
		Commenter: commenter, Body: body,
		PolicyConfig: policyCfg,
		Input: domain.ReviewInput{
			Platform: platform, Owner: owner, Repo: repo, Number: number,
			Title: meta.Title, Body: meta.Body, Author: meta.Author,
			BaseBranch: meta.BaseBranch, HeadBranch: meta.HeadBranch,
		},
		Settings:  d.settingsFor(platform),
		Reader:    reader,
		Publisher: publisher,
		Core:      d.core,
		Registry:  d.registry,
	}

	handled, _, err := d.cmdRouter.Handle(ctx, cctx)
	if !handled {
		return nil
	}
	return err
}

func commentAuthor(payload map[string]any) string {
	if comment, ok := asMap(payload["comment"]); ok {
		if user, ok := asMap(comment["user"]); ok {
			if login, ok := user["login"].(string); ok {
				return login
			}
		}
	}
	if user, ok := asMap(payload["user"]); ok {
		if username, ok := user["username"].(string); ok {
			return username
		}
	}
	return ""
}

// HandleReviewThreadEvent records a resolved review thread as a
// feedback signal for the next review run on the same PR/MR, per
// spec.md §4.7's feedback-signal section.
func (d *appDispatcher) HandleReviewThreadEvent(ctx context.Context, platform string, resolved bool, payload map[string]any) error {
	if !resolved {
		return nil
	}
	owner, repo, ok := extractOwnerRepo(payload)
	if !ok {
		return nil
	}
	number, ok := extractNumber(payload)
	if !ok {
		return nil
	}

	key := owner + "/" + repo + "#" + strconv.Itoa(number)
	signals, _ := d.feedbackCache.GetFresh(key)
	signals = append(signals, "A review thread was marked resolved without a corresponding code change being visible yet.")
	if len(signals) > 20 {
		signals = signals[len(signals)-20:]
	}
	d.feedbackCache.Set(key, signals, time.Now().Add(24*time.Hour))
	return nil
}

func renderProblems(problems []string) string {
	var b strings.Builder
	b.WriteString("This description doesn't meet the repository's quality bar:\n\n")
	for _, p := range problems {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}
