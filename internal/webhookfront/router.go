package webhookfront

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agensys/mr-agent/internal/apperrors"
	"github.com/agensys/mr-agent/internal/replaystore"
)

const (
	PlatformGitHub = "github"
	PlatformGitLab = "gitlab"

	headerGitHubEvent     = "X-GitHub-Event"
	headerGitHubSignature = "X-Hub-Signature-256"
	headerGitHubDelivery  = "X-GitHub-Delivery"

	headerGitLabEvent = "X-Gitlab-Event"
	headerGitLabToken = "X-Gitlab-Token"

	headerAIMode   = "X-AI-Mode"
	headerPushURL  = "X-Push-Url"
)

var sensitiveHeaders = map[string]bool{
	strings.ToLower(headerGitHubSignature): true,
	strings.ToLower(headerGitLabToken):     true,
	"authorization":                        true,
	"cookie":                               true,
}

// Dispatcher is the narrow set of operations WebhookFront delegates to
// once an event has been verified, size-checked, and schema-validated.
type Dispatcher interface {
	HandlePullRequestEvent(ctx context.Context, platform string, mode, pushURL string, payload map[string]any) error
	HandleIssueEvent(ctx context.Context, platform string, payload map[string]any) error
	HandleCommentEvent(ctx context.Context, platform string, mode, pushURL string, payload map[string]any) error
	HandleReviewThreadEvent(ctx context.Context, platform string, resolved bool, payload map[string]any) error
}

// Config holds the per-platform secrets and size limits the router
// needs; it is a narrow projection of config.Configuration.
type Config struct {
	GitHubWebhookSecret        string
	GitHubWebhookMaxBodyBytes  int64
	GitHubWebhookSkipSignature bool
	GitLabWebhookSecret        string
	GitLabWebhookMaxBodyBytes  int64
	GitLabRequireWebhookSecret bool
	Environment                string

	ReplayEnabled       bool
	ReplayToken         string
	ReplayIncludeHeaders bool
}

// Router is the HTTP-facing entry point for both forge webhook sinks.
type Router struct {
	cfg        Config
	dispatcher Dispatcher
	replay     *replaystore.Store
	log        zerolog.Logger
	nowFn      func() time.Time
}

// NewRouter creates a Router. replay may be nil when the replay store
// is disabled.
func NewRouter(cfg Config, dispatcher Dispatcher, replay *replaystore.Store, log zerolog.Logger, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{cfg: cfg, dispatcher: dispatcher, replay: replay, log: log, nowFn: now}
}

// HandleGitHub is the POST /webhook/github sink.
func (r *Router) HandleGitHub(w http.ResponseWriter, req *http.Request) error {
	body, err := ReadLimited(w, req, r.cfg.GitHubWebhookMaxBodyBytes)
	if err != nil {
		return err
	}

	signature := req.Header.Get(headerGitHubSignature)
	if err := CheckGitHubSignature(r.cfg.GitHubWebhookSecret, signature, body, r.cfg.GitHubWebhookSkipSignature, r.cfg.Environment); err != nil {
		return err
	}

	eventName := req.Header.Get(headerGitHubEvent)
	payload, err := ValidateEvent(PlatformGitHub, eventName, body)
	if err != nil {
		return err
	}

	r.recordReplay(PlatformGitHub, eventName, req, body)

	mode := req.Header.Get(headerAIMode)
	pushURL := req.Header.Get(headerPushURL)
	return r.dispatch(req.Context(), PlatformGitHub, eventName, mode, pushURL, payload)
}

// HandleGitLab is the POST /webhook/gitlab sink.
func (r *Router) HandleGitLab(w http.ResponseWriter, req *http.Request) error {
	body, err := ReadLimited(w, req, r.cfg.GitLabWebhookMaxBodyBytes)
	if err != nil {
		return err
	}

	token := req.Header.Get(headerGitLabToken)
	if err := CheckGitLabToken(r.cfg.GitLabWebhookSecret, token, r.cfg.GitLabRequireWebhookSecret); err != nil {
		return err
	}

	eventName := req.Header.Get(headerGitLabEvent)
	payload, err := ValidateEvent(PlatformGitLab, eventName, body)
	if err != nil {
		return err
	}

	r.recordReplay(PlatformGitLab, eventName, req, body)

	mode := req.Header.Get(headerAIMode)
	pushURL := req.Header.Get(headerPushURL)
	return r.dispatch(req.Context(), PlatformGitLab, eventName, mode, pushURL, payload)
}

func (r *Router) dispatch(ctx context.Context, platform, eventName, mode, pushURL string, payload map[string]any) error {
	switch eventName {
	case "pull_request", "merge_request":
		if err := r.dispatcher.HandlePullRequestEvent(ctx, platform, mode, pushURL, payload); err != nil {
			return err
		}
		return maybeFinalReport(ctx, r.dispatcher, platform, mode, pushURL, payload)
	case "issues", "issue":
		return r.dispatcher.HandleIssueEvent(ctx, platform, payload)
	case "issue_comment", "note":
		return r.dispatcher.HandleCommentEvent(ctx, platform, mode, pushURL, payload)
	case "pull_request_review_thread", "pull_request_review_comment":
		resolved := payloadAction(payload) == "resolved"
		return r.dispatcher.HandleReviewThreadEvent(ctx, platform, resolved, payload)
	case "ping":
		return nil
	default:
		return nil
	}
}

// maybeFinalReport implements the "closed+merged PR -> one last report
// review" rule from spec.md §4.12's event dispatch table.
func maybeFinalReport(ctx context.Context, dispatcher Dispatcher, platform, _, pushURL string, payload map[string]any) error {
	if payloadAction(payload) != "closed" {
		return nil
	}
	pr, ok := payload["pull_request"].(map[string]any)
	if !ok {
		return nil
	}
	merged, _ := pr["merged"].(bool)
	if !merged {
		return nil
	}
	return dispatcher.HandlePullRequestEvent(ctx, platform, "report", pushURL, payload)
}

func payloadAction(payload map[string]any) string {
	action, _ := payload["action"].(string)
	return action
}

func (r *Router) recordReplay(platform, eventName string, req *http.Request, body []byte) {
	if !r.cfg.ReplayEnabled || r.replay == nil {
		return
	}
	headers := map[string]string{}
	for key := range req.Header {
		lower := strings.ToLower(key)
		if sensitiveHeaders[lower] && !r.cfg.ReplayIncludeHeaders {
			continue
		}
		headers[key] = req.Header.Get(key)
	}

	event := replaystore.Event{
		ID:         generateID(),
		Platform:   platform,
		EventName:  eventName,
		ReceivedAt: r.nowFn().UTC().Format(time.RFC3339),
		Headers:    headers,
		RawBody:    truncateBody(body, 64*1024),
	}
	if err := r.replay.Append(event); err != nil {
		r.log.Warn().Err(err).Msg("replay store append failed")
	}
}

func generateID() string { return uuid.NewString() }

func truncateBody(body []byte, max int) string {
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}

// ListReplay is the GET /webhook/events handler body, gated by the
// caller on a constant-time token check (see TokenMatches).
func (r *Router) ListReplay(platform string, limit int) ([]replaystore.Event, error) {
	if !r.cfg.ReplayEnabled || r.replay == nil {
		return nil, nil
	}
	return r.replay.List(platform, limit)
}

// TokenMatches compares the caller-supplied replay token in constant
// time, per spec.md §6.
func TokenMatches(configured, supplied string) bool {
	if configured == "" {
		return false
	}
	return VerifyGitLabToken(configured, supplied)
}

// AuthError wraps apperrors.WebhookAuth for replay-token mismatches so
// callers have a single type to branch on alongside router errors.
func AuthError(message string) error { return apperrors.New(apperrors.WebhookAuth, message) }
