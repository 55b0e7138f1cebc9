// Package reviewcore orchestrates one review run: dedupe reservation,
// incremental-diff fetch, prompt/provider call, publication, and the
// incremental-head/notification bookkeeping, per spec.md §4.10.
package reviewcore

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agensys/mr-agent/internal/apperrors"
	"github.com/agensys/mr-agent/internal/concurrency"
	"github.com/agensys/mr-agent/internal/dedupe"
	"github.com/agensys/mr-agent/internal/domain"
	"github.com/agensys/mr-agent/internal/expiringcache"
	"github.com/agensys/mr-agent/internal/managedcomment"
	"github.com/agensys/mr-agent/internal/notifier"
	"github.com/agensys/mr-agent/internal/patchcodec"
	"github.com/agensys/mr-agent/internal/prompt"
	"github.com/agensys/mr-agent/internal/provider"
	"github.com/agensys/mr-agent/internal/secretscan"
)

const (
	ModeComment = "comment"
	ModeReport  = "report"

	defaultDedupeTTL    = 5 * time.Minute
	mergedReportTTL     = 24 * time.Hour
	maxFiles            = 40
	perFilePatchCap     = 4000
	totalPatchCap       = 60000
	maxLabels           = 8
	incrementalCacheCap = 2000
)

// Metadata is the subset of PR/MR metadata the core needs.
type Metadata struct {
	Title      string
	Body       string
	Author     string
	BaseBranch string
	HeadBranch string
	HeadSHA    string
	IsDraft    bool
}

// RawFile is one changed file as reported by the forge, before
// PatchCodec has touched it.
type RawFile struct {
	NewPath   string
	OldPath   string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// ForgeReader is the read surface ReviewCore needs from a forge client.
type ForgeReader interface {
	FetchMetadata(ctx context.Context, owner, repo string, number int) (Metadata, error)
	FetchFiles(ctx context.Context, owner, repo string, number int, sinceSHA string) (files []RawFile, truncated bool, err error)
}

// ForgePublisher is the write surface ReviewCore needs from a forge
// client.
type ForgePublisher interface {
	UpsertManagedComment(ctx context.Context, owner, repo string, number int, kind, digest, body string) error
	PublishLineComment(ctx context.Context, owner, repo string, number int, file string, side string, line int, body string) error
	SetLabels(ctx context.Context, owner, repo string, number int, labels []string) error
}

// Request describes one orchestration invocation.
type Request struct {
	Platform   string
	Owner      string
	Repo       string
	Number     int
	Trigger    string // "opened" | "edited" | "synchronize" | "command" | "final-report"
	Mode       string // comment | report
	Suffix     string // distinguishes concurrent commands on the same (platform,repo,pr,mode)
	IsAutoTrigger bool

	CustomRules              []string
	FeedbackSignals          []string
	CIChecks                 []domain.CICheck
	ProcessGuidelines        []domain.ProcessGuideline
	SecretScanEnabled        bool
	SecretScanCustomPatterns []string
	AutoLabelEnabled         bool
	CodeExtensions           []string

	PushURL string

	Reader    ForgeReader
	Publisher ForgePublisher
	Settings  provider.Settings
}

// Outcome summarises what happened, for the HTTP envelope and tests.
type Outcome struct {
	OK             bool
	Skipped        bool
	Message        string
	Published      bool
	SkippedIssues  int
	Labels         []string
	SecretFindings []secretscan.Finding
}

// Core holds the process-wide shared state ReviewCore mutates.
type Core struct {
	dedupe          *dedupe.Dedupe
	incrementalHead *expiringcache.Cache[string, string]
	registry        *provider.Registry
	limiter         *concurrency.Limiter
	notify          *notifier.Notifier
	log             zerolog.Logger
	nowFn           func() time.Time
}

// New creates a Core.
func New(dedupe *dedupe.Dedupe, incrementalHead *expiringcache.Cache[string, string], registry *provider.Registry, limiter *concurrency.Limiter, notify *notifier.Notifier, log zerolog.Logger, now func() time.Time) *Core {
	if now == nil {
		now = time.Now
	}
	return &Core{dedupe: dedupe, incrementalHead: incrementalHead, registry: registry, limiter: limiter, notify: notify, log: log, nowFn: now}
}

func requestKey(req Request) string {
	key := fmt.Sprintf("%s:%s/%s#%d:%s:%s", req.Platform, req.Owner, req.Repo, req.Number, req.Mode, req.Trigger)
	if req.Suffix != "" {
		key += ":" + req.Suffix
	}
	return key
}

func dedupeTTL(mode string) time.Duration {
	if mode == ModeReport {
		return mergedReportTTL
	}
	return defaultDedupeTTL
}

func headCacheKey(owner, repo string, number int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, number)
}

// Run executes the full state machine from spec.md §4.10.
func (c *Core) Run(ctx context.Context, req Request) Outcome {
	key := requestKey(req)
	if c.dedupe.IsDuplicate(key, dedupeTTL(req.Mode)) {
		return Outcome{OK: true, Skipped: true, Message: "already executed"}
	}

	meta, err := req.Reader.FetchMetadata(ctx, req.Owner, req.Repo, req.Number)
	if err != nil {
		return c.fail(ctx, req, key, err)
	}

	if req.IsAutoTrigger && meta.IsDraft {
		c.dedupe.Clear(key)
		return Outcome{OK: true, Skipped: true, Message: "skipped draft PR"}
	}

	sinceSHA := ""
	if req.Trigger == "synchronize" || req.Trigger == "edited" {
		if sha, ok := c.incrementalHead.GetFresh(headCacheKey(req.Owner, req.Repo, req.Number)); ok && sha != meta.HeadSHA {
			sinceSHA = sha
		}
	}

	rawFiles, truncated, err := req.Reader.FetchFiles(ctx, req.Owner, req.Repo, req.Number, sinceSHA)
	if err != nil {
		return c.fail(ctx, req, key, err)
	}

	files := buildDiffFiles(rawFiles, req.CodeExtensions)
	if len(files) == 0 {
		c.rememberHead(req, meta.HeadSHA)
		return Outcome{OK: true, Message: "no reviewable diff"}
	}

	input := domain.ReviewInput{
		Platform:          req.Platform,
		Owner:             req.Owner,
		Repo:              req.Repo,
		Number:            req.Number,
		Title:             meta.Title,
		Body:              meta.Body,
		Author:            meta.Author,
		BaseBranch:        meta.BaseBranch,
		HeadBranch:        meta.HeadBranch,
		Files:             files,
		CustomRules:       req.CustomRules,
		FeedbackSignals:   req.FeedbackSignals,
		CIChecks:          req.CIChecks,
		ProcessGuidelines: req.ProcessGuidelines,
		ListTruncated:     truncated,
	}
	for _, f := range files {
		input.TotalAdditions += f.Additions
		input.TotalDeletions += f.Deletions
	}

	text := prompt.BuildReviewPrompt(input, isProcessTemplateFile)

	var result domain.ReviewResult
	acquireErr := c.limiter.WithLimit(ctx, func(ctx context.Context) error {
		adapter, err := c.registry.Dial(req.Settings)
		if err != nil {
			return err
		}
		result, err = adapter.Analyze(ctx, input, text)
		return err
	})
	if acquireErr != nil {
		return c.fail(ctx, req, key, acquireErr)
	}

	outcome := c.publish(ctx, req, input, result)

	if req.SecretScanEnabled {
		findings := scanSecrets(files, req.SecretScanCustomPatterns)
		outcome.SecretFindings = findings
		if len(findings) > 0 {
			c.publishSecretFindings(ctx, req, findings)
		}
	}

	if req.AutoLabelEnabled {
		labels := deriveLabels(meta.Title, files, result.RiskLevel, len(outcome.SecretFindings) > 0)
		outcome.Labels = labels
		if len(labels) > 0 {
			if err := req.Publisher.SetLabels(ctx, req.Owner, req.Repo, req.Number, labels); err != nil {
				c.log.Warn().Err(err).Msg("set labels failed")
			}
		}
	}

	c.rememberHead(req, meta.HeadSHA)
	c.notify.Publish(ctx, req.PushURL, meta.Author, req.Owner+"/"+req.Repo, meta.HeadBranch, meta.BaseBranch, result.Summary)

	outcome.OK = true
	return outcome
}

func (c *Core) rememberHead(req Request, headSHA string) {
	if headSHA == "" {
		return
	}
	c.incrementalHead.Set(headCacheKey(req.Owner, req.Repo, req.Number), headSHA, c.nowFn().Add(24*time.Hour))
	c.incrementalHead.Trim(incrementalCacheCap)
}

// sanitizedErrorWhitelist mirrors the allow-list in spec.md §7: only
// messages matching one of these patterns are echoed to the user.
var sanitizedErrorWhitelist = []*regexp.Regexp{
	regexp.MustCompile(`^Missing [A-Z0-9_]+`),
	regexp.MustCompile(`^Unsupported AI_PROVIDER`),
	regexp.MustCompile(`^Model returned empty`),
	regexp.MustCompile(`^Model response is not valid JSON`),
}

func sanitizeError(err error) string {
	msg := err.Error()
	for _, re := range sanitizedErrorWhitelist {
		if re.MatchString(msg) {
			return msg
		}
	}
	return "internal execution error"
}

func (c *Core) fail(ctx context.Context, req Request, key string, err error) Outcome {
	c.dedupe.Clear(key)
	sanitized := sanitizeError(err)
	body := managedcomment.WithMarker("Review failed: "+sanitized, "error", "")
	if pubErr := req.Publisher.UpsertManagedComment(ctx, req.Owner, req.Repo, req.Number, "error", "", body); pubErr != nil {
		c.log.Warn().Err(pubErr).Msg("failed to publish error comment")
	}
	c.notify.Publish(ctx, req.PushURL, "", req.Owner+"/"+req.Repo, "", "", "Review failed: "+sanitized)
	c.log.Error().Err(err).Str("kind", string(apperrors.KindOf(err))).Msg("review orchestration failed")
	return Outcome{OK: false, Message: sanitized}
}

func (c *Core) publish(ctx context.Context, req Request, input domain.ReviewInput, result domain.ReviewResult) Outcome {
	if req.Mode == ModeReport {
		digest := fmt.Sprintf("%x", len(result.Reviews))
		body := renderReportBody(result)
		if err := req.Publisher.UpsertManagedComment(ctx, req.Owner, req.Repo, req.Number, "report", digest, body); err != nil {
			c.log.Warn().Err(err).Msg("failed to upsert report comment")
		}
		return Outcome{Published: true}
	}

	skipped := 0
	byFile := indexDiffFiles(input.Files)
	for _, issue := range result.Reviews {
		file, ok := byFile[issue.NewPath]
		if !ok {
			file, ok = byFile[issue.OldPath]
		}
		if !ok {
			skipped++
			continue
		}
		pIssue := patchcodec.Issue{Side: patchcodec.IssueSide(issue.Type), StartLine: issue.StartLine, EndLine: issue.EndLine}
		parsed := patchcodec.ParsedPatch{OldLinesByNumber: file.OldLinesByNumber, NewLinesByNumber: file.NewLinesByNumber}
		line, ok := patchcodec.ResolveLine(parsed, pIssue)
		if !ok {
			skipped++
			continue
		}
		body := renderIssueBody(issue)
		if err := req.Publisher.PublishLineComment(ctx, req.Owner, req.Repo, req.Number, issue.NewPath, issue.Type, line, body); err != nil {
			c.log.Warn().Err(err).Str("file", issue.NewPath).Msg("failed to publish line comment")
		}
	}
	return Outcome{Published: true, SkippedIssues: skipped}
}

func (c *Core) publishSecretFindings(ctx context.Context, req Request, findings []secretscan.Finding) {
	var b strings.Builder
	b.WriteString("Potential secrets found in this change:\n\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "- `%s:%d` (%s): `%s`\n", f.File, f.Line, f.Rule, f.Redacted)
	}
	body := managedcomment.WithMarker(b.String(), "secret-scan", "")
	if err := req.Publisher.UpsertManagedComment(ctx, req.Owner, req.Repo, req.Number, "secret-scan", "", body); err != nil {
		c.log.Warn().Err(err).Msg("failed to publish secret-scan comment")
	}
}

func renderReportBody(result domain.ReviewResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Risk level:** %s\n\n%s\n", result.RiskLevel, result.Summary)
	if len(result.Positives) > 0 {
		b.WriteString("\n**Positives**\n")
		for _, p := range result.Positives {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if len(result.ActionItems) > 0 {
		b.WriteString("\n**Action items**\n")
		for _, a := range result.ActionItems {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	return managedcomment.WithMarker(b.String(), "report", "")
}

func renderIssueBody(issue domain.ReviewIssue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**[%s] %s**\n\n%s\n", strings.ToUpper(issue.Severity), issue.IssueHeader, issue.IssueContent)
	if issue.Suggestion != "" {
		fmt.Fprintf(&b, "\n```suggestion\n%s\n```\n", issue.Suggestion)
	}
	return b.String()
}

func indexDiffFiles(files []domain.DiffFile) map[string]domain.DiffFile {
	out := make(map[string]domain.DiffFile, len(files))
	for _, f := range files {
		out[f.NewPath] = f
	}
	return out
}

var processTemplatePatterns = []string{
	".github/", "CODEOWNERS", ".gitlab-ci.yml", "PULL_REQUEST_TEMPLATE", "pull_request_template",
}

func isProcessTemplateFile(path string) bool {
	for _, p := range processTemplatePatterns {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func isReviewTarget(path string, codeExtensions []string) bool {
	if isProcessTemplateFile(path) {
		return true
	}
	ext := filepath.Ext(path)
	for _, allowed := range codeExtensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

// buildDiffFiles applies the file/patch caps from spec.md §4.10 and
// runs PatchCodec over each surviving file.
func buildDiffFiles(rawFiles []RawFile, codeExtensions []string) []domain.DiffFile {
	var out []domain.DiffFile
	totalBytes := 0

	for _, raw := range rawFiles {
		if len(out) >= maxFiles {
			break
		}
		if !isReviewTarget(raw.NewPath, codeExtensions) {
			continue
		}

		patch := raw.Patch
		if len(patch) > perFilePatchCap {
			patch = patchcodec.PrioritiseHunks(patch, perFilePatchCap)
		}
		if totalBytes+len(patch) > totalPatchCap {
			break
		}
		totalBytes += len(patch)

		parsed := patchcodec.Parse(raw.Patch)
		promptParsed := patchcodec.Parse(patch)

		out = append(out, domain.DiffFile{
			NewPath:          raw.NewPath,
			OldPath:          raw.OldPath,
			Status:           raw.Status,
			Additions:        raw.Additions,
			Deletions:        raw.Deletions,
			Patch:            raw.Patch,
			ExtendedDiff:     promptParsed.ExtendedDiff,
			OldLinesByNumber: parsed.OldLinesByNumber,
			NewLinesByNumber: parsed.NewLinesByNumber,
		})
	}
	return out
}

func scanSecrets(files []domain.DiffFile, customPatterns []string) []secretscan.Finding {
	var extra []secretscan.Rule
	for i, pattern := range customPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		extra = append(extra, secretscan.Rule{Name: fmt.Sprintf("custom_%d", i), Pattern: re})
	}
	scanner := secretscan.New(extra...)

	seen := make(map[string]bool)
	var findings []secretscan.Finding
	for _, f := range files {
		for _, finding := range scanner.ScanAddedLines(f.NewPath, f.NewLinesByNumber) {
			key := fmt.Sprintf("%s:%d:%s:%s", finding.File, finding.Line, finding.Rule, finding.Redacted)
			if seen[key] {
				continue
			}
			seen[key] = true
			findings = append(findings, finding)
			if len(findings) >= 10 {
				return findings
			}
		}
	}
	return findings
}

var (
	bugfixTitleRe   = regexp.MustCompile(`(?i)\b(fix|bug|hotfix)\b`)
	featureTitleRe  = regexp.MustCompile(`(?i)\b(feat|feature)\b`)
	refactorTitleRe = regexp.MustCompile(`(?i)\brefactor\b`)
)

func deriveLabels(title string, files []domain.DiffFile, riskLevel string, hasSecretFindings bool) []string {
	var labels []string
	switch {
	case bugfixTitleRe.MatchString(title):
		labels = append(labels, "bugfix")
	case featureTitleRe.MatchString(title):
		labels = append(labels, "feature")
	case refactorTitleRe.MatchString(title):
		labels = append(labels, "refactor")
	}

	if allDocs(files) {
		labels = append(labels, "docs")
	}
	if hasSecretFindings {
		labels = append(labels, "security")
	}
	if riskLevel == domain.SeverityHigh {
		labels = append(labels, "needs-attention")
	}

	if len(labels) > maxLabels {
		labels = labels[:maxLabels]
	}
	return labels
}

func allDocs(files []domain.DiffFile) bool {
	if len(files) == 0 {
		return false
	}
	for _, f := range files {
		if !strings.HasSuffix(strings.ToLower(f.NewPath), ".md") && !strings.Contains(strings.ToLower(f.NewPath), "/docs/") {
			return false
		}
	}
	return true
}
