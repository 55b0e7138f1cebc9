package reviewcore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agensys/mr-agent/internal/concurrency"
	"github.com/agensys/mr-agent/internal/dedupe"
	"github.com/agensys/mr-agent/internal/domain"
	"github.com/agensys/mr-agent/internal/expiringcache"
	"github.com/agensys/mr-agent/internal/notifier"
	"github.com/agensys/mr-agent/internal/provider"
	"github.com/agensys/mr-agent/internal/runtimestate"
)

type fakeReader struct {
	meta         Metadata
	metaErr      error
	files        []RawFile
	truncated    bool
	filesErr     error
	fetchedSince []string
}

func (f *fakeReader) FetchMetadata(ctx context.Context, owner, repo string, number int) (Metadata, error) {
	return f.meta, f.metaErr
}

func (f *fakeReader) FetchFiles(ctx context.Context, owner, repo string, number int, sinceSHA string) ([]RawFile, bool, error) {
	f.fetchedSince = append(f.fetchedSince, sinceSHA)
	return f.files, f.truncated, f.filesErr
}

type fakePublisher struct {
	upserts       []string
	lineComments  int
	labelsApplied []string
}

func (f *fakePublisher) UpsertManagedComment(ctx context.Context, owner, repo string, number int, kind, digest, body string) error {
	f.upserts = append(f.upserts, kind)
	return nil
}

func (f *fakePublisher) PublishLineComment(ctx context.Context, owner, repo string, number int, file string, side string, line int, body string) error {
	f.lineComments++
	return nil
}

func (f *fakePublisher) SetLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	f.labelsApplied = labels
	return nil
}

func newTestCore(now func() time.Time) *Core {
	store := runtimestate.New(now)
	dd := dedupe.New(store, now, 1000)
	head := expiringcache.New[string, string](now)
	registry := provider.NewRegistry()
	limiter := concurrency.New(4)
	notify := notifier.New(nil, notifier.FormatGeneric, zerolog.Nop())
	return New(dd, head, registry, limiter, notify, zerolog.Nop(), now)
}

func TestRunSkipsDuplicateRequest(t *testing.T) {
	core := newTestCore(nil)
	reader := &fakeReader{meta: Metadata{}}
	publisher := &fakePublisher{}
	req := Request{Platform: "github", Owner: "acme", Repo: "demo", Number: 1, Trigger: "opened", Mode: ModeComment, Reader: reader, Publisher: publisher}

	first := core.Run(context.Background(), req)
	assert.True(t, first.OK)
	assert.False(t, first.Skipped)

	second := core.Run(context.Background(), req)
	assert.True(t, second.OK)
	assert.True(t, second.Skipped, "a second identical request inside the dedupe window must be skipped")
}

func TestRunSkipsDraftPROnAutoTrigger(t *testing.T) {
	core := newTestCore(nil)
	reader := &fakeReader{meta: Metadata{IsDraft: true}}
	publisher := &fakePublisher{}
	req := Request{Platform: "github", Owner: "acme", Repo: "demo", Number: 2, Trigger: "opened", Mode: ModeComment, IsAutoTrigger: true, Reader: reader, Publisher: publisher}

	outcome := core.Run(context.Background(), req)
	assert.True(t, outcome.Skipped)
	assert.Equal(t, "skipped draft PR", outcome.Message)

	// The dedupe reservation is cleared on a draft skip, so an immediate
	// retry with the same key is processed again rather than suppressed.
	reader2 := &fakeReader{meta: Metadata{IsDraft: true}}
	req.Reader = reader2
	outcome2 := core.Run(context.Background(), req)
	assert.True(t, outcome2.Skipped)
	assert.Equal(t, "skipped draft PR", outcome2.Message)
}

func TestRunSkipsWhenNoReviewableDiff(t *testing.T) {
	core := newTestCore(nil)
	reader := &fakeReader{meta: Metadata{HeadSHA: "abc123"}, files: []RawFile{
		{NewPath: "README.md", Patch: "@@ -1 +1 @@\n-old\n+new\n"},
	}}
	publisher := &fakePublisher{}
	req := Request{Platform: "github", Owner: "acme", Repo: "demo", Number: 3, Trigger: "opened", Mode: ModeComment, Reader: reader, Publisher: publisher}

	outcome := core.Run(context.Background(), req)
	assert.True(t, outcome.OK)
	assert.Equal(t, "no reviewable diff", outcome.Message)
}

func TestRunFetchesIncrementalSinceLastKnownHead(t *testing.T) {
	core := newTestCore(nil)
	head := headCacheKey("acme", "demo", 4)
	core.incrementalHead.Set(head, "sha-old", time.Now().Add(time.Hour))

	reader := &fakeReader{meta: Metadata{HeadSHA: "sha-new"}}
	publisher := &fakePublisher{}
	req := Request{Platform: "github", Owner: "acme", Repo: "demo", Number: 4, Trigger: "synchronize", Mode: ModeComment, Reader: reader, Publisher: publisher}

	core.Run(context.Background(), req)
	require.Len(t, reader.fetchedSince, 1)
	assert.Equal(t, "sha-old", reader.fetchedSince[0], "a synchronize trigger with a cached, differing head fetches only the incremental diff")
}

func TestRunFailurePublishesSanitizedErrorAndClearsDedupe(t *testing.T) {
	core := newTestCore(nil)
	reader := &fakeReader{metaErr: assertCustomError("boom, full of internal detail")}
	publisher := &fakePublisher{}
	req := Request{Platform: "github", Owner: "acme", Repo: "demo", Number: 5, Trigger: "opened", Mode: ModeComment, Reader: reader, Publisher: publisher}

	outcome := core.Run(context.Background(), req)
	assert.False(t, outcome.OK)
	assert.Equal(t, "internal execution error", outcome.Message, "an error outside the whitelist is never echoed verbatim")
	require.Len(t, publisher.upserts, 1)
	assert.Equal(t, "error", publisher.upserts[0])
}

type customError struct{ msg string }

func (e customError) Error() string { return e.msg }

func assertCustomError(msg string) error { return customError{msg: msg} }

func TestSanitizeErrorAllowsWhitelistedMessages(t *testing.T) {
	assert.Equal(t, "Missing GITHUB_TOKEN", sanitizeError(customError{"Missing GITHUB_TOKEN"}))
	assert.Equal(t, "internal execution error", sanitizeError(customError{"some other failure detail"}))
}

func TestBuildDiffFilesRespectsFileCap(t *testing.T) {
	var raws []RawFile
	for i := 0; i < maxFiles+5; i++ {
		raws = append(raws, RawFile{NewPath: "a.go", Patch: "@@ -1 +1 @@\n-x\n+y\n"})
	}
	files := buildDiffFiles(raws, []string{".go"})
	assert.Len(t, files, maxFiles)
}

func TestBuildDiffFilesSkipsNonCodeNonProcessFiles(t *testing.T) {
	raws := []RawFile{
		{NewPath: "image.png", Patch: "binary"},
		{NewPath: "main.go", Patch: "@@ -1 +1 @@\n-x\n+y\n"},
		{NewPath: ".github/workflows/ci.yml", Patch: "@@ -1 +1 @@\n-a\n+b\n"},
	}
	files := buildDiffFiles(raws, []string{".go"})
	require.Len(t, files, 2)
	assert.Equal(t, "main.go", files[0].NewPath)
	assert.Equal(t, ".github/workflows/ci.yml", files[1].NewPath)
}

func TestDeriveLabelsFromTitleAndRisk(t *testing.T) {
	files := []domain.DiffFile{{NewPath: "a.go"}}
	labels := deriveLabels("fix: nil pointer crash", files, domain.SeverityHigh, true)
	assert.Contains(t, labels, "bugfix")
	assert.Contains(t, labels, "security")
	assert.Contains(t, labels, "needs-attention")
}

func TestDeriveLabelsDocsOnlyChange(t *testing.T) {
	files := []domain.DiffFile{{NewPath: "docs/guide.md"}, {NewPath: "README.md"}}
	labels := deriveLabels("update docs", files, domain.SeverityLow, false)
	assert.Contains(t, labels, "docs")
}
