package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agensys/mr-agent/internal/apperrors"
	"github.com/agensys/mr-agent/internal/config"
	"github.com/agensys/mr-agent/internal/metrics"
	"github.com/agensys/mr-agent/internal/replaystore"
	"github.com/agensys/mr-agent/internal/webhookfront"
)

func TestEnvOrFallsBackWhenUnset(t *testing.T) {
	t.Setenv("MR_AGENT_TEST_VAR", "")
	assert.Equal(t, "fallback", envOr("MR_AGENT_TEST_VAR_UNSET", "fallback"))

	t.Setenv("MR_AGENT_TEST_VAR", "value")
	assert.Equal(t, "value", envOr("MR_AGENT_TEST_VAR", "fallback"))
}

func TestStatusForErrorMapsEveryKnownKind(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusForError(apperrors.New(apperrors.WebhookAuth, "x")))
	assert.Equal(t, http.StatusBadRequest, statusForError(apperrors.New(apperrors.BadWebhookRequest, "x")))
	assert.Equal(t, http.StatusServiceUnavailable, statusForError(apperrors.New(apperrors.MissingConfig, "x")))
	assert.Equal(t, http.StatusInternalServerError, statusForError(apperrors.New(apperrors.Internal, "x")))
}

func TestWriteJSONEventsEncodesEmptySliceNotNull(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSONEvents(w, nil)

	var decoded []replaystore.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	assert.Empty(t, decoded)
	assert.NotEqual(t, "null\n", w.Body.String())
}

type fakeMainDispatcher struct{}

func (fakeMainDispatcher) HandlePullRequestEvent(ctx context.Context, platform, mode, pushURL string, payload map[string]any) error {
	return nil
}
func (fakeMainDispatcher) HandleIssueEvent(ctx context.Context, platform string, payload map[string]any) error {
	return nil
}
func (fakeMainDispatcher) HandleCommentEvent(ctx context.Context, platform, mode, pushURL string, payload map[string]any) error {
	return nil
}
func (fakeMainDispatcher) HandleReviewThreadEvent(ctx context.Context, platform string, resolved bool, payload map[string]any) error {
	return nil
}

func TestWebhookEventsEndpointRejectsWithoutValidToken(t *testing.T) {
	cfg := &config.Configuration{WebhookReplayToken: "secret-token"}
	store := replaystore.New(filepath.Join(t.TempDir(), "events.ndjson"), 0, 0)
	wf := webhookfront.NewRouter(webhookfront.Config{ReplayEnabled: true}, fakeMainDispatcher{}, store, zerolog.Nop(), nil)

	promReg := prometheus.NewRegistry()
	m := metrics.NewRegistry(promReg)
	router := initRouter(wf, m, promReg, cfg, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/webhook/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/webhook/events", nil)
	req2.Header.Set("X-Replay-Token", "secret-token")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestHealthEndpointReflectsConfigValidity(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	store := replaystore.New(filepath.Join(t.TempDir(), "events.ndjson"), 0, 0)
	wf := webhookfront.NewRouter(webhookfront.Config{}, fakeMainDispatcher{}, store, zerolog.Nop(), nil)
	promReg := prometheus.NewRegistry()
	m := metrics.NewRegistry(promReg)
	router := initRouter(wf, m, promReg, cfg, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
