// Command mr-agent is the standalone webhook service: it receives
// GitHub/GitLab events, runs the review pipeline against the
// configured AI provider, and publishes results back to the forge,
// replacing the teacher plugin's Mattermost-hosted HTTP surface
// (server/api.go, server/plugin.go) with a plain net/http process.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agensys/mr-agent/internal/apperrors"
	"github.com/agensys/mr-agent/internal/commandrouter"
	"github.com/agensys/mr-agent/internal/concurrency"
	"github.com/agensys/mr-agent/internal/config"
	"github.com/agensys/mr-agent/internal/dedupe"
	"github.com/agensys/mr-agent/internal/expiringcache"
	forgegithub "github.com/agensys/mr-agent/internal/forge/github"
	forgegitlab "github.com/agensys/mr-agent/internal/forge/gitlab"
	"github.com/agensys/mr-agent/internal/httpclient"
	"github.com/agensys/mr-agent/internal/logging"
	"github.com/agensys/mr-agent/internal/metrics"
	"github.com/agensys/mr-agent/internal/notifier"
	"github.com/agensys/mr-agent/internal/policy"
	"github.com/agensys/mr-agent/internal/provider"
	"github.com/agensys/mr-agent/internal/ratelimit"
	"github.com/agensys/mr-agent/internal/replaystore"
	"github.com/agensys/mr-agent/internal/reviewcore"
	"github.com/agensys/mr-agent/internal/runtimestate"
	"github.com/agensys/mr-agent/internal/webhookfront"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		println("bootstrap: config load failed:", err.Error())
		return 1
	}

	log := logging.New(envOr("LOG_LEVEL", "info"), cfg.Environment != "production")

	if err := cfg.IsValid(); err != nil {
		log.Error().Err(err).Msg("bootstrap: invalid configuration")
		return 1
	}

	now := time.Now
	state := runtimestate.New(now)
	dd := dedupe.New(state, now, 20000)
	limiter := ratelimit.New(state, now)
	incrementalHead := expiringcache.New[string, string](now)
	feedbackCache := expiringcache.New[string, []string](now)

	httpClient := httpclient.New(nil)
	registry := provider.NewRegistry()
	concurrencyLimiter := concurrency.New(cfg.AIMaxConcurrency)
	notify := notifier.New(httpClient, cfg.NotifyWebhookFormat, log)
	policyEngine := policy.NewEngine(log, now)

	core := reviewcore.New(dd, incrementalHead, registry, concurrencyLimiter, notify, log, now)
	cmdRouter := commandrouter.New(limiter, log)

	var githubClient *forgegithub.Client
	if cfg.GitHubToken != "" {
		c, err := forgegithub.NewClient(cfg.GitHubToken, cfg.GitHubAPIURL)
		if err != nil {
			log.Error().Err(err).Msg("bootstrap: github client init failed")
			return 1
		}
		githubClient = c
	}

	var gitlabClient *forgegitlab.Client
	if cfg.GitLabToken != "" {
		c, err := forgegitlab.NewClient(cfg.GitLabToken, cfg.GitLabBaseURL, cfg.AllowInsecureGitLabHTTP)
		if err != nil {
			log.Error().Err(err).Msg("bootstrap: gitlab client init failed")
			return 1
		}
		gitlabClient = c
	}

	if githubClient == nil && gitlabClient == nil {
		log.Warn().Msg("bootstrap: no forge client configured, webhooks will be rejected")
	}

	var replay *replaystore.Store
	if cfg.WebhookReplayEnabled {
		replay = replaystore.New(cfg.WebhookEventStoreFile, cfg.WebhookEventStoreMaxEntries, 1)
	}

	promReg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(promReg)

	dispatcher := &appDispatcher{
		cfg:           cfg,
		log:           log,
		core:          core,
		cmdRouter:     cmdRouter,
		policyEngine:  policyEngine,
		registry:      registry,
		githubClient:  githubClient,
		gitlabClient:  gitlabClient,
		feedbackCache: feedbackCache,
	}

	webhookRouter := webhookfront.NewRouter(webhookfront.Config{
		GitHubWebhookSecret:        cfg.GitHubWebhookSecret,
		GitHubWebhookMaxBodyBytes:  cfg.GitHubWebhookMaxBodyBytes,
		GitHubWebhookSkipSignature: cfg.GitHubWebhookSkipSignature,
		GitLabWebhookSecret:        cfg.GitLabWebhookSecret,
		GitLabWebhookMaxBodyBytes:  cfg.GitLabWebhookMaxBodyBytes,
		GitLabRequireWebhookSecret: cfg.GitLabRequireWebhookSecret,
		Environment:                cfg.Environment,
		ReplayEnabled:              cfg.WebhookReplayEnabled,
		ReplayToken:                cfg.WebhookReplayToken,
	}, dispatcher, replay, log, now)

	router := initRouter(webhookRouter, metricsReg, promReg, cfg, log)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("mr-agent listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("listener failed")
		return 1
	}

	httpClient.BeginShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown did not complete cleanly")
	}

	if !concurrencyLimiter.Drain(cfg.AIShutdownDrainTimeout) {
		log.Warn().Msg("in-flight AI calls did not finish before the shutdown drain timeout")
	}

	return 0
}

// initRouter builds the gorilla/mux router the way the teacher's
// server/api.go does: unauthenticated webhook sinks, then a small set
// of operational endpoints gated by their own checks.
func initRouter(wf *webhookfront.Router, m *metrics.Registry, promReg *prometheus.Registry, cfg *config.Configuration, log zerolog.Logger) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/webhook/github", func(w http.ResponseWriter, r *http.Request) {
		if err := wf.HandleGitHub(w, r); err != nil {
			m.WebhooksRejected.WithLabelValues("github", string(apperrors.KindOf(err))).Inc()
			writeWebhookError(w, log, err)
			return
		}
		m.WebhooksReceived.WithLabelValues("github", r.Header.Get("X-GitHub-Event")).Inc()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	router.HandleFunc("/webhook/gitlab", func(w http.ResponseWriter, r *http.Request) {
		if err := wf.HandleGitLab(w, r); err != nil {
			m.WebhooksRejected.WithLabelValues("gitlab", string(apperrors.KindOf(err))).Inc()
			writeWebhookError(w, log, err)
			return
		}
		m.WebhooksReceived.WithLabelValues("gitlab", r.Header.Get("X-Gitlab-Event")).Inc()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := cfg.IsValid(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"healthy":false,"reason":"` + err.Error() + `"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"healthy":true}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	router.HandleFunc("/webhook/events", func(w http.ResponseWriter, r *http.Request) {
		supplied := r.Header.Get("X-Replay-Token")
		if !webhookfront.TokenMatches(cfg.WebhookReplayToken, supplied) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		platform := r.URL.Query().Get("platform")
		events, err := wf.ListReplay(platform, 200)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSONEvents(w, events)
	}).Methods(http.MethodGet)

	return router
}

func writeWebhookError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := statusForError(err)
	log.Warn().Err(err).Int("status", status).Msg("webhook request rejected")
	http.Error(w, "rejected", status)
}

// statusForError maps a classified apperrors.Kind to the HTTP status
// the teacher's handlers return for the equivalent rejection family.
func statusForError(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.WebhookAuth:
		return http.StatusUnauthorized
	case apperrors.BadWebhookRequest:
		return http.StatusBadRequest
	case apperrors.MissingConfig:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONEvents(w http.ResponseWriter, events []replaystore.Event) {
	w.Header().Set("Content-Type", "application/json")
	if events == nil {
		events = []replaystore.Event{}
	}
	_ = json.NewEncoder(w).Encode(events)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
