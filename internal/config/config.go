// Package config loads the process environment into a typed
// Configuration, applying the same "load, default, validate and
// degrade rather than hard-fail" shape the teacher uses for its plugin
// settings (server/configuration.go), adapted to env vars loaded via
// godotenv instead of a hosting platform's config store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Configuration is the full env-driven surface from spec.md §6.
type Configuration struct {
	Port int

	WebhookBodyLimitBytes       int64
	GitHubWebhookMaxBodyBytes   int64
	GitLabWebhookMaxBodyBytes   int64
	GitHubWebhookSecret         string
	GitLabWebhookSecret         string
	GitLabRequireWebhookSecret  bool
	GitHubWebhookSkipSignature  bool
	AllowInsecureGitLabHTTP     bool
	GitLabBaseURL               string
	GitHubAPIURL                string
	GitHubToken                 string
	GitLabToken                 string

	AIProvider              string
	AIModel                 string
	OpenAIAPIKey            string
	AnthropicAPIKey         string
	GeminiAPIKey            string
	OpenAIBaseURL           string
	OpenAIModel             string
	AnthropicModel          string
	GeminiModel             string
	AIHTTPTimeout           time.Duration
	AIHTTPRetries           int
	AIHTTPRetryBackoff      time.Duration
	AIMaxConcurrency        int
	AIShutdownDrainTimeout  time.Duration

	CommandRateLimitMax    int
	CommandRateLimitWindow time.Duration

	PolicyCacheTTL   time.Duration
	GuidelineCacheTTL time.Duration
	IncrementalHeadCacheTTL time.Duration
	FeedbackSignalCacheTTL time.Duration

	Locale                string
	ReviewCodeExtensions  []string
	NotifyWebhookFormat   string

	WebhookReplayEnabled      bool
	WebhookReplayToken        string
	WebhookEventStoreFile     string
	WebhookEventStoreMaxEntries int
	WebhookEventStoreMaxBodyBytes int64

	Environment string
}

// Load reads a .env file if present (missing is not an error, mirroring
// the teacher's tolerant bootstrap) and then env vars, applying every
// documented default.
func Load() (*Configuration, error) {
	_ = godotenv.Load()

	cfg := &Configuration{
		Port:                          envInt("PORT", 3000),
		WebhookBodyLimitBytes:         envBytes("WEBHOOK_BODY_LIMIT", 1<<20),
		GitHubWebhookMaxBodyBytes:     envBytes("GITHUB_WEBHOOK_MAX_BODY_BYTES", 10<<20),
		GitLabWebhookMaxBodyBytes:     envBytes("GITLAB_WEBHOOK_MAX_BODY_BYTES", 10<<20),
		GitHubWebhookSecret:           os.Getenv("GITHUB_WEBHOOK_SECRET"),
		GitLabWebhookSecret:           os.Getenv("GITLAB_WEBHOOK_SECRET"),
		GitLabRequireWebhookSecret:    envBool("GITLAB_REQUIRE_WEBHOOK_SECRET", false),
		GitHubWebhookSkipSignature:    envBool("GITHUB_WEBHOOK_SKIP_SIGNATURE", false),
		AllowInsecureGitLabHTTP:       envBool("ALLOW_INSECURE_GITLAB_HTTP", false),
		GitLabBaseURL:                 envString("GITLAB_BASE_URL", "https://gitlab.com"),
		GitHubAPIURL:                  envString("GITHUB_API_URL", "https://api.github.com"),
		GitHubToken:                   os.Getenv("GITHUB_TOKEN"),
		GitLabToken:                   os.Getenv("GITLAB_TOKEN"),

		AIProvider:             envString("AI_PROVIDER", "openai"),
		AIModel:                os.Getenv("AI_MODEL"),
		OpenAIAPIKey:           os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:        os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:           os.Getenv("GEMINI_API_KEY"),
		OpenAIBaseURL:          os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:            os.Getenv("OPENAI_MODEL"),
		AnthropicModel:         os.Getenv("ANTHROPIC_MODEL"),
		GeminiModel:            os.Getenv("GEMINI_MODEL"),
		AIHTTPTimeout:          envMillis("AI_HTTP_TIMEOUT_MS", 30000),
		AIHTTPRetries:          envInt("AI_HTTP_RETRIES", 2),
		AIHTTPRetryBackoff:     envMillis("AI_HTTP_RETRY_BACKOFF_MS", 400),
		AIMaxConcurrency:       envInt("AI_MAX_CONCURRENCY", 4),
		AIShutdownDrainTimeout: envMillis("AI_SHUTDOWN_DRAIN_TIMEOUT_MS", 15000),

		CommandRateLimitMax:    envInt("COMMAND_RATE_LIMIT_MAX", 10),
		CommandRateLimitWindow: envMillis("COMMAND_RATE_LIMIT_WINDOW_MS", 3_600_000),

		PolicyCacheTTL:          envMillis("POLICY_CACHE_TTL_MS", 300_000),
		GuidelineCacheTTL:       envMillis("GUIDELINE_CACHE_TTL_MS", 300_000),
		IncrementalHeadCacheTTL: envMillis("INCREMENTAL_HEAD_CACHE_TTL_MS", 86_400_000),
		FeedbackSignalCacheTTL:  envMillis("FEEDBACK_SIGNAL_CACHE_TTL_MS", 86_400_000),

		Locale:               envString("MR_AGENT_LOCALE", "en"),
		ReviewCodeExtensions: envStringList("REVIEW_CODE_EXTENSIONS", defaultCodeExtensions),
		NotifyWebhookFormat:  envString("NOTIFY_WEBHOOK_FORMAT", "generic"),

		WebhookReplayEnabled:          envBool("WEBHOOK_REPLAY_ENABLED", false),
		WebhookReplayToken:            os.Getenv("WEBHOOK_REPLAY_TOKEN"),
		WebhookEventStoreFile:         envString("WEBHOOK_EVENT_STORE_FILE", "webhook-events.ndjson"),
		WebhookEventStoreMaxEntries:   envInt("WEBHOOK_EVENT_STORE_MAX_ENTRIES", 2000),
		WebhookEventStoreMaxBodyBytes: envBytes("WEBHOOK_EVENT_STORE_MAX_BODY_BYTES", 64<<10),

		Environment: envString("NODE_ENV", "development"),
	}

	return cfg, nil
}

var defaultCodeExtensions = []string{
	".go", ".js", ".jsx", ".ts", ".tsx", ".py", ".java", ".rb", ".rs", ".c", ".cpp", ".h", ".hpp",
	".cs", ".php", ".kt", ".swift", ".scala", ".sh", ".sql", ".yaml", ".yml", ".json",
}

// IsValid checks required configuration the way the teacher's
// configuration.IsValid does: degrade, don't hard-fail, except for the
// one setting that is a genuine safety rule.
func (c *Configuration) IsValid() error {
	if c.GitHubWebhookSkipSignature && c.Environment == "production" {
		return fmt.Errorf("GITHUB_WEBHOOK_SKIP_SIGNATURE is forbidden in production")
	}
	switch c.AIProvider {
	case "openai", "openai-compatible", "anthropic", "gemini":
	default:
		return fmt.Errorf("unsupported AI_PROVIDER: %s", c.AIProvider)
	}
	if !strings.HasPrefix(c.GitLabBaseURL, "https://") && !c.AllowInsecureGitLabHTTP {
		return fmt.Errorf("GITLAB_BASE_URL must be HTTPS unless ALLOW_INSECURE_GITLAB_HTTP is set")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBytes(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envMillis(key string, fallbackMs int64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallbackMs) * time.Millisecond
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Duration(fallbackMs) * time.Millisecond
	}
	return time.Duration(n) * time.Millisecond
}

// envBool coerces the same truthy/falsy vocabulary the policy engine
// accepts, so an operator setting an env var never has to guess which
// spelling an env var wants versus a policy file.
func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "true", "yes", "on", "1":
		return true
	case "false", "no", "off", "0":
		return false
	default:
		return fallback
	}
}

func envStringList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
