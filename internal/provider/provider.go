// Package provider multiplexes structured-JSON analysis calls across
// four model-provider families, with a schema→object→freeform fallback
// ladder and a cached provider client, per spec.md §4.8.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2"

	"github.com/agensys/mr-agent/internal/apperrors"
	"github.com/agensys/mr-agent/internal/domain"
)

const (
	KindOpenAI       = "openai"
	KindOpenAICompat = "openai-compatible"
	KindAnthropic    = "anthropic"
	KindGemini       = "gemini"

	defaultClientCacheCap = 200
)

// HealthResult is the outcome of a single minimal health probe.
type HealthResult struct {
	OK         bool
	Provider   string
	Model      string
	HTTPStatus int
	LatencyMs  int64
	Error      string
}

// Adapter is the narrow surface ReviewCore and the command router call
// through, regardless of which provider family backs it.
type Adapter interface {
	Analyze(ctx context.Context, input domain.ReviewInput, prompt string) (domain.ReviewResult, error)
	Describe(ctx context.Context, prompt string) (string, string, error)
	Changelog(ctx context.Context, prompt string) ([]ChangelogEntry, error)
	Ask(ctx context.Context, prompt string) (string, error)
	HealthProbe(ctx context.Context) HealthResult
}

// ChangelogEntry is one Keep-a-Changelog-style line.
type ChangelogEntry struct {
	Kind string
	Text string
}

// Settings configures Dial. Timeout/Retries/Backoff flow straight into
// the shared httpclient.
type Settings struct {
	Kind      string
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	Retries   int
	Backoff   time.Duration
}

// clientCacheKey never includes API-key material directly, only its
// hash, per spec.md §4.8.
func clientCacheKey(s Settings) string {
	sum := sha256.Sum256([]byte(s.APIKey))
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d", s.Kind, hex.EncodeToString(sum[:]), s.BaseURL, s.Timeout, s.Retries)
}

// Registry caches dialed provider clients by Settings, LRU-bounded.
type Registry struct {
	cache *lru.Cache[string, Adapter]
}

// NewRegistry creates a Registry with the default 200-entry cap.
func NewRegistry() *Registry {
	cache, _ := lru.New[string, Adapter](defaultClientCacheCap)
	return &Registry{cache: cache}
}

// Dial returns a cached Adapter for settings, creating and caching one
// on a miss. A cache hit is moved to MRU by the underlying LRU.
func (r *Registry) Dial(settings Settings) (Adapter, error) {
	key := clientCacheKey(settings)
	if adapter, ok := r.cache.Get(key); ok {
		return adapter, nil
	}

	adapter, err := newAdapter(settings)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, adapter)
	return adapter, nil
}

func newAdapter(settings Settings) (Adapter, error) {
	switch settings.Kind {
	case KindOpenAI, KindOpenAICompat:
		return newOpenAIAdapter(settings), nil
	case KindAnthropic:
		return newAnthropicAdapter(settings), nil
	case KindGemini:
		return newGeminiAdapter(settings), nil
	default:
		return nil, apperrors.New(apperrors.MissingConfig, "unsupported AI_PROVIDER: "+settings.Kind)
	}
}

// isSchemaUnsupportedError matches the unicode-inclusive substring set
// from spec.md §4.8 that signals the provider can't honour a strict
// JSON-schema response format.
func isSchemaUnsupportedError(message string) bool {
	lower := strings.ToLower(message)
	hasFormatMention := strings.Contains(lower, "response_format") || strings.Contains(lower, "json_schema")
	if !hasFormatMention {
		return false
	}
	complaintMarkers := []string{"not supported", "unsupported", "invalid", "不支持", "无效"}
	for _, m := range complaintMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isEmptyResponseError(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "model returned empty") || strings.Contains(lower, "model response is not valid json")
}
