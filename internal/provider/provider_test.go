package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agensys/mr-agent/internal/apperrors"
)

func TestDialCachesAdapterByFingerprint(t *testing.T) {
	r := NewRegistry()
	settings := Settings{Kind: KindOpenAI, APIKey: "key-a", BaseURL: "https://api.example.com"}

	first, err := r.Dial(settings)
	require.NoError(t, err)

	second, err := r.Dial(settings)
	require.NoError(t, err)

	assert.Same(t, first, second, "identical settings must hit the cache instead of dialing again")
}

func TestDialDistinguishesByAPIKeyAndBaseURL(t *testing.T) {
	r := NewRegistry()
	a, err := r.Dial(Settings{Kind: KindOpenAI, APIKey: "key-a"})
	require.NoError(t, err)
	b, err := r.Dial(Settings{Kind: KindOpenAI, APIKey: "key-b"})
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	c, err := r.Dial(Settings{Kind: KindOpenAI, APIKey: "key-a", BaseURL: "https://other.example.com"})
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestDialRejectsUnsupportedProviderKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dial(Settings{Kind: "not-a-real-provider"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.MissingConfig))
}

func TestDialSupportsEveryDocumentedKind(t *testing.T) {
	r := NewRegistry()
	for _, kind := range []string{KindOpenAI, KindOpenAICompat, KindAnthropic, KindGemini} {
		adapter, err := r.Dial(Settings{Kind: kind, APIKey: "k"})
		require.NoError(t, err, kind)
		assert.NotNil(t, adapter, kind)
	}
}
