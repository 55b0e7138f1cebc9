package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agensys/mr-agent/internal/httpclient"
)

func captureServer(t *testing.T, dst *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*dst = body
		w.WriteHeader(http.StatusOK)
	}))
}

func TestPublishSkipsWhenPushURLEmpty(t *testing.T) {
	var captured []byte
	srv := captureServer(t, &captured)
	defer srv.Close()

	n := New(httpclient.New(nil), FormatSlack, zerolog.Nop())
	n.Publish(context.Background(), "", "alice", "acme/demo", "feature", "main", "looks good")
	assert.Nil(t, captured, "an empty push URL must never make a request")
}

func TestPublishSlackFormat(t *testing.T) {
	var captured []byte
	srv := captureServer(t, &captured)
	defer srv.Close()

	n := New(httpclient.New(nil), FormatSlack, zerolog.Nop())
	n.Publish(context.Background(), srv.URL, "alice", "acme/demo", "feature", "main", "looks good")

	require.NotNil(t, captured)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(captured, &payload))
	assert.Contains(t, payload["text"], "looks good")
}

func TestPublishWeComFormat(t *testing.T) {
	var captured []byte
	srv := captureServer(t, &captured)
	defer srv.Close()

	n := New(httpclient.New(nil), FormatWeCom, zerolog.Nop())
	n.Publish(context.Background(), srv.URL, "alice", "acme/demo", "feature", "main", "looks good")

	require.NotNil(t, captured)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(captured, &payload))
	assert.Equal(t, "markdown", payload["msgtype"])
}

func TestPublishUnknownFormatFallsBackToGeneric(t *testing.T) {
	var captured []byte
	srv := captureServer(t, &captured)
	defer srv.Close()

	n := New(httpclient.New(nil), "something-else", zerolog.Nop())
	assert.Equal(t, FormatGeneric, n.format)

	n.Publish(context.Background(), srv.URL, "alice", "acme/demo", "feature", "main", "looks good")
	require.NotNil(t, captured)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(captured, &payload))
	assert.Equal(t, "looks good", payload["content"])
}
