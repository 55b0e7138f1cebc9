package managedcomment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkerRoundTrip(t *testing.T) {
	body := WithMarker("hello world", "review", "abc123")

	kind, digest, ok := Find(body)
	assert.True(t, ok)
	assert.Equal(t, "review", kind)
	assert.Equal(t, "abc123", digest)
}

func TestMarkerWithoutDigest(t *testing.T) {
	body := WithMarker("hello", "issue-body-check", "")
	kind, digest, ok := Find(body)
	assert.True(t, ok)
	assert.Equal(t, "issue-body-check", kind)
	assert.Empty(t, digest)
}

func TestHasKindIgnoresDigest(t *testing.T) {
	body := WithMarker("hello", "ask", "deadbeef")
	assert.True(t, HasKind(body, "ask"))
	assert.False(t, HasKind(body, "review"))
}

func TestFindOnPlainBodyFails(t *testing.T) {
	_, _, ok := Find("just a regular comment, no marker here")
	assert.False(t, ok)
}
