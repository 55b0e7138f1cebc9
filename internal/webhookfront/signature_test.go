package webhookfront

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agensys/mr-agent/internal/apperrors"
)

func githubSig(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return githubSignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyGitHubSignatureAcceptsValid(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"a":1}`)
	assert.True(t, VerifyGitHubSignature(secret, githubSig(secret, body), body))
}

func TestVerifyGitHubSignatureRejectsTamperedByte(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"a":1}`)
	sig := githubSig(secret, body)

	tamperedBody := []byte(`{"a":2}`)
	assert.False(t, VerifyGitHubSignature(secret, sig, tamperedBody))

	tamperedSig := sig[:len(sig)-1] + "0"
	assert.False(t, VerifyGitHubSignature(secret, tamperedSig, body))
}

func TestVerifyGitHubSignatureRejectsMissingPrefix(t *testing.T) {
	assert.False(t, VerifyGitHubSignature([]byte("s"), "not-a-signature", []byte("body")))
}

func TestVerifyGitLabTokenConstantTimeCompare(t *testing.T) {
	assert.True(t, VerifyGitLabToken("secret-token", "secret-token"))
	assert.False(t, VerifyGitLabToken("secret-token", "wrong-token"))
	assert.False(t, VerifyGitLabToken("", "anything"))
}

func TestCheckGitHubSignatureSkipForbiddenInProduction(t *testing.T) {
	err := CheckGitHubSignature("", "", nil, true, "production")
	assert.True(t, apperrors.Is(err, apperrors.MissingConfig))
}

func TestCheckGitHubSignatureMissingSecret(t *testing.T) {
	err := CheckGitHubSignature("", "sha256=abc", []byte("body"), false, "development")
	assert.True(t, apperrors.Is(err, apperrors.MissingConfig))
}

func TestCheckGitLabTokenRequireSecretEscalation(t *testing.T) {
	err := CheckGitLabToken("", "", true)
	assert.True(t, apperrors.Is(err, apperrors.MissingConfig))

	err = CheckGitLabToken("", "", false)
	assert.NoError(t, err)
}
