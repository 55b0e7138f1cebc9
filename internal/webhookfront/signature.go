// Package webhookfront implements signature verification, payload-size
// limiting, schema-validated routing, and the optional replay store for
// both forge webhook sinks, per spec.md §4.12.
package webhookfront

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/agensys/mr-agent/internal/apperrors"
)

const githubSignaturePrefix = "sha256="

// VerifyGitHubSignature checks signature (the raw X-Hub-Signature-256
// header value) against secret and body. Both sides are hashed again
// before the final constant-time compare, per spec.md §4.12, rather
// than comparing the HMAC digests directly.
func VerifyGitHubSignature(secret []byte, signature string, body []byte) bool {
	if !strings.HasPrefix(signature, githubSignaturePrefix) {
		return false
	}
	receivedBytes, err := hex.DecodeString(signature[len(githubSignaturePrefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expectedBytes := mac.Sum(nil)

	expectedDigest := sha256.Sum256(expectedBytes)
	receivedDigest := sha256.Sum256(receivedBytes)
	return hmac.Equal(expectedDigest[:], receivedDigest[:])
}

// VerifyGitLabToken compares the X-Gitlab-Token header against secret
// in the same double-hashed constant-time manner as VerifyGitHubSignature.
func VerifyGitLabToken(secret, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	expectedDigest := sha256.Sum256([]byte(secret))
	receivedDigest := sha256.Sum256([]byte(token))
	return hmac.Equal(expectedDigest[:], receivedDigest[:])
}

// CheckGitHubSignature applies the production-escape-hatch rule: a
// missing secret is a hard MissingConfig error; skip-signature is only
// honoured outside production.
func CheckGitHubSignature(secret, signature string, body []byte, skipSignature bool, environment string) error {
	if skipSignature {
		if environment == "production" {
			return apperrors.New(apperrors.MissingConfig, "GITHUB_WEBHOOK_SKIP_SIGNATURE is forbidden in production")
		}
		return nil
	}
	if secret == "" {
		return apperrors.New(apperrors.MissingConfig, "GITHUB_WEBHOOK_SECRET is not configured")
	}
	if !VerifyGitHubSignature([]byte(secret), signature, body) {
		return apperrors.New(apperrors.WebhookAuth, "GitHub webhook signature verification failed")
	}
	return nil
}

// CheckGitLabToken applies the "require secret" escalation rule: when
// requireSecret is set, a missing configured secret is a hard error
// instead of a warning-level bypass.
func CheckGitLabToken(secret, token string, requireSecret bool) error {
	if secret == "" {
		if requireSecret {
			return apperrors.New(apperrors.MissingConfig, "GITLAB_WEBHOOK_SECRET is not configured")
		}
		return nil
	}
	if !VerifyGitLabToken(secret, token) {
		return apperrors.New(apperrors.WebhookAuth, "GitLab webhook token verification failed")
	}
	return nil
}
