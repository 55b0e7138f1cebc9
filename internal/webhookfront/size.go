package webhookfront

import (
	"io"
	"net/http"

	"github.com/agensys/mr-agent/internal/apperrors"
)

// ReadLimited reads r.Body capped at maxBytes, measured before any JSON
// parse, per spec.md §4.12. Exceeding the cap is a BadWebhookRequest.
func ReadLimited(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.BadWebhookRequest, err, "request body exceeds size limit")
	}
	return body, nil
}
