package codeapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

// StatusClientClosedRequest is the non-standard status recorded when the caller went away.
const StatusClientClosedRequest = 499

type errorResponse struct {
	ID        string           `json:"id,omitempty"`
	Error     string           `json:"error"`
	ErrorKind triage.ErrorKind `json:"error_kind,omitempty"`
}

// statusFor maps a triage error to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, triage.ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	switch triage.KindOf(err) {
	case triage.KindSchemaViolation:
		return http.StatusBadGateway
	case triage.KindUnavailable:
		return http.StatusServiceUnavailable
	case triage.KindTimeout:
		return http.StatusGatewayTimeout
	case triage.KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string, kind triage.ErrorKind) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg, ErrorKind: kind})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}
