package codeapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

type batchRequest struct {
	Requests []triage.Request `json:"requests"`
}

type batchResult struct {
	ID        string           `json:"id,omitempty"`
	Status    string           `json:"status"`
	Outcome   *triage.Outcome  `json:"outcome,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind triage.ErrorKind `json:"error_kind,omitempty"`
}

type batchResponse struct {
	Results []batchResult `json:"results"`
}

// batch item status for requests rejected before a run started
const statusRejected = "rejected"

func (a *API) handleInlineAssistant(w http.ResponseWriter, r *http.Request) {
	var req triage.Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid payload", "")
		return
	}

	rec, err := a.svc.Analyze(r.Context(), &req)
	if rec != nil {
		w.Header().Set(TriageIDHeader, rec.ID)
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("cohacker.triage.id", rec.ID))
	}
	if err != nil {
		a.writeRunError(w, r, rec, err)
		return
	}

	render.JSON(w, r, rec.Outcome)
}

func (a *API) handleInlineAssistantBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid payload", "")
		return
	}
	if len(body.Requests) == 0 {
		writeError(w, r, http.StatusBadRequest, "requests must not be empty", "")
		return
	}
	if len(body.Requests) > a.maxBatch {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("at most %d requests per batch", a.maxBatch), "")
		return
	}

	items := a.svc.AnalyzeBatch(r.Context(), body.Requests)

	resp := batchResponse{Results: make([]batchResult, len(items))}
	for i, it := range items {
		res := batchResult{}
		if it.Record != nil {
			res.ID = it.Record.ID
			res.Status = string(it.Record.Status)
			res.Outcome = it.Record.Outcome
		}
		if it.Err != nil {
			res.Error = publicMessage(it.Err)
			res.ErrorKind = triage.KindOf(it.Err)
			if it.Record == nil {
				res.Status = statusRejected
			}
			if res.ErrorKind == "" && !errors.Is(it.Err, triage.ErrInvalidRequest) {
				a.logger.Error(r.Context(), it.Err, "batch item failed", "index", i)
			}
		}
		resp.Results[i] = res
	}

	render.JSON(w, r, resp)
}

// writeRunError reports a rejected or failed run. A failed run never reports a safe verdict.
func (a *API) writeRunError(w http.ResponseWriter, r *http.Request, rec *triage.Record, err error) {
	status := statusFor(err)
	kind := triage.KindOf(err)

	if errors.Is(err, triage.ErrInvalidRequest) {
		writeError(w, r, status, err.Error(), "")
		return
	}

	resp := errorResponse{Error: publicMessage(err), ErrorKind: kind}
	if rec != nil {
		resp.ID = rec.ID
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, "triage run failed", "kind", kind, "status", status)
	} else {
		a.logger.Warn(r.Context(), "triage run failed", "kind", kind, "status", status, "error", err)
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

// publicMessage returns the error text safe to hand to a client. Errors that
// carry no stage kind come from storage or other internals and stay in the log.
func publicMessage(err error) string {
	if triage.KindOf(err) == "" && !errors.Is(err, triage.ErrInvalidRequest) {
		return "internal error"
	}
	return err.Error()
}
