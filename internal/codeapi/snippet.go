package codeapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/linnemanlabs/cohacker/internal/classifier"
)

// SnippetService answers whole-snippet questions outside the triage graph.
type SnippetService interface {
	AnalyzeSnippet(ctx context.Context, snippet string) (*classifier.SnippetAnalysis, error)
	AskAI(ctx context.Context, snippet string) (string, error)
}

type snippetRequest struct {
	Snippet string `json:"snippet"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

func decodeSnippet(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req snippetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid payload", "")
		return "", false
	}
	if strings.TrimSpace(req.Snippet) == "" {
		writeError(w, r, http.StatusBadRequest, "snippet is required", "")
		return "", false
	}
	return req.Snippet, true
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	snippet, ok := decodeSnippet(w, r)
	if !ok {
		return
	}

	res, err := a.snippets.AnalyzeSnippet(r.Context(), snippet)
	if err != nil {
		a.writeRunError(w, r, nil, err)
		return
	}

	render.JSON(w, r, res)
}

func (a *API) handleAskAI(w http.ResponseWriter, r *http.Request) {
	snippet, ok := decodeSnippet(w, r)
	if !ok {
		return
	}

	answer, err := a.snippets.AskAI(r.Context(), snippet)
	if err != nil {
		a.writeRunError(w, r, nil, err)
		return
	}

	render.JSON(w, r, askResponse{Answer: answer})
}
