package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	cc "github.com/linnemanlabs/cohacker/internal/cfg"
	"github.com/linnemanlabs/cohacker/internal/classifier"
	"github.com/linnemanlabs/cohacker/internal/triage"
	"github.com/linnemanlabs/cohacker/internal/triage/memstore"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a real unixgram listener.
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}

	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

type stubService struct{}

func (stubService) Analyze(_ context.Context, req *triage.Request) (*triage.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &triage.Record{ID: "run-1", Status: triage.StatusComplete, Outcome: &triage.Outcome{}}, nil
}

func (s stubService) AnalyzeBatch(ctx context.Context, reqs []triage.Request) []triage.BatchItem {
	items := make([]triage.BatchItem, len(reqs))
	for i := range reqs {
		rec, err := s.Analyze(ctx, &reqs[i])
		items[i] = triage.BatchItem{Record: rec, Err: err}
	}
	return items
}

func (stubService) Get(context.Context, string) (*triage.Record, bool, error) { return nil, false, nil }

func (stubService) List(context.Context, int) ([]*triage.Record, error) { return nil, nil }

type stubSnippets struct{}

func (stubSnippets) AnalyzeSnippet(context.Context, string) (*classifier.SnippetAnalysis, error) {
	return &classifier.SnippetAnalysis{}, nil
}

func (stubSnippets) AskAI(context.Context, string) (string, error) { return "Declares x.", nil }

func TestNewRouter_Routes(t *testing.T) {
	t.Parallel()

	r := newRouter(log.Nop(), stubService{}, stubSnippets{}, 4)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"inline assistant", http.MethodPost, "/api/v1/inline_assistant", `{"current_line":"int x = 0;"}`, http.StatusOK},
		{"batch", http.MethodPost, "/api/v1/inline_assistant/batch", `{"requests":[{"current_line":"int x = 0;"}]}`, http.StatusOK},
		{"list", http.MethodGet, "/api/v1/triage", "", http.StatusOK},
		{"analyze", http.MethodPost, "/api/v1/analyze", `{"snippet":"int x;"}`, http.StatusOK},
		{"ask ai", http.MethodPost, "/api/v1/ask_ai", `{"snippet":"int x;"}`, http.StatusOK},
		{"unknown", http.MethodGet, "/api/v1/alerts", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewRouter_BodyLimit(t *testing.T) {
	t.Parallel()

	r := newRouter(log.Nop(), stubService{}, nil, 4)

	body := `{"current_line":"int x = 0;","current_file":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inline_assistant", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Errorf("POST with %d byte body = %d, want rejection", len(body), rec.Code)
	}
}

func TestNewTriageStore_InMemory(t *testing.T) {
	t.Parallel()

	store, closeStore, err := newTriageStore(context.Background(), log.Nop(), &cc.Config{})
	if err != nil {
		t.Fatalf("newTriageStore: %v", err)
	}
	defer closeStore()

	if _, ok := store.(*memstore.Store); !ok {
		t.Errorf("store = %T, want *memstore.Store", store)
	}
}

func TestNewTriageService(t *testing.T) {
	t.Parallel()

	appCfg := &cc.Config{
		ClaudeAPIKey:        "sk-test",
		ClaudeModel:         "claude-test",
		MaxTokens:           512,
		StageTimeoutSeconds: 5,
		RunTimeoutSeconds:   10,
		BatchConcurrency:    2,
		SlackWebhookURL:     "https://hooks.slack.test/x",
	}

	svc, snippets := newTriageService(log.Nop(), prometheus.NewRegistry(), appCfg, memstore.New())
	if svc == nil || snippets == nil {
		t.Fatal("newTriageService returned nil")
	}

	// rejected before any provider call
	if _, err := svc.Analyze(context.Background(), &triage.Request{}); err == nil {
		t.Error("Analyze(empty) = nil error, want invalid request")
	}
	if _, err := snippets.AskAI(context.Background(), ""); !errors.Is(err, triage.ErrInvalidRequest) {
		t.Errorf("AskAI(empty) = %v, want invalid request", err)
	}
}
