package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

var _ triage.Store = (*Store)(nil)

func TestStore_PutAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	r := &triage.Record{ID: "t-1", Line: "gets(buf);", Status: triage.StatusInProgress}
	if err := s.Put(ctx, r); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, "t-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected record to be found")
	}
	if got.ID != "t-1" {
		t.Errorf("ID = %q, want %q", got.ID, "t-1")
	}
	if got.Line != "gets(buf);" {
		t.Errorf("Line = %q, want %q", got.Line, "gets(buf);")
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_ = s.Put(ctx, &triage.Record{ID: "t-3", Status: triage.StatusInProgress})
	_ = s.Put(ctx, &triage.Record{
		ID:       "t-3",
		Status:   triage.StatusComplete,
		Terminal: triage.StageHandleSafe,
		Outcome:  &triage.Outcome{},
	})

	got, ok, err := s.Get(ctx, "t-3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected record to be found")
	}
	if got.Status != triage.StatusComplete {
		t.Errorf("Status = %q, want %q", got.Status, triage.StatusComplete)
	}
	if got.Terminal != triage.StageHandleSafe {
		t.Errorf("Terminal = %q, want %q", got.Terminal, triage.StageHandleSafe)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	orig := &triage.Record{
		ID:   "t-copy",
		Path: []triage.StageID{triage.StageInitial, triage.StageVulnerable},
		Outcome: &triage.Outcome{
			IsVulnerable:  true,
			Vulnerability: &triage.Vulnerability{Description: "overflow"},
		},
	}
	_ = s.Put(ctx, orig)

	// mutate the caller's value after Put
	orig.Path[0] = "mutated"
	orig.Outcome.Vulnerability.Description = "mutated"

	got, _, _ := s.Get(ctx, "t-copy")
	if got.Path[0] != triage.StageInitial {
		t.Errorf("Path[0] = %q, want %q", got.Path[0], triage.StageInitial)
	}
	if got.Outcome.Vulnerability.Description != "overflow" {
		t.Errorf("Description = %q, want overflow", got.Outcome.Vulnerability.Description)
	}

	// mutate the returned value
	got.Outcome.IsVulnerable = false
	again, _, _ := s.Get(ctx, "t-copy")
	if !again.Outcome.IsVulnerable {
		t.Error("stored record changed through a returned copy")
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		_ = s.Put(ctx, &triage.Record{
			ID:        fmt.Sprintf("t-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	got, err := s.List(ctx, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"t-4", "t-3", "t-2"} {
		if got[i].ID != want {
			t.Errorf("got[%d] = %q, want %q", i, got[i].ID, want)
		}
	}

	all, _ := s.List(ctx, 0)
	if len(all) != 5 {
		t.Errorf("List(0) = %d records, want 5", len(all))
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	for i := range n {
		id := fmt.Sprintf("id-%d", i)

		go func() {
			defer wg.Done()
			_ = s.Put(ctx, &triage.Record{ID: id, Status: triage.StatusInProgress})
		}()

		go func() {
			defer wg.Done()
			_, _, _ = s.Get(ctx, id)
			_, _ = s.List(ctx, 10)
		}()
	}

	wg.Wait()
}
