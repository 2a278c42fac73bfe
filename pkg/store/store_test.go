package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := New(Config{Path: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStartAndFinishRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartRun(ctx, "host1", "apply")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != RunStatusRunning {
		t.Errorf("Status = %q, want running", run.Status)
	}

	if err := s.FinishRun(ctx, id, RunStatusCompleted, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err = s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun after finish: %v", err)
	}
	if run.Status != RunStatusCompleted {
		t.Errorf("Status = %q, want completed", run.Status)
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt is nil after FinishRun")
	}
}

func TestFinishRun_RecordsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.StartRun(ctx, "host1", "apply")
	if err := s.FinishRun(ctx, id, RunStatusFailed, errors.New("step blew up")); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, _ := s.GetRun(ctx, id)
	if run.Error == nil || *run.Error != "step blew up" {
		t.Errorf("Error = %v, want %q", run.Error, "step blew up")
	}
}

func TestRecordEvent_ListedInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _ := s.StartRun(ctx, "host1", "apply")
	if err := s.RecordEvent(ctx, id, "100-users", "started", ""); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := s.RecordEvent(ctx, id, "100-users", "completed", ""); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	events, err := s.ListEvents(ctx, id)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 || events[0].Kind != "started" || events[1].Kind != "completed" {
		t.Errorf("events = %+v, want [started, completed]", events)
	}
}

func TestRunAuditSink_RecordsEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.StartRun(ctx, "host1", "apply")

	sink := RunAuditSink{Store: s, RunID: id, Ctx: ctx}
	sink.RecordAudit("100-users", "command", "useradd alice", "ok", 0)

	entries, err := s.ListAuditEntries(ctx, id)
	if err != nil {
		t.Fatalf("ListAuditEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Detail != "useradd alice" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestListRuns_MostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _ := s.StartRun(ctx, "host1", "apply")
	time.Sleep(10 * time.Millisecond)
	second, _ := s.StartRun(ctx, "host1", "apply")

	runs, err := s.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns returned %d runs, want 2", len(runs))
	}
	ids := map[string]bool{first: true, second: true}
	for _, r := range runs {
		if !ids[r.ID] {
			t.Errorf("unexpected run id %q", r.ID)
		}
	}
	if runs[0].ID != second {
		t.Errorf("runs[0].ID = %q, want the later run %q first", runs[0].ID, second)
	}
}
