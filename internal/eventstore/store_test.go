package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/cycle"
	"github.com/loqalabs/readaloud/internal/ocr"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTemp(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.AppendEvent(ctx, Event{RunID: "r", CycleID: "c"}); err != nil {
		t.Fatalf("append on ephemeral store: %v", err)
	}
	events, err := es.ListRunEvents(ctx, "r", 10)
	if err != nil || len(events) != 0 {
		t.Fatalf("expected nothing stored, got %d events (%v)", len(events), err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	if err := es.BeginRun(ctx, "run-1", "node-a"); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RunID: "run-1", CycleID: "c1", Trigger: "manual", Kind: "completed", Payload: []byte("hello")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RunID: "run-1", CycleID: "c2", Trigger: "auto", Kind: "no_text_found"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListRunEvents(ctx, "run-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if string(events[0].Payload) != "hello" || events[0].Trigger != "manual" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}

	counts, err := es.CountByOutcome(ctx, "run-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["completed"] != 1 || counts["no_text_found"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestPruneByDaysAndRuns(t *testing.T) {
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxRuns: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginRun(ctx, "old-run", "node"); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RunID: "old-run", CycleID: "c", Kind: "completed"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginRun(ctx, "new-run", "node"); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListRunEvents(ctx, "old-run", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old run pruned")
	}
}

func TestRecorderJournalsOutcomes(t *testing.T) {
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := es.BeginRun(ctx, "run-1", "node"); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	rec := NewRecorder(ctx, es, "run-1", newLogger())

	started := time.Now()
	rec.Notify(cycle.Outcome{
		CycleID:  "cycle-1",
		Trigger:  cycle.TriggerManual,
		Kind:     cycle.OutcomeCompleted,
		Tokens:   []ocr.Token{{Text: "Cat"}, {Text: "Xzq"}},
		Spoken:   []string{"Cat"},
		Started:  started,
		Finished: started.Add(150 * time.Millisecond),
	})
	rec.Notify(cycle.Outcome{
		CycleID:  "cycle-2",
		Trigger:  cycle.TriggerAuto,
		Kind:     cycle.OutcomeCaptureFailed,
		Err:      errors.New("camera busy"),
		Started:  started,
		Finished: started.Add(time.Second),
	})

	var events []Event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		events, err = es.ListRunEvents(ctx, "run-1", 10)
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(events) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 journaled outcomes, got %d", len(events))
	}

	var payload outcomePayload
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Tokens != 2 || len(payload.Spoken) != 1 || payload.ElapsedMS != 150 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if err := json.Unmarshal(events[1].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Error != "camera busy" || payload.Message != "Camera unavailable" {
		t.Fatalf("unexpected failure payload %+v", payload)
	}

	cancel()
	rec.Wait()
}

func TestRecorderFlushesBacklogOnShutdown(t *testing.T) {
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "session", RetentionDays: 30, MaxRuns: 10})
	if err := es.BeginRun(context.Background(), "run-1", "kitchen"); err != nil {
		t.Fatalf("begin run: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := NewRecorder(ctx, es, "run-1", newLogger())
	now := time.Now()
	for i := 0; i < 10; i++ {
		rec.Notify(cycle.Outcome{
			CycleID:  fmt.Sprintf("cycle-%d", i),
			Trigger:  cycle.TriggerAuto,
			Kind:     cycle.OutcomeNoTextFound,
			Started:  now,
			Finished: now.Add(time.Duration(i) * time.Millisecond),
		})
	}
	cancel()
	rec.Wait()

	events, err := es.ListRunEvents(context.Background(), "run-1", 100)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 10 {
		t.Fatalf("expected all 10 outcomes journaled, got %d", len(events))
	}
}
