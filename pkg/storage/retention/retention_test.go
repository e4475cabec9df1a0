package retention

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"mercator-hq/llmtap/pkg/capture"
	"mercator-hq/llmtap/pkg/clock"
	"mercator-hq/llmtap/pkg/storage"
)

type prunedCounter struct{ n int }

func (p *prunedCounter) RecordPruned(n int) { p.n += n }

func setup(t *testing.T, starts ...time.Time) (*storage.Index, *storage.FileStore, []string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := storage.OpenIndex(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })

	var paths []string
	for i, start := range starts {
		c := &capture.Capture{
			ID: fmt.Sprintf("%08d-0000-0000-0000-000000000000", i),
			Request: capture.Request{
				URL:       "/api/chat",
				Method:    "POST",
				Body:      []byte(`{}`),
				StartTime: start,
			},
		}
		path, err := store.Save(c)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := store.WriteDumps(c); err != nil {
			t.Fatal(err)
		}
		if err := idx.Insert(context.Background(), storage.EntryFor(c, path)); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	return idx, store, paths
}

func TestPruner_ByAge(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	idx, store, paths := setup(t,
		now.AddDate(0, 0, -30),
		now.AddDate(0, 0, -8),
		now.AddDate(0, 0, -1),
	)
	metrics := &prunedCounter{}
	p := NewPruner(idx, store, Config{Days: 7}, WithClock(clock.NewFake(now)), WithMetrics(metrics))

	n, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 || metrics.n != 2 {
		t.Fatalf("deleted %d (metrics %d), want 2", n, metrics.n)
	}
	for _, path := range paths[:2] {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", path)
		}
	}
	if _, err := os.Stat(paths[2]); err != nil {
		t.Errorf("recent capture removed: %v", err)
	}
	if count, _ := idx.Count(context.Background()); count != 1 {
		t.Errorf("index count = %d, want 1", count)
	}

	// Only the remaining capture's document and request dump are left.
	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 2 {
		t.Errorf("expected 2 files left, got %d", len(entries))
	}
}

func TestPruner_ByCount(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	idx, store, _ := setup(t,
		base,
		base.Add(time.Minute),
		base.Add(2*time.Minute),
		base.Add(3*time.Minute),
	)
	p := NewPruner(idx, store, Config{MaxCaptures: 2}, WithClock(clock.NewFake(base)))

	n, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
	remaining, _ := idx.List(context.Background(), storage.ListOptions{})
	if len(remaining) != 2 || !remaining[1].StartTime.Equal(base.Add(2*time.Minute)) {
		t.Errorf("oldest captures should be pruned first, remaining %+v", remaining)
	}
}

func TestPruner_NoRules(t *testing.T) {
	idx, store, _ := setup(t, time.Now().AddDate(-1, 0, 0))
	n, err := NewPruner(idx, store, Config{}).Prune(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Prune() = %d, %v; want 0, nil", n, err)
	}
}

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		wantRunning bool
		wantError   bool
	}{
		{"valid daily schedule", "0 3 * * *", true, false},
		{"descriptor", "@hourly", true, false},
		{"empty schedule", "", false, false},
		{"invalid schedule", "invalid cron", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, store, _ := setup(t)
			s := NewScheduler(NewPruner(idx, store, Config{Days: 1, Schedule: tt.schedule}))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := s.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Errorf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if s.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", s.IsRunning(), tt.wantRunning)
			}
			if tt.wantRunning {
				if next := s.NextRun(); next == nil || !next.After(time.Now()) {
					t.Errorf("NextRun() = %v, want a future time", next)
				}
			}
			s.Stop()
			if s.IsRunning() {
				t.Error("scheduler still running after Stop")
			}
		})
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	idx, store, _ := setup(t)
	s := NewScheduler(NewPruner(idx, store, Config{Days: 1, Schedule: "0 3 * * *"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
