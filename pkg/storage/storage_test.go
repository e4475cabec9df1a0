package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mercator-hq/llmtap/pkg/capture"
)

func testCapture(id string, start time.Time, complete bool) *capture.Capture {
	end := start.Add(2 * time.Second)
	c := &capture.Capture{
		ID: id,
		Request: capture.Request{
			URL:       "/api/chat?stream=true",
			Method:    "POST",
			Headers:   capture.Headers{{Name: "Content-Type", Value: "application/json"}},
			Body:      []byte(`{"model":"llama3"}`),
			StartTime: start,
		},
		Response: &capture.Response{
			Status:     200,
			Headers:    capture.Headers{{Name: "Transfer-Encoding", Value: "chunked"}},
			Version:    "HTTP/1.1",
			BodyChunks: [][]byte{[]byte(`{"done":false}` + "\n"), []byte(`{"done":true}` + "\n")},
			ChunkTimes: []time.Time{start.Add(time.Second), end},
			HeaderTime: start.Add(500 * time.Millisecond),
		},
	}
	if complete {
		c.Response.EndTime = &end
	}
	return c
}

func TestSanitizePath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/api/chat", "api_chat"},
		{"/api/chat?stream=true", "api_chat"},
		{"/", "root"},
		{"", "root"},
		{"/v1/chat/completions", "v1_chat_completions"},
		{"/weird path/ünï", "weird-path_-n-"},
		{"/a.b_c-d", "a.b_c-d"},
	}
	for _, tt := range tests {
		if got := SanitizePath(tt.in); got != tt.want {
			t.Errorf("SanitizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileNames(t *testing.T) {
	start := time.Date(2026, 1, 14, 9, 30, 5, 123456789, time.FixedZone("CET", 3600))
	c := testCapture("1f0c2a9b-aaaa-bbbb-cccc-dddddddddddd", start, true)

	if got, want := CaptureFileName(c), "ReplayableRequest-20260114T083005.123456789-1f0c2a9b.json"; got != want {
		t.Errorf("CaptureFileName = %q, want %q", got, want)
	}
	if got, want := DumpFileName(c, DumpResponse), "llmtap-api_chat-rsp-20260114T083005.123456789-1f0c2a9b.json"; got != want {
		t.Errorf("DumpFileName = %q, want %q", got, want)
	}
}

func TestFileStore_SaveLoadRemove(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "Data"), nil)
	if err != nil {
		t.Fatal(err)
	}
	c := testCapture("5e1d7f00-0000-0000-0000-000000000001", time.Now().UTC(), true)

	path, err := store.Save(c)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	dumps, err := store.WriteDumps(c)
	if err != nil {
		t.Fatalf("WriteDumps: %v", err)
	}
	if len(dumps) != 2 {
		t.Fatalf("expected request and response dumps, got %v", dumps)
	}
	rsp, _ := os.ReadFile(dumps[1])
	if !bytes.Equal(rsp, c.Response.Body()) {
		t.Errorf("response dump = %q, want concatenated chunks", rsp)
	}

	loaded, err := store.Load(filepath.Base(path))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != c.ID || len(loaded.Response.BodyChunks) != 2 || !loaded.Complete() {
		t.Errorf("loaded capture differs: %+v", loaded)
	}

	list, err := store.List()
	if err != nil || len(list) != 1 || list[0] != path {
		t.Fatalf("List() = %v, %v", list, err)
	}

	if err := store.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 0 {
		t.Errorf("expected empty directory after Remove, found %d entries", len(entries))
	}
	if err := store.Remove(path); err != nil {
		t.Errorf("removing twice should succeed, got %v", err)
	}
}

func TestFileStore_SameSecondDistinctNames(t *testing.T) {
	store, _ := NewFileStore(t.TempDir(), nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := store.Save(testCapture("aaaaaaaa-1", start, true))
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.Save(testCapture("bbbbbbbb-2", start, true))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("captures with the same start time share a file name")
	}
}

func TestFileStore_LoadErrors(t *testing.T) {
	store, _ := NewFileStore(t.TempDir(), nil)
	_, err := store.Load("ReplayableRequest-missing.json")
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "load" {
		t.Fatalf("expected load PersistenceError, got %v", err)
	}

	bad := filepath.Join(store.Dir(), "ReplayableRequest-bad.json")
	os.WriteFile(bad, []byte(`{"id":`), 0o644)
	if _, err := store.Load(bad); !errors.Is(err, capture.ErrInvalid) {
		t.Errorf("expected ErrInvalid for corrupt document, got %v", err)
	}
}

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "captures.db"), nil)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndex_InsertListGet(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	complete := testCapture("11111111-aaaa", base, true)
	incomplete := testCapture("22222222-bbbb", base.Add(time.Minute), false)
	noResponse := testCapture("33333333-cccc", base.Add(2*time.Minute), false)
	noResponse.Response = nil

	for _, c := range []*capture.Capture{complete, incomplete, noResponse} {
		if err := idx.Insert(ctx, EntryFor(c, "/data/"+c.ID+".json")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	all, err := idx.List(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != noResponse.ID {
		t.Fatalf("List should return newest first, got %+v", all)
	}
	if all[0].Status != 0 || all[0].Complete() {
		t.Errorf("capture without response should have no status, got %+v", all[0])
	}

	inc, _ := idx.List(ctx, ListOptions{IncompleteOnly: true})
	if len(inc) != 2 {
		t.Errorf("IncompleteOnly returned %d entries, want 2", len(inc))
	}
	since, _ := idx.List(ctx, ListOptions{Since: base.Add(30 * time.Second)})
	if len(since) != 2 {
		t.Errorf("Since returned %d entries, want 2", len(since))
	}
	limited, _ := idx.List(ctx, ListOptions{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("Limit returned %d entries", len(limited))
	}

	got, err := idx.Get(ctx, complete.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != 200 || got.Chunks != 2 || got.Bytes != complete.Response.Size() || !got.Complete() {
		t.Errorf("unexpected entry %+v", got)
	}
	if !got.StartTime.Equal(base) || !got.EndTime.Equal(*complete.Response.EndTime) {
		t.Errorf("times not preserved: %+v", got)
	}

	if byPrefix, err := idx.Get(ctx, "22222222"); err != nil || byPrefix.ID != incomplete.ID {
		t.Errorf("Get by prefix = %+v, %v", byPrefix, err)
	}
	if _, err := idx.Get(ctx, "deadbeef-0000"); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	twin := testCapture("22222222-bbbc", base.Add(3*time.Minute), true)
	if err := idx.Insert(ctx, EntryFor(twin, "/data/twin.json")); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Get(ctx, "22222222"); !errors.Is(err, ErrAmbiguousID) {
		t.Errorf("expected ErrAmbiguousID, got %v", err)
	}
	if _, err := idx.Get(ctx, "22222222-bbbc"); err != nil {
		t.Errorf("full ID should still resolve: %v", err)
	}
}

func TestIndex_PruneQueries(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	var ids []string
	for i, id := range []string{"aaaaaaaa", "bbbbbbbb", "cccccccc"} {
		c := testCapture(id, base.Add(time.Duration(i)*time.Hour), true)
		idx.Insert(ctx, EntryFor(c, id))
		ids = append(ids, id)
	}

	old, _ := idx.OlderThan(ctx, base.Add(90*time.Minute))
	if len(old) != 2 || old[0].ID != "aaaaaaaa" {
		t.Errorf("OlderThan = %+v", old)
	}
	oldest, _ := idx.Oldest(ctx, 1)
	if len(oldest) != 1 || oldest[0].ID != "aaaaaaaa" {
		t.Errorf("Oldest = %+v", oldest)
	}

	n, err := idx.Delete(ctx, ids[0], ids[1], "unknown")
	if err != nil || n != 2 {
		t.Fatalf("Delete() = %d, %v", n, err)
	}
	if count, _ := idx.Count(ctx); count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
	if err := idx.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

type persistMetrics struct {
	mu        sync.Mutex
	persisted map[string]int
	failures  map[string]int
	dropped   int
}

func newPersistMetrics() *persistMetrics {
	return &persistMetrics{persisted: map[string]int{}, failures: map[string]int{}}
}

func (m *persistMetrics) RecordPersisted(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persisted[kind]++
}

func (m *persistMetrics) RecordPersistenceFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op]++
}

func (m *persistMetrics) RecordDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func (m *persistMetrics) SetQueueDepth(int) {}

func TestPersister_WritesAllArtifacts(t *testing.T) {
	store, _ := NewFileStore(t.TempDir(), nil)
	idx := openTestIndex(t)
	metrics := newPersistMetrics()

	p, err := NewPersister(PersisterConfig{Store: store, Index: idx, RawDumps: true, Metrics: metrics})
	if err != nil {
		t.Fatal(err)
	}
	base := time.Now().UTC()
	for i, id := range []string{"aaaaaaaa-1", "bbbbbbbb-2", "cccccccc-3"} {
		p.Submit(testCapture(id, base.Add(time.Duration(i)*time.Millisecond), true))
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	if metrics.persisted["capture"] != 3 || metrics.persisted["dump"] != 6 || metrics.persisted["index"] != 3 {
		t.Errorf("unexpected persisted counts %v", metrics.persisted)
	}
	if count, _ := idx.Count(context.Background()); count != 3 {
		t.Errorf("index count = %d, want 3", count)
	}
	e, err := idx.Get(context.Background(), "bbbbbbbb-2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(e.Path); err != nil {
		t.Errorf("indexed path not loadable: %v", err)
	}
}

func TestPersister_SubmitAfterClose(t *testing.T) {
	store, _ := NewFileStore(t.TempDir(), nil)
	metrics := newPersistMetrics()
	p, _ := NewPersister(PersisterConfig{Store: store, Metrics: metrics})
	p.Close()
	p.Close()

	p.Submit(testCapture("late", time.Now(), true))
	if metrics.dropped != 1 {
		t.Errorf("dropped = %d, want 1", metrics.dropped)
	}
}

func TestPersister_FullQueueDrops(t *testing.T) {
	metrics := newPersistMetrics()
	// No worker drains this queue.
	p := &Persister{
		queue:   make(chan *capture.Capture, 1),
		metrics: metrics,
		logger:  slog.New(slog.DiscardHandler),
	}

	p.Submit(testCapture("first", time.Now(), true))
	p.Submit(testCapture("second", time.Now(), true))

	if metrics.dropped != 1 {
		t.Errorf("dropped = %d, want 1", metrics.dropped)
	}
	if got := <-p.queue; got.ID != "first" {
		t.Errorf("queued %q, want first", got.ID)
	}
}

func TestPersister_SaveFailureIsCounted(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir, nil)
	metrics := newPersistMetrics()
	p, _ := NewPersister(PersisterConfig{Store: store, Metrics: metrics})

	os.RemoveAll(dir)
	p.Submit(testCapture("aaaaaaaa", time.Now(), true))
	p.Close()

	if metrics.failures["save"] != 1 {
		t.Errorf("failures = %v, want one save failure", metrics.failures)
	}
}

func TestPersistenceError(t *testing.T) {
	cause := os.ErrPermission
	err := &PersistenceError{Op: "save", Path: "/data/x.json", Cause: cause}
	if !errors.Is(err, os.ErrPermission) {
		t.Error("PersistenceError should unwrap to its cause")
	}
	if err.Error() != "persistence error [op=save, path=/data/x.json]: permission denied" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
