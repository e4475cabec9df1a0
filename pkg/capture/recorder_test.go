package capture

import (
	"sync"
	"testing"
	"time"

	"mercator-hq/llmtap/pkg/clock"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func startRecorder(t *testing.T) (*Recorder, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	rec := NewRecorder(clk, nil)
	rec.Start(RequestMeta{
		URL:     "/api/chat",
		Method:  "POST",
		Headers: Headers{{Name: "Content-Type", Value: "application/json"}},
		Body:    []byte(`{"model":"llama3"}`),
	})
	return rec, clk
}

func TestRecorder_Lifecycle(t *testing.T) {
	rec, clk := startRecorder(t)

	clk.Advance(10 * time.Millisecond)
	rec.OnHead(200, Headers{{Name: "Transfer-Encoding", Value: "chunked"}}, "HTTP/1.1")
	clk.Advance(5 * time.Millisecond)
	rec.OnBodyChunk([]byte("a"))
	clk.Advance(5 * time.Millisecond)
	rec.OnBodyChunk([]byte("b"))
	rec.OnComplete()

	c := rec.Snapshot()
	if c.ID == "" {
		t.Error("capture ID is empty")
	}
	if !c.Complete() {
		t.Fatal("capture should be complete")
	}
	if !c.Chunked() {
		t.Error("capture should be chunked")
	}
	if got := c.Response.HeaderTime.Sub(c.Request.StartTime); got != 10*time.Millisecond {
		t.Errorf("header delay = %v, want 10ms", got)
	}
	if len(c.Response.BodyChunks) != 2 || len(c.Response.ChunkTimes) != 2 {
		t.Fatalf("chunks = %d, times = %d, want 2 each", len(c.Response.BodyChunks), len(c.Response.ChunkTimes))
	}
	if got := c.Response.ChunkTimes[1].Sub(c.Response.ChunkTimes[0]); got != 5*time.Millisecond {
		t.Errorf("chunk gap = %v, want 5ms", got)
	}
	if string(c.Response.Body()) != "ab" {
		t.Errorf("body = %q, want %q", c.Response.Body(), "ab")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestRecorder_ChunkBeforeHeadIsDropped(t *testing.T) {
	rec, _ := startRecorder(t)
	rec.OnBodyChunk([]byte("early"))

	if c := rec.Snapshot(); c.Response != nil {
		t.Fatalf("response = %+v, want nil", c.Response)
	}
}

func TestRecorder_NoHeadLeavesIncompleteCapture(t *testing.T) {
	rec, _ := startRecorder(t)
	rec.OnComplete()

	c := rec.Snapshot()
	if c.Complete() {
		t.Error("capture without head must not be complete")
	}
}

func TestRecorder_CopiesChunks(t *testing.T) {
	rec, _ := startRecorder(t)
	rec.OnHead(200, nil, "HTTP/1.1")

	buf := []byte("hello")
	rec.OnBodyChunk(buf)
	buf[0] = 'X'

	if got := string(rec.Snapshot().Response.BodyChunks[0]); got != "hello" {
		t.Errorf("chunk = %q, want %q", got, "hello")
	}
}

func TestRecorder_SnapshotIsCopy(t *testing.T) {
	rec, _ := startRecorder(t)
	rec.OnHead(200, nil, "HTTP/1.1")
	rec.OnBodyChunk([]byte("x"))

	snap := rec.Snapshot()
	snap.Response.BodyChunks[0][0] = 'y'
	snap.Request.Headers[0].Value = "mutated"

	again := rec.Snapshot()
	if string(again.Response.BodyChunks[0]) != "x" {
		t.Error("Snapshot() shares chunk storage with the recorder")
	}
	if again.Request.Headers[0].Value != "application/json" {
		t.Error("Snapshot() shares header storage with the recorder")
	}
}

// backwardsClock reports a Since that shrinks, as if the clock stepped back.
type backwardsClock struct {
	clock.Real
	start   time.Time
	elapsed []time.Duration
}

func (b *backwardsClock) Now() time.Time { return b.start }

func (b *backwardsClock) Since(time.Time) time.Duration {
	d := b.elapsed[0]
	if len(b.elapsed) > 1 {
		b.elapsed = b.elapsed[1:]
	}
	return d
}

func TestRecorder_TimestampsNeverDecrease(t *testing.T) {
	clk := &backwardsClock{
		start:   epoch,
		elapsed: []time.Duration{50 * time.Millisecond, 20 * time.Millisecond, 10 * time.Millisecond, 5 * time.Millisecond},
	}
	rec := NewRecorder(clk, nil)
	rec.Start(RequestMeta{URL: "/", Method: "GET"})
	rec.OnHead(200, nil, "HTTP/1.1")
	rec.OnBodyChunk([]byte("a"))
	rec.OnBodyChunk([]byte("b"))
	rec.OnComplete()

	c := rec.Snapshot()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	for i, ts := range c.Response.ChunkTimes {
		if ts.Before(c.Response.HeaderTime) {
			t.Errorf("chunk %d at %v precedes head at %v", i, ts, c.Response.HeaderTime)
		}
	}
}

func TestRecorder_ConcurrentSnapshots(t *testing.T) {
	rec := NewRecorder(clock.New(), nil)
	rec.Start(RequestMeta{URL: "/api/generate", Method: "POST"})
	rec.OnHead(200, Headers{{Name: "Transfer-Encoding", Value: "chunked"}}, "HTTP/1.1")

	const chunks = 500
	done := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan string, 16)

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-done:
					return
				default:
				}
				c := rec.Snapshot()
				if err := c.Validate(); err != nil {
					errs <- err.Error()
					return
				}
				n := len(c.Response.BodyChunks)
				if n < last || len(c.Response.Body()) != n {
					errs <- "snapshot went backwards or chunks and body disagree"
					return
				}
				last = n
			}
		}()
	}

	for range chunks {
		rec.OnBodyChunk([]byte("x"))
	}
	rec.OnComplete()
	close(done)
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}

	c := rec.Snapshot()
	if !c.Complete() || len(c.Response.BodyChunks) != chunks || len(c.Response.ChunkTimes) != chunks {
		t.Errorf("final capture complete=%v chunks=%d times=%d", c.Complete(), len(c.Response.BodyChunks), len(c.Response.ChunkTimes))
	}
}
