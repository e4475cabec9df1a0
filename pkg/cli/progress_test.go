package cli

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// syncBuffer guards a bytes.Buffer for the concurrent test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSimpleProgressBasic(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "chunks")

	progress.Start(10)
	progress.Update(5)
	progress.Finish()

	output := buf.String()
	if !strings.Contains(output, "Progress:") {
		t.Error("Expected progress output to contain 'Progress:'")
	}
	if !strings.Contains(output, "(5/10 chunks)") {
		t.Errorf("Expected intermediate count in output: %q", output)
	}
	if !strings.Contains(output, "100.0% (10/10 chunks)") {
		t.Errorf("Expected final count in output: %q", output)
	}
}

func TestSimpleProgressClamps(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "")

	progress.Start(2)
	progress.Update(7)
	if got := progress.(*SimpleProgress).current; got != 2 {
		t.Errorf("current = %d, want 2", got)
	}
	if !strings.Contains(buf.String(), "(2/2 items)") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestSimpleProgressZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "chunks")

	progress.Start(0)
	progress.Update(0)
	progress.Finish()

	if strings.Contains(buf.String(), "Progress:") {
		t.Errorf("zero total should draw no bar, got %q", buf.String())
	}
}

func TestSimpleProgressError(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "chunks")

	progress.Start(100)
	progress.Error(fmt.Errorf("test error"))

	output := buf.String()
	if !strings.Contains(output, "Error:") || !strings.Contains(output, "test error") {
		t.Errorf("Expected error output, got %q", output)
	}
}

func TestSimpleProgressRedrawsOnChange(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "chunks")

	progress.Start(4)
	progress.Update(1)
	progress.Update(1)
	progress.Update(1)

	if n := strings.Count(buf.String(), "(1/4 chunks)"); n != 1 {
		t.Errorf("drew 1/4 %d times, want 1: %q", n, buf.String())
	}
}

func TestSimpleProgressNoFinishAfterError(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "chunks")

	progress.Start(3)
	progress.Error(fmt.Errorf("broken pipe"))
	progress.Finish()

	if strings.Contains(buf.String(), "(3/3 chunks)") {
		t.Errorf("Finish drew after Error: %q", buf.String())
	}
}

func TestSimpleProgressConcurrent(t *testing.T) {
	buf := &syncBuffer{}
	progress := NewProgressReporter(buf, "chunks")

	progress.Start(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				progress.Update(int64(start*100 + j))
			}
		}(i)
	}
	wg.Wait()

	progress.Finish()

	if !strings.Contains(buf.String(), "(1000/1000 chunks)") {
		t.Error("Expected final progress output")
	}
}
