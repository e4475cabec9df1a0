package clock

import (
	"testing"
	"time"
)

func TestFakeTimerFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	timer := f.NewTimer(100 * time.Millisecond)
	f.Advance(50 * time.Millisecond)

	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	f.Advance(50 * time.Millisecond)
	select {
	case got := <-timer.C():
		if !got.Equal(start.Add(100 * time.Millisecond)) {
			t.Errorf("fire time = %v, want %v", got, start.Add(100*time.Millisecond))
		}
	default:
		t.Fatal("timer did not fire")
	}
	if f.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", f.Pending())
	}
}

func TestFakeTimerStop(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	timer := f.NewTimer(time.Second)
	if f.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", f.Pending())
	}
	if !timer.Stop() {
		t.Fatal("Stop() = false, want true")
	}
	f.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}
}

func TestFakeTimerZeroDuration(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	timer := f.NewTimer(0)
	select {
	case <-timer.C():
	default:
		t.Fatal("zero-duration timer did not fire immediately")
	}
}
