package scheduler

import (
	"sync"
	"testing"
	"time"

	"schedbot/internal/delivery"
	logx "schedbot/pkg/logx"
)

// fireRecorder collects fire callbacks and lets tests wait for them.
type fireRecorder struct {
	mu  sync.Mutex
	ids []string
	ch  chan string
}

func newFireRecorder() *fireRecorder {
	return &fireRecorder{ch: make(chan string, 16)}
}

func (f *fireRecorder) fire(id string) {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
	f.ch <- id
}

func (f *fireRecorder) wait(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case id := <-f.ch:
		return id
	case <-time.After(timeout):
		t.Fatal("timed out waiting for fire")
		return ""
	}
}

func (f *fireRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

func TestArmFires(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop(), rec.fire)
	defer s.Stop()

	s.Arm("msg_1", time.Now().Add(10*time.Millisecond))
	if got := rec.wait(t, time.Second); got != "msg_1" {
		t.Fatalf("fired id = %q, want msg_1", got)
	}
	if s.Armed() != 0 {
		t.Fatalf("Armed after fire = %d, want 0", s.Armed())
	}
}

func TestArmPastDueFiresImmediately(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop(), rec.fire)
	defer s.Stop()

	s.Arm("msg_late", time.Now().Add(-time.Hour))
	if got := rec.wait(t, time.Second); got != "msg_late" {
		t.Fatalf("fired id = %q, want msg_late", got)
	}
}

func TestDisarmPreventsFire(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop(), rec.fire)
	defer s.Stop()

	s.Arm("msg_1", time.Now().Add(50*time.Millisecond))
	s.Disarm("msg_1")
	if s.Armed() != 0 {
		t.Fatalf("Armed after Disarm = %d, want 0", s.Armed())
	}

	time.Sleep(120 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Fatalf("fired %d times after Disarm, want 0", n)
	}
}

func TestRearmReplacesTimer(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop(), rec.fire)
	defer s.Stop()

	s.Arm("msg_1", time.Now().Add(time.Hour))
	s.Arm("msg_1", time.Now().Add(10*time.Millisecond))
	if s.Armed() != 1 {
		t.Fatalf("Armed after re-arm = %d, want 1", s.Armed())
	}

	rec.wait(t, time.Second)
	time.Sleep(50 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Fatalf("fired %d times after re-arm, want exactly 1", n)
	}
}

func TestStopSuppressesFires(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop(), rec.fire)

	s.Arm("msg_1", time.Now().Add(30*time.Millisecond))
	s.Arm("msg_2", time.Now().Add(30*time.Millisecond))
	s.Stop()

	// Arm after Stop is a no-op.
	s.Arm("msg_3", time.Now())
	if s.Armed() != 0 {
		t.Fatalf("Armed after Stop = %d, want 0", s.Armed())
	}

	time.Sleep(100 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Fatalf("fired %d times after Stop, want 0", n)
	}
}

func TestRebuildArmsPending(t *testing.T) {
	t.Parallel()
	rec := newFireRecorder()
	s := New(logx.Nop(), rec.fire)
	defer s.Stop()

	now := time.Now()
	s.Rebuild([]delivery.Delivery{
		{ID: "msg_a", DueAt: now.Add(-time.Minute)}, // overdue, fires now
		{ID: "msg_b", DueAt: now.Add(time.Hour)},
	})

	if got := rec.wait(t, time.Second); got != "msg_a" {
		t.Fatalf("overdue fire id = %q, want msg_a", got)
	}
	if s.Armed() != 1 {
		t.Fatalf("Armed after rebuild = %d, want 1 (msg_b)", s.Armed())
	}
}
