package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/Arun8573/codec-technology/internal/metrics"
)

type countingSink struct {
	metrics.NoopSink
	mu      sync.Mutex
	dropped int
}

func (s *countingSink) WakeupDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
}

func TestNotifier_NotifyAndReceive(t *testing.T) {
	n := NewNotifier(1)
	n.Notify()

	select {
	case <-n.C():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for wake-up")
	}
}

func TestNotifier_CoalescesWhenFull(t *testing.T) {
	n := NewNotifier(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Notify()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked with a full buffer")
	}

	<-n.C()
	select {
	case <-n.C():
		t.Fatal("expected a single pending signal")
	default:
	}
}

func TestNotifier_MinimumBuffer(t *testing.T) {
	n := NewNotifier(0)
	if cap(n.ch) != 1 {
		t.Errorf("cap = %d, want 1", cap(n.ch))
	}
}

func TestNotifier_ConcurrentNotify(t *testing.T) {
	n := NewNotifier(4)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				n.Notify()
			}
		}()
	}
	wg.Wait()

	if got := len(n.ch); got != 4 {
		t.Errorf("pending = %d, want 4", got)
	}
}

func TestNotifier_ReportsDroppedWakeups(t *testing.T) {
	sink := &countingSink{}
	n := NewNotifier(1).WithMetrics(sink)

	n.Notify()
	n.Notify()
	n.Notify()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.dropped != 2 {
		t.Errorf("dropped = %d, want 2", sink.dropped)
	}
}
