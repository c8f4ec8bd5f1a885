package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Arun8573/codec-technology/internal/testutil"
)

type mockMetrics struct {
	mu       sync.Mutex
	started  int
	enqueued int
}

func (m *mockMetrics) PollStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *mockMetrics) PollCompleted(duration time.Duration, tasksEnqueued int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued += tasksEnqueued
}

func (m *mockMetrics) PollDrift(drift time.Duration) {}

func (m *mockMetrics) snapshot() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.enqueued
}

func TestDispatcher_RunPollsImmediatelyAndStops(t *testing.T) {
	store := newMockStore()
	store.addJob(newJob(t, "hourly", at(10, 0)))
	m := &mockMetrics{}

	clock := testutil.NewFakeClock(at(11, 1))
	d := New(Config{PollInterval: time.Hour}, store).WithClock(clock.Now).WithMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if started, _ := m.snapshot(); started >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dispatcher did not poll on start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, enqueued := m.snapshot(); enqueued != 1 {
		t.Errorf("enqueued = %d, want 1", enqueued)
	}
}
