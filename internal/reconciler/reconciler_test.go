package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Arun8573/codec-technology/internal/domain"
)

// mockStore hands out a fixed number of stuck tasks, at most batch per call.
type mockStore struct {
	mu           sync.Mutex
	stuck        int
	deadLettered int
	calls        int
	err          error
	statsErr     error
	depth        int
	lastSuccess  map[uuid.UUID]time.Time
}

func (s *mockStore) RequeueExpired(ctx context.Context, batch int) (domain.RequeueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return domain.RequeueStats{}, s.err
	}
	n := s.stuck
	if n > batch {
		n = batch
	}
	s.stuck -= n
	return domain.RequeueStats{Requeued: n}, nil
}

func (s *mockStore) Statistics(ctx context.Context) (domain.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsErr != nil {
		return domain.Statistics{}, s.statsErr
	}
	return domain.Statistics{
		QueueDepth:  s.depth,
		TaskCounts:  map[domain.TaskStatus]int{domain.TaskDeadLettered: s.deadLettered},
		LastSuccess: s.lastSuccess,
	}, nil
}

func (s *mockStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type mockMetrics struct {
	mu           sync.Mutex
	requeued     int
	deadLettered int
	depth        int
	deadLetters  int
	gaugeUpdates int
}

func (m *mockMetrics) RequeueCompleted(requeued, deadLettered int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued += requeued
	m.deadLettered += deadLettered
}

func (m *mockMetrics) QueueDepthUpdate(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = depth
	m.gaugeUpdates++
}

func (m *mockMetrics) DeadLettersUpdate(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters = count
}

type mockNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *mockNotifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

func TestReconciler_DrainsInBatches(t *testing.T) {
	store := &mockStore{stuck: 12, depth: 12}
	recon := New(Config{Interval: time.Hour, BatchSize: 5}, store)

	c := recon.RunCycle(context.Background())

	if c.Err != nil {
		t.Fatalf("unexpected error: %v", c.Err)
	}
	if c.Stats.Requeued != 12 {
		t.Errorf("requeued = %d, want 12", c.Stats.Requeued)
	}
	// 5 + 5 + 2: the short batch ends the cycle.
	if store.callCount() != 3 {
		t.Errorf("store calls = %d, want 3", store.callCount())
	}
}

func TestReconciler_MaxBatchesBoundsCycle(t *testing.T) {
	store := &mockStore{stuck: 1000}
	recon := New(Config{Interval: time.Hour, BatchSize: 10, MaxBatches: 3}, store)

	c := recon.RunCycle(context.Background())

	if c.Stats.Requeued != 30 {
		t.Errorf("requeued = %d, want 30", c.Stats.Requeued)
	}
}

func TestReconciler_PublishesGauges(t *testing.T) {
	store := &mockStore{stuck: 2, depth: 7, deadLettered: 3}
	m := &mockMetrics{}
	recon := New(Config{Interval: time.Hour, BatchSize: 100}, store).WithMetrics(m)

	recon.RunCycle(context.Background())

	if m.requeued != 2 {
		t.Errorf("requeued metric = %d, want 2", m.requeued)
	}
	if m.depth != 7 || m.deadLetters != 3 {
		t.Errorf("gauges depth=%d dead=%d, want 7 and 3", m.depth, m.deadLetters)
	}
}

func TestReconciler_DBErrorAbortsGracefully(t *testing.T) {
	store := &mockStore{err: errors.New("database connection failed")}
	m := &mockMetrics{}
	recon := New(Config{Interval: time.Hour, BatchSize: 100}, store).WithMetrics(m)

	c := recon.RunCycle(context.Background())

	if c.Err == nil {
		t.Fatal("expected cycle error")
	}
	if store.callCount() != 1 {
		t.Errorf("store calls = %d, want 1", store.callCount())
	}
	if m.gaugeUpdates != 0 {
		t.Error("gauges must not be overwritten after a failed cycle")
	}
	last, ok := recon.LastCycle()
	if !ok || last.Err == nil {
		t.Error("LastCycle should report the failed cycle")
	}
}

func TestReconciler_StatisticsErrorReported(t *testing.T) {
	store := &mockStore{statsErr: errors.New("timeout")}
	recon := New(Config{Interval: time.Hour, BatchSize: 100}, store)

	if c := recon.RunCycle(context.Background()); c.Err == nil {
		t.Fatal("expected statistics error")
	}
}

func TestReconciler_NotifiesOnlyWhenRequeued(t *testing.T) {
	store := &mockStore{}
	n := &mockNotifier{}
	recon := New(Config{Interval: time.Hour, BatchSize: 100}, store).WithNotifier(n)

	recon.RunCycle(context.Background())
	if n.count != 0 {
		t.Errorf("notified = %d with nothing requeued, want 0", n.count)
	}

	store.mu.Lock()
	store.stuck = 1
	store.mu.Unlock()
	recon.RunCycle(context.Background())
	if n.count != 1 {
		t.Errorf("notified = %d, want 1", n.count)
	}
}

func TestReconciler_LastCycle(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	recon := New(Config{}, &mockStore{}).WithClock(func() time.Time { return now })

	if _, ok := recon.LastCycle(); ok {
		t.Fatal("LastCycle reported a cycle before any ran")
	}
	recon.RunCycle(context.Background())
	last, ok := recon.LastCycle()
	if !ok || !last.At.Equal(now) {
		t.Errorf("LastCycle = %+v, %v", last, ok)
	}
}

func TestReconciler_CarriesLastSuccess(t *testing.T) {
	job := uuid.New()
	done := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	recon := New(Config{}, &mockStore{lastSuccess: map[uuid.UUID]time.Time{job: done}})

	c := recon.RunCycle(context.Background())
	if got := c.LastSuccess[job]; !got.Equal(done) {
		t.Errorf("last success = %v, want %v", got, done)
	}
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	store := &mockStore{}
	recon := New(Config{Interval: 5 * time.Millisecond, BatchSize: 10}, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- recon.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for store.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("reconciler did not tick")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
