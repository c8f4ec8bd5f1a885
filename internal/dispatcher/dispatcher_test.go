package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/testutil"
	"github.com/Arun8573/codec-technology/internal/trigger"
)

// mockStore keeps jobs and tasks in memory and enforces idempotent enqueue
// and forward-only last-fired updates.
type mockStore struct {
	mu        sync.Mutex
	jobs      []domain.Job
	tasks     map[uuid.UUID]domain.Task
	order     []uuid.UUID
	listErr   error
	enqueueFn func(task domain.Task) error
}

func newMockStore() *mockStore {
	return &mockStore{tasks: make(map[uuid.UUID]domain.Task)}
}

func (s *mockStore) ListJobs(ctx context.Context, enabledOnly bool) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Job
	for _, j := range s.jobs {
		if enabledOnly && !j.Enabled {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *mockStore) Enqueue(ctx context.Context, task domain.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueFn != nil {
		if err := s.enqueueFn(task); err != nil {
			return false, err
		}
	}
	if _, exists := s.tasks[task.ID]; exists {
		return false, nil
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	return true, nil
}

func (s *mockStore) UpdateLastFired(ctx context.Context, id uuid.UUID, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		if s.jobs[i].LastFiredAt != nil && !s.jobs[i].LastFiredAt.Before(ts) {
			return false, nil
		}
		t := ts
		s.jobs[i].LastFiredAt = &t
		return true, nil
	}
	return false, domain.ErrJobNotFound
}

func (s *mockStore) addJob(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

func (s *mockStore) job(id uuid.UUID) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return j
		}
	}
	return domain.Job{}
}

func (s *mockStore) fireTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].FireAt)
	}
	return out
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

func (n *mockNotifier) notified() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

func mustSchedule(t *testing.T, spec string) domain.Schedule {
	t.Helper()
	s, err := trigger.Parse(spec, "UTC", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("parse %q: %v", spec, err)
	}
	return s
}

func newJob(t *testing.T, spec string, createdAt time.Time) domain.Job {
	return domain.Job{
		ID:        uuid.New(),
		Name:      "news",
		Target:    domain.TargetSpec{URLs: []string{"https://example.com"}},
		Schedule:  mustSchedule(t, spec),
		Mode:      domain.ModeStatic,
		Enabled:   true,
		CreatedAt: createdAt,
	}
}

func at(h, m int) time.Time {
	return time.Date(2024, 1, 15, h, m, 0, 0, time.UTC)
}

// TestDispatcher_HourlyScenario covers a job created at 10:00 and polled at
// 10:01, 11:01 (twice) and 12:01: exactly the 11:00 and 12:00 fires are queued.
func TestDispatcher_HourlyScenario(t *testing.T) {
	store := newMockStore()
	job := newJob(t, "hourly", at(10, 0))
	store.addJob(job)

	clock := testutil.NewFakeClock(at(10, 1))
	d := New(Config{PollInterval: time.Minute}, store).WithClock(clock.Now)
	ctx := testutil.TestContext(t)

	var lastFired []time.Time
	for _, now := range []time.Time{at(10, 1), at(11, 1), at(11, 1), at(12, 1)} {
		clock.Set(now)
		if _, err := d.Poll(ctx); err != nil {
			t.Fatalf("Poll at %s: %v", now.Format("15:04"), err)
		}
		if lf := store.job(job.ID).LastFiredAt; lf != nil {
			lastFired = append(lastFired, *lf)
		}
	}

	got := store.fireTimes()
	want := []time.Time{at(11, 0), at(12, 0)}
	if len(got) != len(want) {
		t.Fatalf("enqueued %d tasks (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("task %d fire_at = %s, want %s", i, got[i], want[i])
		}
	}

	for i := 1; i < len(lastFired); i++ {
		if lastFired[i].Before(lastFired[i-1]) {
			t.Errorf("last fired went backwards: %s after %s", lastFired[i], lastFired[i-1])
		}
	}
	if lf := store.job(job.ID).LastFiredAt; lf == nil || !lf.Equal(at(12, 0)) {
		t.Errorf("final last fired = %v, want 12:00", lf)
	}
}

func TestDispatcher_CatchesUpMissedFires(t *testing.T) {
	store := newMockStore()
	job := newJob(t, "hourly", at(1, 30))
	store.addJob(job)

	clock := testutil.NewFakeClock(at(5, 10))
	d := New(Config{PollInterval: time.Minute}, store).WithClock(clock.Now)

	n, err := d.Poll(testutil.TestContext(t))
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 4 {
		t.Errorf("inserted = %d, want 4 (02:00..05:00)", n)
	}
}

func TestDispatcher_MaxFiresPerPollBoundsBacklog(t *testing.T) {
	store := newMockStore()
	job := newJob(t, "hourly", at(0, 30))
	store.addJob(job)

	clock := testutil.NewFakeClock(at(10, 5))
	d := New(Config{PollInterval: time.Minute, MaxFiresPerPoll: 3}, store).WithClock(clock.Now)
	ctx := testutil.TestContext(t)

	n, _ := d.Poll(ctx)
	if n != 3 {
		t.Fatalf("first poll inserted %d, want 3", n)
	}
	n, _ = d.Poll(ctx)
	if n != 3 {
		t.Fatalf("second poll inserted %d, want 3", n)
	}
	n, _ = d.Poll(ctx)
	if n != 3 {
		t.Fatalf("third poll inserted %d, want 3", n)
	}
	n, _ = d.Poll(ctx)
	if n != 1 {
		t.Fatalf("fourth poll inserted %d, want 1", n)
	}
	n, _ = d.Poll(ctx)
	if n != 0 {
		t.Fatalf("fifth poll inserted %d, want 0", n)
	}
	if got := len(store.fireTimes()); got != 10 {
		t.Errorf("total tasks = %d, want 10", got)
	}
}

func TestDispatcher_DisabledJobNeverFires(t *testing.T) {
	store := newMockStore()
	job := newJob(t, "hourly", at(8, 0))
	job.Enabled = false
	store.addJob(job)

	clock := testutil.NewFakeClock(at(12, 0))
	d := New(Config{PollInterval: time.Minute}, store).WithClock(clock.Now)

	n, err := d.Poll(testutil.TestContext(t))
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted = %d, want 0", n)
	}
}

func TestDispatcher_OnceFiresExactlyOnce(t *testing.T) {
	store := newMockStore()
	job := newJob(t, "once:2024-01-15T10:30:00Z", at(9, 0))
	store.addJob(job)

	clock := testutil.NewFakeClock(at(10, 31))
	d := New(Config{PollInterval: time.Minute}, store).WithClock(clock.Now)
	ctx := testutil.TestContext(t)

	for i := 0; i < 3; i++ {
		d.Poll(ctx)
		clock.Advance(time.Hour)
	}
	if got := len(store.fireTimes()); got != 1 {
		t.Errorf("tasks = %d, want 1", got)
	}
}

// An immediate one-shot whose enqueue never happened at creation is still
// picked up by the next poll, under the same task id.
func TestDispatcher_FiresUnfiredImmediateOnce(t *testing.T) {
	store := newMockStore()
	created := at(10, 0).Add(300 * time.Millisecond)
	job := newJob(t, "hourly", created)
	job.Schedule = domain.Schedule{Kind: domain.ScheduleOnce, At: at(10, 0), Timezone: "UTC"}
	store.addJob(job)

	clock := testutil.NewFakeClock(at(10, 1))
	d := New(Config{PollInterval: time.Minute}, store).WithClock(clock.Now)
	ctx := testutil.TestContext(t)

	n, err := d.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted = %d, want 1", n)
	}
	if _, ok := store.tasks[domain.TaskID(job.ID, at(10, 0))]; !ok {
		t.Error("task not keyed by the one-shot fire time")
	}
	if lf := store.job(job.ID).LastFiredAt; lf == nil || !lf.Equal(at(10, 0)) {
		t.Errorf("last fired = %v, want 10:00", lf)
	}

	clock.Advance(time.Hour)
	if n, _ := d.Poll(ctx); n != 0 {
		t.Errorf("second poll inserted %d, want 0", n)
	}
}

func TestDispatcher_RepeatAfterCrashIsIdempotent(t *testing.T) {
	// A task inserted before a crash, with last fired never advanced,
	// is not duplicated and last fired catches up.
	store := newMockStore()
	job := newJob(t, "hourly", at(10, 0))
	store.addJob(job)
	store.tasks[domain.TaskID(job.ID, at(11, 0))] = domain.NewTask(job, at(11, 0), at(11, 0))

	clock := testutil.NewFakeClock(at(11, 1))
	d := New(Config{PollInterval: time.Minute}, store).WithClock(clock.Now)

	n, err := d.Poll(testutil.TestContext(t))
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted = %d, want 0", n)
	}
	if lf := store.job(job.ID).LastFiredAt; lf == nil || !lf.Equal(at(11, 0)) {
		t.Errorf("last fired = %v, want 11:00", lf)
	}
}

func TestDispatcher_PerJobErrorDoesNotStopOthers(t *testing.T) {
	store := newMockStore()
	bad := newJob(t, "hourly", at(10, 0))
	good := newJob(t, "hourly", at(10, 0))
	store.addJob(bad)
	store.addJob(good)
	store.enqueueFn = func(task domain.Task) error {
		if task.JobID == bad.ID {
			return errors.New("disk full")
		}
		return nil
	}

	clock := testutil.NewFakeClock(at(11, 1))
	d := New(Config{PollInterval: time.Minute}, store).WithClock(clock.Now).WithLogger(testutil.Logger(t))

	n, err := d.Poll(testutil.TestContext(t))
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted = %d, want 1", n)
	}
	if store.job(bad.ID).LastFiredAt != nil {
		t.Error("last fired advanced for a job whose enqueue failed")
	}
}

func TestDispatcher_ListErrorIsReturned(t *testing.T) {
	store := newMockStore()
	store.listErr = errors.New("connection refused")

	d := New(Config{PollInterval: time.Minute}, store)
	if _, err := d.Poll(testutil.TestContext(t)); err == nil {
		t.Fatal("expected error when listing jobs fails")
	}
}

func TestDispatcher_NotifiesOnlyWhenInserted(t *testing.T) {
	store := newMockStore()
	store.addJob(newJob(t, "hourly", at(10, 0)))
	notifier := &mockNotifier{}

	clock := testutil.NewFakeClock(at(10, 30))
	d := New(Config{PollInterval: time.Minute}, store).WithClock(clock.Now).WithNotifier(notifier)
	ctx := testutil.TestContext(t)

	d.Poll(ctx)
	if notifier.notified() != 0 {
		t.Errorf("notified = %d before any fire, want 0", notifier.notified())
	}

	clock.Set(at(11, 0))
	d.Poll(ctx)
	if notifier.notified() != 1 {
		t.Errorf("notified = %d, want 1", notifier.notified())
	}
}
