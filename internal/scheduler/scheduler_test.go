package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streambro/backend/internal/config"
	"github.com/streambro/backend/internal/database"
	"github.com/streambro/backend/internal/logging"
	"github.com/streambro/backend/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeStore struct {
	mu        sync.Mutex
	due       []*models.Schedule
	dueErr    error
	dueCalls  int
	triggered map[string]bool
	results   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		triggered: map[string]bool{},
		results:   map[string]string{},
	}
}

func (s *fakeStore) DueSchedules(_ context.Context, _ time.Time) ([]*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dueCalls++
	if s.dueErr != nil {
		return nil, s.dueErr
	}
	out := make([]*models.Schedule, len(s.due))
	copy(out, s.due)
	return out, nil
}

func (s *fakeStore) MarkTriggered(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.triggered[id] {
		return database.ErrAlreadyTriggered
	}
	s.triggered[id] = true
	return nil
}

func (s *fakeStore) RecordScheduleResult(_ context.Context, id, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[id]; !ok {
		s.results[id] = result
	}
	return nil
}

func (s *fakeStore) result(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[id]
}

type fakeRegistry struct {
	mu       sync.Mutex
	streams  map[string]*models.Stream
	getErr   error
	linkErr  error
	linked   map[string]string
	statuses map[string][]string
	overdue  []*models.Stream
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		streams:  map[string]*models.Stream{},
		linked:   map[string]string{},
		statuses: map[string][]string{},
	}
}

func (r *fakeRegistry) GetStream(_ context.Context, id string) (*models.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	s, ok := r.streams[id]
	if !ok {
		return nil, database.ErrStreamNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *fakeRegistry) LinkSchedule(_ context.Context, streamID, scheduleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linkErr != nil {
		return r.linkErr
	}
	if _, ok := r.linked[streamID]; ok {
		return database.ErrScheduleLinked
	}
	r.linked[streamID] = scheduleID
	return nil
}

func (r *fakeRegistry) SetStreamStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = append(r.statuses[id], status)
	if s, ok := r.streams[id]; ok {
		s.Status = status
	}
	return nil
}

func (r *fakeRegistry) ListOverdueStreams(_ context.Context, _ time.Time) ([]*models.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overdue, nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	started  []string // schedule ids
	stopped  []string // stream ids
	startErr error
}

func (l *fakeLauncher) Start(_ context.Context, _ *models.Stream, scheduleID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startErr != nil {
		return l.startErr
	}
	l.started = append(l.started, scheduleID)
	return nil
}

func (l *fakeLauncher) Stop(_ context.Context, streamID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = append(l.stopped, streamID)
	return nil
}

func (l *fakeLauncher) startedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.started))
	copy(out, l.started)
	return out
}

func (l *fakeLauncher) stoppedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.stopped))
	copy(out, l.stopped)
	return out
}

func setup() (*Scheduler, *fakeStore, *fakeRegistry, *fakeLauncher, *fakeClock) {
	store := newFakeStore()
	registry := newFakeRegistry()
	l := &fakeLauncher{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := New(config.SchedulerConfig{TickInterval: time.Minute}, store, registry, l, logging.Nop())
	s.SetClock(clock)
	return s, store, registry, l, clock
}

func schedule(id, streamID string, at time.Time) *models.Schedule {
	return &models.Schedule{ID: id, StreamID: streamID, ScheduleTime: at}
}

func scheduledStream(id string) *models.Stream {
	return &models.Stream{ID: id, Title: "test", Status: models.StreamStatusScheduled}
}

// tick runs one pass and waits for async launches to settle
func tick(s *Scheduler) {
	s.Tick(context.Background())
	s.wg.Wait()
}

func TestTickDispatchesDueSchedule(t *testing.T) {
	s, store, registry, l, clock := setup()
	registry.streams["s1"] = scheduledStream("s1")
	store.due = []*models.Schedule{schedule("sched-1", "s1", clock.Now().Add(-time.Minute))}

	tick(s)

	assert.True(t, store.triggered["sched-1"])
	assert.Equal(t, "sched-1", registry.linked["s1"])
	assert.Equal(t, []string{models.StreamStatusStarting}, registry.statuses["s1"])
	assert.Equal(t, []string{"sched-1"}, l.startedIDs())
}

func TestTickSkipsActiveStream(t *testing.T) {
	s, store, registry, l, clock := setup()
	stream := scheduledStream("s1")
	stream.Status = models.StreamStatusLive
	registry.streams["s1"] = stream
	store.due = []*models.Schedule{schedule("sched-1", "s1", clock.Now().Add(-time.Minute))}

	tick(s)

	// Consumed without launching: it must never fire again
	assert.True(t, store.triggered["sched-1"])
	assert.Equal(t, models.ScheduleResultSkipped, store.result("sched-1"))
	assert.Empty(t, l.startedIDs())
	assert.Empty(t, registry.linked)
}

func TestNewScheduleRelaunchesEndedStream(t *testing.T) {
	s, store, registry, l, clock := setup()
	stream := scheduledStream("s1")
	stream.Status = models.StreamStatusEnded
	registry.streams["s1"] = stream
	store.due = []*models.Schedule{schedule("sched-new", "s1", clock.Now().Add(-time.Minute))}

	tick(s)

	assert.True(t, store.triggered["sched-new"])
	assert.Equal(t, "sched-new", registry.linked["s1"])
	assert.Equal(t, []string{"sched-new"}, l.startedIDs())
}

func TestNewScheduleRelaunchesErroredStream(t *testing.T) {
	s, store, registry, l, clock := setup()
	stream := scheduledStream("s1")
	stream.Status = models.StreamStatusError
	registry.streams["s1"] = stream
	store.due = []*models.Schedule{schedule("sched-retry", "s1", clock.Now().Add(-time.Minute))}

	tick(s)

	assert.True(t, store.triggered["sched-retry"])
	assert.Equal(t, "sched-retry", registry.linked["s1"])
	assert.Equal(t, []string{"sched-retry"}, l.startedIDs())
}

func TestTickSkipsAlreadyTriggeredSchedule(t *testing.T) {
	s, store, registry, l, clock := setup()
	registry.streams["s1"] = scheduledStream("s1")
	store.due = []*models.Schedule{schedule("sched-1", "s1", clock.Now().Add(-time.Minute))}
	store.triggered["sched-1"] = true

	tick(s)

	assert.Empty(t, l.startedIDs())
	assert.Empty(t, store.results)
}

func TestTickSkipsLinkedStream(t *testing.T) {
	s, store, registry, l, clock := setup()
	registry.streams["s1"] = scheduledStream("s1")
	registry.linked["s1"] = "sched-0"
	store.due = []*models.Schedule{schedule("sched-1", "s1", clock.Now().Add(-time.Minute))}

	tick(s)

	assert.Equal(t, models.ScheduleResultSkipped, store.result("sched-1"))
	assert.Empty(t, l.startedIDs())
}

func TestTickIsolatesPerScheduleFailures(t *testing.T) {
	s, store, registry, l, clock := setup()
	// sched-1 references a missing stream, sched-2 is healthy
	registry.streams["s2"] = scheduledStream("s2")
	store.due = []*models.Schedule{
		schedule("sched-1", "missing", clock.Now().Add(-time.Minute)),
		schedule("sched-2", "s2", clock.Now().Add(-time.Minute)),
	}

	tick(s)

	assert.Equal(t, models.ScheduleResultSkipped, store.result("sched-1"))
	assert.Equal(t, []string{"sched-2"}, l.startedIDs())
}

func TestTickAtMostOnceAcrossPasses(t *testing.T) {
	s, store, registry, l, clock := setup()
	registry.streams["s1"] = scheduledStream("s1")
	store.due = []*models.Schedule{schedule("sched-1", "s1", clock.Now().Add(-time.Minute))}

	tick(s)
	// Second pass sees the same row still listed as due
	tick(s)

	assert.Equal(t, []string{"sched-1"}, l.startedIDs())
}

func TestOverlappingTickSkipped(t *testing.T) {
	s, store, _, _, _ := setup()

	require.True(t, s.tickMu.TryLock())
	defer s.tickMu.Unlock()

	s.Tick(context.Background())
	assert.Equal(t, 0, store.dueCalls)
}

func TestWatchdogStopsOverdueStreams(t *testing.T) {
	s, _, registry, l, _ := setup()
	duration := 90
	registry.overdue = []*models.Stream{
		{ID: "s1", Status: models.StreamStatusLive, DurationMinutes: &duration},
	}

	tick(s)

	assert.Equal(t, []string{"s1"}, l.stoppedIDs())
}

func TestStartStop(t *testing.T) {
	store := newFakeStore()
	registry := newFakeRegistry()
	l := &fakeLauncher{}
	s := New(config.SchedulerConfig{TickInterval: 10 * time.Millisecond}, store, registry, l, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(35 * time.Millisecond)
	s.Stop()

	store.mu.Lock()
	calls := store.dueCalls
	store.mu.Unlock()
	assert.Greater(t, calls, 0)
}
