package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/streambro/backend/internal/config"
	"github.com/streambro/backend/internal/database"
	"github.com/streambro/backend/internal/logging"
	"github.com/streambro/backend/internal/metrics"
	"github.com/streambro/backend/internal/tracing"
	"github.com/streambro/backend/pkg/models"
)

// Clock abstracts time.Now so ticks are testable
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ScheduleStore is the schedule persistence the loop needs
type ScheduleStore interface {
	DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error)
	MarkTriggered(ctx context.Context, id string) error
	RecordScheduleResult(ctx context.Context, id, result string) error
}

// StreamRegistry is the stream persistence the loop needs
type StreamRegistry interface {
	GetStream(ctx context.Context, id string) (*models.Stream, error)
	LinkSchedule(ctx context.Context, streamID, scheduleID string) error
	SetStreamStatus(ctx context.Context, id, status string) error
	ListOverdueStreams(ctx context.Context, now time.Time) ([]*models.Stream, error)
}

// Launcher starts and stops broadcast processes
type Launcher interface {
	Start(ctx context.Context, stream *models.Stream, scheduleID string) error
	Stop(ctx context.Context, streamID string) error
}

// Scheduler polls for due schedules on a fixed tick and dispatches
// them to the launcher. Ticks never overlap: if a tick is still
// running when the next fires, the new tick is skipped and counted.
type Scheduler struct {
	cfg      config.SchedulerConfig
	store    ScheduleStore
	registry StreamRegistry
	launcher Launcher
	clock    Clock
	log      *logging.Logger

	tickMu   sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// wg tracks async launch and stop calls so Stop can drain them
	wg sync.WaitGroup
}

// New creates a scheduler
func New(cfg config.SchedulerConfig, store ScheduleStore, registry StreamRegistry, l Launcher, log *logging.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		registry: registry,
		launcher: l,
		clock:    realClock{},
		log:      log.WithComponent("scheduler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetClock replaces the wall clock, used by tests
func (s *Scheduler) SetClock(c Clock) { s.clock = c }

// Start runs the tick loop until Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	s.log.Infof("Scheduler started, tick interval %s", s.cfg.TickInterval)

	go func() {
		defer ticker.Stop()
		defer close(s.doneCh)
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the tick loop and waits for in-flight dispatches
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	s.wg.Wait()
}

// Tick runs one scheduling pass. Exported so tests and the boot
// sequence can drive passes directly.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.tickMu.TryLock() {
		metrics.TicksSkipped.Inc()
		s.log.Warn("Previous tick still running, skipping")
		return
	}
	defer s.tickMu.Unlock()

	span, ctx := tracing.StartSpan(ctx, "scheduler.tick")
	defer span.Finish()

	metrics.TicksTotal.Inc()
	now := s.clock.Now()

	s.dispatchDue(ctx, now)
	s.stopOverdue(ctx, now)
}

// dispatchDue triggers every due schedule. Failures are isolated per
// schedule: one bad row never blocks the rest of the batch.
func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) {
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.log.ErrorWithErr("Failed to load due schedules", err)
		return
	}

	for _, sched := range due {
		s.dispatch(ctx, sched)
	}
}

// dispatch triggers a single schedule
func (s *Scheduler) dispatch(ctx context.Context, sched *models.Schedule) {
	log := s.log.WithSchedule(sched.ID).WithStream(sched.StreamID)

	stream, err := s.registry.GetStream(ctx, sched.StreamID)
	if err != nil {
		if errors.Is(err, database.ErrStreamNotFound) {
			// Schedule points at a deleted stream: retire it
			s.retire(ctx, sched, models.ScheduleResultSkipped)
			log.Warn("Schedule references missing stream, skipped")
			metrics.SchedulesTriggered.WithLabelValues(models.ScheduleResultSkipped).Inc()
			return
		}
		log.ErrorWithErr("Failed to load stream for schedule", err)
		return
	}

	// A stream that is already running must not get a second launch; the
	// schedule is consumed so it never fires again. Finished streams stay
	// dispatchable: a fresh schedule is how an ended or errored stream
	// goes back on air.
	if models.IsActiveStatus(stream.Status) {
		s.retire(ctx, sched, models.ScheduleResultSkipped)
		log.LogScheduleDispatch(sched.ID, sched.StreamID, models.ScheduleResultSkipped)
		metrics.SchedulesTriggered.WithLabelValues(models.ScheduleResultSkipped).Inc()
		return
	}

	if err := s.store.MarkTriggered(ctx, sched.ID); err != nil {
		if errors.Is(err, database.ErrAlreadyTriggered) {
			// Lost the trigger race, another pass owns this schedule
			return
		}
		log.ErrorWithErr("Failed to mark schedule triggered", err)
		return
	}

	if err := s.registry.LinkSchedule(ctx, sched.StreamID, sched.ID); err != nil {
		if errors.Is(err, database.ErrScheduleLinked) {
			if rerr := s.store.RecordScheduleResult(ctx, sched.ID, models.ScheduleResultSkipped); rerr != nil {
				log.ErrorWithErr("Failed to record schedule result", rerr)
			}
			log.Warn("Stream already linked to another schedule, skipped")
			metrics.SchedulesTriggered.WithLabelValues(models.ScheduleResultSkipped).Inc()
			return
		}
		log.ErrorWithErr("Failed to link schedule to stream", err)
		if rerr := s.store.RecordScheduleResult(ctx, sched.ID, models.ScheduleResultFailed); rerr != nil {
			log.ErrorWithErr("Failed to record schedule result", rerr)
		}
		metrics.SchedulesTriggered.WithLabelValues(models.ScheduleResultFailed).Inc()
		return
	}

	if err := s.registry.SetStreamStatus(ctx, sched.StreamID, models.StreamStatusStarting); err != nil {
		log.ErrorWithErr("Failed to mark stream starting", err)
	}

	log.LogScheduleDispatch(sched.ID, sched.StreamID, "dispatched")
	metrics.SchedulesTriggered.WithLabelValues("dispatched").Inc()

	// Launch asynchronously so a slow platform call cannot stall the
	// rest of the batch or the next tick
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.launcher.Start(ctx, stream, sched.ID); err != nil {
			log.ErrorWithErr("Broadcast launch failed", err)
		}
	}()
}

// retire consumes a schedule without launching anything
func (s *Scheduler) retire(ctx context.Context, sched *models.Schedule, result string) {
	if err := s.store.MarkTriggered(ctx, sched.ID); err != nil {
		if !errors.Is(err, database.ErrAlreadyTriggered) {
			s.log.WithSchedule(sched.ID).ErrorWithErr("Failed to mark schedule triggered", err)
		}
		return
	}
	if err := s.store.RecordScheduleResult(ctx, sched.ID, result); err != nil {
		s.log.WithSchedule(sched.ID).ErrorWithErr("Failed to record schedule result", err)
	}
}

// stopOverdue requests a stop for live streams past their planned
// duration. Streams without a duration run until stopped by hand.
func (s *Scheduler) stopOverdue(ctx context.Context, now time.Time) {
	overdue, err := s.registry.ListOverdueStreams(ctx, now)
	if err != nil {
		s.log.ErrorWithErr("Failed to load overdue streams", err)
		return
	}

	for _, stream := range overdue {
		log := s.log.WithStream(stream.ID)
		log.Infof("Stream exceeded planned duration of %d minutes, stopping", *stream.DurationMinutes)
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			if err := s.launcher.Stop(ctx, id); err != nil {
				log.ErrorWithErr("Failed to stop overdue stream", err)
			}
		}(stream.ID)
	}
}
