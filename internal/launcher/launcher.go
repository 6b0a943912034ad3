package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/streambro/backend/internal/config"
	"github.com/streambro/backend/internal/events"
	"github.com/streambro/backend/internal/logging"
	"github.com/streambro/backend/internal/metrics"
	"github.com/streambro/backend/internal/platform"
	"github.com/streambro/backend/pkg/models"
)

var (
	// ErrAlreadyRunning means a broadcast process already exists for the
	// stream. At most one process may be live per stream id.
	ErrAlreadyRunning = errors.New("broadcast process already running for stream")
)

// StreamRegistry is the subset of stream persistence the launcher needs
type StreamRegistry interface {
	GetStream(ctx context.Context, id string) (*models.Stream, error)
	SetStreamStatus(ctx context.Context, id, status string) error
	ClearSchedule(ctx context.Context, id string) error
	SetExternalBroadcastID(ctx context.Context, id, broadcastID string) error
}

// ScheduleStore records the outcome of a dispatched schedule
type ScheduleStore interface {
	RecordScheduleResult(ctx context.Context, id, result string) error
}

// ExitInfo describes how a broadcast process ended
type ExitInfo struct {
	Requested  bool   // exit followed an explicit stop request
	ScheduleID string // schedule that launched the broadcast, if any
	StartedAt  time.Time
	ExitedAt   time.Time
	Err        error // non-nil when the process exited abnormally
}

// Finalizer receives process exit notifications. The reconciler
// implements this and owns all terminal status transitions.
type Finalizer interface {
	ProcessExited(ctx context.Context, streamID string, exit ExitInfo)
}

// LogArchiver stores the captured log tail of a finished process
type LogArchiver interface {
	ArchiveProcessLog(ctx context.Context, streamID string, exitedAt time.Time, logTail []byte) (string, error)
}

// SnapshotCache mirrors live stream state into the status cache
type SnapshotCache interface {
	SetStreamSnapshot(ctx context.Context, snapshot *models.StreamSnapshot) error
}

// broadcastProcess is the runtime handle for one running broadcast
type broadcastProcess struct {
	streamID   string
	scheduleID string
	proc       Process
	startedAt  time.Time
}

// Launcher owns the mapping from stream id to at most one running
// broadcast process. Start and stop are serialized per stream id so
// concurrent requests for the same stream never race.
type Launcher struct {
	cfg       config.BroadcastConfig
	registry  StreamRegistry
	store     ScheduleStore
	platform  platform.Client
	runner    Runner
	finalizer Finalizer
	archiver  LogArchiver
	publisher events.Publisher
	snapshots SnapshotCache
	log       *logging.Logger

	// sleep is swappable so retry backoff is instant in tests
	sleep func(time.Duration)

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	procs    map[string]*broadcastProcess
	stopping map[string]bool
}

// New creates a new launcher
func New(cfg config.BroadcastConfig, registry StreamRegistry, store ScheduleStore,
	client platform.Client, runner Runner, finalizer Finalizer, log *logging.Logger) *Launcher {
	return &Launcher{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		platform:  client,
		runner:    runner,
		finalizer: finalizer,
		log:       log.WithComponent("launcher"),
		sleep:     time.Sleep,
		locks:     map[string]*sync.Mutex{},
		procs:     map[string]*broadcastProcess{},
		stopping:  map[string]bool{},
	}
}

// SetArchiver attaches a log archive destination
func (l *Launcher) SetArchiver(a LogArchiver) { l.archiver = a }

// SetPublisher attaches a lifecycle event publisher
func (l *Launcher) SetPublisher(p events.Publisher) { l.publisher = p }

// SetSnapshotCache attaches the status snapshot cache
func (l *Launcher) SetSnapshotCache(c SnapshotCache) { l.snapshots = c }

// lockFor returns the per-stream mutex, creating it on first use
func (l *Launcher) lockFor(streamID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[streamID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[streamID] = m
	}
	return m
}

// Running reports whether a broadcast process exists for the stream
func (l *Launcher) Running(streamID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.procs[streamID]
	return ok
}

// RunningCount returns the number of live broadcast processes
func (l *Launcher) RunningCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

// Start launches the broadcast process for a stream. When the stream
// uses the external API, the platform broadcast object is created first
// with bounded retries. On success the stream is live; on failure the
// stream is marked error and its schedule link cleared.
func (l *Launcher) Start(ctx context.Context, stream *models.Stream, scheduleID string) error {
	lock := l.lockFor(stream.ID)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	_, exists := l.procs[stream.ID]
	l.mu.Unlock()
	if exists {
		return ErrAlreadyRunning
	}

	log := l.log.WithStream(stream.ID)

	broadcastID := ""
	if stream.ExternalBroadcastID != nil {
		broadcastID = *stream.ExternalBroadcastID
	}

	if stream.UseExternalAPI && broadcastID == "" {
		id, err := l.createBroadcast(ctx, stream)
		if err != nil {
			log.ErrorWithErr("Platform broadcast creation failed, giving up", err)
			l.failLaunch(ctx, stream, scheduleID, fmt.Sprintf("broadcast creation failed: %v", err))
			return fmt.Errorf("failed to create platform broadcast: %w", err)
		}
		broadcastID = id

		if err := l.registry.SetExternalBroadcastID(ctx, stream.ID, broadcastID); err != nil {
			log.ErrorWithErr("Failed to persist external broadcast id", err)
			l.failLaunch(ctx, stream, scheduleID, fmt.Sprintf("persisting broadcast id failed: %v", err))
			return err
		}
		log.Infof("Created platform broadcast %s", broadcastID)
	}

	proc, err := l.runner.Spawn(ctx, ProcessSpec{
		StreamID:    stream.ID,
		BroadcastID: broadcastID,
	})
	if err != nil {
		log.ErrorWithErr("Failed to spawn broadcast process", err)
		l.failLaunch(ctx, stream, scheduleID, fmt.Sprintf("spawn failed: %v", err))
		return fmt.Errorf("failed to spawn broadcast process: %w", err)
	}

	bp := &broadcastProcess{
		streamID:   stream.ID,
		scheduleID: scheduleID,
		proc:       proc,
		startedAt:  time.Now(),
	}

	l.mu.Lock()
	l.procs[stream.ID] = bp
	l.mu.Unlock()
	metrics.StreamsLive.Inc()

	if err := l.registry.SetStreamStatus(ctx, stream.ID, models.StreamStatusLive); err != nil {
		log.ErrorWithErr("Failed to mark stream live", err)
	}
	if scheduleID != "" {
		if err := l.store.RecordScheduleResult(ctx, scheduleID, models.ScheduleResultSucceeded); err != nil {
			log.ErrorWithErr("Failed to record schedule result", err)
		}
	}
	l.publish(ctx, stream.ID, models.StreamEventStarted, models.StreamStatusLive, "")
	if l.snapshots != nil {
		snapshot := &models.StreamSnapshot{
			StreamID:  stream.ID,
			Status:    models.StreamStatusLive,
			UpdatedAt: bp.startedAt,
		}
		if broadcastID != "" {
			snapshot.ExternalBroadcastID = broadcastID
		}
		if err := l.snapshots.SetStreamSnapshot(ctx, snapshot); err != nil {
			log.Warnf("Failed to cache stream snapshot: %v", err)
		}
	}
	log.Info("Broadcast process started")

	go l.watch(bp)
	return nil
}

// createBroadcast calls the platform with capped exponential backoff
func (l *Launcher) createBroadcast(ctx context.Context, stream *models.Stream) (string, error) {
	channelID := ""
	if stream.ChannelID != nil {
		channelID = *stream.ChannelID
	}

	attempts := l.cfg.CreateRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.LaunchRetries.Inc()
			l.sleep(platform.RetryDelay(attempt-1, l.cfg.RetryBackoff, l.cfg.RetryBackoffCap))
		}

		id, err := l.platform.CreateBroadcast(ctx, channelID, stream.Title, stream.DurationMinutes)
		if err == nil {
			return id, nil
		}
		lastErr = err
		l.log.WithStream(stream.ID).Warnf("Broadcast creation attempt %d/%d failed: %v", attempt+1, attempts, err)
	}

	return "", lastErr
}

// failLaunch finalizes a failed launch: stream to error, schedule link
// cleared, result recorded. The link must go so the next tick cannot
// pick the dead stream back up.
func (l *Launcher) failLaunch(ctx context.Context, stream *models.Stream, scheduleID, reason string) {
	metrics.LaunchFailures.Inc()

	if err := l.registry.SetStreamStatus(ctx, stream.ID, models.StreamStatusError); err != nil {
		l.log.WithStream(stream.ID).ErrorWithErr("Failed to mark stream error", err)
	}
	if err := l.registry.ClearSchedule(ctx, stream.ID); err != nil {
		l.log.WithStream(stream.ID).ErrorWithErr("Failed to clear schedule link", err)
	}
	if scheduleID != "" {
		if err := l.store.RecordScheduleResult(ctx, scheduleID, models.ScheduleResultFailed); err != nil {
			l.log.WithStream(stream.ID).ErrorWithErr("Failed to record schedule result", err)
		}
	}
	l.publish(ctx, stream.ID, models.StreamEventLaunchFailed, models.StreamStatusError, reason)
}

// Stop requests graceful termination of a stream's broadcast process.
// Stopping a stream with no process is a no-op. Finalization to "ended"
// happens through the exit watcher.
func (l *Launcher) Stop(ctx context.Context, streamID string) error {
	lock := l.lockFor(streamID)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	bp, ok := l.procs[streamID]
	if ok {
		l.stopping[streamID] = true
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}

	log := l.log.WithStream(streamID)

	if err := l.registry.SetStreamStatus(ctx, streamID, models.StreamStatusEnding); err != nil {
		log.ErrorWithErr("Failed to mark stream ending", err)
	}

	// Best effort: ask the platform to complete the broadcast object
	if stream, err := l.registry.GetStream(ctx, streamID); err == nil &&
		stream.UseExternalAPI && stream.ExternalBroadcastID != nil {
		if err := l.platform.TransitionBroadcast(ctx, *stream.ExternalBroadcastID, platform.BroadcastStatusComplete); err != nil {
			log.Warnf("Broadcast transition to complete failed: %v", err)
		}
	}

	if err := bp.proc.Signal(syscall.SIGTERM); err != nil {
		log.Warnf("Failed to signal broadcast process: %v", err)
	}

	select {
	case <-bp.proc.Done():
	case <-time.After(l.cfg.StopGracePeriod):
		log.Warnf("Broadcast process did not exit within %s, killing", l.cfg.StopGracePeriod)
		if err := bp.proc.Signal(syscall.SIGKILL); err != nil {
			log.Warnf("Failed to kill broadcast process: %v", err)
		}
		<-bp.proc.Done()
	}

	return nil
}

// watch waits for process exit and hands terminal handling to the
// reconciler. It runs on its own goroutine, possibly long after the
// start call returned.
func (l *Launcher) watch(bp *broadcastProcess) {
	<-bp.proc.Done()
	exitedAt := time.Now()

	l.mu.Lock()
	delete(l.procs, bp.streamID)
	requested := l.stopping[bp.streamID]
	delete(l.stopping, bp.streamID)
	l.mu.Unlock()
	metrics.StreamsLive.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if l.archiver != nil {
		if tail := bp.proc.Output(); len(tail) > 0 {
			if _, err := l.archiver.ArchiveProcessLog(ctx, bp.streamID, exitedAt, tail); err != nil {
				l.log.WithStream(bp.streamID).Warnf("Failed to archive process log: %v", err)
			}
		}
	}

	l.finalizer.ProcessExited(ctx, bp.streamID, ExitInfo{
		Requested:  requested,
		ScheduleID: bp.scheduleID,
		StartedAt:  bp.startedAt,
		ExitedAt:   exitedAt,
		Err:        bp.proc.ExitErr(),
	})
}

func (l *Launcher) publish(ctx context.Context, streamID, eventType, status, message string) {
	if l.publisher == nil {
		return
	}
	event := &models.StreamEvent{
		StreamID: streamID,
		Type:     eventType,
		Status:   status,
		Message:  message,
	}
	if err := l.publisher.PublishStreamEvent(ctx, event); err != nil {
		l.log.WithStream(streamID).Warnf("Failed to publish %s event: %v", eventType, err)
	}
}
