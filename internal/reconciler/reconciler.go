package reconciler

import (
	"context"
	"time"

	"github.com/streambro/backend/internal/events"
	"github.com/streambro/backend/internal/launcher"
	"github.com/streambro/backend/internal/logging"
	"github.com/streambro/backend/internal/metrics"
	"github.com/streambro/backend/internal/platform"
	"github.com/streambro/backend/pkg/models"
)

// StreamRegistry is the stream persistence surface the reconciler needs
type StreamRegistry interface {
	GetStream(ctx context.Context, id string) (*models.Stream, error)
	SetStreamStatus(ctx context.Context, id, status string) error
	ClearSchedule(ctx context.Context, id string) error
	ListActiveStreams(ctx context.Context) ([]*models.Stream, error)
}

// ScheduleStore records schedule outcomes
type ScheduleStore interface {
	RecordScheduleResult(ctx context.Context, id, result string) error
}

// SnapshotCache removes cached state for finished streams
type SnapshotCache interface {
	DeleteStreamSnapshot(ctx context.Context, streamID string) error
}

// Reconciler owns all terminal status transitions. Every broadcast
// process exit, requested or not, funnels through ProcessExited, which
// settles the stream into ended or error and always clears the
// schedule link so the next tick cannot relaunch a finished stream.
type Reconciler struct {
	registry  StreamRegistry
	store     ScheduleStore
	platform  platform.Client
	publisher events.Publisher
	snapshots SnapshotCache
	log       *logging.Logger
}

// New creates a reconciler
func New(registry StreamRegistry, store ScheduleStore, client platform.Client, log *logging.Logger) *Reconciler {
	return &Reconciler{
		registry: registry,
		store:    store,
		platform: client,
		log:      log.WithComponent("reconciler"),
	}
}

// SetPublisher attaches a lifecycle event publisher
func (r *Reconciler) SetPublisher(p events.Publisher) { r.publisher = p }

// SetSnapshotCache attaches the status snapshot cache
func (r *Reconciler) SetSnapshotCache(c SnapshotCache) { r.snapshots = c }

// ProcessExited finalizes a stream whose broadcast process has ended.
// It is idempotent: a stream already in a terminal status only gets its
// schedule link re-cleared.
func (r *Reconciler) ProcessExited(ctx context.Context, streamID string, exit launcher.ExitInfo) {
	log := r.log.WithStream(streamID)

	stream, err := r.registry.GetStream(ctx, streamID)
	if err != nil {
		log.ErrorWithErr("Failed to load stream for finalization", err)
		return
	}

	if models.IsTerminalStatus(stream.Status) {
		r.clearLink(ctx, streamID)
		return
	}

	final, reason := r.settle(ctx, stream, exit)

	if err := r.registry.SetStreamStatus(ctx, streamID, final); err != nil {
		log.ErrorWithErr("Failed to set terminal status", err)
	}
	r.clearLink(ctx, streamID)

	if final == models.StreamStatusError && exit.ScheduleID != "" {
		if err := r.store.RecordScheduleResult(ctx, exit.ScheduleID, models.ScheduleResultFailed); err != nil {
			log.ErrorWithErr("Failed to record schedule result", err)
		}
	}

	metrics.ProcessExits.WithLabelValues(reason).Inc()
	if !exit.StartedAt.IsZero() {
		metrics.BroadcastDuration.Observe(exit.ExitedAt.Sub(exit.StartedAt).Seconds())
	}

	if r.snapshots != nil {
		if err := r.snapshots.DeleteStreamSnapshot(ctx, streamID); err != nil {
			log.Warnf("Failed to drop stream snapshot: %v", err)
		}
	}

	eventType := models.StreamEventEnded
	message := ""
	if final == models.StreamStatusError {
		eventType = models.StreamEventCrashed
		if exit.Err != nil {
			message = exit.Err.Error()
		}
	}
	r.publish(ctx, streamID, eventType, final, message)

	log.LogStatusChange(streamID, stream.Status, final, reason)
}

// settle decides the terminal status for an exited stream
func (r *Reconciler) settle(ctx context.Context, stream *models.Stream, exit launcher.ExitInfo) (status, reason string) {
	if exit.Requested {
		return models.StreamStatusEnded, metrics.ExitReasonStopped
	}

	// Unrequested exit. For platform-backed streams the platform is the
	// authority: a broadcast it already marked complete ended normally
	// even though nobody asked the process to stop.
	if stream.UseExternalAPI && stream.ExternalBroadcastID != nil {
		bcStatus, err := r.platform.GetBroadcastStatus(ctx, *stream.ExternalBroadcastID)
		if err != nil {
			r.log.WithStream(stream.ID).Warnf("Failed to cross-check broadcast status: %v", err)
		} else if bcStatus == platform.BroadcastStatusComplete {
			return models.StreamStatusEnded, metrics.ExitReasonComplete
		}
	}

	if exit.Err == nil {
		return models.StreamStatusEnded, metrics.ExitReasonComplete
	}
	return models.StreamStatusError, metrics.ExitReasonCrashed
}

// clearLink drops the stream's schedule link. This runs on every
// finalization, even repeated ones, so a stale link can never survive
// a terminal transition.
func (r *Reconciler) clearLink(ctx context.Context, streamID string) {
	if err := r.registry.ClearSchedule(ctx, streamID); err != nil {
		r.log.WithStream(streamID).ErrorWithErr("Failed to clear schedule link", err)
	}
}

// RecoverOrphans settles streams left in an active status by a previous
// run. Their broadcast processes died with the old process tree, so the
// rows are moved to error and unlinked before the scheduler starts.
func (r *Reconciler) RecoverOrphans(ctx context.Context) (int, error) {
	streams, err := r.registry.ListActiveStreams(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, stream := range streams {
		log := r.log.WithStream(stream.ID)
		log.Warnf("Recovering orphaned stream in status %s", stream.Status)

		if err := r.registry.SetStreamStatus(ctx, stream.ID, models.StreamStatusError); err != nil {
			log.ErrorWithErr("Failed to mark orphan as error", err)
			continue
		}
		r.clearLink(ctx, stream.ID)

		if r.snapshots != nil {
			if err := r.snapshots.DeleteStreamSnapshot(ctx, stream.ID); err != nil {
				log.Warnf("Failed to drop stream snapshot: %v", err)
			}
		}
		r.publish(ctx, stream.ID, models.StreamEventRecovered, models.StreamStatusError, "orphaned by restart")

		metrics.OrphansRecovered.Inc()
		recovered++
	}
	return recovered, nil
}

func (r *Reconciler) publish(ctx context.Context, streamID, eventType, status, message string) {
	if r.publisher == nil {
		return
	}
	event := &models.StreamEvent{
		StreamID:  streamID,
		Type:      eventType,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := r.publisher.PublishStreamEvent(ctx, event); err != nil {
		r.log.WithStream(streamID).Warnf("Failed to publish %s event: %v", eventType, err)
	}
}
