package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/streambro/backend/pkg/models"
)

var (
	// ErrStreamNotFound is returned when a stream row does not exist
	ErrStreamNotFound = errors.New("stream not found")

	// ErrScheduleNotFound is returned when a schedule row does not exist
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrAlreadyTriggered means the atomic trigger check-and-set lost the
	// race: another evaluation already claimed the schedule. Callers skip.
	ErrAlreadyTriggered = errors.New("schedule already triggered")

	// ErrScheduleLinked means the stream already has an active schedule.
	// The losing schedule is discarded, not queued.
	ErrScheduleLinked = errors.New("stream already has an active schedule")
)

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

const streamColumns = `id, title, status, use_external_api, external_broadcast_id,
	       duration_minutes, start_time, channel_id, active_schedule_id,
	       started_at, ended_at, created_at, updated_at`

func scanStream(row pgx.Row) (*models.Stream, error) {
	var stream models.Stream
	err := row.Scan(
		&stream.ID, &stream.Title, &stream.Status, &stream.UseExternalAPI,
		&stream.ExternalBroadcastID, &stream.DurationMinutes, &stream.StartTime,
		&stream.ChannelID, &stream.ActiveScheduleID, &stream.StartedAt,
		&stream.EndedAt, &stream.CreatedAt, &stream.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &stream, nil
}

// Streams

// CreateStream creates a new stream record
func (r *Repository) CreateStream(ctx context.Context, stream *models.Stream) error {
	if stream.ID == "" {
		stream.ID = uuid.New().String()
	}
	if stream.Status == "" {
		stream.Status = models.StreamStatusScheduled
	}

	query := `
		INSERT INTO streams (id, title, status, use_external_api, duration_minutes, start_time, channel_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		stream.ID, stream.Title, stream.Status, stream.UseExternalAPI,
		stream.DurationMinutes, stream.StartTime, stream.ChannelID,
	).Scan(&stream.CreatedAt, &stream.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// GetStream retrieves a stream by ID
func (r *Repository) GetStream(ctx context.Context, id string) (*models.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE id = $1`

	stream, err := scanStream(r.db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	return stream, nil
}

// ListStreams retrieves streams, optionally filtered by status
func (r *Repository) ListStreams(ctx context.Context, status string) ([]*models.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	var streams []*models.Stream
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, stream)
	}

	return streams, nil
}

// ListActiveStreams retrieves streams in a schedule-driven state
// (starting, live or ending)
func (r *Repository) ListActiveStreams(ctx context.Context) ([]*models.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams
		WHERE status IN ($1, $2, $3)
		ORDER BY created_at`

	rows, err := r.db.Pool.Query(ctx, query,
		models.StreamStatusStarting, models.StreamStatusLive, models.StreamStatusEnding)
	if err != nil {
		return nil, fmt.Errorf("failed to list active streams: %w", err)
	}
	defer rows.Close()

	var streams []*models.Stream
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, stream)
	}

	return streams, nil
}

// ListOverdueStreams retrieves live streams whose planned duration has
// elapsed. Open-ended streams (no duration) are never returned.
func (r *Repository) ListOverdueStreams(ctx context.Context, now time.Time) ([]*models.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams
		WHERE status = $1
		  AND duration_minutes IS NOT NULL
		  AND started_at IS NOT NULL
		  AND started_at + duration_minutes * interval '1 minute' <= $2
		ORDER BY started_at`

	rows, err := r.db.Pool.Query(ctx, query, models.StreamStatusLive, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue streams: %w", err)
	}
	defer rows.Close()

	var streams []*models.Stream
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, stream)
	}

	return streams, nil
}

// SetStreamStatus updates a stream's lifecycle status. The row also
// records when the stream went live and when it reached a terminal state.
func (r *Repository) SetStreamStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE streams
		SET status = $2,
		    started_at = CASE WHEN $2 = $3 AND started_at IS NULL THEN NOW() ELSE started_at END,
		    ended_at   = CASE WHEN $2 IN ($4, $5) THEN NOW() ELSE ended_at END,
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, status,
		models.StreamStatusLive, models.StreamStatusEnded, models.StreamStatusError)
	if err != nil {
		return fmt.Errorf("failed to set stream status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStreamNotFound
	}

	return nil
}

// LinkSchedule sets the stream's active schedule. The check-and-set only
// succeeds when no schedule is currently linked, so two schedules can
// never drive the same stream.
func (r *Repository) LinkSchedule(ctx context.Context, streamID, scheduleID string) error {
	query := `
		UPDATE streams
		SET active_schedule_id = $2, updated_at = NOW()
		WHERE id = $1 AND active_schedule_id IS NULL
	`

	tag, err := r.db.Pool.Exec(ctx, query, streamID, scheduleID)
	if err != nil {
		return fmt.Errorf("failed to link schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a lost race
		if _, getErr := r.GetStream(ctx, streamID); getErr != nil {
			return getErr
		}
		return ErrScheduleLinked
	}

	return nil
}

// ClearSchedule removes the stream's active schedule link. It never
// touches status, so it is safe to call at any time for incident
// recovery.
func (r *Repository) ClearSchedule(ctx context.Context, streamID string) error {
	query := `
		UPDATE streams
		SET active_schedule_id = NULL, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, streamID)
	if err != nil {
		return fmt.Errorf("failed to clear schedule link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStreamNotFound
	}

	return nil
}

// SetExternalBroadcastID records the platform broadcast object created
// for this stream
func (r *Repository) SetExternalBroadcastID(ctx context.Context, streamID, broadcastID string) error {
	query := `
		UPDATE streams
		SET external_broadcast_id = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, streamID, broadcastID)
	if err != nil {
		return fmt.Errorf("failed to set external broadcast id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStreamNotFound
	}

	return nil
}
