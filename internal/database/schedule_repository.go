package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/streambro/backend/pkg/models"
)

const scheduleColumns = `id, stream_id, schedule_time, triggered, triggered_at, result, created_at`

func scanSchedule(row pgx.Row) (*models.Schedule, error) {
	var sched models.Schedule
	err := row.Scan(
		&sched.ID, &sched.StreamID, &sched.ScheduleTime, &sched.Triggered,
		&sched.TriggeredAt, &sched.Result, &sched.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// Schedules

// CreateSchedule creates a new schedule record
func (r *Repository) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stream_schedules (id, stream_id, schedule_time)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		sched.ID, sched.StreamID, sched.ScheduleTime,
	).Scan(&sched.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	return nil
}

// GetSchedule retrieves a schedule by ID
func (r *Repository) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM stream_schedules WHERE id = $1`

	sched, err := scanSchedule(r.db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return sched, nil
}

// DueSchedules retrieves untriggered schedules with schedule_time at or
// before now, earliest first so a backlog drains fairly.
func (r *Repository) DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM stream_schedules
		WHERE triggered = false AND schedule_time <= $1
		ORDER BY schedule_time ASC`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}

	return schedules, nil
}

// ListSchedulesByStream retrieves all schedules for a stream
func (r *Repository) ListSchedulesByStream(ctx context.Context, streamID string) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM stream_schedules
		WHERE stream_id = $1
		ORDER BY schedule_time ASC`

	rows, err := r.db.Pool.Query(ctx, query, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}

	return schedules, nil
}

// MarkTriggered atomically claims a schedule for dispatch. The
// check-and-set guarantees at most one caller ever succeeds, even under
// concurrent evaluation.
func (r *Repository) MarkTriggered(ctx context.Context, id string) error {
	query := `
		UPDATE stream_schedules
		SET triggered = true, triggered_at = NOW()
		WHERE id = $1 AND triggered = false
	`

	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark schedule triggered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetSchedule(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyTriggered
	}

	return nil
}

// RecordScheduleResult records the outcome of a triggered schedule. The
// result is write-once: once set it is never rewritten, so a late
// finalizer cannot clobber the first recorded outcome.
func (r *Repository) RecordScheduleResult(ctx context.Context, id, result string) error {
	query := `
		UPDATE stream_schedules
		SET result = $2
		WHERE id = $1 AND result IS NULL
	`

	if _, err := r.db.Pool.Exec(ctx, query, id, result); err != nil {
		return fmt.Errorf("failed to record schedule result: %w", err)
	}

	return nil
}
