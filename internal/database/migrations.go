package database

import (
	"context"
	"fmt"
	"sort"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Up      string
}

// Migrations contains all database migrations
var Migrations = []Migration{
	{
		Version: 1,
		Up: `
			CREATE TABLE IF NOT EXISTS streams (
				id UUID PRIMARY KEY,
				title VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'scheduled',
				use_external_api BOOLEAN NOT NULL DEFAULT false,
				external_broadcast_id TEXT,
				duration_minutes INTEGER,
				start_time TIMESTAMPTZ NOT NULL,
				channel_id TEXT,
				active_schedule_id UUID,
				started_at TIMESTAMPTZ,
				ended_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS stream_schedules (
				id UUID PRIMARY KEY,
				stream_id UUID NOT NULL REFERENCES streams(id) ON DELETE CASCADE,
				schedule_time TIMESTAMPTZ NOT NULL,
				triggered BOOLEAN NOT NULL DEFAULT false,
				triggered_at TIMESTAMPTZ,
				result VARCHAR(20),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_stream_schedules_due
				ON stream_schedules(schedule_time) WHERE triggered = false;
			CREATE INDEX IF NOT EXISTS idx_streams_status ON streams(status);
		`,
	},
	{
		Version: 2,
		Up: `
			-- A schedule may drive at most one stream at a time
			CREATE UNIQUE INDEX IF NOT EXISTS idx_streams_active_schedule
				ON streams(active_schedule_id) WHERE active_schedule_id IS NOT NULL;
		`,
	},
}

// Migrate applies all migrations in version order
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations := make([]Migration, len(Migrations))
	copy(migrations, Migrations)
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for _, m := range migrations {
		var exists bool
		err := db.Pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if exists {
			continue
		}

		if _, err := db.Pool.Exec(ctx, m.Up); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
		if _, err := db.Pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version,
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}

	return nil
}
