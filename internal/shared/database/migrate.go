package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the portal schema. Idempotent: every statement is
// IF NOT EXISTS so it is safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS care`,

		`CREATE TABLE IF NOT EXISTS care.patients (
			id               UUID PRIMARY KEY,
			status           TEXT NOT NULL,
			current_cycle    INT NOT NULL DEFAULT 1,
			first_name       TEXT NOT NULL DEFAULT '',
			last_name        TEXT NOT NULL DEFAULT '',
			email            TEXT NOT NULL DEFAULT '',
			phone            TEXT NOT NULL DEFAULT '',
			shipping_address JSONB,
			tracking         JSONB,
			current_loop     JSONB,
			clinic           JSONB,
			vitals           JSONB,
			reports          JSONB,
			weekly_logs      JSONB,
			daily_logs       JSONB,
			psych            JSONB,
			medical          JSONB,
			care_team        JSONB,
			care_plan        JSONB,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS care.timeline_events (
			id          UUID PRIMARY KEY,
			seq         BIGSERIAL,
			patient_id  UUID NOT NULL REFERENCES care.patients(id),
			log         TEXT NOT NULL,
			type        TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			doctor      TEXT,
			document_id TEXT,
			context     JSONB,
			event_date  TIMESTAMPTZ NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_timeline_events_patient
			ON care.timeline_events (patient_id, event_date DESC, seq DESC)`,

		`CREATE INDEX IF NOT EXISTS idx_patients_status
			ON care.patients (status)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
