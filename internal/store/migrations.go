package store

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		next_run_at TIMESTAMPTZ NOT NULL,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_claim ON events (status, next_run_at)`,
	`CREATE INDEX IF NOT EXISTS idx_events_org ON events (org_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		trigger JSONB NOT NULL,
		conditions JSONB NOT NULL DEFAULT '[]',
		actions JSONB NOT NULL DEFAULT '[]',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_match ON workflows (org_id, (trigger->>'type')) WHERE enabled`,
	`CREATE TABLE IF NOT EXISTS workflow_runs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		workflow_id TEXT NOT NULL,
		status TEXT NOT NULL,
		trigger_event TEXT NOT NULL DEFAULT '',
		result TEXT,
		error TEXT,
		executed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_workflow ON workflow_runs (workflow_id, executed_at)`,
	`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		url TEXT NOT NULL,
		secret TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subs_match ON webhook_subscriptions (org_id, event_type) WHERE enabled`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		owner_id TEXT,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		owner_id TEXT,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		title TEXT NOT NULL,
		owner_id TEXT,
		related_type TEXT,
		related_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'normal',
		owner_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		renewal_date TIMESTAMPTZ NOT NULL,
		value DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS health_profiles (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		score INT NOT NULL DEFAULT 100,
		open_tickets INT NOT NULL DEFAULT 0,
		days_since_activity INT NOT NULL DEFAULT 0,
		usage_ratio DOUBLE PRECISION NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// RunMigrations executes the schema statements in order. Statements are
// idempotent so reruns on startup are safe.
func (s *Store) RunMigrations(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration %d: %w", i, err)
		}
	}
	return nil
}
