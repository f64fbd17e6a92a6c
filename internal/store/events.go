package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"automation-engine/internal/models"
)

// MaxAttempts is the retry ceiling after which an event is terminally FAILED.
const MaxAttempts = 5

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("not found")

const eventColumns = `id, org_id, type, payload, status, attempts, next_run_at, last_error, created_at, updated_at`

// Emit persists a new PENDING event due after the optional delay.
// Producers fire and forget; this fails only on a storage error.
func (s *Store) Emit(ctx context.Context, orgID, eventType string, payload map[string]any, delay time.Duration) (models.Event, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Event{}, fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	next := now.Add(delay)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, org_id, type, payload, status, attempts, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $7)
	`, id, orgID, eventType, body, models.EventPending, next, now)
	if err != nil {
		return models.Event{}, fmt.Errorf("insert event: %w", err)
	}

	return models.Event{
		ID:        id,
		OrgID:     orgID,
		Type:      eventType,
		Payload:   payload,
		Status:    models.EventPending,
		NextRunAt: next,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ClaimNext atomically claims one due PENDING event and flips it to
// PROCESSING. The claim is a single conditional update, never a
// read-then-write pair, so at most one worker owns a row even when many
// processes poll concurrently. Returns false when nothing is due.
func (s *Store) ClaimNext(ctx context.Context, now time.Time) (models.Event, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE events SET status = $2, updated_at = NOW()
		WHERE id = (
			SELECT id FROM events
			WHERE status = $3 AND next_run_at <= $1
			ORDER BY next_run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventColumns, now, models.EventProcessing, models.EventPending)

	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Event{}, false, nil
	}
	if err != nil {
		return models.Event{}, false, fmt.Errorf("claim event: %w", err)
	}
	return ev, true, nil
}

// Complete transitions a claimed event to SUCCESS and clears its last error.
func (s *Store) Complete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE events SET status = $2, last_error = NULL, updated_at = NOW() WHERE id = $1
	`, id, models.EventSuccess)
	return err
}

// Fail increments attempts and either reschedules the event with backoff or,
// at the attempt ceiling, marks it terminally FAILED. Rows are never deleted;
// FAILED events stay queryable as the audit trail. Returns the new status.
func (s *Store) Fail(ctx context.Context, ev models.Event, cause string) (string, error) {
	attempts, status := NextRetryState(ev.Attempts)
	if status == models.EventFailed {
		_, err := s.pool.Exec(ctx, `
			UPDATE events SET status = $2, attempts = $3, last_error = $4, updated_at = NOW() WHERE id = $1
		`, ev.ID, models.EventFailed, attempts, cause)
		return models.EventFailed, err
	}

	next := time.Now().UTC().Add(Backoff(attempts))
	_, err := s.pool.Exec(ctx, `
		UPDATE events SET status = $2, attempts = $3, next_run_at = $4, last_error = $5, updated_at = NOW() WHERE id = $1
	`, ev.ID, models.EventPending, attempts, next, cause)
	return models.EventPending, err
}

// NextRetryState returns the attempt count and status a claimed event moves
// to after a failed processing pass: attempts increments by exactly one, and
// the event is terminally FAILED once the new count reaches MaxAttempts,
// otherwise it returns to PENDING for a backoff retry.
func NextRetryState(attempts int) (int, string) {
	attempts++
	if attempts >= MaxAttempts {
		return attempts, models.EventFailed
	}
	return attempts, models.EventPending
}

// Backoff returns the retry delay for the given attempt count:
// min(60, 2^attempts) minutes.
func Backoff(attempts int) time.Duration {
	mins := math.Pow(2, float64(attempts))
	if mins > 60 {
		mins = 60
	}
	return time.Duration(mins) * time.Minute
}

// ResetFailed returns a terminally FAILED event to PENDING for reprocessing.
// Reprocessing re-executes every action of every matched workflow, which can
// duplicate downstream records; this is the documented at-least-once tradeoff.
func (s *Store) ResetFailed(ctx context.Context, orgID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE events SET status = $3, attempts = 0, next_run_at = NOW(), last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND org_id = $2 AND status = $4
	`, id, orgID, models.EventPending, models.EventFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetEvent fetches one event by id within an org.
func (s *Store) GetEvent(ctx context.Context, orgID, id string) (models.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 AND org_id = $2`, id, orgID)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return ev, err
}

// ListEvents returns an org's events, newest first, optionally filtered by status.
func (s *Store) ListEvents(ctx context.Context, orgID, status string, limit int) ([]models.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE org_id = $1`
	args := []any{orgID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EventStats aggregates an org's event counts by status.
func (s *Store) EventStats(ctx context.Context, orgID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM events WHERE org_id = $1 GROUP BY status
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

// PendingDepth counts events due for processing.
func (s *Store) PendingDepth(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM events WHERE status = $1 AND next_run_at <= $2
	`, models.EventPending, now).Scan(&n)
	return n, err
}

func scanEvent(row pgx.Row) (models.Event, error) {
	var ev models.Event
	var payloadJSON []byte
	var lastErr pgtype.Text

	if err := row.Scan(&ev.ID, &ev.OrgID, &ev.Type, &payloadJSON, &ev.Status, &ev.Attempts, &ev.NextRunAt, &lastErr, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return models.Event{}, err
	}
	if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
		return models.Event{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	if lastErr.Valid {
		ev.LastError = &lastErr.String
	}
	return ev, nil
}
