package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"automation-engine/internal/models"
)

// CreateSubscription registers an external endpoint for an event type.
// The secret is stored as provided and never returned by list queries'
// JSON serialization.
func (s *Store) CreateSubscription(ctx context.Context, sub models.WebhookSubscription) (models.WebhookSubscription, error) {
	sub.ID = uuid.New().String()
	sub.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_subscriptions (id, org_id, event_type, url, secret, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.OrgID, sub.EventType, sub.URL, sub.Secret, sub.Enabled, sub.CreatedAt)
	if err != nil {
		return models.WebhookSubscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns an org's subscriptions.
func (s *Store) ListSubscriptions(ctx context.Context, orgID string) ([]models.WebhookSubscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT id, org_id, event_type, url, secret, enabled, created_at
		FROM webhook_subscriptions WHERE org_id = $1 ORDER BY created_at DESC
	`, orgID)
}

// EnabledSubscriptions returns the enabled subscriptions of an org for one
// event type, the dispatcher's read path.
func (s *Store) EnabledSubscriptions(ctx context.Context, orgID, eventType string) ([]models.WebhookSubscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT id, org_id, event_type, url, secret, enabled, created_at
		FROM webhook_subscriptions WHERE org_id = $1 AND event_type = $2 AND enabled
	`, orgID, eventType)
}

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...any) ([]models.WebhookSubscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []models.WebhookSubscription
	for rows.Next() {
		var sub models.WebhookSubscription
		if err := rows.Scan(&sub.ID, &sub.OrgID, &sub.EventType, &sub.URL, &sub.Secret, &sub.Enabled, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
