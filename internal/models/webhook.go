package models

import "time"

// WebhookSubscription is an org-configured external endpoint that receives
// signed copies of events of a given type. The secret is accepted on create
// and never serialized back out.
type WebhookSubscription struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	EventType string    `json:"event_type"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}
