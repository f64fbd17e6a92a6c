package models

import "time"

// Collaborator records the automation actions and the scheduler touch.
// CRUD on these lives in the synchronous API layer, outside this subsystem.

// User is the subset of a CRM user the engine needs for owner resolution.
type User struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Activity is a CRM activity created by the CREATE_ACTIVITY action.
type Activity struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Title       string    `json:"title"`
	OwnerID     string    `json:"owner_id,omitempty"`
	RelatedType string    `json:"related_type,omitempty"`
	RelatedID   string    `json:"related_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ticket is a support ticket created by the CREATE_TICKET action.
type Ticket struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Subject   string    `json:"subject"`
	Priority  string    `json:"priority"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is an in-app notification created by NOTIFY_IN_APP.
type Notification struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Contract is scanned by the scheduler for upcoming renewals.
type Contract struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	CustomerID  string    `json:"customer_id"`
	RenewalDate time.Time `json:"renewal_date"`
	Value       float64   `json:"value"`
}

// HealthProfile carries the signals the scheduler folds into a health score.
type HealthProfile struct {
	ID                string  `json:"id"`
	OrgID             string  `json:"org_id"`
	CustomerID        string  `json:"customer_id"`
	Score             int     `json:"score"`
	OpenTickets       int     `json:"open_tickets"`
	DaysSinceActivity int     `json:"days_since_activity"`
	UsageRatio        float64 `json:"usage_ratio"`
}

// AuditEntry is one system audit row appended on workflow execution.
type AuditEntry struct {
	ID           string         `json:"id"`
	OrgID        string         `json:"org_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
