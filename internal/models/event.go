package models

import "time"

// Event statuses persisted in Postgres. PROCESSING is transient and must be
// owned by at most one worker at any instant; SUCCESS and FAILED are terminal.
const (
	EventPending    = "PENDING"
	EventProcessing = "PROCESSING"
	EventSuccess    = "SUCCESS"
	EventFailed     = "FAILED"
)

// Stable event type strings. These are wire format: webhook subscribers and
// historical audit rows depend on them byte-for-byte, so they never change.
const (
	EventLeadCreated        = "lead.created"
	EventDealUpdated        = "deal.updated"
	EventDealStageChanged   = "deal.stage_changed"
	EventTicketCreated      = "ticket.created"
	EventHealthScoreDropped = "health.score_dropped"
	EventRenewalDueSoon     = "renewal.due_soon"
	EventWorkflowRun        = "workflow.run"
	EventProposalApproved   = "proposal.approved"
)

// Event is one durable unit of asynchronous work. Rows are never deleted;
// they terminate at SUCCESS or FAILED and stay queryable as the audit trail.
type Event struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Status    string         `json:"status"`
	Attempts  int            `json:"attempts"`
	NextRunAt time.Time      `json:"next_run_at"`
	LastError *string        `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
