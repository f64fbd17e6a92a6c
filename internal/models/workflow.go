package models

import "time"

// TriggerType enumerates the occurrences a workflow can subscribe to.
type TriggerType string

const (
	TriggerLeadCreated        TriggerType = "LEAD_CREATED"
	TriggerDealStageChanged   TriggerType = "DEAL_STAGE_CHANGED"
	TriggerTicketCreated      TriggerType = "TICKET_CREATED"
	TriggerHealthScoreDropped TriggerType = "HEALTH_SCORE_DROPPED"
	TriggerRenewalDueSoon     TriggerType = "RENEWAL_DUE_SOON"
)

// ActionType enumerates the supported workflow actions. Unrecognized types
// stored in historical workflows are skipped at execution time, not failed.
type ActionType string

const (
	ActionCreateActivity  ActionType = "CREATE_ACTIVITY"
	ActionAssignOwner     ActionType = "ASSIGN_OWNER"
	ActionCreateTicket    ActionType = "CREATE_TICKET"
	ActionNotifyInApp     ActionType = "NOTIFY_IN_APP"
	ActionUpdateDealStage ActionType = "UPDATE_DEAL_STAGE"
)

// Trigger binds a workflow to a trigger type with optional parameters.
type Trigger struct {
	Type   TriggerType    `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Condition is a single predicate evaluated against the trigger payload.
// Conditions on a workflow combine with AND semantics.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Action is one step of a workflow, executed strictly in array order.
type Action struct {
	Type    ActionType     `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Workflow is a stored automation rule: trigger + conditions + ordered actions.
type Workflow struct {
	ID         string      `json:"id"`
	OrgID      string      `json:"org_id"`
	Name       string      `json:"name"`
	Enabled    bool        `json:"enabled"`
	Trigger    Trigger     `json:"trigger"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	CreatedBy  string      `json:"created_by"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// WorkflowRun statuses. SKIPPED is a successful terminal outcome and is
// never retried.
const (
	RunSkipped = "SKIPPED"
	RunSuccess = "SUCCESS"
	RunFailed  = "FAILED"
)

// WorkflowRun is the append-only record of one workflow's evaluation against
// one triggering event. Exactly one run exists per workflow per event pass.
type WorkflowRun struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	WorkflowID   string    `json:"workflow_id"`
	Status       string    `json:"status"`
	TriggerEvent string    `json:"trigger_event"`
	Result       *string   `json:"result,omitempty"`
	Error        *string   `json:"error,omitempty"`
	ExecutedAt   time.Time `json:"executed_at"`
}
