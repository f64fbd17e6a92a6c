package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"automation-engine/internal/models"
)

type fakeWorkflowStore struct {
	mu        sync.Mutex
	workflows []models.Workflow
	runs      []models.WorkflowRun
	emitted   []models.Event
	audits    []models.AuditEntry
}

func (f *fakeWorkflowStore) MatchWorkflows(_ context.Context, orgID string, trigger models.TriggerType) ([]models.Workflow, error) {
	var out []models.Workflow
	for _, wf := range f.workflows {
		if wf.OrgID == orgID && wf.Enabled && wf.Trigger.Type == trigger {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (f *fakeWorkflowStore) RecordRun(_ context.Context, run models.WorkflowRun) (models.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.ID = uuid.New().String()
	run.ExecutedAt = time.Now()
	f.runs = append(f.runs, run)
	return run, nil
}

func (f *fakeWorkflowStore) Emit(_ context.Context, orgID, eventType string, payload map[string]any, _ time.Duration) (models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := models.Event{ID: uuid.New().String(), OrgID: orgID, Type: eventType, Payload: payload}
	f.emitted = append(f.emitted, ev)
	return ev, nil
}

func (f *fakeWorkflowStore) AppendAudit(_ context.Context, entry models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeWorkflowStore) runFor(workflowID string) (models.WorkflowRun, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.WorkflowID == workflowID {
			return run, true
		}
	}
	return models.WorkflowRun{}, false
}

type fakeCollaborators struct {
	mu            sync.Mutex
	activities    []models.Activity
	tickets       []models.Ticket
	notifications []models.Notification
	failTickets   bool
	users         []models.User
}

func (f *fakeCollaborators) CreateActivity(_ context.Context, a models.Activity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = fmt.Sprintf("act-%d", len(f.activities)+1)
	f.activities = append(f.activities, a)
	return a.ID, nil
}

func (f *fakeCollaborators) CreateTicket(_ context.Context, t models.Ticket) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTickets {
		return "", errors.New("ticket service unavailable")
	}
	t.ID = fmt.Sprintf("tkt-%d", len(f.tickets)+1)
	f.tickets = append(f.tickets, t)
	return t.ID, nil
}

func (f *fakeCollaborators) CreateNotification(_ context.Context, n models.Notification) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.ID = fmt.Sprintf("ntf-%d", len(f.notifications)+1)
	f.notifications = append(f.notifications, n)
	return n.ID, nil
}

func (f *fakeCollaborators) UpdateDealStage(_ context.Context, _, _, _ string) error { return nil }

func (f *fakeCollaborators) AssignOwner(_ context.Context, _, _, _, _ string) error { return nil }

func (f *fakeCollaborators) FirstUserWithRole(_ context.Context, orgID, role string) (models.User, error) {
	for _, u := range f.users {
		if u.OrgID == orgID && u.Role == role {
			return u, nil
		}
	}
	return models.User{}, errors.New("no user with role " + role)
}

func newTestEngine(store *fakeWorkflowStore, collab *fakeCollaborators) *Engine {
	return New(store, collab, store, store)
}

func TestConditionsFailRecordsSkippedRun(t *testing.T) {
	store := &fakeWorkflowStore{workflows: []models.Workflow{{
		ID:      "wf1",
		OrgID:   "org1",
		Enabled: true,
		Trigger: models.Trigger{Type: models.TriggerDealStageChanged},
		Conditions: []models.Condition{
			{Field: "stage", Operator: "neq", Value: "WON"},
		},
		Actions: []models.Action{{Type: models.ActionCreateActivity}},
	}}}
	collab := &fakeCollaborators{}
	eng := newTestEngine(store, collab)

	ev := models.Event{ID: "e1", OrgID: "org1", Type: models.EventDealStageChanged, Payload: map[string]any{"stage": "WON"}}
	if err := eng.HandleTrigger(context.Background(), ev, models.TriggerDealStageChanged); err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}

	run, ok := store.runFor("wf1")
	if !ok {
		t.Fatal("expected a run to be recorded")
	}
	if run.Status != models.RunSkipped {
		t.Fatalf("run status = %s, want SKIPPED", run.Status)
	}
	if run.Result == nil || *run.Result != "conditions not met" {
		t.Fatalf("run result = %v", run.Result)
	}
	if len(collab.activities) != 0 {
		t.Fatal("skipped workflow must not execute actions")
	}
	if len(store.emitted) != 1 || store.emitted[0].Type != models.EventWorkflowRun {
		t.Fatalf("expected one workflow.run event, got %v", store.emitted)
	}
}

func TestSiblingWorkflowsRunIndependently(t *testing.T) {
	store := &fakeWorkflowStore{workflows: []models.Workflow{
		{
			ID:      "wf-fail",
			OrgID:   "org1",
			Enabled: true,
			Trigger: models.Trigger{Type: models.TriggerLeadCreated},
			Actions: []models.Action{{Type: models.ActionCreateTicket}},
		},
		{
			ID:      "wf-ok",
			OrgID:   "org1",
			Enabled: true,
			Trigger: models.Trigger{Type: models.TriggerLeadCreated},
			Actions: []models.Action{{Type: models.ActionCreateActivity, Payload: map[string]any{"title": "Call the lead"}}},
		},
	}}
	collab := &fakeCollaborators{failTickets: true}
	eng := newTestEngine(store, collab)

	ev := models.Event{ID: "e1", OrgID: "org1", Type: models.EventLeadCreated, Payload: map[string]any{"leadId": "l1"}}
	err := eng.HandleTrigger(context.Background(), ev, models.TriggerLeadCreated)
	if err == nil {
		t.Fatal("expected the failing workflow's error to propagate")
	}

	failed, ok := store.runFor("wf-fail")
	if !ok || failed.Status != models.RunFailed {
		t.Fatalf("wf-fail run = %+v", failed)
	}
	succeeded, ok := store.runFor("wf-ok")
	if !ok || succeeded.Status != models.RunSuccess {
		t.Fatalf("wf-ok run = %+v", succeeded)
	}
	if len(collab.activities) != 1 {
		t.Fatalf("expected the succeeding workflow's activity, got %d", len(collab.activities))
	}
}

func TestActionsRunInOrderAndAbortOnError(t *testing.T) {
	store := &fakeWorkflowStore{workflows: []models.Workflow{{
		ID:      "wf1",
		OrgID:   "org1",
		Enabled: true,
		Trigger: models.Trigger{Type: models.TriggerTicketCreated},
		Actions: []models.Action{
			{Type: models.ActionCreateActivity, Payload: map[string]any{"title": "Triage"}},
			{Type: models.ActionCreateTicket},
			{Type: models.ActionNotifyInApp, Payload: map[string]any{"userId": "u1"}},
		},
	}}}
	collab := &fakeCollaborators{failTickets: true}
	eng := newTestEngine(store, collab)

	ev := models.Event{ID: "e1", OrgID: "org1", Type: models.EventTicketCreated, Payload: map[string]any{"ticketId": "t1"}}
	if err := eng.HandleTrigger(context.Background(), ev, models.TriggerTicketCreated); err == nil {
		t.Fatal("expected error from second action")
	}

	// The first action's side effect stands; the third never runs.
	if len(collab.activities) != 1 {
		t.Fatalf("activities = %d, want 1", len(collab.activities))
	}
	if len(collab.notifications) != 0 {
		t.Fatalf("notifications = %d, want 0", len(collab.notifications))
	}
	run, _ := store.runFor("wf1")
	if run.Status != models.RunFailed || run.Error == nil {
		t.Fatalf("run = %+v", run)
	}
}

func TestUnknownActionTypesAreIgnored(t *testing.T) {
	store := &fakeWorkflowStore{workflows: []models.Workflow{{
		ID:      "wf1",
		OrgID:   "org1",
		Enabled: true,
		Trigger: models.Trigger{Type: models.TriggerLeadCreated},
		Actions: []models.Action{
			{Type: models.ActionType("SEND_CARRIER_PIGEON")},
			{Type: models.ActionCreateActivity, Payload: map[string]any{"title": "Welcome"}},
		},
	}}}
	collab := &fakeCollaborators{}
	eng := newTestEngine(store, collab)

	ev := models.Event{ID: "e1", OrgID: "org1", Type: models.EventLeadCreated, Payload: map[string]any{"leadId": "l1"}}
	if err := eng.HandleTrigger(context.Background(), ev, models.TriggerLeadCreated); err != nil {
		t.Fatalf("unknown action type must not fail the run: %v", err)
	}

	run, _ := store.runFor("wf1")
	if run.Status != models.RunSuccess {
		t.Fatalf("run status = %s", run.Status)
	}
	if run.Result == nil || !strings.HasPrefix(*run.Result, "created activity") {
		t.Fatalf("result = %v", run.Result)
	}
	if len(store.audits) != 1 || store.audits[0].Action != "workflow.executed" || store.audits[0].ResourceID != "wf1" {
		t.Fatalf("audits = %+v", store.audits)
	}
}

func TestReprocessingDuplicatesSideEffects(t *testing.T) {
	// At-least-once, non-idempotent: when the worker retries an event (for
	// example after a sibling workflow or webhook delivery failed), every
	// matched workflow re-executes and re-creates its records. This asserts
	// the current behavior, not exactly-once semantics.
	store := &fakeWorkflowStore{workflows: []models.Workflow{
		{
			ID:      "wf-fail",
			OrgID:   "org1",
			Enabled: true,
			Trigger: models.Trigger{Type: models.TriggerLeadCreated},
			Actions: []models.Action{{Type: models.ActionCreateTicket}},
		},
		{
			ID:      "wf-ok",
			OrgID:   "org1",
			Enabled: true,
			Trigger: models.Trigger{Type: models.TriggerLeadCreated},
			Actions: []models.Action{{Type: models.ActionCreateActivity}},
		},
	}}
	collab := &fakeCollaborators{failTickets: true}
	eng := newTestEngine(store, collab)

	ev := models.Event{ID: "e1", OrgID: "org1", Type: models.EventLeadCreated, Payload: map[string]any{"leadId": "l1"}}
	for i := 0; i < 2; i++ {
		if err := eng.HandleTrigger(context.Background(), ev, models.TriggerLeadCreated); err == nil {
			t.Fatal("expected failure on every attempt")
		}
	}

	if len(collab.activities) != 2 {
		t.Fatalf("activities = %d, want 2 (one duplicate per retry)", len(collab.activities))
	}
	if len(store.runs) != 4 {
		t.Fatalf("runs = %d, want 4 (one per workflow per attempt)", len(store.runs))
	}
}

func TestOwnerResolutionByRole(t *testing.T) {
	store := &fakeWorkflowStore{workflows: []models.Workflow{{
		ID:      "wf1",
		OrgID:   "org1",
		Enabled: true,
		Trigger: models.Trigger{Type: models.TriggerTicketCreated},
		Actions: []models.Action{
			{Type: models.ActionNotifyInApp, Payload: map[string]any{"role": "support_manager", "message": "New ticket"}},
		},
	}}}
	collab := &fakeCollaborators{users: []models.User{
		{ID: "u9", OrgID: "org1", Role: "support_manager"},
	}}
	eng := newTestEngine(store, collab)

	ev := models.Event{ID: "e1", OrgID: "org1", Type: models.EventTicketCreated, Payload: map[string]any{"ticketId": "t1"}}
	if err := eng.HandleTrigger(context.Background(), ev, models.TriggerTicketCreated); err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}
	if len(collab.notifications) != 1 || collab.notifications[0].UserID != "u9" {
		t.Fatalf("notifications = %+v", collab.notifications)
	}
}
