package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"automation-engine/internal/models"
	"automation-engine/internal/telemetry"
)

// WorkflowSource loads candidate workflows and records their runs.
// Satisfied by *store.Store.
type WorkflowSource interface {
	MatchWorkflows(ctx context.Context, orgID string, trigger models.TriggerType) ([]models.Workflow, error)
	RecordRun(ctx context.Context, run models.WorkflowRun) (models.WorkflowRun, error)
}

// Emitter persists new events. Satisfied by *store.Store.
type Emitter interface {
	Emit(ctx context.Context, orgID, eventType string, payload map[string]any, delay time.Duration) (models.Event, error)
}

// Auditor appends system audit rows. Satisfied by *store.Store.
type Auditor interface {
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
}

// Engine matches enabled workflows to a trigger, evaluates their conditions
// and executes their actions, recording exactly one run per workflow per
// triggering event.
type Engine struct {
	workflows WorkflowSource
	collab    Collaborators
	emitter   Emitter
	audit     Auditor
}

func New(workflows WorkflowSource, collab Collaborators, emitter Emitter, audit Auditor) *Engine {
	return &Engine{workflows: workflows, collab: collab, emitter: emitter, audit: audit}
}

// HandleTrigger runs every enabled workflow of the org subscribed to the
// trigger type. Matched workflows execute concurrently and independently:
// every one of them runs to its own outcome before the first error (if any)
// is returned, so a failing workflow never stops its siblings but still
// propagates into the worker's retry path, re-running all of them.
func (e *Engine) HandleTrigger(ctx context.Context, ev models.Event, trigger models.TriggerType) error {
	matched, err := e.workflows.MatchWorkflows(ctx, ev.OrgID, trigger)
	if err != nil {
		return fmt.Errorf("match workflows: %w", err)
	}
	if len(matched) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, wf := range matched {
		wf := wf
		g.Go(func() error {
			return e.runWorkflow(ctx, wf, ev)
		})
	}
	return g.Wait()
}

func (e *Engine) runWorkflow(ctx context.Context, wf models.Workflow, ev models.Event) error {
	triggerEvent, _ := json.Marshal(map[string]any{
		"event_id": ev.ID,
		"type":     ev.Type,
		"payload":  ev.Payload,
	})

	if !EvaluateConditions(wf.Conditions, ev.Payload) {
		result := "conditions not met"
		run, err := e.workflows.RecordRun(ctx, models.WorkflowRun{
			OrgID:        ev.OrgID,
			WorkflowID:   wf.ID,
			Status:       models.RunSkipped,
			TriggerEvent: string(triggerEvent),
			Result:       &result,
		})
		if err != nil {
			return fmt.Errorf("record skipped run: %w", err)
		}
		telemetry.WorkflowRunsSkipped.Inc()
		e.emitRunEvent(ctx, ev, wf, run.ID, models.RunSkipped)
		return nil
	}

	results := make([]string, 0, len(wf.Actions))
	for _, action := range wf.Actions {
		res, handled, err := executeAction(ctx, e.collab, ev.OrgID, action, ev.Payload)
		if err != nil {
			// Abort remaining actions. Side effects of earlier actions are
			// not rolled back; the worker's retry re-executes all of them.
			msg := err.Error()
			run, rerr := e.workflows.RecordRun(ctx, models.WorkflowRun{
				OrgID:        ev.OrgID,
				WorkflowID:   wf.ID,
				Status:       models.RunFailed,
				TriggerEvent: string(triggerEvent),
				Error:        &msg,
			})
			if rerr != nil {
				log.Error().Err(rerr).Str("workflow_id", wf.ID).Msg("record failed run")
			}
			e.appendAudit(ctx, ev, wf, run.ID, models.RunFailed)
			telemetry.WorkflowRunsFailed.Inc()
			e.emitRunEvent(ctx, ev, wf, run.ID, models.RunFailed)
			return fmt.Errorf("workflow %s action %s: %w", wf.ID, action.Type, err)
		}
		if handled {
			results = append(results, res)
		}
	}

	result := strings.Join(results, "; ")
	run, err := e.workflows.RecordRun(ctx, models.WorkflowRun{
		OrgID:        ev.OrgID,
		WorkflowID:   wf.ID,
		Status:       models.RunSuccess,
		TriggerEvent: string(triggerEvent),
		Result:       &result,
	})
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	e.appendAudit(ctx, ev, wf, run.ID, models.RunSuccess)
	telemetry.WorkflowRunsSucceeded.Inc()
	e.emitRunEvent(ctx, ev, wf, run.ID, models.RunSuccess)
	return nil
}

// emitRunEvent publishes a workflow.run event for observability. The worker
// never routes workflow.run back into a trigger, so these cannot recurse;
// they only reach webhook subscribers.
func (e *Engine) emitRunEvent(ctx context.Context, ev models.Event, wf models.Workflow, runID, status string) {
	payload := map[string]any{
		"workflow_id":  wf.ID,
		"run_id":       runID,
		"status":       status,
		"event_id":     ev.ID,
		"trigger_type": string(wf.Trigger.Type),
	}
	if _, err := e.emitter.Emit(ctx, ev.OrgID, models.EventWorkflowRun, payload, 0); err != nil {
		log.Warn().Err(err).Str("workflow_id", wf.ID).Msg("emit workflow.run event")
	}
}

func (e *Engine) appendAudit(ctx context.Context, ev models.Event, wf models.Workflow, runID, status string) {
	err := e.audit.AppendAudit(ctx, models.AuditEntry{
		OrgID:        ev.OrgID,
		Action:       "workflow.executed",
		ResourceType: "workflow",
		ResourceID:   wf.ID,
		Metadata: map[string]any{
			"run_id":   runID,
			"status":   status,
			"event_id": ev.ID,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("workflow_id", wf.ID).Msg("append audit")
	}
}
