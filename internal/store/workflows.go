package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"automation-engine/internal/models"
)

const workflowColumns = `id, org_id, name, enabled, trigger, conditions, actions, created_by, created_at, updated_at`

// CreateWorkflow inserts a new automation rule.
func (s *Store) CreateWorkflow(ctx context.Context, wf models.Workflow) (models.Workflow, error) {
	trigger, err := json.Marshal(wf.Trigger)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("marshal trigger: %w", err)
	}
	conditions, err := json.Marshal(wf.Conditions)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("marshal conditions: %w", err)
	}
	actions, err := json.Marshal(wf.Actions)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("marshal actions: %w", err)
	}
	if wf.Conditions == nil {
		conditions = []byte(`[]`)
	}
	if wf.Actions == nil {
		actions = []byte(`[]`)
	}

	wf.ID = uuid.New().String()
	now := time.Now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflows (id, org_id, name, enabled, trigger, conditions, actions, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, wf.ID, wf.OrgID, wf.Name, wf.Enabled, trigger, conditions, actions, wf.CreatedBy, now)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("insert workflow: %w", err)
	}
	return wf, nil
}

// GetWorkflow fetches one workflow by id within an org.
func (s *Store) GetWorkflow(ctx context.Context, orgID, id string) (models.Workflow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1 AND org_id = $2`, id, orgID)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Workflow{}, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return wf, err
}

// ListWorkflows returns an org's workflows, newest first.
func (s *Store) ListWorkflows(ctx context.Context, orgID string) ([]models.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workflowColumns+` FROM workflows WHERE org_id = $1 ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// MatchWorkflows returns the enabled workflows of an org subscribed to the
// given trigger type. Disabled workflows never execute.
func (s *Store) MatchWorkflows(ctx context.Context, orgID string, trigger models.TriggerType) ([]models.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workflowColumns+` FROM workflows
		WHERE org_id = $1 AND enabled AND trigger->>'type' = $2
	`, orgID, string(trigger))
	if err != nil {
		return nil, fmt.Errorf("match workflows: %w", err)
	}
	defer rows.Close()

	var out []models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// RecordRun appends one workflow run row. Runs are append-only.
func (s *Store) RecordRun(ctx context.Context, run models.WorkflowRun) (models.WorkflowRun, error) {
	run.ID = uuid.New().String()
	run.ExecutedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_runs (id, org_id, workflow_id, status, trigger_event, result, error, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.OrgID, run.WorkflowID, run.Status, run.TriggerEvent, run.Result, run.Error, run.ExecutedAt)
	if err != nil {
		return models.WorkflowRun{}, fmt.Errorf("insert workflow run: %w", err)
	}
	return run, nil
}

// ListRuns returns a workflow's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, orgID, workflowID string, limit int) ([]models.WorkflowRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, workflow_id, status, trigger_event, result, error, executed_at
		FROM workflow_runs WHERE org_id = $1 AND workflow_id = $2
		ORDER BY executed_at DESC LIMIT $3
	`, orgID, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.WorkflowRun
	for rows.Next() {
		var run models.WorkflowRun
		var result, runErr pgtype.Text
		if err := rows.Scan(&run.ID, &run.OrgID, &run.WorkflowID, &run.Status, &run.TriggerEvent, &result, &runErr, &run.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if result.Valid {
			run.Result = &result.String
		}
		if runErr.Valid {
			run.Error = &runErr.String
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanWorkflow(row pgx.Row) (models.Workflow, error) {
	var wf models.Workflow
	var trigger, conditions, actions []byte

	if err := row.Scan(&wf.ID, &wf.OrgID, &wf.Name, &wf.Enabled, &trigger, &conditions, &actions, &wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return models.Workflow{}, err
	}
	if err := json.Unmarshal(trigger, &wf.Trigger); err != nil {
		return models.Workflow{}, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal(conditions, &wf.Conditions); err != nil {
		return models.Workflow{}, fmt.Errorf("unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &wf.Actions); err != nil {
		return models.Workflow{}, fmt.Errorf("unmarshal actions: %w", err)
	}
	return wf, nil
}
