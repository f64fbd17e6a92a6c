package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"automation-engine/internal/models"
)

// Collaborator operations: the minimal slice of the CRM the workflow actions
// and the scheduler touch. Full CRUD on these tables lives in the synchronous
// API layer outside this subsystem.

// CreateActivity inserts a CRM activity and returns its id.
func (s *Store) CreateActivity(ctx context.Context, a models.Activity) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activities (id, org_id, title, owner_id, related_type, related_id, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NOW())
	`, id, a.OrgID, a.Title, a.OwnerID, a.RelatedType, a.RelatedID)
	if err != nil {
		return "", fmt.Errorf("insert activity: %w", err)
	}
	return id, nil
}

// CreateTicket inserts a support ticket and returns its id.
func (s *Store) CreateTicket(ctx context.Context, t models.Ticket) (string, error) {
	id := uuid.New().String()
	if t.Priority == "" {
		t.Priority = "normal"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tickets (id, org_id, subject, priority, owner_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW())
	`, id, t.OrgID, t.Subject, t.Priority, t.OwnerID)
	if err != nil {
		return "", fmt.Errorf("insert ticket: %w", err)
	}
	return id, nil
}

// CreateNotification inserts an in-app notification and returns its id.
func (s *Store) CreateNotification(ctx context.Context, n models.Notification) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, org_id, user_id, message, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, id, n.OrgID, n.UserID, n.Message)
	if err != nil {
		return "", fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

// UpdateDealStage moves a deal to a new pipeline stage.
func (s *Store) UpdateDealStage(ctx context.Context, orgID, dealID, stage string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deals SET stage = $3, updated_at = NOW() WHERE id = $1 AND org_id = $2
	`, dealID, orgID, stage)
	if err != nil {
		return fmt.Errorf("update deal stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deal %s: %w", dealID, ErrNotFound)
	}
	return nil
}

var ownerTables = map[string]string{
	"lead":   "leads",
	"deal":   "deals",
	"ticket": "tickets",
}

// AssignOwner sets the owner of a lead, deal or ticket.
func (s *Store) AssignOwner(ctx context.Context, orgID, entityType, entityID, ownerID string) error {
	table, ok := ownerTables[entityType]
	if !ok {
		return fmt.Errorf("assign owner: unknown entity type %q", entityType)
	}
	var query string
	if table == "tickets" {
		query = `UPDATE tickets SET owner_id = $3 WHERE id = $1 AND org_id = $2`
	} else {
		query = fmt.Sprintf(`UPDATE %s SET owner_id = $3, updated_at = NOW() WHERE id = $1 AND org_id = $2`, table)
	}
	tag, err := s.pool.Exec(ctx, query, entityID, orgID, ownerID)
	if err != nil {
		return fmt.Errorf("assign owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", entityType, entityID, ErrNotFound)
	}
	return nil
}

// FirstUserWithRole resolves the org's oldest user holding a role. Ordering
// by created_at then id keeps the pick deterministic across processes.
func (s *Store) FirstUserWithRole(ctx context.Context, orgID, role string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, org_id, name, role, created_at FROM users
		WHERE org_id = $1 AND role = $2
		ORDER BY created_at, id LIMIT 1
	`, orgID, role)

	var u models.User
	err := row.Scan(&u.ID, &u.OrgID, &u.Name, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, fmt.Errorf("no user with role %q: %w", role, ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("find user by role: %w", err)
	}
	return u, nil
}

// ContractsExpiringWithin returns contracts whose renewal date falls inside
// the notice window, across all orgs. The scheduler's renewal scan.
func (s *Store) ContractsExpiringWithin(ctx context.Context, window time.Duration) ([]models.Contract, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, customer_id, renewal_date, value FROM contracts
		WHERE renewal_date > NOW() AND renewal_date <= $1
	`, time.Now().UTC().Add(window))
	if err != nil {
		return nil, fmt.Errorf("scan contracts: %w", err)
	}
	defer rows.Close()

	var out []models.Contract
	for rows.Next() {
		var c models.Contract
		if err := rows.Scan(&c.ID, &c.OrgID, &c.CustomerID, &c.RenewalDate, &c.Value); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// HealthProfiles returns every customer health profile for recomputation.
func (s *Store) HealthProfiles(ctx context.Context) ([]models.HealthProfile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, customer_id, score, open_tickets, days_since_activity, usage_ratio
		FROM health_profiles
	`)
	if err != nil {
		return nil, fmt.Errorf("list health profiles: %w", err)
	}
	defer rows.Close()

	var out []models.HealthProfile
	for rows.Next() {
		var p models.HealthProfile
		if err := rows.Scan(&p.ID, &p.OrgID, &p.CustomerID, &p.Score, &p.OpenTickets, &p.DaysSinceActivity, &p.UsageRatio); err != nil {
			return nil, fmt.Errorf("scan health profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateHealthScore persists a recomputed score.
func (s *Store) UpdateHealthScore(ctx context.Context, id string, score int) error {
	_, err := s.pool.Exec(ctx, `UPDATE health_profiles SET score = $2 WHERE id = $1`, id, score)
	return err
}

// AppendAudit adds a system audit row.
func (s *Store) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, org_id, action, resource_type, resource_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, uuid.New().String(), entry.OrgID, entry.Action, entry.ResourceType, entry.ResourceID, meta)
	return err
}

// AuditTrail returns an org's audit entries, newest first.
func (s *Store) AuditTrail(ctx context.Context, orgID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, action, resource_type, resource_id, metadata, created_at
		FROM audit_log WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		var meta []byte
		if err := rows.Scan(&entry.ID, &entry.OrgID, &entry.Action, &entry.ResourceType, &entry.ResourceID, &meta, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal(meta, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
