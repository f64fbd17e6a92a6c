package engine

import (
	"context"
	"fmt"

	"automation-engine/internal/models"
)

// Collaborators is the slice of the CRM the workflow actions mutate.
// Satisfied by *store.Store.
type Collaborators interface {
	CreateActivity(ctx context.Context, a models.Activity) (string, error)
	CreateTicket(ctx context.Context, t models.Ticket) (string, error)
	CreateNotification(ctx context.Context, n models.Notification) (string, error)
	UpdateDealStage(ctx context.Context, orgID, dealID, stage string) error
	AssignOwner(ctx context.Context, orgID, entityType, entityID, ownerID string) error
	FirstUserWithRole(ctx context.Context, orgID, role string) (models.User, error)
}

// executeAction performs one workflow action. Each action reads only the
// original trigger payload plus its own static config; results of earlier
// actions are never fed forward. An unrecognized type is skipped with
// handled=false rather than failing the run.
func executeAction(ctx context.Context, collab Collaborators, orgID string, action models.Action, payload map[string]any) (result string, handled bool, err error) {
	switch action.Type {
	case models.ActionCreateActivity:
		title := stringField(action.Payload, "title")
		if title == "" {
			title = "Follow up"
		}
		ownerID, err := resolveOwner(ctx, collab, orgID, action.Payload, false)
		if err != nil {
			return "", true, err
		}
		relatedType, relatedID := entityRef(payload)
		id, err := collab.CreateActivity(ctx, models.Activity{
			OrgID:       orgID,
			Title:       title,
			OwnerID:     ownerID,
			RelatedType: relatedType,
			RelatedID:   relatedID,
		})
		if err != nil {
			return "", true, err
		}
		return fmt.Sprintf("created activity %s", id), true, nil

	case models.ActionAssignOwner:
		ownerID, err := resolveOwner(ctx, collab, orgID, action.Payload, true)
		if err != nil {
			return "", true, err
		}
		entityType, entityID := entityRef(payload)
		if entityID == "" {
			return "", true, fmt.Errorf("assign owner: no entity reference in payload")
		}
		if err := collab.AssignOwner(ctx, orgID, entityType, entityID, ownerID); err != nil {
			return "", true, err
		}
		return fmt.Sprintf("assigned %s %s to %s", entityType, entityID, ownerID), true, nil

	case models.ActionCreateTicket:
		subject := stringField(action.Payload, "subject")
		if subject == "" {
			subject = "Automated ticket"
		}
		ownerID, err := resolveOwner(ctx, collab, orgID, action.Payload, false)
		if err != nil {
			return "", true, err
		}
		id, err := collab.CreateTicket(ctx, models.Ticket{
			OrgID:    orgID,
			Subject:  subject,
			Priority: stringField(action.Payload, "priority"),
			OwnerID:  ownerID,
		})
		if err != nil {
			return "", true, err
		}
		return fmt.Sprintf("created ticket %s", id), true, nil

	case models.ActionNotifyInApp:
		message := stringField(action.Payload, "message")
		if message == "" {
			message = "Workflow notification"
		}
		userID, err := resolveOwner(ctx, collab, orgID, action.Payload, true)
		if err != nil {
			return "", true, err
		}
		if _, err := collab.CreateNotification(ctx, models.Notification{
			OrgID:   orgID,
			UserID:  userID,
			Message: message,
		}); err != nil {
			return "", true, err
		}
		return fmt.Sprintf("notified user %s", userID), true, nil

	case models.ActionUpdateDealStage:
		stage := stringField(action.Payload, "stage")
		if stage == "" {
			return "", true, fmt.Errorf("update deal stage: action payload missing stage")
		}
		dealID := stringField(payload, "dealId")
		if dealID == "" {
			return "", true, fmt.Errorf("update deal stage: payload missing dealId")
		}
		if err := collab.UpdateDealStage(ctx, orgID, dealID, stage); err != nil {
			return "", true, err
		}
		return fmt.Sprintf("moved deal %s to %s", dealID, stage), true, nil

	default:
		return "", false, nil
	}
}

// resolveOwner picks the acting user for an action. An explicit ownerId in
// the action config wins; otherwise the org's oldest user holding the
// configured role is used (ordered by created_at then id, so the pick is
// deterministic). When required is false and neither is configured, the
// action proceeds unowned.
func resolveOwner(ctx context.Context, collab Collaborators, orgID string, config map[string]any, required bool) (string, error) {
	if ownerID := stringField(config, "ownerId"); ownerID != "" {
		return ownerID, nil
	}
	role := stringField(config, "role")
	if role == "" {
		if stringField(config, "userId") != "" {
			return stringField(config, "userId"), nil
		}
		if required {
			return "", fmt.Errorf("action config has neither ownerId nor role")
		}
		return "", nil
	}
	user, err := collab.FirstUserWithRole(ctx, orgID, role)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// entityRef extracts the primary entity reference from a trigger payload.
// Checked in a fixed order so payloads carrying several ids resolve the same
// way every time.
func entityRef(payload map[string]any) (entityType, entityID string) {
	for _, ref := range []struct{ key, typ string }{
		{"leadId", "lead"},
		{"dealId", "deal"},
		{"ticketId", "ticket"},
		{"customerId", "customer"},
	} {
		if id := stringField(payload, ref.key); id != "" {
			return ref.typ, id
		}
	}
	return "", ""
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
