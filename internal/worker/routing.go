package worker

import (
	"automation-engine/internal/models"
)

// TriggerFor maps an event type to the workflow trigger it fires. The table
// is fixed: deal.updated fires DEAL_STAGE_CHANGED only when the payload
// carries stageChanged=true, and any other event type gets webhook fan-out
// without workflow matching. workflow.run events deliberately route to no
// trigger so runs cannot recurse.
func TriggerFor(ev models.Event) (models.TriggerType, bool) {
	switch ev.Type {
	case models.EventLeadCreated:
		return models.TriggerLeadCreated, true
	case models.EventDealUpdated:
		if changed, ok := ev.Payload["stageChanged"].(bool); ok && changed {
			return models.TriggerDealStageChanged, true
		}
		return "", false
	case models.EventDealStageChanged:
		return models.TriggerDealStageChanged, true
	case models.EventTicketCreated:
		return models.TriggerTicketCreated, true
	case models.EventHealthScoreDropped:
		return models.TriggerHealthScoreDropped, true
	case models.EventRenewalDueSoon:
		return models.TriggerRenewalDueSoon, true
	default:
		return "", false
	}
}
