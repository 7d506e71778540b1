package domain

import (
	"encoding/json"
	"time"
)

// Audit actions recorded for admin mutations and evaluation runs.
const (
	AuditRuleSetCreated    = "ruleset.created"
	AuditRuleSetPublished  = "ruleset.published"
	AuditRuleSetDeprecated = "ruleset.deprecated"
	AuditThresholdUpdated  = "threshold.updated"
	AuditEvaluationRun     = "evaluation.run"
)

// AuditEntry is an append-only record of a state-changing action.
type AuditEntry struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
