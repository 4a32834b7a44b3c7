package domain

import "time"

// Audited entity types.
const (
	EntityReception = "reception"
	EntitySession   = "inventory_session"
	EntityLot       = "lot"
)

// Audited actions.
const (
	ActionResolved  = "resolved"
	ActionCompleted = "completed"
	ActionAdjusted  = "adjusted"
	ActionCreated   = "created"
	ActionValidated = "validated"
)

// AuditEntry is an append-only audit trail row. Details holds a JSON document.
type AuditEntry struct {
	ID         string    `json:"id" db:"id"`
	TenantID   string    `json:"-" db:"tenant_id"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Action     string    `json:"action" db:"action"`
	OperatorID string    `json:"operator_id" db:"operator_id"`
	Details    *string   `json:"details,omitempty" db:"details"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
