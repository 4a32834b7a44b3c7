package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// User events (consumed)
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"

	// Stock events (published)
	EventMovementRecorded  = "stock.movement.recorded"
	EventReceptionResolved = "stock.reception.resolved"
	EventSessionCompleted  = "stock.session.completed"
	EventAlertGenerated    = "stock.alert.generated"
)

// Exchange names
const (
	ExchangeUserEvents  = "user.events"
	ExchangeStockEvents = "stock.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	TenantID      string          `json:"tenant_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// User Events

// UserCreatedEvent is published by the user service when a user is created
type UserCreatedEvent struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	RoleName  string `json:"role_name"`

	TenantID     string `json:"tenant_id"`
	TenantSlug   string `json:"tenant_slug"`
	TenantSchema string `json:"tenant_schema"`
}

// FullName returns the user's full name
func (e *UserCreatedEvent) FullName() string {
	return e.FirstName + " " + e.LastName
}

// UserUpdatedEvent is published by the user service when a user is updated
type UserUpdatedEvent struct {
	UserID string         `json:"user_id"`
	Fields map[string]any `json:"fields"` // Changed fields

	TenantID     string `json:"tenant_id"`
	TenantSlug   string `json:"tenant_slug"`
	TenantSchema string `json:"tenant_schema"`
}

// UserDeletedEvent is published by the user service when a user is deleted
type UserDeletedEvent struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`

	TenantID     string `json:"tenant_id"`
	TenantSlug   string `json:"tenant_slug"`
	TenantSchema string `json:"tenant_schema"`
}

// Stock Events

// MovementRecordedEvent is published after a ledger entry commits
type MovementRecordedEvent struct {
	MovementID     string `json:"movement_id"`
	LotID          string `json:"lot_id"`
	ProductID      string `json:"product_id"`
	MovementType   string `json:"movement_type"`
	QuantityBefore int    `json:"quantity_before"`
	QuantityDelta  int    `json:"quantity_delta"`
	QuantityAfter  int    `json:"quantity_after"`
	ReferenceType  string `json:"reference_type"`
	ReferenceID    string `json:"reference_id"`
	OperatorID     string `json:"operator_id"`
}

// ReceptionResolvedEvent is published after a reception has been turned into lots
type ReceptionResolvedEvent struct {
	ReceptionID      string `json:"reception_id"`
	LotsCreated      int    `json:"lots_created"`
	LotsUpdated      int    `json:"lots_updated"`
	MovementsWritten int    `json:"movements_written"`
	LinesProcessed   int    `json:"lines_processed"`
	LinesTotal       int    `json:"lines_total"`
	Complete         bool   `json:"complete"`
}

// SessionCompletedEvent is published when an inventory session is closed
type SessionCompletedEvent struct {
	SessionID     string `json:"session_id"`
	SessionType   string `json:"session_type"`
	ItemsTotal    int    `json:"items_total"`
	ItemsCounted  int    `json:"items_counted"`
	Discrepancies int    `json:"discrepancies"`
	CompletedBy   string `json:"completed_by"`
}

// AlertGeneratedEvent is published when the expiry scanner raises an alert
type AlertGeneratedEvent struct {
	AlertID       string          `json:"alert_id"`
	AlertType     string          `json:"alert_type"`
	Severity      string          `json:"severity"`
	Message       string          `json:"message"`
	ProductID     string          `json:"product_id,omitempty"`
	LotID         string          `json:"lot_id,omitempty"`
	EstimatedLoss decimal.Decimal `json:"estimated_loss"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
