package consumers

import (
	"context"
	"time"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/cache"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

const userEventsQueue = "stock-service.user-events"

// UserEventHandler keeps the operator cache in step with the user service.
type UserEventHandler struct {
	operators service.OperatorRepository
	logger    *logger.Logger
}

// NewUserEventHandler creates a new user event handler
func NewUserEventHandler(operators service.OperatorRepository, log *logger.Logger) *UserEventHandler {
	return &UserEventHandler{operators: operators, logger: log}
}

// UserEventConsumer consumes user events
type UserEventConsumer struct {
	consumer *messaging.Consumer
}

// NewUserEventConsumer declares the queue, binds it to user events and registers
// the handlers. Event IDs are remembered in seen for ttl; seen may be nil, in
// which case duplicates are applied again.
func NewUserEventConsumer(rmq *messaging.RabbitMQ, h *UserEventHandler, seen cache.IdempotencyStore, ttl time.Duration, log *logger.Logger) (*UserEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, userEventsQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeUserEvents, "user.#"); err != nil {
		return nil, err
	}

	if seen != nil {
		consumer.WithIdempotency(seen, ttl)
	}

	consumer.RegisterHandler(messaging.EventUserCreated, h.HandleCreated)
	consumer.RegisterHandler(messaging.EventUserUpdated, h.HandleUpdated)
	consumer.RegisterHandler(messaging.EventUserDeleted, h.HandleDeleted)

	return &UserEventConsumer{consumer: consumer}, nil
}

// Start starts consuming messages
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// withTenant falls back to the tenant carried in the payload when the
// envelope had none.
func withTenant(ctx context.Context, tenantID string) context.Context {
	if _, err := tenant.TenantID(ctx); err == nil || tenantID == "" {
		return ctx
	}
	return tenant.WithTenantID(ctx, tenantID)
}

func (h *UserEventHandler) HandleCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	h.logger.Info().
		Str("user_id", data.UserID).
		Str("name", data.FullName()).
		Msg("received user created event")

	return h.operators.Set(withTenant(ctx, data.TenantID), &actor.OperatorCache{
		UserID:    data.UserID,
		FirstName: data.FirstName,
		LastName:  data.LastName,
		Email:     data.Email,
		RoleName:  data.RoleName,
	})
}

func (h *UserEventHandler) HandleUpdated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserUpdatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	h.logger.Info().
		Str("user_id", data.UserID).
		Msg("received user updated event")

	ctx = withTenant(ctx, data.TenantID)
	existing, err := h.operators.Get(ctx, data.UserID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	for field, target := range map[string]*string{
		"first_name": &existing.FirstName,
		"last_name":  &existing.LastName,
		"email":      &existing.Email,
		"role_name":  &existing.RoleName,
	} {
		if v, ok := changedTo(data.Fields, field); ok {
			*target = v
		}
	}

	return h.operators.Set(ctx, existing)
}

func (h *UserEventHandler) HandleDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	h.logger.Info().
		Str("user_id", data.UserID).
		Msg("received user deleted event")

	return h.operators.Delete(withTenant(ctx, data.TenantID), data.UserID)
}

// changedTo reads {"field": {"from": ..., "to": ...}} change records.
func changedTo(fields map[string]any, name string) (string, bool) {
	change, ok := fields[name].(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := change["to"].(string)
	return v, ok
}
