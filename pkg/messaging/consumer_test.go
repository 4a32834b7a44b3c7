package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaflow/pharmaflow-backend/pkg/cache"
	apperrors "github.com/pharmaflow/pharmaflow-backend/pkg/errors"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

type ackRecorder struct {
	acked    int
	nacked   int
	requeued bool
	rejected int
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }
func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return nil
}
func (a *ackRecorder) Reject(uint64, bool) error { a.rejected++; return nil }

func delivery(t *testing.T, ack *ackRecorder, ev *Event, redelivered bool) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body, Redelivered: redelivered}
}

func userEvent(t *testing.T) *Event {
	t.Helper()
	ev, err := NewEvent(EventUserCreated, "user-service", "corr-1", UserCreatedEvent{UserID: "u-1", Email: "a@b.c"})
	require.NoError(t, err)
	ev.TenantID = "7b0c2a8e-3f4d-4c1e-9a55-0d7e6f1a2b3c"
	return ev
}

func TestConsumer_AcksHandledEventWithTenantContext(t *testing.T) {
	c := newConsumer(nil, "stock-service.user-events", logger.Nop())
	var gotTenant string
	c.RegisterHandler(EventUserCreated, func(ctx context.Context, ev *Event) error {
		gotTenant, _ = tenant.TenantID(ctx)
		return nil
	})

	ack := &ackRecorder{}
	ev := userEvent(t)
	c.handleMessage(context.Background(), delivery(t, ack, ev, false))

	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, ev.TenantID, gotTenant)
}

func TestConsumer_RejectsMalformedBody(t *testing.T) {
	c := newConsumer(nil, "q", logger.Nop())
	ack := &ackRecorder{}
	c.handleMessage(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{")})
	assert.Equal(t, 1, ack.rejected)
}

func TestConsumer_AcksUnknownEventType(t *testing.T) {
	c := newConsumer(nil, "q", logger.Nop())
	ack := &ackRecorder{}
	c.handleMessage(context.Background(), delivery(t, ack, userEvent(t), false))
	assert.Equal(t, 1, ack.acked)
}

func TestConsumer_RequeuesTransientFailureOnce(t *testing.T) {
	c := newConsumer(nil, "q", logger.Nop())
	c.RegisterHandler(EventUserCreated, func(context.Context, *Event) error {
		return apperrors.Transient(errors.New("db down"))
	})

	ack := &ackRecorder{}
	ev := userEvent(t)
	c.handleMessage(context.Background(), delivery(t, ack, ev, false))
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeued)

	c.handleMessage(context.Background(), delivery(t, ack, ev, true))
	assert.Equal(t, 1, ack.rejected)
}

func TestConsumer_DeadLettersPermanentFailure(t *testing.T) {
	c := newConsumer(nil, "q", logger.Nop())
	c.RegisterHandler(EventUserCreated, func(context.Context, *Event) error {
		return apperrors.BadRequest("bad payload")
	})

	ack := &ackRecorder{}
	c.handleMessage(context.Background(), delivery(t, ack, userEvent(t), false))
	assert.Equal(t, 1, ack.rejected)
	assert.Zero(t, ack.nacked)
}

func TestConsumer_SkipsDuplicateDeliveries(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore()
	c := newConsumer(nil, "q", logger.Nop()).WithIdempotency(store, time.Hour)

	calls := 0
	c.RegisterHandler(EventUserCreated, func(context.Context, *Event) error {
		calls++
		return nil
	})

	ack := &ackRecorder{}
	ev := userEvent(t)
	c.handleMessage(context.Background(), delivery(t, ack, ev, false))
	c.handleMessage(context.Background(), delivery(t, ack, ev, true))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, ack.acked)
}

func TestConsumer_FailedEventCanBeRetried(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore()
	c := newConsumer(nil, "q", logger.Nop()).WithIdempotency(store, time.Hour)

	calls := 0
	c.RegisterHandler(EventUserCreated, func(context.Context, *Event) error {
		calls++
		if calls == 1 {
			return apperrors.Transient(errors.New("timeout"))
		}
		return nil
	})

	ack := &ackRecorder{}
	ev := userEvent(t)
	c.handleMessage(context.Background(), delivery(t, ack, ev, false))
	c.handleMessage(context.Background(), delivery(t, ack, ev, true))

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, ack.acked)
}
