// Package dispatch delivers rendered content to one address over one
// channel. Concrete gateways sit behind Sender; the Router adds per-channel
// rate limiting, a circuit breaker and a timeout around them.
package dispatch

import (
	"context"
	"time"

	"msgcenter/internal/models"
	"msgcenter/internal/templates"
)

// Dispatcher is the delivery boundary used by the message service.
type Dispatcher interface {
	Deliver(ctx context.Context, ch models.Channel, address string, content templates.Content) error
}

type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// Delivery is what a Sender receives, and what the queue sender puts on
// the wire.
type Delivery struct {
	MsgID     string          `json:"msg_id,omitempty"`
	Channel   models.Channel  `json:"channel"`
	Address   string          `json:"address"`
	Subject   string          `json:"subject,omitempty"`
	Body      string          `json:"body"`
	Format    string          `json:"format"`
	Priority  models.Priority `json:"priority"`
	Timestamp time.Time       `json:"timestamp"`
}

type (
	msgIDKey    struct{}
	priorityKey struct{}
)

// WithMsgID tags ctx with the record id a delivery belongs to.
func WithMsgID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, msgIDKey{}, msgID)
}

func MsgIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(msgIDKey{}).(string)
	return id
}

// WithPriority sets the priority deliveries made under ctx are queued at.
func WithPriority(ctx context.Context, p models.Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext defaults to models.PriorityLow.
func PriorityFromContext(ctx context.Context) models.Priority {
	if p, ok := ctx.Value(priorityKey{}).(models.Priority); ok && p != 0 {
		return p
	}
	return models.PriorityLow
}
