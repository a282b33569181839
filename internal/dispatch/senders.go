package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"msgcenter/internal/models"
)

// LogSender writes every delivery to the log and always succeeds.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "log_sender").Logger()}
}

func (s *LogSender) Send(ctx context.Context, d Delivery) error {
	s.log.Info().
		Str("msg_id", d.MsgID).
		Str("channel", d.Channel.String()).
		Str("address", d.Address).
		Str("subject", d.Subject).
		Str("format", d.Format).
		Stringer("priority", d.Priority).
		Int("body_len", len(d.Body)).
		Msg("message delivered")
	return nil
}

// MemorySender stores deliveries in memory for inspection. Addresses
// registered with FailFor are rejected with the given error.
type MemorySender struct {
	mu         sync.Mutex
	deliveries []Delivery
	failures   map[string]error
}

func NewMemorySender() *MemorySender {
	return &MemorySender{failures: make(map[string]error)}
}

func (m *MemorySender) FailFor(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[address] = err
}

func (m *MemorySender) Send(ctx context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failures[d.Address]; ok {
		return err
	}
	m.deliveries = append(m.deliveries, d)
	return nil
}

// Deliveries returns a copy of deliveries seen so far.
func (m *MemorySender) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// Publisher hands a payload to the broker under a routing key.
type Publisher interface {
	PublishDelivery(ctx context.Context, routingKey string, body []byte) error
}

// RoutingKey is "<channel>.<priority>", e.g. "sms.high". Gateways consume
// one queue per key and drain higher priorities first.
func RoutingKey(ch models.Channel, p models.Priority) string {
	return ch.String() + "." + p.String()
}

// QueueSender hands deliveries to channel gateways over the broker, routed
// by RoutingKey.
type QueueSender struct {
	pub Publisher
}

func NewQueueSender(pub Publisher) *QueueSender {
	return &QueueSender{pub: pub}
}

func (s *QueueSender) Send(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	p := d.Priority
	if p == 0 {
		p = models.PriorityLow
	}
	return s.pub.PublishDelivery(ctx, RoutingKey(d.Channel, p), body)
}
