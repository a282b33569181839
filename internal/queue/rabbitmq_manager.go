package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"

	"msgcenter/internal/dispatch"
	"msgcenter/internal/models"
)

const (
	SchedulesExchange  = "schedules"
	DeliveriesExchange = "deliveries"

	routingDelayed = "delayed"
	routingReady   = "ready"

	// MaxDelay is the longest delay handed to the broker; later schedules
	// are picked up by the scanner.
	MaxDelay = 60 * time.Second
)

// Task is the body of a schedule message. The worker reloads the
// schedule by id; ScheduledTime is informational.
type Task struct {
	ScheduleID    string    `json:"schedule_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

func TaskFor(msg *models.ScheduledMessage) Task {
	return Task{ScheduleID: msg.ScheduleID, ScheduledTime: msg.ScheduledTime}
}

type Manager struct {
	client     *rabbitmq.RabbitClient
	publisher  *rabbitmq.Publisher
	deliveries *rabbitmq.Publisher
	consumer   *rabbitmq.Consumer
	log        zerolog.Logger
}

func NewManager(url string, log zerolog.Logger) (*Manager, error) {
	config := rabbitmq.ClientConfig{
		URL:       url,
		Heartbeat: 10 * time.Second,
		ReconnectStrat: retry.Strategy{
			Attempts: 10,
			Delay:    2 * time.Second,
			Backoff:  2,
		},
		ProducingStrat: retry.Strategy{
			Attempts: 3,
			Delay:    100 * time.Millisecond,
			Backoff:  2,
		},
		ConsumingStrat: retry.Strategy{
			Attempts: 3,
			Delay:    100 * time.Millisecond,
			Backoff:  2,
		},
	}

	client, err := rabbitmq.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	if err := setupExchangesAndQueues(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to setup exchanges and queues: %w", err)
	}

	log = log.With().Str("component", "queue").Logger()
	log.Info().Msg("RabbitMQ manager initialized")
	return &Manager{
		client:     client,
		publisher:  rabbitmq.NewPublisher(client, SchedulesExchange, "application/json"),
		deliveries: rabbitmq.NewPublisher(client, DeliveriesExchange, "application/json"),
		log:        log,
	}, nil
}

// setupExchangesAndQueues declares the schedule delay line (a TTL queue
// dead-lettering into the ready queue) and one outbound queue per channel
// and priority.
func setupExchangesAndQueues(client *rabbitmq.RabbitClient) error {
	if err := client.DeclareExchange(SchedulesExchange, "direct", true, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", SchedulesExchange, err)
	}

	delayQueueArgs := map[string]interface{}{
		"x-dead-letter-exchange":    SchedulesExchange,
		"x-dead-letter-routing-key": routingReady,
		"x-message-ttl":             MaxDelay.Milliseconds(),
	}
	err := client.DeclareQueue(SchedulesExchange+"."+routingDelayed, SchedulesExchange, routingDelayed, true, false, true, delayQueueArgs)
	if err != nil {
		return fmt.Errorf("failed to declare delayed queue: %w", err)
	}
	err = client.DeclareQueue(SchedulesExchange+"."+routingReady, SchedulesExchange, routingReady, true, false, true, nil)
	if err != nil {
		return fmt.Errorf("failed to declare ready queue: %w", err)
	}

	if err := client.DeclareExchange(DeliveriesExchange, "direct", true, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", DeliveriesExchange, err)
	}
	for _, key := range DeliveryRoutingKeys() {
		if err := client.DeclareQueue(DeliveriesExchange+"."+key, DeliveriesExchange, key, true, false, true, nil); err != nil {
			return fmt.Errorf("failed to declare %s delivery queue: %w", key, err)
		}
	}
	return nil
}

// DeliveryRoutingKeys lists the keys gateways consume, highest priority
// first within each channel.
func DeliveryRoutingKeys() []string {
	channels := []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelLark}
	keys := make([]string, 0, len(channels)*len(models.Priorities))
	for _, ch := range channels {
		for _, p := range models.Priorities {
			keys = append(keys, dispatch.RoutingKey(ch, p))
		}
	}
	return keys
}

// PublishDelayed puts the task on the delay line when it is due within
// MaxDelay, straight on the ready queue when already due, and skips it
// otherwise. It reports whether anything was published.
func (m *Manager) PublishDelayed(ctx context.Context, task Task) (bool, error) {
	delay := calculateDelay(task.ScheduledTime, time.Now())
	if delay > MaxDelay {
		m.log.Debug().Str("schedule_id", task.ScheduleID).Dur("delay", delay).Msg("long delay, left to the scanner")
		return false, nil
	}

	body, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("failed to marshal task: %w", err)
	}

	routingKey := routingReady
	var opts []rabbitmq.PublishOption
	if delay > 0 {
		routingKey = routingDelayed
		opts = append(opts, rabbitmq.WithExpiration(delay))
	}

	if err := m.publisher.Publish(ctx, body, routingKey, opts...); err != nil {
		return false, fmt.Errorf("failed to publish schedule %s: %w", task.ScheduleID, err)
	}

	m.log.Debug().Str("schedule_id", task.ScheduleID).Str("routing_key", routingKey).Dur("delay", delay).Msg("published schedule")
	return true, nil
}

func (m *Manager) PublishReady(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := m.publisher.Publish(ctx, body, routingReady); err != nil {
		return fmt.Errorf("failed to publish schedule %s: %w", task.ScheduleID, err)
	}
	return nil
}

// PublishDelivery hands a rendered delivery to the gateway queue bound to
// routingKey.
func (m *Manager) PublishDelivery(ctx context.Context, routingKey string, body []byte) error {
	if err := m.deliveries.Publish(ctx, body, routingKey); err != nil {
		return fmt.Errorf("failed to publish delivery to %s: %w", routingKey, err)
	}
	return nil
}

func (m *Manager) StartConsumer(ctx context.Context, workers int, handler rabbitmq.MessageHandler) error {
	if workers <= 0 {
		workers = 3
	}
	config := rabbitmq.ConsumerConfig{
		Queue:         SchedulesExchange + "." + routingReady,
		ConsumerTag:   "schedules-consumer",
		AutoAck:       false,
		Workers:       workers,
		PrefetchCount: 10,
		Ask: rabbitmq.AskConfig{
			Multiple: false,
		},
		Nack: rabbitmq.NackConfig{
			Multiple: false,
			Requeue:  true,
		},
		Args: nil,
	}

	m.consumer = rabbitmq.NewConsumer(m.client, config, handler)

	go func() {
		if err := m.consumer.Start(ctx); err != nil {
			m.log.Error().Err(err).Msg("consumer stopped")
		}
	}()

	m.log.Info().Int("workers", workers).Msg("consumer started")
	return nil
}

func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func calculateDelay(at, now time.Time) time.Duration {
	if at.Before(now) {
		return 0
	}
	return at.Sub(now)
}
