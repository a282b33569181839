package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/rabbitmq"

	"msgcenter/internal/models"
	"msgcenter/internal/queue"
)

// Queue is the broker surface the Processor consumes from and re-publishes
// early deliveries to.
type Queue interface {
	StartConsumer(ctx context.Context, workers int, handler rabbitmq.MessageHandler) error
	PublishDelayed(ctx context.Context, task queue.Task) (bool, error)
}

// Processor fires schedules delivered on the ready queue.
type Processor struct {
	firer   Firer
	queue   Queue
	workers int
	log     zerolog.Logger
}

func NewProcessor(firer Firer, q Queue, workers int, log zerolog.Logger) *Processor {
	return &Processor{
		firer:   firer,
		queue:   q,
		workers: workers,
		log:     log.With().Str("component", "processor").Logger(),
	}
}

func (p *Processor) Start(ctx context.Context) error {
	if err := p.queue.StartConsumer(ctx, p.workers, p.handleMessage); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	p.log.Info().Msg("processor started")
	return nil
}

// handleMessage acks (returns nil) for every outcome that is final for
// the schedule and nacks with requeue only on infrastructure errors.
func (p *Processor) handleMessage(ctx context.Context, delivery amqp091.Delivery) error {
	var task queue.Task
	if err := json.Unmarshal(delivery.Body, &task); err != nil {
		p.log.Error().Err(err).Msg("dropping malformed task")
		return nil
	}

	log := p.log.With().Str("schedule_id", task.ScheduleID).Logger()
	_, err := p.firer.Fire(ctx, task.ScheduleID)
	switch {
	case err == nil:
		log.Info().Msg("fired")
		return nil
	case errors.Is(err, models.ErrAlreadyFinalized):
		log.Debug().Msg("already finalized")
		return nil
	case errors.Is(err, models.ErrNotFound):
		log.Warn().Msg("schedule no longer exists")
		return nil
	case errors.Is(err, models.ErrDeliveryFailure):
		log.Warn().Err(err).Msg("fired with delivery failure")
		return nil
	case errors.Is(err, models.ErrNotDue):
		published, pubErr := p.queue.PublishDelayed(ctx, task)
		if pubErr != nil {
			return pubErr
		}
		log.Debug().Bool("requeued", published).Msg("not due yet")
		return nil
	default:
		log.Error().Err(err).Msg("fire failed, requeueing")
		return err
	}
}
