package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/retry"

	"msgcenter/internal/models"
	"msgcenter/internal/queue"
	"msgcenter/internal/storage"
)

// Sink receives due schedules found by the Scanner.
type Sink interface {
	Enqueue(ctx context.Context, msg *models.ScheduledMessage) error
}

// Scanner periodically looks for due pending schedules and hands them to
// a Sink. A schedule handed over successfully is not handed over again
// for resendAfter, giving the consumer time to fire it.
type Scanner struct {
	storage     storage.Storage
	sink        Sink
	interval    time.Duration
	batch       int
	resendAfter time.Duration
	now         func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

func NewScanner(store storage.Storage, sink Sink, interval time.Duration, log zerolog.Logger) *Scanner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scanner{
		storage:     store,
		sink:        sink,
		interval:    interval,
		batch:       500,
		resendAfter: time.Minute,
		now:         time.Now,
		recent:      make(map[string]time.Time),
		stopChan:    make(chan struct{}),
		log:         log.With().Str("component", "scanner").Logger(),
	}
}

func (s *Scanner) Start(ctx context.Context) {
	go s.run(ctx)
	s.log.Info().Dur("interval", s.interval).Msg("scanner started")
}

func (s *Scanner) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.log.Info().Msg("scanner stopped")
}

func (s *Scanner) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Scan(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Scan runs one pass and returns how many schedules were handed over.
func (s *Scanner) Scan(ctx context.Context) int {
	retryStrategy := retry.Strategy{
		Attempts: 3,
		Delay:    100 * time.Millisecond,
		Backoff:  2,
	}

	now := s.now()
	var due []*models.ScheduledMessage
	err := retry.DoContext(ctx, retryStrategy, func() error {
		var dueErr error
		due, dueErr = s.storage.Due(ctx, now, s.batch)
		return dueErr
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load due schedules")
		return 0
	}

	s.forgetBefore(now.Add(-s.resendAfter))

	handed := 0
	for _, msg := range due {
		if s.seen(msg.ScheduleID) {
			continue
		}
		if err := s.sink.Enqueue(ctx, msg); err != nil {
			s.log.Error().Err(err).Str("schedule_id", msg.ScheduleID).Msg("failed to hand over due schedule")
			continue
		}
		s.mark(msg.ScheduleID, now)
		handed++
	}
	if handed > 0 {
		s.log.Info().Int("count", handed).Msg("handed over due schedules")
	}
	return handed
}

func (s *Scanner) seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recent[id]
	return ok
}

func (s *Scanner) mark(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent[id] = at
}

func (s *Scanner) forgetBefore(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.recent {
		if at.Before(cutoff) {
			delete(s.recent, id)
		}
	}
}

// ReadyPublisher is the part of the queue manager the QueueSink needs.
type ReadyPublisher interface {
	PublishReady(ctx context.Context, task queue.Task) error
}

// QueueSink publishes due schedules to the ready queue for the processor.
type QueueSink struct {
	pub ReadyPublisher
}

func NewQueueSink(pub ReadyPublisher) *QueueSink {
	return &QueueSink{pub: pub}
}

func (q *QueueSink) Enqueue(ctx context.Context, msg *models.ScheduledMessage) error {
	retryStrategy := retry.Strategy{
		Attempts: 3,
		Delay:    100 * time.Millisecond,
		Backoff:  2,
	}
	return retry.DoContext(ctx, retryStrategy, func() error {
		return q.pub.PublishReady(ctx, queue.TaskFor(msg))
	})
}

// Firer is the scheduler operation that delivers a due schedule.
type Firer interface {
	Fire(ctx context.Context, id string) (*models.ScheduledMessage, error)
}

// DirectSink fires due schedules in-process, for deployments without a
// broker. Delivery failures end the schedule as Failed and are not
// reported back to the scanner.
type DirectSink struct {
	firer Firer
	log   zerolog.Logger
}

func NewDirectSink(firer Firer, log zerolog.Logger) *DirectSink {
	return &DirectSink{firer: firer, log: log.With().Str("component", "direct_sink").Logger()}
}

func (d *DirectSink) Enqueue(ctx context.Context, msg *models.ScheduledMessage) error {
	_, err := d.firer.Fire(ctx, msg.ScheduleID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrAlreadyFinalized), errors.Is(err, models.ErrNotDue):
		d.log.Debug().Err(err).Str("schedule_id", msg.ScheduleID).Msg("skipped")
		return nil
	case errors.Is(err, models.ErrDeliveryFailure):
		return nil
	default:
		return err
	}
}
