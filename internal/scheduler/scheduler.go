// Package scheduler owns the lifecycle of scheduled messages:
// Pending moves to exactly one of Sent, Failed or Cancelled and never
// changes again.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
	"msgcenter/internal/storage"
)

const (
	DefaultDispatchTimeout = 10 * time.Second
	// DefaultDispatchGrace is how long Fire waits past the dispatch
	// timeout for the dispatcher to report what it delivered.
	DefaultDispatchGrace = time.Second
)

// Dispatcher validates a message at creation time and delivers it when it
// fires.
type Dispatcher interface {
	Validate(ctx context.Context, msg *models.ScheduledMessage) error
	Dispatch(ctx context.Context, msg *models.ScheduledMessage) error
}

// Locker hands out a mutual-exclusion section per key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type Machine struct {
	store      storage.Storage
	locker     Locker
	dispatcher Dispatcher
	now        func() time.Time
	timeout    time.Duration
	grace      time.Duration
	onCreate   []func(ctx context.Context, msg *models.ScheduledMessage)
	log        zerolog.Logger
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithDispatchTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithDispatchGrace(d time.Duration) Option {
	return func(m *Machine) {
		if d >= 0 {
			m.grace = d
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Machine) { m.log = log.With().Str("component", "scheduler").Logger() }
}

// OnCreate registers a hook run after a message has been stored. Hooks
// must not block.
func OnCreate(fn func(ctx context.Context, msg *models.ScheduledMessage)) Option {
	return func(m *Machine) { m.onCreate = append(m.onCreate, fn) }
}

func New(store storage.Storage, locker Locker, dispatcher Dispatcher, opts ...Option) *Machine {
	m := &Machine{
		store:      store,
		locker:     locker,
		dispatcher: dispatcher,
		now:        time.Now,
		timeout:    DefaultDispatchTimeout,
		grace:      DefaultDispatchGrace,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create enrolls a message for delivery at req.ScheduledTime, which must be
// strictly in the future. Target, template and render data are validated
// up front so bad requests fail here rather than at fire time.
func (m *Machine) Create(ctx context.Context, req models.CreateScheduledMessageRequest) (*models.ScheduledMessage, error) {
	now := m.now()
	if !req.ScheduledTime.After(now) {
		return nil, fmt.Errorf("scheduled_time %s: %w", req.ScheduledTime.Format(time.RFC3339), models.ErrInvalidScheduleTime)
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		return nil, fmt.Errorf("template_id is required: %w", models.ErrInvalidInput)
	}
	if !req.MatchType.Valid() {
		return nil, fmt.Errorf("match_type %q: %w", req.MatchType, models.ErrInvalidInput)
	}

	target := req.TargetSpec
	target.To = strings.TrimSpace(target.To)
	target.UserIDs = models.Compact(target.UserIDs)
	target.Tags = models.Compact(target.Tags)
	target.MatchType = target.MatchType.Normalize()

	msg := &models.ScheduledMessage{
		ScheduleID:    uuid.NewString(),
		Target:        target,
		TemplateID:    req.TemplateID,
		TemplateData:  req.TemplateData,
		ScheduledTime: req.ScheduledTime,
		Status:        models.SchedulePending,
		SourceID:      req.SourceID,
		CreateTime:    now,
		ModifyTime:    now,
	}
	if err := m.dispatcher.Validate(ctx, msg); err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, msg); err != nil {
		return nil, err
	}

	m.log.Info().
		Str("schedule_id", msg.ScheduleID).
		Time("scheduled_time", msg.ScheduledTime).
		Msg("scheduled message created")

	for _, fn := range m.onCreate {
		fn(ctx, msg.Clone())
	}
	return msg, nil
}

func (m *Machine) Get(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	return m.store.GetByID(ctx, id)
}

func (m *Machine) List(ctx context.Context, filter models.ScheduleFilter, page pagination.Request) (pagination.Result[*models.ScheduledMessage], error) {
	return m.store.List(ctx, filter, page)
}

// Cancel moves a pending message to Cancelled. Any other status yields
// ErrAlreadyFinalized, however often it is called.
func (m *Machine) Cancel(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	unlock, err := m.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock schedule %s: %w", id, err)
	}
	defer unlock()

	msg, err := m.store.Update(ctx, id, func(cur *models.ScheduledMessage) error {
		if cur.Status.Terminal() {
			return fmt.Errorf("schedule %s is %s: %w", id, cur.Status, models.ErrAlreadyFinalized)
		}
		cur.Status = models.ScheduleCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().Str("schedule_id", id).Msg("scheduled message cancelled")
	return msg, nil
}

// Fire makes the single delivery attempt for a due message and records
// the outcome. On a delivery error the message ends Failed and the error
// is returned alongside it.
func (m *Machine) Fire(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	unlock, err := m.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lock schedule %s: %w", id, err)
	}
	defer unlock()

	msg, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Status.Terminal() {
		return msg, fmt.Errorf("schedule %s is %s: %w", id, msg.Status, models.ErrAlreadyFinalized)
	}
	if m.now().Before(msg.ScheduledTime) {
		return msg, fmt.Errorf("schedule %s due at %s: %w", id, msg.ScheduledTime.Format(time.RFC3339), models.ErrNotDue)
	}

	// past this point the outcome must be written even if ctx goes away
	detached := context.WithoutCancel(ctx)
	dispatchErr := m.dispatch(detached, msg)
	sentAt := m.now()

	updated, err := m.store.Update(detached, id, func(cur *models.ScheduledMessage) error {
		if cur.Status.Terminal() {
			return fmt.Errorf("schedule %s is %s: %w", id, cur.Status, models.ErrAlreadyFinalized)
		}
		if dispatchErr != nil {
			cur.Status = models.ScheduleFailed
			cur.FailReason = dispatchErr.Error()
			return nil
		}
		cur.Status = models.ScheduleSent
		cur.ActualSendTime = &sentAt
		cur.FailReason = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	if dispatchErr != nil {
		m.log.Warn().Err(dispatchErr).Str("schedule_id", id).Msg("scheduled message failed")
		if !errors.Is(dispatchErr, models.ErrDeliveryFailure) {
			dispatchErr = fmt.Errorf("%w: %v", models.ErrDeliveryFailure, dispatchErr)
		}
		return updated, dispatchErr
	}
	m.log.Info().Str("schedule_id", id).Msg("scheduled message sent")
	return updated, nil
}

// dispatch runs the dispatcher under the dispatch timeout. A dispatcher
// that honors its context stops at the deadline and reports what it got
// done, so its result is awaited for the grace period; one that ignores
// the deadline is abandoned and counted as failed.
func (m *Machine) dispatch(ctx context.Context, msg *models.ScheduledMessage) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.dispatcher.Dispatch(ctx, msg.Clone())
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	grace := time.NewTimer(m.grace)
	defer grace.Stop()
	select {
	case err := <-done:
		return err
	case <-grace.C:
		return fmt.Errorf("dispatch timed out after %s: %w", m.timeout, ctx.Err())
	}
}
