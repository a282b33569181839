package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"msgcenter/internal/models"
	"msgcenter/internal/storage"
)

type fakeDispatcher struct {
	validateErr error
	dispatchErr error
	// block waits for the deadline and fails with it
	block bool
	// partial waits for the deadline and reports success, as a fan-out
	// that delivered some recipients before running out of time does
	partial bool
	// hang ignores the deadline until closed
	hang       chan struct{}
	delay      time.Duration
	onDispatch func()
	calls      atomic.Int32
}

func (f *fakeDispatcher) Validate(ctx context.Context, msg *models.ScheduledMessage) error {
	return f.validateErr
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, msg *models.ScheduledMessage) error {
	f.calls.Add(1)
	if f.onDispatch != nil {
		f.onDispatch()
	}
	switch {
	case f.block:
		<-ctx.Done()
		return ctx.Err()
	case f.partial:
		<-ctx.Done()
		return nil
	case f.hang != nil:
		<-f.hang
		return nil
	case f.delay > 0:
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.dispatchErr
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMachine(d *fakeDispatcher) (*Machine, *clock) {
	c := &clock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	m := New(storage.NewMemoryStorage(), storage.NewKeyedMutex(), d,
		WithClock(c.Now),
		WithDispatchTimeout(50*time.Millisecond),
		WithDispatchGrace(20*time.Millisecond),
	)
	return m, c
}

func createIn(t *testing.T, m *Machine, c *clock, d time.Duration) *models.ScheduledMessage {
	t.Helper()
	msg, err := m.Create(context.Background(), models.CreateScheduledMessageRequest{
		TargetSpec:    models.TargetSpec{To: "a@x.io"},
		TemplateID:    "tpl",
		TemplateData:  map[string]string{"name": "Ada"},
		ScheduledTime: c.Now().Add(d),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return msg
}

func TestCreateRejectsPastAndPresent(t *testing.T) {
	m, c := newMachine(&fakeDispatcher{})
	ctx := context.Background()

	for _, at := range []time.Time{c.Now(), c.Now().Add(-time.Second)} {
		_, err := m.Create(ctx, models.CreateScheduledMessageRequest{
			TargetSpec:    models.TargetSpec{To: "a@x.io"},
			TemplateID:    "tpl",
			ScheduledTime: at,
		})
		if !errors.Is(err, models.ErrInvalidScheduleTime) {
			t.Fatalf("at %s: expected ErrInvalidScheduleTime, got %v", at, err)
		}
	}
}

func TestCreatePropagatesValidation(t *testing.T) {
	m, c := newMachine(&fakeDispatcher{validateErr: &models.MissingPlaceholderError{Name: "code"}})
	_, err := m.Create(context.Background(), models.CreateScheduledMessageRequest{
		TargetSpec:    models.TargetSpec{To: "a@x.io"},
		TemplateID:    "tpl",
		ScheduledTime: c.Now().Add(time.Hour),
	})
	if !errors.Is(err, models.ErrMissingPlaceholder) {
		t.Fatalf("expected ErrMissingPlaceholder, got %v", err)
	}
}

func TestCreateRunsHooks(t *testing.T) {
	var got string
	c := &clock{now: time.Now()}
	m := New(storage.NewMemoryStorage(), storage.NewKeyedMutex(), &fakeDispatcher{},
		WithClock(c.Now),
		OnCreate(func(ctx context.Context, msg *models.ScheduledMessage) { got = msg.ScheduleID }),
	)
	msg := createIn(t, m, c, time.Minute)
	if got != msg.ScheduleID {
		t.Fatalf("hook saw %q, want %q", got, msg.ScheduleID)
	}
}

func TestDoubleCancel(t *testing.T) {
	m, c := newMachine(&fakeDispatcher{})
	ctx := context.Background()
	msg := createIn(t, m, c, time.Hour)

	got, err := m.Cancel(ctx, msg.ScheduleID)
	if err != nil || got.Status != models.ScheduleCancelled {
		t.Fatalf("first cancel: %+v %v", got, err)
	}
	for i := 0; i < 2; i++ {
		if _, err := m.Cancel(ctx, msg.ScheduleID); !errors.Is(err, models.ErrAlreadyFinalized) {
			t.Fatalf("cancel %d: expected ErrAlreadyFinalized, got %v", i+2, err)
		}
	}
	if _, err := m.Cancel(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFireThenCancel(t *testing.T) {
	d := &fakeDispatcher{}
	m, c := newMachine(d)
	ctx := context.Background()
	msg := createIn(t, m, c, time.Minute)

	if _, err := m.Fire(ctx, msg.ScheduleID); !errors.Is(err, models.ErrNotDue) {
		t.Fatalf("expected ErrNotDue, got %v", err)
	}
	if d.calls.Load() != 0 {
		t.Fatal("not-due fire must not dispatch")
	}

	c.Advance(time.Minute)
	fired, err := m.Fire(ctx, msg.ScheduleID)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if fired.Status != models.ScheduleSent || fired.ActualSendTime == nil || !fired.ActualSendTime.Equal(c.Now()) {
		t.Fatalf("unexpected fired state: %+v", fired)
	}

	if _, err := m.Cancel(ctx, msg.ScheduleID); !errors.Is(err, models.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if _, err := m.Fire(ctx, msg.ScheduleID); !errors.Is(err, models.ErrAlreadyFinalized) {
		t.Fatalf("second fire: expected ErrAlreadyFinalized, got %v", err)
	}

	stored, _ := m.Get(ctx, msg.ScheduleID)
	if stored.Status != models.ScheduleSent || d.calls.Load() != 1 {
		t.Fatalf("status=%s dispatches=%d", stored.Status, d.calls.Load())
	}
}

func TestFireFailures(t *testing.T) {
	tests := []struct {
		name string
		d    *fakeDispatcher
	}{
		{name: "dispatch error", d: &fakeDispatcher{dispatchErr: errors.New("gateway down")}},
		{name: "dispatch timeout", d: &fakeDispatcher{block: true}},
		{name: "dispatcher ignores deadline", d: &fakeDispatcher{hang: make(chan struct{})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, c := newMachine(tt.d)
			msg := createIn(t, m, c, time.Second)
			c.Advance(time.Second)

			got, err := m.Fire(context.Background(), msg.ScheduleID)
			if !errors.Is(err, models.ErrDeliveryFailure) {
				t.Fatalf("expected ErrDeliveryFailure, got %v", err)
			}
			if got.Status != models.ScheduleFailed || got.FailReason == "" || got.ActualSendTime != nil {
				t.Fatalf("unexpected failed state: %+v", got)
			}
		})
		if tt.d.hang != nil {
			close(tt.d.hang)
		}
	}
}

func TestFireKeepsPartialDeliveryAfterTimeout(t *testing.T) {
	m, c := newMachine(&fakeDispatcher{partial: true})
	msg := createIn(t, m, c, time.Second)
	c.Advance(time.Second)

	got, err := m.Fire(context.Background(), msg.ScheduleID)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if got.Status != models.ScheduleSent || got.ActualSendTime == nil {
		t.Fatalf("a dispatch that delivered before the deadline must end sent, got %+v", got)
	}
}

func TestCreateRejectsUnknownMatchType(t *testing.T) {
	m, c := newMachine(&fakeDispatcher{})
	_, err := m.Create(context.Background(), models.CreateScheduledMessageRequest{
		TargetSpec:    models.TargetSpec{Tags: []string{"vip"}, MatchType: "al"},
		TemplateID:    "tpl",
		ScheduledTime: c.Now().Add(time.Minute),
	})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFireOutcomeWrittenAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &fakeDispatcher{onDispatch: cancel}
	m, c := newMachine(d)
	msg := createIn(t, m, c, time.Second)
	c.Advance(time.Second)

	got, err := m.Fire(ctx, msg.ScheduleID)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if got.Status != models.ScheduleSent {
		t.Fatalf("expected sent, got %s", got.Status)
	}
}

func TestCancelFireRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := &fakeDispatcher{}
		m, c := newMachine(d)
		msg := createIn(t, m, c, time.Second)
		c.Advance(time.Second)

		var (
			wg               sync.WaitGroup
			fireErr, cancErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, fireErr = m.Fire(context.Background(), msg.ScheduleID)
		}()
		go func() {
			defer wg.Done()
			_, cancErr = m.Cancel(context.Background(), msg.ScheduleID)
		}()
		wg.Wait()

		stored, err := m.Get(context.Background(), msg.ScheduleID)
		if err != nil {
			t.Fatal(err)
		}
		switch stored.Status {
		case models.ScheduleSent:
			if fireErr != nil || !errors.Is(cancErr, models.ErrAlreadyFinalized) {
				t.Fatalf("fire won but fire=%v cancel=%v", fireErr, cancErr)
			}
		case models.ScheduleCancelled:
			if cancErr != nil || !errors.Is(fireErr, models.ErrAlreadyFinalized) {
				t.Fatalf("cancel won but fire=%v cancel=%v", fireErr, cancErr)
			}
			if d.calls.Load() != 0 {
				t.Fatal("cancelled message was dispatched")
			}
		default:
			t.Fatalf("unexpected final status %s", stored.Status)
		}
	}
}
