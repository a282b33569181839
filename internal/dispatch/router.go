package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"msgcenter/internal/models"
	"msgcenter/internal/templates"
)

type RouterConfig struct {
	// RatePerSec limits deliveries per channel; <= 0 disables the limit.
	RatePerSec float64
	Burst      int
	// Timeout bounds a single Send; <= 0 means no extra bound.
	Timeout time.Duration
	// BreakerFailures consecutive failures open a channel's breaker for
	// BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

type route struct {
	sender  Sender
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

type Router struct {
	mu     sync.RWMutex
	cfg    RouterConfig
	routes map[models.Channel]*route
	log    zerolog.Logger
}

func NewRouter(cfg RouterConfig, log zerolog.Logger) *Router {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	return &Router{
		cfg:    cfg,
		routes: make(map[models.Channel]*route),
		log:    log.With().Str("component", "dispatch").Logger(),
	}
}

// Handle registers s for ch, replacing any earlier sender.
func (r *Router) Handle(ch models.Channel, s Sender) {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if r.cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.RatePerSec), r.cfg.Burst)
	}

	failures := r.cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    ch.String(),
		Timeout: r.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn().Str("channel", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[ch] = &route{sender: s, breaker: breaker, limiter: limiter}
}

func (r *Router) Channels() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Channel, 0, len(r.routes))
	for ch := range r.routes {
		out = append(out, ch)
	}
	return out
}

func (r *Router) Deliver(ctx context.Context, ch models.Channel, address string, content templates.Content) error {
	r.mu.RLock()
	rt, ok := r.routes[ch]
	r.mu.RUnlock()
	if !ok {
		return &models.DeliveryError{Channel: ch, Address: address, Err: models.ErrUnknownChannel}
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	if err := rt.limiter.Wait(ctx); err != nil {
		return &models.DeliveryError{Channel: ch, Address: address, Err: fmt.Errorf("rate limit: %w", err)}
	}

	d := Delivery{
		MsgID:     MsgIDFromContext(ctx),
		Channel:   ch,
		Address:   address,
		Subject:   content.Subject,
		Body:      content.Body,
		Format:    content.Format,
		Priority:  PriorityFromContext(ctx),
		Timestamp: time.Now(),
	}
	_, err := rt.breaker.Execute(func() (interface{}, error) {
		return nil, rt.sender.Send(ctx, d)
	})
	if err != nil {
		return &models.DeliveryError{Channel: ch, Address: address, Err: err}
	}
	return nil
}
