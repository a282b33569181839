// Package quota caps how many messages a source may send per channel in a
// time window. Immediate and scheduled sends are counted apart.
package quota

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"msgcenter/internal/models"
)

type Kind string

const (
	KindSend      Kind = "send"
	KindScheduled Kind = "scheduled"
)

// Rule allows Num messages per Unit.
type Rule struct {
	Num  int
	Unit time.Duration
}

func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.Num, r.Unit)
}

// Policy holds the per-channel default rules and per-source overrides. A
// channel without a rule is not limited.
type Policy struct {
	Global  map[models.Channel]Rule
	Sources map[string]map[models.Channel]Rule
}

func (p Policy) Empty() bool {
	return len(p.Global) == 0 && len(p.Sources) == 0
}

// RuleFor prefers the source's own rule over the channel default.
func (p Policy) RuleFor(sourceID string, ch models.Channel) (Rule, bool) {
	if rules, ok := p.Sources[sourceID]; ok {
		if r, ok := rules[ch]; ok {
			return r, true
		}
	}
	r, ok := p.Global[ch]
	return r, ok
}

// ParsePolicy reads comma separated entries of the form
// [source:]channel=num/unit, e.g. "sms=10/1s,billing:sms=50/1s,email=100/1m".
func ParsePolicy(rules string) (Policy, error) {
	p := Policy{
		Global:  make(map[models.Channel]Rule),
		Sources: make(map[string]map[models.Channel]Rule),
	}
	for _, entry := range strings.Split(rules, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		target, value, ok := strings.Cut(entry, "=")
		if !ok {
			return Policy{}, fmt.Errorf("quota %q: missing '='", entry)
		}

		source, chName := "", target
		if s, c, found := strings.Cut(target, ":"); found {
			source, chName = strings.TrimSpace(s), c
			if source == "" {
				return Policy{}, fmt.Errorf("quota %q: empty source", entry)
			}
		}
		ch, err := parseChannel(strings.TrimSpace(chName))
		if err != nil {
			return Policy{}, fmt.Errorf("quota %q: %w", entry, err)
		}
		rule, err := parseRule(strings.TrimSpace(value))
		if err != nil {
			return Policy{}, fmt.Errorf("quota %q: %w", entry, err)
		}

		if source == "" {
			p.Global[ch] = rule
			continue
		}
		if p.Sources[source] == nil {
			p.Sources[source] = make(map[models.Channel]Rule)
		}
		p.Sources[source][ch] = rule
	}
	return p, nil
}

func parseChannel(name string) (models.Channel, error) {
	for _, ch := range []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelLark} {
		if strings.EqualFold(name, ch.String()) || name == strconv.Itoa(int(ch)) {
			return ch, nil
		}
	}
	return 0, fmt.Errorf("channel %q: %w", name, models.ErrUnknownChannel)
}

func parseRule(v string) (Rule, error) {
	numStr, unitStr, ok := strings.Cut(v, "/")
	if !ok {
		return Rule{}, fmt.Errorf("expected num/unit, got %q", v)
	}
	num, err := strconv.Atoi(numStr)
	if err != nil || num < 1 {
		return Rule{}, fmt.Errorf("num must be a positive integer, got %q", numStr)
	}
	unit, err := time.ParseDuration(unitStr)
	if err != nil || unit <= 0 {
		return Rule{}, fmt.Errorf("unit must be a positive duration, got %q", unitStr)
	}
	return Rule{Num: num, Unit: unit}, nil
}

// Counter takes n units from the window of key under rule. It takes
// nothing when n does not fit.
type Counter interface {
	Take(ctx context.Context, key string, rule Rule, n int) (bool, error)
}

type Limiter struct {
	policy  Policy
	counter Counter
	log     zerolog.Logger
}

func NewLimiter(policy Policy, counter Counter, log zerolog.Logger) *Limiter {
	return &Limiter{
		policy:  policy,
		counter: counter,
		log:     log.With().Str("component", "quota").Logger(),
	}
}

// Take charges n messages of kind to sourceID on ch. Over the quota it
// returns models.ErrQuotaExceeded and charges nothing.
func (l *Limiter) Take(ctx context.Context, kind Kind, sourceID string, ch models.Channel, n int) error {
	rule, ok := l.policy.RuleFor(sourceID, ch)
	if !ok || n <= 0 {
		return nil
	}

	allowed, err := l.counter.Take(ctx, key(kind, sourceID, ch), rule, n)
	if err != nil {
		return fmt.Errorf("failed to check quota: %w", err)
	}
	if !allowed {
		l.log.Info().
			Str("source_id", sourceID).
			Str("channel", ch.String()).
			Str("kind", string(kind)).
			Int("requested", n).
			Stringer("rule", rule).
			Msg("quota exceeded")
		return fmt.Errorf("source %q may send %s on %s: %w", sourceID, rule, ch, models.ErrQuotaExceeded)
	}
	return nil
}

func key(kind Kind, sourceID string, ch models.Channel) string {
	if sourceID == "" {
		sourceID = "-"
	}
	return fmt.Sprintf("quota:%s:%s:%d", kind, sourceID, int(ch))
}
