package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"msgcenter/internal/models"
	"msgcenter/internal/templates"
)

func TestRouterDeliver(t *testing.T) {
	r := NewRouter(RouterConfig{}, zerolog.Nop())
	mem := NewMemorySender()
	r.Handle(models.ChannelEmail, mem)

	ctx := WithMsgID(context.Background(), "m-1")
	err := r.Deliver(ctx, models.ChannelEmail, "a@x.io", templates.Content{Subject: "s", Body: "b", Format: "text"})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	got := mem.Deliveries()
	if len(got) != 1 || got[0].MsgID != "m-1" || got[0].Address != "a@x.io" || got[0].Body != "b" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestRouterUnknownChannel(t *testing.T) {
	r := NewRouter(RouterConfig{}, zerolog.Nop())
	err := r.Deliver(context.Background(), models.ChannelLark, "ou_1", templates.Content{})
	if !errors.Is(err, models.ErrUnknownChannel) || !errors.Is(err, models.ErrDeliveryFailure) {
		t.Fatalf("expected unknown channel delivery failure, got %v", err)
	}
}

func TestRouterBreakerOpens(t *testing.T) {
	r := NewRouter(RouterConfig{BreakerFailures: 2, BreakerCooldown: time.Minute}, zerolog.Nop())
	mem := NewMemorySender()
	boom := errors.New("gateway down")
	mem.FailFor("bad", boom)
	r.Handle(models.ChannelSMS, mem)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := r.Deliver(ctx, models.ChannelSMS, "bad", templates.Content{}); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected gateway error, got %v", i, err)
		}
	}

	var de *models.DeliveryError
	err := r.Deliver(ctx, models.ChannelSMS, "good", templates.Content{})
	if !errors.As(err, &de) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if len(mem.Deliveries()) != 0 {
		t.Fatal("open breaker must not reach the sender")
	}
}

func TestRouterRateLimitHonorsContext(t *testing.T) {
	r := NewRouter(RouterConfig{RatePerSec: 0.001, Burst: 1}, zerolog.Nop())
	r.Handle(models.ChannelEmail, NewMemorySender())

	if err := r.Deliver(context.Background(), models.ChannelEmail, "a", templates.Content{}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Deliver(ctx, models.ChannelEmail, "b", templates.Content{}); !errors.Is(err, models.ErrDeliveryFailure) {
		t.Fatalf("expected rate limited failure, got %v", err)
	}
}

type capturePublisher struct {
	key  string
	body []byte
}

func (p *capturePublisher) PublishDelivery(ctx context.Context, routingKey string, body []byte) error {
	p.key = routingKey
	p.body = body
	return nil
}

func TestQueueSenderRoutesByChannelAndPriority(t *testing.T) {
	pub := &capturePublisher{}
	s := NewQueueSender(pub)

	err := s.Send(context.Background(), Delivery{MsgID: "m", Channel: models.ChannelSMS, Address: "+1", Priority: models.PriorityHigh})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.key != "sms.high" {
		t.Fatalf("routing key %q", pub.key)
	}

	err = s.Send(context.Background(), Delivery{MsgID: "m", Channel: models.ChannelLark, Address: "ou_1", Body: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if pub.key != "lark.low" {
		t.Fatalf("routing key %q", pub.key)
	}
	var d Delivery
	if err := json.Unmarshal(pub.body, &d); err != nil || d.Address != "ou_1" {
		t.Fatalf("payload %s: %v", pub.body, err)
	}
}

func TestRouterCarriesPriority(t *testing.T) {
	r := NewRouter(RouterConfig{}, zerolog.Nop())
	mem := NewMemorySender()
	r.Handle(models.ChannelEmail, mem)

	ctx := context.Background()
	if err := r.Deliver(ctx, models.ChannelEmail, "a@x.io", templates.Content{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Deliver(WithPriority(ctx, models.PriorityMiddle), models.ChannelEmail, "b@x.io", templates.Content{}); err != nil {
		t.Fatal(err)
	}

	got := mem.Deliveries()
	if len(got) != 2 || got[0].Priority != models.PriorityLow || got[1].Priority != models.PriorityMiddle {
		t.Fatalf("unexpected priorities: %+v", got)
	}
}
