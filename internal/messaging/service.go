// Package messaging ties resolution, rendering and delivery together for
// immediate sends and for scheduled messages when they fire.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"msgcenter/internal/dispatch"
	"msgcenter/internal/models"
	"msgcenter/internal/quota"
	"msgcenter/internal/records"
	"msgcenter/internal/resolver"
	"msgcenter/internal/templates"
)

type SendRequest struct {
	models.TargetSpec
	TemplateID   string            `json:"template_id"`
	TemplateData map[string]string `json:"template_data"`
	// Priority defaults to models.PriorityLow.
	Priority models.Priority `json:"priority"`
	SourceID string          `json:"-"`
}

// SendResult counts recipients. Missing and Unreachable come from
// resolution and are not part of Failed.
type SendResult struct {
	MsgIDs      []string `json:"msg_ids"`
	Delivered   int      `json:"delivered"`
	Failed      int      `json:"failed"`
	Missing     []string `json:"missing,omitempty"`
	Unreachable []string `json:"unreachable,omitempty"`
}

// Quota charges sends against the per-source, per-channel limits.
type Quota interface {
	Take(ctx context.Context, kind quota.Kind, sourceID string, ch models.Channel, n int) error
}

type Service struct {
	resolver   *resolver.Resolver
	templates  *templates.Service
	dispatcher dispatch.Dispatcher
	records    records.Store
	quota      Quota
	log        zerolog.Logger
}

type Option func(*Service)

// WithQuota enables send quotas. Without it sends are not limited.
func WithQuota(q Quota) Option {
	return func(s *Service) { s.quota = q }
}

func NewService(res *resolver.Resolver, tpl *templates.Service, d dispatch.Dispatcher, rec records.Store, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		resolver:   res,
		templates:  tpl,
		dispatcher: d,
		records:    rec,
		log:        log.With().Str("component", "messaging").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) charge(ctx context.Context, kind quota.Kind, sourceID string, p prepared) error {
	if s.quota == nil {
		return nil
	}
	return s.quota.Take(ctx, kind, sourceID, p.template.Channel, len(p.recipients.Recipients))
}

type prepared struct {
	template   *models.Template
	content    templates.Content
	recipients resolver.RecipientSet
}

// prepare fails on the target first, then on the template, then on the
// audience and finally on the render data.
func (s *Service) prepare(ctx context.Context, target models.TargetSpec, templateID string, data map[string]string) (prepared, error) {
	var p prepared
	if target.Mode() == models.TargetNone {
		return p, models.ErrInvalidTarget
	}
	if strings.TrimSpace(templateID) == "" {
		return p, fmt.Errorf("template_id is required: %w", models.ErrInvalidInput)
	}

	t, err := s.templates.Get(ctx, templateID)
	if err != nil {
		return p, err
	}
	set, err := s.resolver.Resolve(ctx, target, t.Channel)
	if err != nil {
		return p, err
	}
	content, err := s.templates.Engine().Render(t, data)
	if err != nil {
		return p, err
	}
	return prepared{template: t, content: content, recipients: set}, nil
}

// Send delivers now. It succeeds when at least one recipient was
// delivered; the result is returned in every case once delivery started.
// Every resolved recipient counts against the source's send quota.
func (s *Service) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	priority, err := req.Priority.Normalize()
	if err != nil {
		return SendResult{}, err
	}
	p, err := s.prepare(ctx, req.TargetSpec, req.TemplateID, req.TemplateData)
	if err != nil {
		return SendResult{}, err
	}
	if err := s.charge(ctx, quota.KindSend, req.SourceID, p); err != nil {
		return SendResult{}, err
	}
	return s.deliver(dispatch.WithPriority(ctx, priority), p, "", req.SourceID)
}

// Validate checks that msg could be delivered as it stands. It is called
// once when the schedule is created, which is when the scheduled quota is
// charged.
func (s *Service) Validate(ctx context.Context, msg *models.ScheduledMessage) error {
	p, err := s.prepare(ctx, msg.Target, msg.TemplateID, msg.TemplateData)
	if err != nil {
		return err
	}
	return s.charge(ctx, quota.KindScheduled, msg.SourceID, p)
}

// Dispatch delivers a scheduled message that has come due, at
// models.PriorityMiddle. Audience and template are evaluated again at this
// point.
func (s *Service) Dispatch(ctx context.Context, msg *models.ScheduledMessage) error {
	p, err := s.prepare(ctx, msg.Target, msg.TemplateID, msg.TemplateData)
	if err != nil {
		return err
	}
	_, err = s.deliver(dispatch.WithPriority(ctx, models.PriorityMiddle), p, msg.ScheduleID, msg.SourceID)
	return err
}

// deliver stops calling the dispatcher once ctx is done. The recipients
// left over are recorded as failed, and the send still succeeds if anyone
// before them was delivered.
func (s *Service) deliver(ctx context.Context, p prepared, scheduleID, sourceID string) (SendResult, error) {
	res := SendResult{
		MsgIDs:      make([]string, 0, len(p.recipients.Recipients)),
		Missing:     p.recipients.Missing,
		Unreachable: p.recipients.Unreachable,
	}
	ch := p.template.Channel
	priority := dispatch.PriorityFromContext(ctx)
	recCtx := context.WithoutCancel(ctx)

	var firstErr error
	for _, r := range p.recipients.Recipients {
		msgID := uuid.NewString()
		rec := &models.MsgRecord{
			MsgID:      msgID,
			ScheduleID: scheduleID,
			To:         r.Address,
			UserID:     r.UserID,
			TemplateID: p.template.TemplateID,
			Channel:    ch,
			Subject:    p.content.Subject,
			Content:    p.content.Body,
			Status:     models.RecordPending,
			SourceID:   sourceID,
			Priority:   priority,
		}
		if err := s.records.Create(recCtx, rec); err != nil {
			s.log.Error().Err(err).Str("msg_id", msgID).Msg("failed to write message record")
		}
		res.MsgIDs = append(res.MsgIDs, msgID)

		err := ctx.Err()
		if err != nil {
			err = fmt.Errorf("not attempted: %w", err)
		} else {
			err = s.dispatcher.Deliver(dispatch.WithMsgID(ctx, msgID), ch, r.Address, p.content)
		}
		status, errText := models.RecordSent, ""
		if err != nil {
			res.Failed++
			status, errText = models.RecordFailed, err.Error()
			if firstErr == nil {
				firstErr = err
			}
			s.log.Warn().Err(err).Str("msg_id", msgID).Str("address", r.Address).Msg("delivery failed")
		} else {
			res.Delivered++
		}

		if err := s.records.Finish(recCtx, msgID, status, errText); err != nil {
			s.log.Error().Err(err).Str("msg_id", msgID).Msg("failed to finish message record")
		}
	}

	s.log.Info().
		Str("template_id", p.template.TemplateID).
		Str("schedule_id", scheduleID).
		Int("delivered", res.Delivered).
		Int("failed", res.Failed).
		Int("missing", len(res.Missing)).
		Int("unreachable", len(res.Unreachable)).
		Msg("send finished")

	if res.Delivered == 0 {
		if !errors.Is(firstErr, models.ErrDeliveryFailure) {
			firstErr = fmt.Errorf("%w: %v", models.ErrDeliveryFailure, firstErr)
		}
		return res, fmt.Errorf("all %d recipients failed: %w", res.Failed, firstErr)
	}
	return res, nil
}
