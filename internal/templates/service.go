package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

type CreateTemplateRequest struct {
	SourceID string         `json:"source_id"`
	Name     string         `json:"name"`
	Subject  string         `json:"subject"`
	SignName string         `json:"sign_name"`
	Channel  models.Channel `json:"channel"`
	Content  string         `json:"content"`
	Ext      string         `json:"ext"`
}

// UpdateTemplateRequest produces a new revision. Empty fields are carried
// over from the revision being updated.
type UpdateTemplateRequest struct {
	TemplateID string         `json:"template_id"`
	SourceID   string         `json:"source_id"`
	Name       string         `json:"name"`
	Subject    string         `json:"subject"`
	SignName   string         `json:"sign_name"`
	Channel    models.Channel `json:"channel"`
	Content    string         `json:"content"`
	Ext        string         `json:"ext"`
}

type Service struct {
	store  Store
	engine *Engine
	log    zerolog.Logger
}

func NewService(store Store, engine *Engine, log zerolog.Logger) *Service {
	return &Service{store: store, engine: engine, log: log.With().Str("component", "templates").Logger()}
}

func (s *Service) Engine() *Engine {
	return s.engine
}

func (s *Service) Create(ctx context.Context, req CreateTemplateRequest) (*models.Template, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("content is required: %w", models.ErrInvalidInput)
	}
	if !s.engine.Supports(req.Channel) {
		return nil, fmt.Errorf("channel %d: %w", int(req.Channel), models.ErrUnknownChannel)
	}

	id := uuid.NewString()
	t := &models.Template{
		TemplateID:    id,
		RelTemplateID: id,
		Revision:      1,
		Name:          req.Name,
		Content:       req.Content,
		Subject:       req.Subject,
		Channel:       req.Channel,
		SourceID:      req.SourceID,
		SignName:      req.SignName,
		Status:        models.TemplateActive,
		Ext:           req.Ext,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	s.log.Info().Str("template_id", id).Str("channel", t.Channel.String()).Msg("template created")
	return t, nil
}

func (s *Service) Get(ctx context.Context, templateID string) (*models.Template, error) {
	return s.store.Get(ctx, templateID)
}

// revisionAttempts bounds how often Update retries when a concurrent
// update took the revision number it computed.
const revisionAttempts = 5

// Update writes a new revision of the lineage templateID belongs to. The
// revision that was updated stays readable and renderable.
func (s *Service) Update(ctx context.Context, req UpdateTemplateRequest) (*models.Template, error) {
	base, err := s.store.Get(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	next := &models.Template{
		RelTemplateID: base.RelTemplateID,
		Name:          pick(req.Name, base.Name),
		Content:       pick(req.Content, base.Content),
		Subject:       pick(req.Subject, base.Subject),
		SourceID:      pick(req.SourceID, base.SourceID),
		SignName:      pick(req.SignName, base.SignName),
		Ext:           pick(req.Ext, base.Ext),
		Channel:       base.Channel,
		Status:        models.TemplateActive,
	}
	if req.Channel != 0 {
		if !s.engine.Supports(req.Channel) {
			return nil, fmt.Errorf("channel %d: %w", int(req.Channel), models.ErrUnknownChannel)
		}
		next.Channel = req.Channel
	}

	// (rel_template_id, revision) is unique, so of two concurrent updates
	// one loses the insert and goes again with the next number
	for attempt := 1; ; attempt++ {
		latest, err := s.store.Latest(ctx, base.RelTemplateID)
		if err != nil {
			return nil, err
		}
		next.TemplateID = uuid.NewString()
		next.Revision = latest.Revision + 1

		err = s.store.Create(ctx, next)
		if err == nil {
			break
		}
		if !errors.Is(err, models.ErrAlreadyExists) || attempt == revisionAttempts {
			return nil, err
		}
		s.log.Debug().Str("rel_template_id", base.RelTemplateID).Int("revision", next.Revision).Msg("revision taken, retrying")
	}

	s.log.Info().
		Str("template_id", next.TemplateID).
		Str("rel_template_id", next.RelTemplateID).
		Int("revision", next.Revision).
		Msg("template revised")
	return next, nil
}

// Delete disables one revision. Sends that name it fail afterwards.
func (s *Service) Delete(ctx context.Context, templateID string) error {
	if err := s.store.SetStatus(ctx, templateID, models.TemplateDisabled); err != nil {
		return err
	}
	s.log.Info().Str("template_id", templateID).Msg("template disabled")
	return nil
}

func (s *Service) List(ctx context.Context, filter models.TemplateFilter, page pagination.Request) (pagination.Result[*models.Template], error) {
	return s.store.List(ctx, filter, page)
}

func (s *Service) Revisions(ctx context.Context, templateID string) ([]*models.Template, error) {
	t, err := s.store.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.store.Revisions(ctx, t.RelTemplateID)
}

// Render loads templateID and binds data to it.
func (s *Service) Render(ctx context.Context, templateID string, data map[string]string) (*models.Template, Content, error) {
	t, err := s.store.Get(ctx, templateID)
	if err != nil {
		return nil, Content{}, err
	}
	c, err := s.engine.Render(t, data)
	if err != nil {
		return t, Content{}, err
	}
	return t, c, nil
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
