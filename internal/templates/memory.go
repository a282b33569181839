package templates

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

type MemoryStore struct {
	mu        sync.RWMutex
	seq       int64
	templates map[string]*models.Template
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[string]*models.Template)}
}

func cloneTemplate(t *models.Template) *models.Template {
	c := *t
	return &c
}

func (s *MemoryStore) Create(ctx context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[t.TemplateID]; ok {
		return fmt.Errorf("template %s: %w", t.TemplateID, models.ErrAlreadyExists)
	}
	for _, other := range s.templates {
		if other.RelTemplateID == t.RelTemplateID && other.Revision == t.Revision {
			return fmt.Errorf("template lineage %s revision %d: %w", t.RelTemplateID, t.Revision, models.ErrAlreadyExists)
		}
	}
	s.seq++
	now := time.Now()
	t.ID = s.seq
	t.CreateTime = now
	t.ModifyTime = now
	s.templates[t.TemplateID] = cloneTemplate(t)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, templateID string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", templateID, models.ErrNotFound)
	}
	return cloneTemplate(t), nil
}

func (s *MemoryStore) Latest(ctx context.Context, relTemplateID string) (*models.Template, error) {
	revs, err := s.Revisions(ctx, relTemplateID)
	if err != nil {
		return nil, err
	}
	return revs[len(revs)-1], nil
}

func (s *MemoryStore) Revisions(ctx context.Context, relTemplateID string) ([]*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Template
	for _, t := range s.templates {
		if t.RelTemplateID == relTemplateID {
			out = append(out, cloneTemplate(t))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("template lineage %s: %w", relTemplateID, models.ErrNotFound)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	return out, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, templateID string, status models.TemplateStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[templateID]
	if !ok {
		return fmt.Errorf("template %s: %w", templateID, models.ErrNotFound)
	}
	t.Status = status
	t.ModifyTime = time.Now()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter models.TemplateFilter, page pagination.Request) (pagination.Result[*models.Template], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Template
	for _, t := range s.templates {
		if filter.Match(t) {
			matched = append(matched, cloneTemplate(t))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	return pagination.Window(matched, page), nil
}
