package templates

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, t *models.Template) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("template %s: %w", t.TemplateID, models.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, templateID string) (*models.Template, error) {
	var t models.Template
	err := s.db.WithContext(ctx).Where("template_id = ?", templateID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("template %s: %w", templateID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template %s: %w", templateID, err)
	}
	return &t, nil
}

func (s *GormStore) Latest(ctx context.Context, relTemplateID string) (*models.Template, error) {
	var t models.Template
	err := s.db.WithContext(ctx).
		Where("rel_template_id = ?", relTemplateID).
		Order("revision DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("template lineage %s: %w", relTemplateID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template lineage %s: %w", relTemplateID, err)
	}
	return &t, nil
}

func (s *GormStore) Revisions(ctx context.Context, relTemplateID string) ([]*models.Template, error) {
	var out []*models.Template
	err := s.db.WithContext(ctx).
		Where("rel_template_id = ?", relTemplateID).
		Order("revision ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions of %s: %w", relTemplateID, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("template lineage %s: %w", relTemplateID, models.ErrNotFound)
	}
	return out, nil
}

func (s *GormStore) SetStatus(ctx context.Context, templateID string, status models.TemplateStatus) error {
	res := s.db.WithContext(ctx).Model(&models.Template{}).
		Where("template_id = ?", templateID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update template %s: %w", templateID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("template %s: %w", templateID, models.ErrNotFound)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, filter models.TemplateFilter, page pagination.Request) (pagination.Result[*models.Template], error) {
	res := pagination.Result[*models.Template]{Items: []*models.Template{}, Page: page.Page}

	query := s.db.WithContext(ctx).Model(&models.Template{})
	if filter.SourceID != "" {
		query = query.Where("source_id = ?", filter.SourceID)
	}
	if filter.Channel != 0 {
		query = query.Where("channel = ?", filter.Channel)
	}
	if filter.Status != 0 {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&res.Total).Error; err != nil {
		return res, fmt.Errorf("failed to count templates: %w", err)
	}
	err := query.Offset(page.Offset()).
		Limit(page.Limit()).
		Order("id DESC").
		Find(&res.Items).Error
	if err != nil {
		return res, fmt.Errorf("failed to list templates: %w", err)
	}
	return res, nil
}
