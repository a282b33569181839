package records

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

func (s *GormStore) Create(ctx context.Context, rec *models.MsgRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("record %s: %w", rec.MsgID, models.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

func (s *GormStore) Finish(ctx context.Context, msgID string, status models.RecordStatus, errText string) error {
	if status != models.RecordFailed {
		errText = ""
	}
	res := s.db.WithContext(ctx).Model(&models.MsgRecord{}).
		Where("msg_id = ?", msgID).
		Updates(map[string]any{"status": status, "error": errText})
	if res.Error != nil {
		return fmt.Errorf("failed to update record %s: %w", msgID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("record %s: %w", msgID, models.ErrNotFound)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, msgID string) (*models.MsgRecord, error) {
	var rec models.MsgRecord
	err := s.db.WithContext(ctx).Where("msg_id = ?", msgID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("record %s: %w", msgID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", msgID, err)
	}
	return &rec, nil
}

func (s *GormStore) List(ctx context.Context, filter models.RecordFilter, page pagination.Request) (pagination.Result[*models.MsgRecord], error) {
	res := pagination.Result[*models.MsgRecord]{Items: []*models.MsgRecord{}, Page: page.Page}

	query := s.db.WithContext(ctx).Model(&models.MsgRecord{})
	if filter.MsgID != "" {
		query = query.Where("msg_id = ?", filter.MsgID)
	}
	if filter.To != "" {
		query = query.Where("to_addr = ?", filter.To)
	}
	if filter.ScheduleID != "" {
		query = query.Where("schedule_id = ?", filter.ScheduleID)
	}
	if filter.SourceID != "" {
		query = query.Where("source_id = ?", filter.SourceID)
	}
	if filter.Status != 0 {
		query = query.Where("status = ?", filter.Status)
	}
	if !filter.Since.IsZero() {
		query = query.Where("create_time >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("create_time <= ?", filter.Until)
	}

	if err := query.Count(&res.Total).Error; err != nil {
		return res, fmt.Errorf("failed to count records: %w", err)
	}
	err := query.Offset(page.Offset()).
		Limit(page.Limit()).
		Order("id DESC").
		Find(&res.Items).Error
	if err != nil {
		return res, fmt.Errorf("failed to list records: %w", err)
	}
	return res, nil
}
