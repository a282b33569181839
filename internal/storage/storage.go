// Package storage persists scheduled messages and provides the
// per-schedule locks the scheduler serializes on.
package storage

import (
	"context"
	"time"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

// Storage keeps scheduled messages. Update applies updateFn atomically
// with respect to other Updates of the same id; when updateFn returns an
// error nothing is written and that error is returned unchanged.
type Storage interface {
	Create(ctx context.Context, msg *models.ScheduledMessage) error
	GetByID(ctx context.Context, id string) (*models.ScheduledMessage, error)
	Update(ctx context.Context, id string, updateFn func(*models.ScheduledMessage) error) (*models.ScheduledMessage, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.ScheduleFilter, page pagination.Request) (pagination.Result[*models.ScheduledMessage], error)
	// Due returns pending messages whose scheduled time is not after now,
	// earliest first, at most limit of them (all when limit <= 0).
	Due(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error)
}

// sortNewestFirst orders list output by scheduled time, latest first.
func sortNewestFirst(msgs []*models.ScheduledMessage) func(i, j int) bool {
	return func(i, j int) bool {
		if !msgs[i].ScheduledTime.Equal(msgs[j].ScheduledTime) {
			return msgs[i].ScheduledTime.After(msgs[j].ScheduledTime)
		}
		return msgs[i].ScheduleID > msgs[j].ScheduleID
	}
}
