package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

type MemoryStorage struct {
	mu       sync.RWMutex
	messages map[string]*models.ScheduledMessage
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{messages: make(map[string]*models.ScheduledMessage)}
}

func (s *MemoryStorage) Create(ctx context.Context, msg *models.ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ScheduleID]; exists {
		return fmt.Errorf("schedule %s: %w", msg.ScheduleID, models.ErrAlreadyExists)
	}
	s.messages[msg.ScheduleID] = msg.Clone()
	return nil
}

func (s *MemoryStorage) GetByID(ctx context.Context, id string) (*models.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, exists := s.messages[id]
	if !exists {
		return nil, fmt.Errorf("schedule %s: %w", id, models.ErrNotFound)
	}
	return msg.Clone(), nil
}

func (s *MemoryStorage) Update(ctx context.Context, id string, updateFn func(*models.ScheduledMessage) error) (*models.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[id]
	if !exists {
		return nil, fmt.Errorf("schedule %s: %w", id, models.ErrNotFound)
	}

	next := msg.Clone()
	if err := updateFn(next); err != nil {
		return nil, err
	}
	next.ScheduleID = id
	next.ModifyTime = time.Now()
	s.messages[id] = next
	return next.Clone(), nil
}

func (s *MemoryStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[id]; !exists {
		return fmt.Errorf("schedule %s: %w", id, models.ErrNotFound)
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStorage) List(ctx context.Context, filter models.ScheduleFilter, page pagination.Request) (pagination.Result[*models.ScheduledMessage], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.ScheduledMessage, 0, len(s.messages))
	for _, msg := range s.messages {
		if filter.Match(msg) {
			matched = append(matched, msg.Clone())
		}
	}
	sort.Slice(matched, sortNewestFirst(matched))
	return pagination.Window(matched, page), nil
}

func (s *MemoryStorage) Due(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.ScheduledMessage
	for _, msg := range s.messages {
		if msg.Status == models.SchedulePending && !msg.ScheduledTime.After(now) {
			due = append(due, msg.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledTime.Before(due[j].ScheduledTime) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
