package records

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
	mu      sync.RWMutex
	seq     int64
	records map[string]*models.MsgRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.MsgRecord)}
}

func (s *MemoryStore) Create(ctx context.Context, rec *models.MsgRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.MsgID]; ok {
		return fmt.Errorf("record %s: %w", rec.MsgID, models.ErrAlreadyExists)
	}
	s.seq++
	now := time.Now()
	rec.ID = s.seq
	rec.CreateTime = now
	rec.ModifyTime = now
	c := *rec
	s.records[rec.MsgID] = &c
	return nil
}

func (s *MemoryStore) Finish(ctx context.Context, msgID string, status models.RecordStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[msgID]
	if !ok {
		return fmt.Errorf("record %s: %w", msgID, models.ErrNotFound)
	}
	rec.Status = status
	rec.Error = ""
	if status == models.RecordFailed {
		rec.Error = errText
	}
	rec.ModifyTime = time.Now()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, msgID string) (*models.MsgRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[msgID]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", msgID, models.ErrNotFound)
	}
	c := *rec
	return &c, nil
}

func (s *MemoryStore) List(ctx context.Context, filter models.RecordFilter, page pagination.Request) (pagination.Result[*models.MsgRecord], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.MsgRecord
	for _, rec := range s.records {
		if filter.Match(rec) {
			c := *rec
			matched = append(matched, &c)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	return pagination.Window(matched, page), nil
}
