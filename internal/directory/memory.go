package directory

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
	mu    sync.RWMutex
	seq   int64
	users map[string]*models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*models.User)}
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Tags = append(models.StringSlice(nil), u.Tags...)
	return &c
}

func (s *MemoryStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[user.UserID]; ok && existing.Status == models.UserEnabled {
		return fmt.Errorf("user %s: %w", user.UserID, models.ErrAlreadyExists)
	}
	s.seq++
	now := time.Now()
	user.ID = s.seq
	user.Status = models.UserEnabled
	user.CreateTime = now
	user.ModifyTime = now
	s.users[user.UserID] = cloneUser(user)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok || u.Status != models.UserEnabled {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) Update(ctx context.Context, userID string, updateFn func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || u.Status != models.UserEnabled {
		return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	next := cloneUser(u)
	updateFn(next)
	next.UserID = u.UserID
	next.ModifyTime = time.Now()
	s.users[userID] = next
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || u.Status != models.UserEnabled {
		return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	u.Status = models.UserDisabled
	u.ModifyTime = time.Now()
	return nil
}

func (s *MemoryStore) enabled() []*models.User {
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		if u.Status == models.UserEnabled {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreateTime.Equal(out[j].CreateTime) {
			return out[i].CreateTime.After(out[j].CreateTime)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *MemoryStore) List(ctx context.Context, page pagination.Request) (pagination.Result[*models.User], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pagination.Window(s.enabled(), page), nil
}

func (s *MemoryStore) TagStatistics(ctx context.Context) ([]models.TagStatistic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countTags(s.enabled()), nil
}

func (s *MemoryStore) LookupUsersByID(ctx context.Context, ids []string) (Lookup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res Lookup
	for _, id := range models.Compact(ids) {
		u, ok := s.users[id]
		if !ok || u.Status != models.UserEnabled {
			res.Missing = append(res.Missing, id)
			continue
		}
		res.Found = append(res.Found, cloneUser(u))
	}
	return res, nil
}

func (s *MemoryStore) LookupUsersByTags(ctx context.Context, tags []string, policy models.MatchPolicy) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tags = models.Compact(tags)
	var out []*models.User
	for _, u := range s.enabled() {
		if u.HasTags(tags, policy) {
			out = append(out, u)
		}
	}
	return out, nil
}
