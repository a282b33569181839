package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

type CreateUserRequest struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Nickname string   `json:"nickname"`
	Mobile   string   `json:"mobile"`
	Email    string   `json:"email"`
	LarkID   string   `json:"lark_id"`
	Tags     []string `json:"tags"`
}

// UpdateUserRequest changes only the non-empty fields; a nil Tags keeps the
// current tags and an empty, non-nil Tags clears them.
type UpdateUserRequest struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Nickname string   `json:"nickname"`
	Mobile   string   `json:"mobile"`
	Email    string   `json:"email"`
	LarkID   string   `json:"lark_id"`
	Tags     []string `json:"tags"`
}

// Service is the user management surface on top of a Store.
type Service struct {
	store Store
	log   zerolog.Logger
}

func NewService(store Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log.With().Str("component", "directory").Logger()}
}

func (s *Service) Create(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Name = strings.TrimSpace(req.Name)
	if req.UserID == "" || req.Name == "" {
		return nil, fmt.Errorf("user_id and name are required: %w", models.ErrInvalidInput)
	}

	user := &models.User{
		UserID:   req.UserID,
		Name:     req.Name,
		Nickname: req.Nickname,
		Mobile:   req.Mobile,
		Email:    req.Email,
		LarkID:   req.LarkID,
		Tags:     models.StringSlice(models.Compact(req.Tags)),
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", user.UserID).Msg("user created")
	return user, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*models.User, error) {
	return s.store.Get(ctx, userID)
}

func (s *Service) Update(ctx context.Context, req UpdateUserRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("user_id is required: %w", models.ErrInvalidInput)
	}
	return s.store.Update(ctx, req.UserID, func(u *models.User) {
		if req.Name != "" {
			u.Name = req.Name
		}
		if req.Nickname != "" {
			u.Nickname = req.Nickname
		}
		if req.Mobile != "" {
			u.Mobile = req.Mobile
		}
		if req.Email != "" {
			u.Email = req.Email
		}
		if req.LarkID != "" {
			u.LarkID = req.LarkID
		}
		if req.Tags != nil {
			u.Tags = models.StringSlice(models.Compact(req.Tags))
		}
	})
}

func (s *Service) Delete(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Msg("user disabled")
	return nil
}

func (s *Service) List(ctx context.Context, page pagination.Request) (pagination.Result[*models.User], error) {
	return s.store.List(ctx, page)
}

func (s *Service) AddTag(ctx context.Context, userID, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return fmt.Errorf("tag is required: %w", models.ErrInvalidInput)
	}
	return s.store.Update(ctx, userID, func(u *models.User) {
		if !u.Tags.Contains(tag) {
			u.Tags = append(u.Tags, tag)
		}
	})
}

func (s *Service) RemoveTag(ctx context.Context, userID, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return fmt.Errorf("tag is required: %w", models.ErrInvalidInput)
	}
	return s.store.Update(ctx, userID, func(u *models.User) {
		kept := u.Tags[:0]
		for _, t := range u.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		u.Tags = kept
	})
}

func (s *Service) FindByTags(ctx context.Context, tags []string, policy models.MatchPolicy) ([]*models.User, error) {
	tags = models.Compact(tags)
	if len(tags) == 0 {
		return nil, fmt.Errorf("tags are required: %w", models.ErrInvalidInput)
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("match_type %q: %w", policy, models.ErrInvalidInput)
	}
	return s.store.LookupUsersByTags(ctx, tags, policy.Normalize())
}

func (s *Service) TagStatistics(ctx context.Context) ([]models.TagStatistic, error) {
	return s.store.TagStatistics(ctx)
}
