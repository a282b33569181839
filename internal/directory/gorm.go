package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

// GormStore keeps users in the t_user table. Tags are a JSON array in a text
// column and are matched with the jsonb containment operator.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.User
		err := tx.Where("user_id = ?", user.UserID).First(&existing).Error
		switch {
		case err == nil:
			if existing.Status == models.UserEnabled {
				return fmt.Errorf("user %s: %w", user.UserID, models.ErrAlreadyExists)
			}
			// re-activate a soft-deleted row, the user_id index is unique
			user.ID = existing.ID
			user.CreateTime = existing.CreateTime
			user.Status = models.UserEnabled
			return tx.Save(user).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			user.Status = models.UserEnabled
			return tx.Create(user).Error
		default:
			return fmt.Errorf("failed to check user %s: %w", user.UserID, err)
		}
	})
}

func (s *GormStore) Get(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.UserEnabled).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return &user, nil
}

func (s *GormStore) Update(ctx context.Context, userID string, updateFn func(*models.User)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Where("user_id = ? AND status = ?", userID, models.UserEnabled).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get user %s: %w", userID, err)
		}
		updateFn(&user)
		user.UserID = userID
		return tx.Save(&user).Error
	})
}

func (s *GormStore) Delete(ctx context.Context, userID string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ? AND status = ?", userID, models.UserEnabled).
		Update("status", models.UserDisabled)
	if res.Error != nil {
		return fmt.Errorf("failed to delete user %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, page pagination.Request) (pagination.Result[*models.User], error) {
	res := pagination.Result[*models.User]{Items: []*models.User{}, Page: page.Page}

	query := s.db.WithContext(ctx).Model(&models.User{}).Where("status = ?", models.UserEnabled)
	if err := query.Count(&res.Total).Error; err != nil {
		return res, fmt.Errorf("failed to count users: %w", err)
	}
	err := query.Offset(page.Offset()).
		Limit(page.Limit()).
		Order("create_time DESC").
		Find(&res.Items).Error
	if err != nil {
		return res, fmt.Errorf("failed to list users: %w", err)
	}
	return res, nil
}

func (s *GormStore) TagStatistics(ctx context.Context) ([]models.TagStatistic, error) {
	var users []*models.User
	if err := s.db.WithContext(ctx).Where("status = ?", models.UserEnabled).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return countTags(users), nil
}

func (s *GormStore) LookupUsersByID(ctx context.Context, ids []string) (Lookup, error) {
	var res Lookup
	ids = models.Compact(ids)
	if len(ids) == 0 {
		return res, nil
	}

	var users []*models.User
	err := s.db.WithContext(ctx).
		Where("user_id IN ? AND status = ?", ids, models.UserEnabled).
		Find(&users).Error
	if err != nil {
		return res, fmt.Errorf("failed to look up users: %w", err)
	}

	byID := make(map[string]*models.User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			res.Found = append(res.Found, u)
		} else {
			res.Missing = append(res.Missing, id)
		}
	}
	return res, nil
}

func (s *GormStore) LookupUsersByTags(ctx context.Context, tags []string, policy models.MatchPolicy) ([]*models.User, error) {
	tags = models.Compact(tags)
	if len(tags) == 0 {
		return nil, nil
	}

	query := s.db.WithContext(ctx).Where("status = ?", models.UserEnabled)
	if policy.Normalize() == models.MatchAll {
		all, err := json.Marshal(tags)
		if err != nil {
			return nil, err
		}
		query = query.Where("tags::jsonb @> ?::jsonb", string(all))
	} else {
		conds := make([]string, 0, len(tags))
		args := make([]any, 0, len(tags))
		for _, tag := range tags {
			one, err := json.Marshal([]string{tag})
			if err != nil {
				return nil, err
			}
			conds = append(conds, "tags::jsonb @> ?::jsonb")
			args = append(args, string(one))
		}
		query = query.Where("("+strings.Join(conds, " OR ")+")", args...)
	}

	var users []*models.User
	if err := query.Order("create_time DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to find users by tags: %w", err)
	}
	return users, nil
}
