// Package directory owns users and their tags and exposes the read-only
// lookup capability the addressing resolver depends on.
package directory

import (
	"context"
	"sort"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

// Lookup is the result of an id lookup: users found and ids that are
// unknown or disabled.
type Lookup struct {
	Found   []*models.User
	Missing []string
}

type Directory interface {
	LookupUsersByID(ctx context.Context, ids []string) (Lookup, error)
	LookupUsersByTags(ctx context.Context, tags []string, policy models.MatchPolicy) ([]*models.User, error)
}

type Store interface {
	Directory
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, userID string) (*models.User, error)
	Update(ctx context.Context, userID string, updateFn func(*models.User)) error
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context, page pagination.Request) (pagination.Result[*models.User], error)
	TagStatistics(ctx context.Context) ([]models.TagStatistic, error)
}

func countTags(users []*models.User) []models.TagStatistic {
	counts := make(map[string]int)
	for _, u := range users {
		for _, tag := range models.Compact(u.Tags) {
			counts[tag]++
		}
	}
	stats := make([]models.TagStatistic, 0, len(counts))
	for tag, n := range counts {
		stats = append(stats, models.TagStatistic{Tag: tag, Count: n})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Tag < stats[j].Tag
	})
	return stats
}
