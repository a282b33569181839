// Package resolver turns a target spec into a concrete, deduplicated set of
// recipient addresses.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"msgcenter/internal/directory"
	"msgcenter/internal/models"
)

type Recipient struct {
	UserID  string `json:"user_id,omitempty"`
	Address string `json:"address"`
}

// RecipientSet is the outcome of a resolution. Missing lists requested user
// ids that are unknown; Unreachable lists matched users that have no address
// for the channel.
type RecipientSet struct {
	Mode        models.TargetMode `json:"mode"`
	Recipients  []Recipient       `json:"recipients"`
	Missing     []string          `json:"missing,omitempty"`
	Unreachable []string          `json:"unreachable,omitempty"`
}

type Resolver struct {
	dir directory.Directory
}

func New(dir directory.Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve applies the precedence direct > user_ids > tags; only the winning
// mode is consulted. ch selects which contact field of a user is used.
func (r *Resolver) Resolve(ctx context.Context, spec models.TargetSpec, ch models.Channel) (RecipientSet, error) {
	set := RecipientSet{Mode: spec.Mode()}

	switch set.Mode {
	case models.TargetDirect:
		set.Recipients = []Recipient{{Address: strings.TrimSpace(spec.To)}}
		return set, nil

	case models.TargetUserIDs:
		ids := models.Compact(spec.UserIDs)
		res, err := r.dir.LookupUsersByID(ctx, ids)
		if err != nil {
			return set, fmt.Errorf("lookup users: %w", err)
		}
		set.Missing = res.Missing
		if len(res.Found) == 0 {
			return set, fmt.Errorf("%w: none of %d user ids is known", models.ErrEmptyAudience, len(ids))
		}
		return r.collect(set, res.Found, ch)

	case models.TargetTags:
		if !spec.MatchType.Valid() {
			return set, fmt.Errorf("match_type %q: %w", spec.MatchType, models.ErrInvalidInput)
		}
		tags := models.Compact(spec.Tags)
		policy := spec.MatchType.Normalize()
		users, err := r.dir.LookupUsersByTags(ctx, tags, policy)
		if err != nil {
			return set, fmt.Errorf("lookup users by tags: %w", err)
		}
		if len(users) == 0 {
			return set, fmt.Errorf("%w: no user matches %s of tags %v", models.ErrEmptyAudience, policy, tags)
		}
		return r.collect(set, users, ch)

	default:
		return set, models.ErrInvalidTarget
	}
}

func (r *Resolver) collect(set RecipientSet, users []*models.User, ch models.Channel) (RecipientSet, error) {
	seenUser := make(map[string]struct{}, len(users))
	seenAddr := make(map[string]struct{}, len(users))

	for _, u := range users {
		if _, ok := seenUser[u.UserID]; ok {
			continue
		}
		seenUser[u.UserID] = struct{}{}

		addr := strings.TrimSpace(u.Address(ch))
		if addr == "" {
			set.Unreachable = append(set.Unreachable, u.UserID)
			continue
		}
		if _, ok := seenAddr[addr]; ok {
			continue
		}
		seenAddr[addr] = struct{}{}
		set.Recipients = append(set.Recipients, Recipient{UserID: u.UserID, Address: addr})
	}

	if len(set.Recipients) == 0 {
		return set, fmt.Errorf("%w: no matched user has a %s address", models.ErrEmptyAudience, ch)
	}
	return set, nil
}
