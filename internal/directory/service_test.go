package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()
	for _, req := range []CreateUserRequest{
		{UserID: "a", Name: "Alice", Email: "a@example.com", Tags: []string{"vip", "trial"}},
		{UserID: "b", Name: "Bob", Email: "b@example.com", Tags: []string{"vip"}},
		{UserID: "c", Name: "Carol", Mobile: "13800000000", Tags: []string{"trial"}},
	} {
		if _, err := svc.Create(ctx, req); err != nil {
			t.Fatalf("create %s: %v", req.UserID, err)
		}
	}
	return svc
}

func TestCreateDuplicate(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Create(context.Background(), CreateUserRequest{UserID: "a", Name: "again"})
	if !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	_, err = svc.Create(context.Background(), CreateUserRequest{UserID: "x"})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLookupByTagsPolicies(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	all, err := svc.FindByTags(ctx, []string{"vip", "trial"}, models.MatchAll)
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 1 || all[0].UserID != "a" {
		t.Fatalf("all policy: got %v", userIDs(all))
	}

	anyOf, err := svc.FindByTags(ctx, []string{"vip", "trial"}, models.MatchAny)
	if err != nil {
		t.Fatalf("find any: %v", err)
	}
	if len(anyOf) != 3 {
		t.Fatalf("any policy: got %v", userIDs(anyOf))
	}

	if _, err := svc.FindByTags(ctx, []string{"vip"}, "al"); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a misspelt policy, got %v", err)
	}
}

func TestLookupByIDReportsMissingAndDisabled(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if err := svc.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	res, err := svc.store.LookupUsersByID(ctx, []string{"a", "b", "zz", "a"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(res.Found) != 1 || res.Found[0].UserID != "a" {
		t.Fatalf("found: %v", userIDs(res.Found))
	}
	if len(res.Missing) != 2 {
		t.Fatalf("missing: %v", res.Missing)
	}
}

func TestTagEditing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.AddTag(ctx, "c", "vip"); err != nil {
		t.Fatalf("add tag: %v", err)
	}
	if err := svc.AddTag(ctx, "c", "vip"); err != nil {
		t.Fatalf("add tag twice: %v", err)
	}
	u, _ := svc.Get(ctx, "c")
	if len(u.Tags) != 2 {
		t.Fatalf("tags after add: %v", u.Tags)
	}
	if err := svc.RemoveTag(ctx, "c", "trial"); err != nil {
		t.Fatalf("remove tag: %v", err)
	}
	u, _ = svc.Get(ctx, "c")
	if len(u.Tags) != 1 || u.Tags[0] != "vip" {
		t.Fatalf("tags after remove: %v", u.Tags)
	}

	stats, err := svc.TagStatistics(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[0].Tag != "vip" || stats[0].Count != 3 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestListPaginates(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.List(context.Background(), pagination.Request{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 3 || len(res.Items) != 1 {
		t.Fatalf("unexpected page: total=%d items=%d", res.Total, len(res.Items))
	}
}

func userIDs(users []*models.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.UserID)
	}
	return out
}
