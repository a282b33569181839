package templates

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), NewEngine(), zerolog.Nop())
}

func TestCreateValidation(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.Create(ctx, CreateTemplateRequest{Channel: models.ChannelEmail}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := s.Create(ctx, CreateTemplateRequest{Channel: 9, Content: "x"}); !errors.Is(err, models.ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestUpdateCreatesRevision(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	v1, err := s.Create(ctx, CreateTemplateRequest{Name: "otp", Channel: models.ChannelSMS, Content: "code {{c}}"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	v2, err := s.Update(ctx, UpdateTemplateRequest{TemplateID: v1.TemplateID, Content: "your code {{c}}"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if v2.TemplateID == v1.TemplateID || v2.RelTemplateID != v1.TemplateID || v2.Revision != 2 {
		t.Fatalf("unexpected revision: %+v", v2)
	}
	if v2.Name != "otp" || v2.Channel != models.ChannelSMS {
		t.Fatalf("fields not carried over: %+v", v2)
	}

	// updating an old revision still appends to the end of the lineage
	v3, err := s.Update(ctx, UpdateTemplateRequest{TemplateID: v1.TemplateID, Name: "otp2"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if v3.Revision != 3 {
		t.Fatalf("expected revision 3, got %d", v3.Revision)
	}

	_, c, err := s.Render(ctx, v1.TemplateID, map[string]string{"c": "7"})
	if err != nil || c.Body != "code 7" {
		t.Fatalf("old revision must stay renderable: %+v %v", c, err)
	}

	revs, err := s.Revisions(ctx, v2.TemplateID)
	if err != nil || len(revs) != 3 || revs[0].TemplateID != v1.TemplateID {
		t.Fatalf("unexpected revisions: %v %v", revs, err)
	}
}

func TestDeleteDisablesTemplate(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	tpl, err := s.Create(ctx, CreateTemplateRequest{Channel: models.ChannelLark, Content: "hi"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, tpl.TemplateID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.Render(ctx, tpl.TemplateID, nil); !errors.Is(err, models.ErrTemplateDisabled) {
		t.Fatalf("expected ErrTemplateDisabled, got %v", err)
	}
	if err := s.Delete(ctx, "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFilter(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, CreateTemplateRequest{SourceID: "a", Channel: models.ChannelEmail, Content: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Create(ctx, CreateTemplateRequest{SourceID: "b", Channel: models.ChannelEmail, Content: "x"}); err != nil {
		t.Fatal(err)
	}

	res, err := s.List(ctx, models.TemplateFilter{SourceID: "a"}, pagination.Request{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 3 || len(res.Items) != 2 {
		t.Fatalf("unexpected page: total=%d items=%d", res.Total, len(res.Items))
	}
}

// staleLatest hands out an outdated latest revision a number of times, as
// a concurrent update that committed in between would leave it.
type staleLatest struct {
	*MemoryStore
	stale *models.Template
	times int
}

func (s *staleLatest) Latest(ctx context.Context, rel string) (*models.Template, error) {
	if s.times > 0 {
		s.times--
		return s.stale, nil
	}
	return s.MemoryStore.Latest(ctx, rel)
}

func TestUpdateRetriesTakenRevision(t *testing.T) {
	ctx := context.Background()
	store := &staleLatest{MemoryStore: NewMemoryStore()}
	s := NewService(store, NewEngine(), zerolog.Nop())

	v1, err := s.Create(ctx, CreateTemplateRequest{Channel: models.ChannelEmail, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(ctx, UpdateTemplateRequest{TemplateID: v1.TemplateID, Content: "hi 2"}); err != nil {
		t.Fatal(err)
	}

	store.stale, store.times = v1, 1
	v3, err := s.Update(ctx, UpdateTemplateRequest{TemplateID: v1.TemplateID, Content: "hi 3"})
	if err != nil {
		t.Fatalf("update against a stale latest: %v", err)
	}
	if v3.Revision != 3 {
		t.Fatalf("expected revision 3 after the retry, got %d", v3.Revision)
	}

	revs, err := s.Revisions(ctx, v1.TemplateID)
	if err != nil || len(revs) != 3 {
		t.Fatalf("revisions: %d %v", len(revs), err)
	}
	for i, r := range revs {
		if r.Revision != i+1 {
			t.Fatalf("revision numbers must be distinct and dense, got %d at %d", r.Revision, i)
		}
	}

	store.stale, store.times = v1, revisionAttempts
	if _, err := s.Update(ctx, UpdateTemplateRequest{TemplateID: v1.TemplateID}); !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists once attempts run out, got %v", err)
	}
}

func TestConcurrentUpdatesGetDistinctRevisions(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	v1, err := s.Create(ctx, CreateTemplateRequest{Channel: models.ChannelLark, Content: "x"})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Update(ctx, UpdateTemplateRequest{TemplateID: v1.TemplateID}); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	revs, _ := s.Revisions(ctx, v1.TemplateID)
	seen := map[int]bool{}
	for _, r := range revs {
		if seen[r.Revision] {
			t.Fatalf("revision %d written twice", r.Revision)
		}
		seen[r.Revision] = true
	}
	if len(revs) != 5 {
		t.Fatalf("expected 5 revisions, got %d", len(revs))
	}
}
