package templates

import (
	"context"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

// Store persists template revisions. Revisions are append-only; only the
// status of a revision ever changes.
type Store interface {
	Create(ctx context.Context, t *models.Template) error
	Get(ctx context.Context, templateID string) (*models.Template, error)
	// Latest returns the highest revision of a lineage regardless of status.
	Latest(ctx context.Context, relTemplateID string) (*models.Template, error)
	Revisions(ctx context.Context, relTemplateID string) ([]*models.Template, error)
	SetStatus(ctx context.Context, templateID string, status models.TemplateStatus) error
	List(ctx context.Context, filter models.TemplateFilter, page pagination.Request) (pagination.Result[*models.Template], error)
}
