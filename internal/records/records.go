// Package records keeps the per-recipient history of every send.
package records

import (
	"context"

	"msgcenter/internal/models"
	"msgcenter/internal/pagination"
)

type Store interface {
	Create(ctx context.Context, rec *models.MsgRecord) error
	// Finish moves a record to its final status; errText is kept only for
	// failures.
	Finish(ctx context.Context, msgID string, status models.RecordStatus, errText string) error
	Get(ctx context.Context, msgID string) (*models.MsgRecord, error)
	List(ctx context.Context, filter models.RecordFilter, page pagination.Request) (pagination.Result[*models.MsgRecord], error)
}
