package domain

import (
	"context"

	"github.com/trimwell/portal/internal/shared/types"
)

// Repository loads and stores patient records. Implementations return the
// shared typed not-found error for unknown ids.
type Repository interface {
	Create(ctx context.Context, rec *PatientRecord) error
	Get(ctx context.Context, id types.ID) (*PatientRecord, error)
	List(ctx context.Context) ([]*PatientRecord, error)
}
