package contract

import (
	"context"

	"focusroom-be/internal/repository/specification"
	"focusroom-be/pkg/intervention"
)

// InterventionJobRepository is the durable intervention.JobStore.
type InterventionJobRepository interface {
	Save(ctx context.Context, job intervention.InterventionJob) error
	Get(ctx context.Context, id string) (intervention.InterventionJob, error)
	ListPending(ctx context.Context) ([]intervention.InterventionJob, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]intervention.InterventionJob, error)
}
