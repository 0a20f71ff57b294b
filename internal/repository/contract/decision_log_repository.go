package contract

import (
	"context"

	"focusroom-be/internal/repository/specification"
	"focusroom-be/pkg/intervention"
)

// DecisionGroupCount is one row of a grouped count over decision logs.
type DecisionGroupCount struct {
	TriggerKind string
	Class       string
	Topic       string
	Count       int64
}

type DecisionLogRepository interface {
	Create(ctx context.Context, entry intervention.DecisionLogEntry) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]intervention.DecisionLogEntry, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	GroupCounts(ctx context.Context, specs ...specification.Specification) ([]DecisionGroupCount, error)
	DeleteWhere(ctx context.Context, specs ...specification.Specification) (int64, error)
}
