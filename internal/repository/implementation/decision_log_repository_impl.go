package implementation

import (
	"context"

	"focusroom-be/internal/mapper"
	"focusroom-be/internal/model"
	"focusroom-be/internal/repository/contract"
	"focusroom-be/internal/repository/specification"
	"focusroom-be/pkg/intervention"

	"gorm.io/gorm"
)

type DecisionLogRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.InterventionMapper
}

func NewDecisionLogRepository(db *gorm.DB) contract.DecisionLogRepository {
	return &DecisionLogRepositoryImpl{
		db:     db,
		mapper: mapper.NewInterventionMapper(),
	}
}

func (r *DecisionLogRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *DecisionLogRepositoryImpl) Create(ctx context.Context, entry intervention.DecisionLogEntry) error {
	m, err := r.mapper.DecisionToModel(entry)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *DecisionLogRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]intervention.DecisionLogEntry, error) {
	var models []model.DecisionLog
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.DecisionLog{}), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]intervention.DecisionLogEntry, 0, len(models))
	for i := range models {
		out = append(out, r.mapper.DecisionToDomain(&models[i]))
	}
	return out, nil
}

func (r *DecisionLogRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.DecisionLog{}), specs...)
	err := query.Count(&count).Error
	return count, err
}

// GroupCounts counts matching rows per (trigger_kind, class, topic), largest first.
func (r *DecisionLogRepositoryImpl) GroupCounts(ctx context.Context, specs ...specification.Specification) ([]contract.DecisionGroupCount, error) {
	var rows []contract.DecisionGroupCount
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.DecisionLog{}), specs...)
	err := query.
		Select("trigger_kind, class, topic, COUNT(*) AS count").
		Group("trigger_kind, class, topic").
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteWhere is a no-op without specs.
func (r *DecisionLogRepositoryImpl) DeleteWhere(ctx context.Context, specs ...specification.Specification) (int64, error) {
	if len(specs) == 0 {
		return 0, nil
	}
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	result := query.Delete(&model.DecisionLog{})
	return result.RowsAffected, result.Error
}
