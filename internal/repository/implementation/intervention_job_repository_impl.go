package implementation

import (
	"context"
	"errors"

	"focusroom-be/internal/mapper"
	"focusroom-be/internal/model"
	"focusroom-be/internal/repository/contract"
	"focusroom-be/internal/repository/specification"
	"focusroom-be/pkg/intervention"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InterventionJobRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.InterventionMapper
}

func NewInterventionJobRepository(db *gorm.DB) contract.InterventionJobRepository {
	return &InterventionJobRepositoryImpl{
		db:     db,
		mapper: mapper.NewInterventionMapper(),
	}
}

func (r *InterventionJobRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

// Save upserts by id; the dispatcher saves the same job at every transition.
func (r *InterventionJobRepositoryImpl) Save(ctx context.Context, job intervention.InterventionJob) error {
	m := r.mapper.JobToModel(job)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "external_id", "result_ref", "error", "updated_at"}),
		}).
		Create(m).Error
}

func (r *InterventionJobRepositoryImpl) Get(ctx context.Context, id string) (intervention.InterventionJob, error) {
	var m model.InterventionJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return intervention.InterventionJob{}, intervention.ErrJobNotFound
		}
		return intervention.InterventionJob{}, err
	}
	return r.mapper.JobToDomain(&m), nil
}

func (r *InterventionJobRepositoryImpl) ListPending(ctx context.Context) ([]intervention.InterventionJob, error) {
	return r.FindAll(ctx,
		specification.StatusIn{Statuses: []string{string(intervention.JobPending)}},
		specification.OrderBy{Field: "created_at"},
	)
}

func (r *InterventionJobRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]intervention.InterventionJob, error) {
	var models []model.InterventionJob
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]intervention.InterventionJob, 0, len(models))
	for i := range models {
		out = append(out, r.mapper.JobToDomain(&models[i]))
	}
	return out, nil
}
