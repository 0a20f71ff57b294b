package mapper

import (
	"encoding/json"

	"focusroom-be/internal/model"
	"focusroom-be/pkg/intervention"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type InterventionMapper struct{}

func NewInterventionMapper() *InterventionMapper {
	return &InterventionMapper{}
}

func (m *InterventionMapper) JobToModel(j intervention.InterventionJob) *model.InterventionJob {
	return &model.InterventionJob{
		Id:         j.ID,
		UserId:     j.UserID,
		Class:      string(j.Class),
		Kind:       string(j.Kind),
		Status:     string(j.Status),
		Topic:      j.Topic,
		ExternalId: j.ExternalID,
		ResultRef:  j.ResultRef,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

func (m *InterventionMapper) JobToDomain(j *model.InterventionJob) intervention.InterventionJob {
	if j == nil {
		return intervention.InterventionJob{}
	}
	return intervention.InterventionJob{
		ID:         j.Id,
		UserID:     j.UserId,
		Class:      intervention.Class(j.Class),
		Kind:       intervention.Kind(j.Kind),
		Status:     intervention.JobStatus(j.Status),
		Topic:      j.Topic,
		ExternalID: j.ExternalId,
		ResultRef:  j.ResultRef,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

func (m *InterventionMapper) DecisionToModel(e intervention.DecisionLogEntry) (*model.DecisionLog, error) {
	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return nil, err
	}
	alts := e.AlternativesConsidered
	if alts == nil {
		alts = []string{}
	}
	return &model.DecisionLog{
		Id:           uuid.New(),
		Seq:          e.Seq,
		UserId:       e.UserID,
		Class:        string(e.Class),
		Action:       e.Action,
		Kind:         string(e.Kind),
		TriggerKind:  string(e.Evidence.PendingKind),
		Topic:        e.Topic,
		Reason:       e.Reason,
		Evidence:     datatypes.JSON(evidence),
		Alternatives: datatypes.JSONSlice[string](alts),
		Timestamp:    e.Timestamp,
	}, nil
}

func (m *InterventionMapper) DecisionToDomain(d *model.DecisionLog) intervention.DecisionLogEntry {
	if d == nil {
		return intervention.DecisionLogEntry{}
	}
	var evidence intervention.Evidence
	if len(d.Evidence) > 0 {
		// A corrupt row still yields the rest of the entry.
		_ = json.Unmarshal(d.Evidence, &evidence)
	}
	return intervention.DecisionLogEntry{
		Seq:                    d.Seq,
		Timestamp:              d.Timestamp,
		UserID:                 d.UserId,
		Class:                  intervention.Class(d.Class),
		Action:                 d.Action,
		Kind:                   intervention.Kind(d.Kind),
		Topic:                  d.Topic,
		Reason:                 d.Reason,
		Evidence:               evidence,
		AlternativesConsidered: []string(d.Alternatives),
	}
}
