package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"focusroom-be/internal/dto"
	"focusroom-be/internal/pkg/logger"
	"focusroom-be/internal/repository/contract"
	"focusroom-be/internal/repository/specification"
	"focusroom-be/internal/tracer"
	"focusroom-be/pkg/intervention"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultDecisionLimit = 20

	// below this many fires, patterns are reported without insights
	minPatternFires = 5
	maxStruggled    = 3
)

var ErrHistoryUnavailable = errors.New("decision history requires a database")

type IInterventionService interface {
	PostSignal(ctx context.Context, userID string, req *dto.PostSignalRequest) (intervention.StateView, error)
	SetContext(ctx context.Context, userID string, req *dto.SetContextRequest) error
	Evaluate(ctx context.Context, userID string) (*dto.EvaluateResponse, error)
	GetState(ctx context.Context, userID string) intervention.StateView
	GetRecentDecisions(ctx context.Context, userID string, limit int) *dto.DecisionListResponse
	GetDecisionHistory(ctx context.Context, userID string, q *dto.DecisionHistoryQuery) (*dto.DecisionHistoryResponse, error)
	GetLearningPatterns(ctx context.Context, userID string) (*dto.LearningPatternsResponse, error)
	GetJob(ctx context.Context, userID, jobID string) (intervention.InterventionJob, error)
}

type InterventionService struct {
	scheduler    *intervention.Scheduler
	decisionRepo contract.DecisionLogRepository
	logger       logger.ILogger
	tracer       trace.Tracer
	now          func() time.Time
}

func NewInterventionService(scheduler *intervention.Scheduler, decisionRepo contract.DecisionLogRepository, log logger.ILogger) *InterventionService {
	return &InterventionService{
		scheduler:    scheduler,
		decisionRepo: decisionRepo,
		logger:       log,
		tracer:       tracer.Tracer("intervention-service"),
		now:          time.Now,
	}
}

func (s *InterventionService) PostSignal(ctx context.Context, userID string, req *dto.PostSignalRequest) (intervention.StateView, error) {
	_, span := s.tracer.Start(ctx, "InterventionService.PostSignal",
		trace.WithAttributes(attribute.String("user_id", userID), attribute.String("kind", req.Kind)))
	defer span.End()

	now := s.now()
	observedAt := now
	if req.ObservedAt != nil && !req.ObservedAt.IsZero() {
		observedAt = *req.ObservedAt
	}
	level := 0.0
	if req.Level != nil {
		level = *req.Level
	}

	_, err := s.scheduler.PostSignal(userID, intervention.Signal{
		Kind:       intervention.SignalKind(req.Kind),
		Level:      level,
		ObservedAt: observedAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return intervention.StateView{}, err
	}
	return s.scheduler.CurrentState(userID, now), nil
}

func (s *InterventionService) SetContext(ctx context.Context, userID string, req *dto.SetContextRequest) error {
	_, span := s.tracer.Start(ctx, "InterventionService.SetContext",
		trace.WithAttributes(attribute.String("user_id", userID), attribute.String("topic", req.Topic)))
	defer span.End()

	var at time.Time
	if req.CreatedAt != nil {
		at = *req.CreatedAt
	}
	return s.scheduler.SetRecentContext(userID, req.Topic, req.Text, at)
}

func (s *InterventionService) Evaluate(ctx context.Context, userID string) (*dto.EvaluateResponse, error) {
	ctx, span := s.tracer.Start(ctx, "InterventionService.Evaluate",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	if userID == "" {
		return nil, intervention.ErrInvalidSignal
	}

	decisions := s.scheduler.Evaluate(ctx, userID, s.now())
	fired := 0
	for _, d := range decisions {
		if d.Fire {
			fired++
		}
	}
	span.SetAttributes(attribute.Int("fired", fired))
	return &dto.EvaluateResponse{Decisions: decisions, Fired: fired}, nil
}

func (s *InterventionService) GetState(ctx context.Context, userID string) intervention.StateView {
	return s.scheduler.CurrentState(userID, s.now())
}

func (s *InterventionService) GetRecentDecisions(ctx context.Context, userID string, limit int) *dto.DecisionListResponse {
	window := s.scheduler.Config().RecentWindow
	if limit <= 0 {
		limit = defaultDecisionLimit
	}
	if limit > window {
		limit = window
	}
	entries := s.scheduler.RecentDecisions(userID, limit)
	return &dto.DecisionListResponse{Entries: entries, Count: len(entries)}
}

// GetDecisionHistory reads the durable log, which outlives the in-memory window.
func (s *InterventionService) GetDecisionHistory(ctx context.Context, userID string, q *dto.DecisionHistoryQuery) (*dto.DecisionHistoryResponse, error) {
	if s.decisionRepo == nil {
		return nil, ErrHistoryUnavailable
	}
	ctx, span := s.tracer.Start(ctx, "InterventionService.GetDecisionHistory",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	limit := q.Limit
	if limit <= 0 {
		limit = defaultDecisionLimit
	}
	filters := []specification.Specification{
		specification.ByUserID{UserID: userID},
		specification.ByAction{Action: q.Action},
	}

	total, err := s.decisionRepo.Count(ctx, filters...)
	if err != nil {
		return nil, err
	}
	entries, err := s.decisionRepo.FindAll(ctx, append(filters,
		specification.OrderBy{Field: "timestamp", Desc: true},
		specification.Pagination{Limit: limit, Offset: q.Offset},
	)...)
	if err != nil {
		return nil, err
	}
	return &dto.DecisionHistoryResponse{Entries: entries, Total: total}, nil
}

// GetLearningPatterns groups a user's fired interventions by trigger, class and topic.
func (s *InterventionService) GetLearningPatterns(ctx context.Context, userID string) (*dto.LearningPatternsResponse, error) {
	if s.decisionRepo == nil {
		return nil, ErrHistoryUnavailable
	}
	ctx, span := s.tracer.Start(ctx, "InterventionService.GetLearningPatterns",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	rows, err := s.decisionRepo.GroupCounts(ctx,
		specification.ByUserID{UserID: userID},
		specification.ByAction{Action: "fire"},
	)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res := buildPatterns(rows)
	span.SetAttributes(attribute.Int64("total_fires", res.TotalFires))
	return res, nil
}

func buildPatterns(rows []contract.DecisionGroupCount) *dto.LearningPatternsResponse {
	res := &dto.LearningPatternsResponse{
		ByTrigger:       map[string]int64{},
		ByClass:         map[string]int64{},
		ByTopic:         map[string]int64{},
		StruggledTopics: []string{},
		Insights:        []string{},
	}
	struggled := map[string]int64{}
	for _, row := range rows {
		res.TotalFires += row.Count
		res.ByClass[row.Class] += row.Count
		if row.TriggerKind != "" {
			res.ByTrigger[row.TriggerKind] += row.Count
		}
		if row.Topic == "" {
			continue
		}
		res.ByTopic[row.Topic] += row.Count
		switch intervention.SignalKind(row.TriggerKind) {
		case intervention.SignalConfusion, intervention.SignalExplicitRequest:
			struggled[row.Topic] += row.Count
		}
	}

	for topic := range struggled {
		res.StruggledTopics = append(res.StruggledTopics, topic)
	}
	sort.Slice(res.StruggledTopics, func(i, j int) bool {
		a, b := res.StruggledTopics[i], res.StruggledTopics[j]
		if struggled[a] != struggled[b] {
			return struggled[a] > struggled[b]
		}
		return a < b
	})

	total := res.TotalFires
	if total < minPatternFires {
		res.Insights = append(res.Insights, fmt.Sprintf("%d interventions recorded, need more data for insights", total))
		return res
	}

	top := ""
	for class, n := range res.ByClass {
		if top == "" || n > res.ByClass[top] || (n == res.ByClass[top] && class < top) {
			top = class
		}
	}
	res.Insights = append(res.Insights, fmt.Sprintf("Most interventions were %s (%.0f%% of %d)", top, float64(res.ByClass[top])*100/float64(total), total))

	if res.ByTrigger[string(intervention.SignalConfusion)]*4 > total {
		res.Insights = append(res.Insights, "Frequent confusion detected, recommend more visual explanations")
	}
	if res.ByTrigger[string(intervention.SignalDistraction)]*5 > total {
		res.Insights = append(res.Insights, "High distraction rate, consider shorter focus sessions")
	}
	if n := len(res.StruggledTopics); n > 0 {
		if n > maxStruggled {
			n = maxStruggled
		}
		res.Insights = append(res.Insights, "Struggled with: "+strings.Join(res.StruggledTopics[:n], ", "))
	}
	return res
}

func (s *InterventionService) GetJob(ctx context.Context, userID, jobID string) (intervention.InterventionJob, error) {
	ctx, span := s.tracer.Start(ctx, "InterventionService.Poll",
		trace.WithAttributes(attribute.String("user_id", userID), attribute.String("job_id", jobID)))
	defer span.End()

	job, err := s.scheduler.Poll(ctx, userID, jobID)
	if err != nil {
		span.RecordError(err)
		return intervention.InterventionJob{}, err
	}
	span.SetAttributes(attribute.String("status", string(job.Status)))
	return job, nil
}

// RunEvaluationLoop ticks the scheduler until ctx is cancelled.
func (s *InterventionService) RunEvaluationLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("SCHEDULER", "Evaluation loop started", map[string]interface{}{"interval": interval.String()})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

func (s *InterventionService) tick(ctx context.Context, now time.Time) {
	ctx, span := s.tracer.Start(ctx, "InterventionService.Tick")
	defer span.End()

	if err := s.scheduler.Tick(ctx, now); err != nil && ctx.Err() == nil {
		span.RecordError(err)
		s.logger.Error("SCHEDULER", "Tick failed", map[string]interface{}{"error": err.Error()})
	}
}

// RunJobPoller re-checks pending jobs against their backends until ctx is cancelled.
func (s *InterventionService) RunJobPoller(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollPending(ctx)
		}
	}
}

func (s *InterventionService) pollPending(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "InterventionService.PollPending")
	defer span.End()

	n, err := s.scheduler.Dispatcher().PollPending(ctx)
	span.SetAttributes(attribute.Int("settled", n))
	if err != nil && ctx.Err() == nil {
		span.RecordError(err)
		s.logger.Warn("DISPATCHER", "Polling pending jobs failed", map[string]interface{}{"error": err.Error()})
	}
}

// Shutdown waits for in-flight backend calls to finish.
func (s *InterventionService) Shutdown() {
	s.scheduler.Dispatcher().Wait()
}
