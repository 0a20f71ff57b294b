package service

import (
	"context"
	"time"

	"focusroom-be/internal/pkg/logger"
	"focusroom-be/pkg/events"
	"focusroom-be/pkg/intervention"
)

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// EventHandlerFunc receives events directly when no broker is configured.
type EventHandlerFunc func(ctx context.Context, event events.Event) error

// InterventionNotifier turns scheduler callbacks into lifecycle events.
// Events are queued and published in order by Run.
type InterventionNotifier struct {
	publisher EventPublisher
	direct    EventHandlerFunc
	logger    logger.ILogger
	queue     chan events.Event
	timeout   time.Duration
}

var _ intervention.Observer = (*InterventionNotifier)(nil)

func NewInterventionNotifier(publisher EventPublisher, direct EventHandlerFunc, log logger.ILogger) *InterventionNotifier {
	return &InterventionNotifier{
		publisher: publisher,
		direct:    direct,
		logger:    log,
		queue:     make(chan events.Event, 256),
		timeout:   5 * time.Second,
	}
}

func jobPayload(job intervention.InterventionJob) map[string]interface{} {
	return map[string]interface{}{
		"user_id":    job.UserID,
		"job_id":     job.ID,
		"class":      string(job.Class),
		"kind":       string(job.Kind),
		"status":     string(job.Status),
		"topic":      job.Topic,
		"result_ref": job.ResultRef,
		"error":      job.Error,
	}
}

func (n *InterventionNotifier) OnDecision(_ string, d intervention.Decision, _ intervention.DecisionLogEntry) {
	// Immediate dispatch failures are reported through OnJobUpdate.
	if !d.Fire || d.Job == nil || d.Job.Status == intervention.JobFailed {
		return
	}
	payload := jobPayload(*d.Job)
	payload["trigger"] = string(d.Trigger)
	payload["reason"] = d.Reason
	n.enqueue(events.New(events.InterventionFired, payload))
}

func (n *InterventionNotifier) OnJobUpdate(job intervention.InterventionJob) {
	switch job.Status {
	case intervention.JobReady:
		n.enqueue(events.New(events.InterventionReady, jobPayload(job)))
	case intervention.JobFailed:
		n.enqueue(events.New(events.InterventionFailed, jobPayload(job)))
	}
}

func (n *InterventionNotifier) enqueue(ev events.Event) {
	select {
	case n.queue <- ev:
	default:
		n.logger.Warn("NOTIFIER", "Event queue full, dropping event", map[string]interface{}{"type": ev.EventType()})
	}
}

// Run drains the queue until ctx is cancelled.
func (n *InterventionNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			n.emit(ctx, ev)
		}
	}
}

func (n *InterventionNotifier) emit(ctx context.Context, ev events.Event) {
	if n.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, n.timeout)
		err := n.publisher.Publish(pubCtx, ev)
		cancel()
		if err == nil {
			return
		}
		n.logger.Warn("NOTIFIER", "Publish failed, delivering directly", map[string]interface{}{
			"type":  ev.EventType(),
			"error": err.Error(),
		})
	}
	if n.direct != nil {
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		if err := n.direct(ctx, ev); err != nil {
			n.logger.Error("NOTIFIER", "Direct delivery failed", map[string]interface{}{
				"type":  ev.EventType(),
				"error": err.Error(),
			})
		}
	}
}
