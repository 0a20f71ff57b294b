package service

import (
	"context"
	"sync"

	"focusroom-be/internal/model"
	"focusroom-be/internal/repository/contract"
	"focusroom-be/internal/repository/specification"
	"focusroom-be/internal/websocket"
	"focusroom-be/pkg/intervention"

	"github.com/google/uuid"
)

type fakeNotificationRepo struct {
	mu      sync.Mutex
	saved   []model.Notification
	failErr error
}

func (r *fakeNotificationRepo) CreateNotification(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.saved = append(r.saved, *n)
	return nil
}

func (r *fakeNotificationRepo) GetNotificationsByUserID(_ context.Context, userID string, limit, offset int) ([]model.Notification, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Notification
	for _, n := range r.saved {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeNotificationRepo) GetUnreadCount(context.Context, string) (int64, error) {
	return 0, nil
}

func (r *fakeNotificationRepo) MarkAsRead(context.Context, string, uuid.UUID) error { return nil }

func (r *fakeNotificationRepo) MarkAllAsRead(context.Context, string) error { return nil }

func (r *fakeNotificationRepo) all() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Notification(nil), r.saved...)
}

type sentMessage struct {
	userID string
	msg    websocket.Message
}

type fakeDelivery struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (d *fakeDelivery) Send(userID string, msg websocket.Message) {
	d.mu.Lock()
	d.sent = append(d.sent, sentMessage{userID, msg})
	d.mu.Unlock()
}

func (d *fakeDelivery) types() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.sent))
	for _, s := range d.sent {
		out = append(out, s.msg.Type)
	}
	return out
}

type fakeDecisionRepo struct {
	mu      sync.Mutex
	entries []intervention.DecisionLogEntry
	fails   int
	calls   int
}

func (r *fakeDecisionRepo) Create(_ context.Context, e intervention.DecisionLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fails > 0 {
		r.fails--
		return context.DeadlineExceeded
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeDecisionRepo) FindAll(context.Context, ...specification.Specification) ([]intervention.DecisionLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]intervention.DecisionLogEntry(nil), r.entries...), nil
}

func (r *fakeDecisionRepo) Count(context.Context, ...specification.Specification) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.entries)), nil
}

// GroupCounts ignores specs and groups fires only.
func (r *fakeDecisionRepo) GroupCounts(context.Context, ...specification.Specification) ([]contract.DecisionGroupCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	index := map[contract.DecisionGroupCount]int{}
	var out []contract.DecisionGroupCount
	for _, e := range r.entries {
		if e.Action != "fire" {
			continue
		}
		key := contract.DecisionGroupCount{TriggerKind: string(e.Evidence.PendingKind), Class: string(e.Class), Topic: e.Topic}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, key)
		}
		out[i].Count++
	}
	return out, nil
}

func (r *fakeDecisionRepo) DeleteWhere(context.Context, ...specification.Specification) (int64, error) {
	return 0, nil
}

func (r *fakeDecisionRepo) snapshot() ([]intervention.DecisionLogEntry, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]intervention.DecisionLogEntry(nil), r.entries...), r.calls
}

// syncBackend completes every request inside Start.
type syncBackend struct {
	err error
}

func (b syncBackend) Start(_ context.Context, req intervention.GenerationRequest) (intervention.Acceptance, error) {
	if b.err != nil {
		return intervention.Acceptance{}, b.err
	}
	return intervention.Acceptance{ExternalID: req.JobID, Done: true, ResultRef: "ref-" + req.JobID}, nil
}

func (b syncBackend) Status(context.Context, string) (intervention.ExternalStatus, error) {
	return intervention.ExternalStatus{Status: intervention.JobReady}, nil
}
