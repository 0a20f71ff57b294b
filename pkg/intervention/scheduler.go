package intervention

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Observer is told about decisions and job transitions after the user's
// lock is released. Implementations should return quickly.
type Observer interface {
	OnDecision(userID string, decision Decision, entry DecisionLogEntry)
	OnJobUpdate(job InterventionJob)
}

// ClassView is the display state of one intervention class.
type ClassView struct {
	Class                Class      `json:"class"`
	CooldownActive       bool       `json:"cooldown_active"`
	CooldownRemainingSec float64    `json:"cooldown_remaining_sec"`
	InFlight             bool       `json:"in_flight"`
	InFlightJobID        string     `json:"in_flight_job_id,omitempty"`
	LastTriggerAt        *time.Time `json:"last_trigger_at,omitempty"`
}

// StateView is a read-only snapshot of a user's scheduling state.
type StateView struct {
	UserID         string            `json:"user_id"`
	SmoothedLevel  float64           `json:"smoothed_level"`
	CooldownActive bool              `json:"cooldown_active"`
	InFlight       bool              `json:"in_flight"`
	HasContext     bool              `json:"has_context"`
	Classes        []ClassView       `json:"classes"`
	LastDecision   *DecisionLogEntry `json:"last_decision,omitempty"`
}

// Scheduler owns per-user state and is the only entry point that mutates it.
type Scheduler struct {
	config     Config
	smoother   *Smoother
	gate       *Gate
	dispatcher *Dispatcher
	sessions   SessionStore
	sink       DecisionSink
	observer   Observer
	logger     Logger
	now        func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithSessionStore(store SessionStore) Option {
	return func(s *Scheduler) { s.sessions = store }
}

func WithDecisionSink(sink DecisionSink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

func WithLogger(l Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithNow overrides the clock used for timestamps the caller does not supply.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler wires the smoother, gate and dispatcher together. A nil
// dispatcher gets one with no backends, so every fire fails open.
func NewScheduler(cfg Config, dispatcher *Dispatcher, opts ...Option) *Scheduler {
	cfg = cfg.normalized()
	if dispatcher == nil {
		dispatcher = NewDispatcher(cfg)
	}
	s := &Scheduler{
		config:     cfg,
		smoother:   NewSmoother(cfg),
		gate:       NewGate(cfg),
		dispatcher: dispatcher,
		sessions:   NewMemorySessionStore(),
		logger:     nopLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	dispatcher.setListener(s)
	return s
}

// Config returns the policy in effect.
func (s *Scheduler) Config() Config { return s.config }

// Dispatcher returns the dispatcher jobs run through.
func (s *Scheduler) Dispatcher() *Dispatcher { return s.dispatcher }

func (s *Scheduler) session(userID string) *Session {
	return s.sessions.GetOrCreate(userID, func() *Session {
		return NewSession(userID, s.config, s.sink, s.now())
	})
}

// PostSignal folds one observation into the user's engagement state.
func (s *Scheduler) PostSignal(userID string, sig Signal) (EngagementState, error) {
	if userID == "" {
		return EngagementState{}, fmt.Errorf("%w: empty user id", ErrInvalidSignal)
	}
	if err := sig.Validate(); err != nil {
		return EngagementState{}, err
	}

	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.engagement = s.smoother.Ingest(sig, sess.engagement)
	sess.observedSinceTick = true
	return sess.engagement.clone(), nil
}

// SetRecentContext replaces the user's answerable context. A zero at means now.
func (s *Scheduler) SetRecentContext(userID, topic, text string, at time.Time) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidSignal)
	}
	if at.IsZero() {
		at = s.now()
	}
	s.session(userID).ledger.Set(topic, text, at)
	return nil
}

// Evaluate runs one serialized step for a user: every class in priority
// order, then dispatch of whatever fired. The user's lock covers the
// decisions and job creation only; backend calls happen in the background.
func (s *Scheduler) Evaluate(ctx context.Context, userID string, now time.Time) []Decision {
	return s.evaluateSession(ctx, s.session(userID), now, false)
}

// evaluateSession runs one step. A quiet step records an entry for a class
// only when it fires, clears an orphan, or its outcome differs from the last
// one recorded for that class.
func (s *Scheduler) evaluateSession(ctx context.Context, sess *Session, now time.Time, quiet bool) []Decision {
	userID := sess.userID
	decisions, entries, failed := s.decide(ctx, sess, now, quiet)

	for i, d := range decisions {
		if d.Fire {
			s.logger.Info("SCHEDULER", "Intervention fired", map[string]interface{}{
				"user_id": userID, "class": string(d.Class), "kind": string(d.Kind), "reason": d.Reason,
			})
		}
		if s.observer != nil {
			s.observer.OnDecision(userID, d, entries[i])
		}
	}
	if s.observer != nil {
		for _, job := range failed {
			s.observer.OnJobUpdate(job)
		}
	}
	return decisions
}

func (s *Scheduler) decide(ctx context.Context, sess *Session, now time.Time, quiet bool) ([]Decision, []DecisionLogEntry, []InterventionJob) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	classes := Classes()
	decisions := make([]Decision, 0, len(classes))
	entries := make([]DecisionLogEntry, 0, len(classes))
	for _, class := range classes {
		d, e := s.gate.Evaluate(sess.userID, class, &sess.engagement, sess.cooldown(class), sess.ledger, now)
		decisions = append(decisions, d)
		entries = append(entries, e)
	}

	var failed []InterventionJob
	for i := range decisions {
		if !decisions[i].Fire {
			continue
		}
		cd := sess.cooldown(decisions[i].Class)
		job := s.dispatcher.Dispatch(ctx, sess.userID, decisions[i])
		decisions[i].Job = &job
		cd.InFlightJobID = job.ID
		if job.Status == JobFailed {
			cd.InFlight = false
			cd.InFlightJobID = ""
			failed = append(failed, job)
		}
	}

	for i := range entries {
		d := decisions[i]
		changed := sess.outcomes[d.Class] != d.outcome
		sess.outcomes[d.Class] = d.outcome
		if quiet && !d.Fire && !changed && !entries[i].Evidence.OrphanCleared {
			continue
		}
		entries[i].AlternativesConsidered = append(entries[i].AlternativesConsidered, otherClasses(decisions, i)...)
		entries[i] = sess.record(entries[i])
	}
	for _, job := range failed {
		sess.record(failureEntry(job, now))
	}
	return decisions, entries, failed
}

// Tick is one evaluation-loop step for every known user. Users without a
// new observation since the previous tick get one idle decay first. Only
// users holding pending evidence reach the gate, since nothing else can
// fire. Users are evaluated in parallel; a panic for one user is logged and
// does not stop the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	var sessions []*Session
	s.sessions.Range(func(_ string, sess *Session) bool {
		sessions = append(sessions, sess)
		return true
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for _, sess := range sessions {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("SCHEDULER", "Evaluation panicked", map[string]interface{}{
						"user_id": sess.userID, "panic": fmt.Sprint(r),
					})
				}
			}()
			if s.idleDecay(sess, now) {
				s.evaluateSession(gctx, sess, now, true)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// idleDecay reports whether the session has pending evidence left to gate.
func (s *Scheduler) idleDecay(sess *Session, now time.Time) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.observedSinceTick {
		sess.engagement = s.smoother.Decay(sess.engagement, now)
	}
	sess.observedSinceTick = false
	return len(sess.engagement.Pending) > 0
}

// Poll re-checks a job owned by userID.
func (s *Scheduler) Poll(ctx context.Context, userID, jobID string) (InterventionJob, error) {
	job, err := s.dispatcher.Get(ctx, jobID)
	if err != nil {
		return InterventionJob{}, err
	}
	if job.UserID != userID {
		return InterventionJob{}, ErrForbidden
	}
	return s.dispatcher.Poll(ctx, jobID)
}

// CurrentState returns a display snapshot. Unknown users read as fresh.
func (s *Scheduler) CurrentState(userID string, now time.Time) StateView {
	view := StateView{UserID: userID}
	sess, ok := s.sessions.Get(userID)
	if !ok {
		for _, class := range Classes() {
			view.Classes = append(view.Classes, ClassView{Class: class})
		}
		return view
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	view.SmoothedLevel = clamp(sess.engagement.SmoothedLevel)
	_, status := sess.ledger.inspect(now)
	view.HasContext = status == contextLive
	for _, class := range Classes() {
		cv := ClassView{Class: class}
		if cd, ok := sess.cooldowns[class]; ok && cd != nil {
			remaining := s.gate.cooldownRemaining(cd, now)
			cv.CooldownActive = remaining > 0
			cv.CooldownRemainingSec = remaining.Seconds()
			cv.InFlight = cd.InFlight
			cv.InFlightJobID = cd.InFlightJobID
			if !cd.LastTriggerAt.IsZero() {
				t := cd.LastTriggerAt
				cv.LastTriggerAt = &t
			}
		}
		view.CooldownActive = view.CooldownActive || cv.CooldownActive
		view.InFlight = view.InFlight || cv.InFlight
		view.Classes = append(view.Classes, cv)
	}
	if sess.lastDecision != nil {
		last := *sess.lastDecision
		view.LastDecision = &last
	}
	return view
}

// RecentDecisions returns up to n log entries for a user, newest first.
func (s *Scheduler) RecentDecisions(userID string, n int) []DecisionLogEntry {
	sess, ok := s.sessions.Get(userID)
	if !ok {
		return []DecisionLogEntry{}
	}
	return sess.log.Recent(n)
}

// jobSettled clears the in-flight flag for the job's class if the job is
// still the one holding it.
func (s *Scheduler) jobSettled(job InterventionJob) {
	if sess, ok := s.sessions.Get(job.UserID); ok {
		sess.mu.Lock()
		if cd, ok := sess.cooldowns[job.Class]; ok && cd != nil && cd.InFlightJobID == job.ID {
			cd.InFlight = false
			cd.InFlightJobID = ""
		}
		if job.Status == JobFailed {
			sess.record(failureEntry(job, job.UpdatedAt))
		}
		sess.mu.Unlock()
	}
	if s.observer != nil {
		s.observer.OnJobUpdate(job)
	}
}

func (s *Scheduler) jobPolled(job InterventionJob, at time.Time) {
	sess, ok := s.sessions.Get(job.UserID)
	if !ok {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if cd, ok := sess.cooldowns[job.Class]; ok && cd != nil && cd.InFlightJobID == job.ID {
		cd.LastPolledAt = at
	}
}

func failureEntry(job InterventionJob, at time.Time) DecisionLogEntry {
	return DecisionLogEntry{
		Timestamp: at,
		UserID:    job.UserID,
		Class:     job.Class,
		Action:    ActionJobFailed,
		Kind:      job.Kind,
		Topic:     job.Topic,
		Reason:    "dispatch failed: " + job.Error,
	}
}

func otherClasses(decisions []Decision, self int) []string {
	var out []string
	for i, d := range decisions {
		if i == self {
			continue
		}
		outcome := d.Reason
		if d.Fire {
			outcome = "fired"
		}
		out = append(out, string(d.Class)+": "+outcome)
	}
	return out
}
