package intervention

import (
	"errors"
	"fmt"
	"time"
)

// SignalKind identifies which observer produced a signal.
type SignalKind string

const (
	SignalDistraction     SignalKind = "distraction"
	SignalFatigue         SignalKind = "fatigue"
	SignalConfusion       SignalKind = "confusion"
	SignalExplicitRequest SignalKind = "explicit_request"
	SignalFocusTimeout    SignalKind = "focus_timeout"
)

// Class groups intervention kinds that share one cooldown.
type Class string

const (
	ClassReprompt Class = "reprompt"
	ClassVideo    Class = "video"
	ClassReview   Class = "review"
)

// classOrder is the evaluation priority within a single step.
var classOrder = []Class{ClassReprompt, ClassVideo, ClassReview}

// Classes returns the intervention classes in evaluation order.
func Classes() []Class {
	out := make([]Class, len(classOrder))
	copy(out, classOrder)
	return out
}

// Kind is the concrete remediation a job produces.
type Kind string

const (
	KindVideo      Kind = "video"
	KindReprompt   Kind = "reprompt"
	KindFlashcards Kind = "flashcards"
	KindPractice   Kind = "practice"
)

// JobStatus is the lifecycle state of an InterventionJob.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobReady   JobStatus = "ready"
	JobFailed  JobStatus = "failed"
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == JobReady || s == JobFailed
}

var (
	ErrInvalidSignal = errors.New("invalid signal")
	ErrJobNotFound   = errors.New("intervention job not found")
	ErrForbidden     = errors.New("job belongs to another user")
)

// Signal is one timestamped observation about a user's attention.
type Signal struct {
	Kind       SignalKind `json:"kind"`
	Level      float64    `json:"level"`
	ObservedAt time.Time  `json:"observed_at"`
}

// Validate rejects unknown kinds, out-of-range levels and missing timestamps.
func (s Signal) Validate() error {
	if _, ok := signalClass[s.Kind]; !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, s.Kind)
	}
	if s.Level < 0 || s.Level > 1 {
		return fmt.Errorf("%w: level %.3f outside [0,1]", ErrInvalidSignal, s.Level)
	}
	if s.ObservedAt.IsZero() {
		return fmt.Errorf("%w: missing observed_at", ErrInvalidSignal)
	}
	return nil
}

// signalClass maps each signal kind to the class it can trigger.
var signalClass = map[SignalKind]Class{
	SignalConfusion:       ClassReprompt,
	SignalExplicitRequest: ClassReprompt,
	SignalDistraction:     ClassVideo,
	SignalFatigue:         ClassVideo,
	SignalFocusTimeout:    ClassReview,
}

// ClassFor returns the class a signal kind feeds.
func ClassFor(kind SignalKind) (Class, bool) {
	c, ok := signalClass[kind]
	return c, ok
}

// Context is the last answer shown to the user that an intervention may reference.
type Context struct {
	Topic         string    `json:"topic"`
	ReferenceText string    `json:"reference_text"`
	CreatedAt     time.Time `json:"created_at"`
}

// Age returns how old the context is at now.
func (c Context) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}

// PendingEvidence is the most recent positive observation for a class that
// has not yet produced a fire.
type PendingEvidence struct {
	Kind       SignalKind `json:"kind"`
	Level      float64    `json:"level"`
	ObservedAt time.Time  `json:"observed_at"`
}

// EngagementState is the smoothed view of a user's attention.
type EngagementState struct {
	SmoothedLevel     float64                   `json:"smoothed_level"`
	LastObservationAt time.Time                 `json:"last_observation_at"`
	Pending           map[Class]PendingEvidence `json:"pending,omitempty"`
}

func (s EngagementState) clone() EngagementState {
	out := s
	out.Pending = make(map[Class]PendingEvidence, len(s.Pending))
	for k, v := range s.Pending {
		out.Pending[k] = v
	}
	return out
}

// CooldownState tracks spacing and exclusivity for one (user, class) pair.
// A zero LastTriggerAt means the class never fired.
type CooldownState struct {
	LastTriggerAt time.Time `json:"last_trigger_at"`
	InFlight      bool      `json:"in_flight"`
	InFlightJobID string    `json:"in_flight_job_id,omitempty"`
	LastPolledAt  time.Time `json:"last_polled_at"`
}

// InterventionJob is the record of one dispatched remediation.
type InterventionJob struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Class      Class     `json:"class"`
	Kind       Kind      `json:"kind"`
	Status     JobStatus `json:"status"`
	Topic      string    `json:"topic"`
	ExternalID string    `json:"external_id,omitempty"`
	ResultRef  string    `json:"result_ref,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Decision is the gate's verdict for one class. Fire == false is NoAction.
type Decision struct {
	Fire        bool             `json:"fire"`
	Class       Class            `json:"class"`
	Kind        Kind             `json:"kind,omitempty"`
	Trigger     SignalKind       `json:"trigger,omitempty"`
	Level       float64          `json:"level,omitempty"`
	ContextUsed *Context         `json:"context_used,omitempty"`
	Reason      string           `json:"reason"`
	Job         *InterventionJob `json:"job,omitempty"`

	outcome outcome
}

// outcome is the reason category of a decision, without the numbers that
// make two reasons of the same kind differ.
type outcome string

const (
	outcomeFire            outcome = "fire"
	outcomeNoEvidence      outcome = "no_evidence"
	outcomeEvidenceExpired outcome = "evidence_expired"
	outcomeBelowThreshold  outcome = "below_threshold"
	outcomeCooldown        outcome = "cooldown"
	outcomeInFlight        outcome = "in_flight"
	outcomeNoContext       outcome = "no_context"
	outcomeStaleContext    outcome = "stale_context"
)

// Action names used in decision log entries.
const (
	ActionFire      = "fire"
	ActionNoAction  = "no_action"
	ActionJobFailed = "job_failed"
)

// Evidence is the snapshot of inputs a decision was made from.
type Evidence struct {
	SmoothedLevel     float64    `json:"smoothed_level"`
	Threshold         float64    `json:"threshold"`
	PendingKind       SignalKind `json:"pending_kind,omitempty"`
	PendingLevel      float64    `json:"pending_level"`
	InFlight          bool       `json:"in_flight"`
	OrphanCleared     bool       `json:"orphan_cleared"`
	CooldownRemaining float64    `json:"cooldown_remaining_sec"`
	HasContext        bool       `json:"has_context"`
	ContextAgeSec     float64    `json:"context_age_sec"`
}

// DecisionLogEntry explains one gate evaluation.
type DecisionLogEntry struct {
	Seq                    int64     `json:"seq"`
	Timestamp              time.Time `json:"timestamp"`
	UserID                 string    `json:"user_id"`
	Class                  Class     `json:"class"`
	Action                 string    `json:"action"`
	Kind                   Kind      `json:"kind,omitempty"`
	Topic                  string    `json:"topic,omitempty"`
	Reason                 string    `json:"reason"`
	Evidence               Evidence  `json:"evidence"`
	AlternativesConsidered []string  `json:"alternatives_considered"`
}
