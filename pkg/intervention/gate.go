package intervention

import (
	"fmt"
	"time"
)

// Gate decides whether a class fires. It holds no state of its own; the
// caller owns the per-user state and must serialize calls for one user.
type Gate struct {
	config Config
}

// NewGate creates a gate with the given policy.
func NewGate(cfg Config) *Gate {
	return &Gate{config: cfg.normalized()}
}

// Config returns the normalized policy the gate runs with.
func (g *Gate) Config() Config {
	return g.config
}

// Evaluate runs the firing checks for one class. On Fire it mutates the
// cooldown (InFlight, LastTriggerAt) and clears the class's pending evidence
// in the same step; video and review also consume the context. Nil state or
// cooldown are treated as fresh.
func (g *Gate) Evaluate(userID string, class Class, state *EngagementState, cooldown *CooldownState, ledger *ContextLedger, now time.Time) (Decision, DecisionLogEntry) {
	if state == nil {
		state = &EngagementState{}
	}
	if cooldown == nil {
		cooldown = &CooldownState{}
	}

	entry := DecisionLogEntry{
		Timestamp: now,
		UserID:    userID,
		Class:     class,
		Action:    ActionNoAction,
		Evidence: Evidence{
			SmoothedLevel: state.SmoothedLevel,
			Threshold:     g.config.TriggerThreshold,
		},
	}
	noAction := func(o outcome, reason string) (Decision, DecisionLogEntry) {
		entry.Reason = reason
		entry.Evidence.InFlight = cooldown.InFlight
		return Decision{Class: class, Reason: reason, outcome: o}, entry
	}

	orphan := g.recoverOrphan(cooldown, now)
	entry.Evidence.OrphanCleared = orphan

	status := contextAbsent
	if ledger != nil {
		var c Context
		c, status = ledger.inspect(now)
		if status == contextLive {
			entry.Topic = c.Topic
			entry.Evidence.HasContext = true
			entry.Evidence.ContextAgeSec = c.Age(now).Seconds()
		}
	}
	entry.Evidence.CooldownRemaining = g.cooldownRemaining(cooldown, now).Seconds()

	pending, ok := state.Pending[class]
	if !ok {
		return noAction(outcomeNoEvidence, withOrphan("no pending evidence", orphan))
	}
	entry.Evidence.PendingKind = pending.Kind
	entry.Evidence.PendingLevel = pending.Level

	// Evidence only counts toward the episode it was observed in.
	if now.Sub(pending.ObservedAt) >= g.config.EvidenceWindow {
		delete(state.Pending, class)
		return noAction(outcomeEvidenceExpired, withOrphan(fmt.Sprintf("pending evidence expired, %ds old",
			int(now.Sub(pending.ObservedAt)/time.Second)), orphan))
	}

	kind, alternatives := g.selectKind(class, pending)
	entry.Kind = kind
	entry.AlternativesConsidered = alternatives

	if class != ClassReview && !(state.SmoothedLevel >= g.config.TriggerThreshold) {
		return noAction(outcomeBelowThreshold, withOrphan(fmt.Sprintf("level below threshold, %.2f < %.2f", clamp(state.SmoothedLevel), g.config.TriggerThreshold), orphan))
	}

	if remaining := g.cooldownRemaining(cooldown, now); remaining > 0 {
		elapsed := now.Sub(cooldown.LastTriggerAt)
		return noAction(outcomeCooldown, withOrphan(fmt.Sprintf("cooldown active, %ds < %ds",
			int(elapsed/time.Second), int(g.config.CooldownWindow/time.Second)), orphan))
	}

	if cooldown.InFlight {
		return noAction(outcomeInFlight, withOrphan("intervention already in flight", orphan))
	}

	var (
		ctx   Context
		found bool
	)
	if ledger != nil {
		if class == ClassReprompt {
			ctx, found = ledger.Live(now)
		} else {
			ctx, found = ledger.Consume(now)
		}
	}
	if !found {
		if status == contextStale {
			return noAction(outcomeStaleContext, withOrphan("stale context", orphan))
		}
		return noAction(outcomeNoContext, withOrphan("no context", orphan))
	}

	cooldown.InFlight = true
	cooldown.InFlightJobID = ""
	cooldown.LastTriggerAt = now
	cooldown.LastPolledAt = now
	delete(state.Pending, class)

	reason := withOrphan(fireReason(pending.Kind), orphan)
	entry.Action = ActionFire
	entry.Reason = reason
	entry.Evidence.InFlight = true
	entry.Evidence.CooldownRemaining = g.config.CooldownWindow.Seconds()

	used := ctx
	return Decision{
		Fire:        true,
		Class:       class,
		Kind:        kind,
		Trigger:     pending.Kind,
		Level:       pending.Level,
		ContextUsed: &used,
		Reason:      reason,
		outcome:     outcomeFire,
	}, entry
}

// recoverOrphan force-clears an in-flight flag whose job has not been polled
// within the orphan ceiling. It reports whether it cleared anything.
func (g *Gate) recoverOrphan(cooldown *CooldownState, now time.Time) bool {
	if !cooldown.InFlight {
		return false
	}
	last := cooldown.LastPolledAt
	if last.IsZero() {
		last = cooldown.LastTriggerAt
	}
	if !last.IsZero() && now.Sub(last) < g.config.OrphanCeiling {
		return false
	}
	cooldown.InFlight = false
	cooldown.InFlightJobID = ""
	return true
}

func (g *Gate) cooldownRemaining(cooldown *CooldownState, now time.Time) time.Duration {
	if cooldown.LastTriggerAt.IsZero() {
		return 0
	}
	remaining := g.config.CooldownWindow - now.Sub(cooldown.LastTriggerAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// selectKind maps a class and its triggering evidence to a concrete kind.
func (g *Gate) selectKind(class Class, pending PendingEvidence) (Kind, []string) {
	switch class {
	case ClassReprompt:
		return KindReprompt, []string{string(KindVideo) + ": separate class"}
	case ClassVideo:
		return KindVideo, []string{string(KindReprompt) + ": separate class"}
	default:
		if pending.Level >= g.config.PracticeLevel {
			return KindPractice, []string{fmt.Sprintf("%s: level %.2f >= %.2f", KindFlashcards, pending.Level, g.config.PracticeLevel)}
		}
		return KindFlashcards, []string{fmt.Sprintf("%s: level %.2f < %.2f", KindPractice, pending.Level, g.config.PracticeLevel)}
	}
}

func fireReason(trigger SignalKind) string {
	switch trigger {
	case SignalDistraction:
		return "sustained distraction, live context"
	case SignalFatigue:
		return "sustained fatigue, live context"
	case SignalConfusion:
		return "confusion detected, live context"
	case SignalExplicitRequest:
		return "explicit request, live context"
	case SignalFocusTimeout:
		return "focus session ended, live context"
	}
	return "live context"
}

func withOrphan(reason string, orphan bool) string {
	if !orphan {
		return reason
	}
	return reason + " (orphaned job cleared)"
}
