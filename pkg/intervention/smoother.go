package intervention

import "time"

// Smoother turns raw observations into a smoothed distraction level.
// A positive observation pulls the level up quickly; a clear tick only
// decays it, so brief returns of attention do not flicker the gate.
type Smoother struct {
	rise  float64
	decay float64
	floor float64
}

// NewSmoother creates a smoother from the policy config.
func NewSmoother(cfg Config) *Smoother {
	cfg = cfg.normalized()
	return &Smoother{rise: cfg.RiseWeight, decay: cfg.DecayFactor, floor: cfg.EvidenceFloor}
}

// Ingest folds one signal into the state and returns the new state.
func (s *Smoother) Ingest(sig Signal, state EngagementState) EngagementState {
	next := state.clone()
	next.SmoothedLevel = clamp(next.SmoothedLevel)

	switch {
	case sig.Kind == SignalFocusTimeout:
		// Timer completion is not attention evidence; it only arms the review class.
		next.Pending[ClassReview] = PendingEvidence{Kind: sig.Kind, Level: sig.Level, ObservedAt: sig.ObservedAt}
	case sig.Level >= s.floor:
		next.SmoothedLevel = clamp(s.rise*sig.Level + (1-s.rise)*next.SmoothedLevel)
		if class, ok := ClassFor(sig.Kind); ok {
			next.Pending[class] = PendingEvidence{Kind: sig.Kind, Level: sig.Level, ObservedAt: sig.ObservedAt}
		}
	default:
		next.SmoothedLevel = clamp(next.SmoothedLevel * s.decay)
	}

	if sig.ObservedAt.After(next.LastObservationAt) {
		next.LastObservationAt = sig.ObservedAt
	}
	return next
}

// Decay applies one idle tick: the level eases toward zero without
// touching pending evidence or the observation timestamp.
func (s *Smoother) Decay(state EngagementState, _ time.Time) EngagementState {
	next := state.clone()
	next.SmoothedLevel = clamp(next.SmoothedLevel * s.decay)
	return next
}

// clamp restricts v to [0, 1].
func clamp(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
