package intervention

import "time"

// Config holds the scheduling policy. All numeric knobs are tunable; only the
// fast-rise / slow-decay shape of the smoother is fixed.
type Config struct {
	RiseWeight       float64       // weight of a new positive observation
	DecayFactor      float64       // multiplicative decay per clear tick
	EvidenceFloor    float64       // level at or above which a signal is positive evidence
	TriggerThreshold float64       // smoothed level needed for reprompt/video
	CooldownWindow   time.Duration // min spacing between fires of one class
	StalenessWindow  time.Duration // context older than this is absent
	EvidenceWindow   time.Duration // pending evidence older than this is dropped
	OrphanCeiling    time.Duration // unpolled in-flight job is force-cleared after this
	MaxJobAge        time.Duration // a job still pending after this is failed on poll
	MaxReferenceLen  int           // context text truncation, in runes
	RecentWindow     int           // decisions kept in memory per user
	PracticeLevel    float64       // focus_timeout level selecting practice over flashcards
	AcceptTimeout    time.Duration // bound on a backend Start call
	Parallelism      int           // users evaluated concurrently per tick
}

// DefaultConfig returns the canonical policy: 30s cooldown, 120s staleness.
func DefaultConfig() Config {
	return Config{
		RiseWeight:       0.7,
		DecayFactor:      0.85,
		EvidenceFloor:    0.5,
		TriggerThreshold: 0.5,
		CooldownWindow:   30 * time.Second,
		StalenessWindow:  120 * time.Second,
		EvidenceWindow:   120 * time.Second,
		OrphanCeiling:    2 * time.Minute,
		MaxJobAge:        10 * time.Minute,
		MaxReferenceLen:  500,
		RecentWindow:     50,
		PracticeLevel:    0.5,
		AcceptTimeout:    60 * time.Second,
		Parallelism:      8,
	}
}

// normalized fills zero or out-of-range fields from DefaultConfig so a
// partially populated Config never produces a degenerate policy.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.RiseWeight <= 0 || c.RiseWeight > 1 {
		c.RiseWeight = d.RiseWeight
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		c.DecayFactor = d.DecayFactor
	}
	if c.EvidenceFloor <= 0 || c.EvidenceFloor > 1 {
		c.EvidenceFloor = d.EvidenceFloor
	}
	if c.TriggerThreshold <= 0 || c.TriggerThreshold > 1 {
		c.TriggerThreshold = d.TriggerThreshold
	}
	if c.CooldownWindow <= 0 {
		c.CooldownWindow = d.CooldownWindow
	}
	if c.StalenessWindow <= 0 {
		c.StalenessWindow = d.StalenessWindow
	}
	if c.EvidenceWindow <= 0 {
		c.EvidenceWindow = d.EvidenceWindow
	}
	if c.OrphanCeiling <= 0 {
		c.OrphanCeiling = d.OrphanCeiling
	}
	if c.MaxJobAge < c.OrphanCeiling {
		c.MaxJobAge = d.MaxJobAge
		if c.MaxJobAge < c.OrphanCeiling {
			c.MaxJobAge = c.OrphanCeiling
		}
	}
	if c.MaxReferenceLen <= 0 {
		c.MaxReferenceLen = d.MaxReferenceLen
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = d.RecentWindow
	}
	if c.PracticeLevel <= 0 || c.PracticeLevel > 1 {
		c.PracticeLevel = d.PracticeLevel
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = d.AcceptTimeout
	}
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	return c
}
