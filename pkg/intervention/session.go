package intervention

import (
	"sync"
	"time"
)

// Session is all scheduling state for one user. Its mutex serializes
// ingest, evaluation and job callbacks for that user.
type Session struct {
	mu                sync.Mutex
	userID            string
	engagement        EngagementState
	cooldowns         map[Class]*CooldownState
	ledger            *ContextLedger
	log               *DecisionLog
	lastDecision      *DecisionLogEntry
	observedSinceTick bool
	// last outcome per class, so background ticks log only changes
	outcomes          map[Class]outcome
	createdAt         time.Time
}

// NewSession creates fresh state for a user.
func NewSession(userID string, cfg Config, sink DecisionSink, now time.Time) *Session {
	cfg = cfg.normalized()
	return &Session{
		userID:     userID,
		engagement: EngagementState{Pending: make(map[Class]PendingEvidence)},
		cooldowns:  make(map[Class]*CooldownState),
		outcomes:   make(map[Class]outcome),
		ledger:     NewContextLedger(cfg),
		log:        NewDecisionLog(cfg.RecentWindow, sink),
		createdAt:  now,
	}
}

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// Ledger returns the session's context ledger.
func (s *Session) Ledger() *ContextLedger { return s.ledger }

func (s *Session) cooldown(class Class) *CooldownState {
	cd, ok := s.cooldowns[class]
	if !ok || cd == nil {
		cd = &CooldownState{}
		s.cooldowns[class] = cd
	}
	return cd
}

func (s *Session) record(entry DecisionLogEntry) DecisionLogEntry {
	entry = s.log.Record(entry)
	s.lastDecision = &entry
	return entry
}

// SessionStore holds sessions keyed by user id.
type SessionStore interface {
	// GetOrCreate returns the existing session or stores the one built by create.
	GetOrCreate(userID string, create func() *Session) *Session
	Get(userID string) (*Session, bool)
	// Range calls fn for each session until fn returns false.
	Range(fn func(userID string, s *Session) bool)
}

// MemorySessionStore keeps sessions for the life of the process.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (m *MemorySessionStore) GetOrCreate(userID string, create func() *Session) *Session {
	m.mu.RLock()
	s, ok := m.sessions[userID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s
	}
	s = create()
	m.sessions[userID] = s
	return s
}

func (m *MemorySessionStore) Get(userID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	return s, ok
}

func (m *MemorySessionStore) Range(fn func(userID string, s *Session) bool) {
	m.mu.RLock()
	snapshot := make(map[string]*Session, len(m.sessions))
	for k, v := range m.sessions {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}
