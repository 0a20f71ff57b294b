package memory

import (
	"sync"
	"time"

	"focusroom-be/pkg/intervention"

	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps scheduler sessions in go-cache so users that go
// quiet are dropped after the TTL. GetOrCreate is the activity path and
// slides the expiry; Get and Range do not.
type SessionRepository struct {
	cache *cache.Cache
	ttl   time.Duration
	mu    sync.Mutex
}

func NewSessionRepository(ttl time.Duration) *SessionRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := cache.New(ttl, 10*time.Minute)
	return &SessionRepository{
		cache: c,
		ttl:   ttl,
	}
}

func (r *SessionRepository) GetOrCreate(userID string, create func() *intervention.Session) *intervention.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s *intervention.Session
	if x, found := r.cache.Get(userID); found {
		s = x.(*intervention.Session)
	} else {
		s = create()
	}
	r.cache.Set(userID, s, r.ttl)
	return s
}

func (r *SessionRepository) Get(userID string) (*intervention.Session, bool) {
	x, found := r.cache.Get(userID)
	if !found {
		return nil, false
	}
	return x.(*intervention.Session), true
}

func (r *SessionRepository) Range(fn func(userID string, s *intervention.Session) bool) {
	for userID, item := range r.cache.Items() {
		if !fn(userID, item.Object.(*intervention.Session)) {
			return
		}
	}
}

func (r *SessionRepository) Delete(userID string) {
	r.cache.Delete(userID)
}

func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}
