package conversation

import (
	"context"
	"sync"
	"time"

	"postbot/pkg/logx"
)

// SessionStore keeps in-flight drafts. A missing entry means Idle.
type SessionStore interface {
	Get(userID int64) (Session, bool)
	Put(userID int64, s Session)
	Delete(userID int64)
	Len() int
	// Prune drops sessions last touched before cutoff and returns how many.
	Prune(cutoff time.Time) int
}

// MemoryStore is a SessionStore backed by a map. Drafts do not survive a
// restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[int64]Session{}}
}

func (s *MemoryStore) Get(userID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sessions[userID]
	return v, ok
}

func (s *MemoryStore) Put(userID int64, v Session) {
	s.mu.Lock()
	s.sessions[userID] = v
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(userID int64) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemoryStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, v := range s.sessions {
		if v.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// PruneLoop sweeps st every interval until ctx is done.
func PruneLoop(ctx context.Context, st SessionStore, every, ttl time.Duration, log logx.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := st.Prune(now.Add(-ttl)); n > 0 {
				log.Debug("stale sessions pruned", logx.Int("count", n), logx.Int("left", st.Len()))
			}
		}
	}
}
