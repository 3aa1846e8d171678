package services

import (
	"context"
	"sync"
	"time"

	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/cespare/xxhash/v2"
)

const sessionShardCount = 32

type sessionEntry struct {
	mu      sync.Mutex
	session *models.Session
	dead    bool
}

type sessionShard struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// MemorySessionStore is a sharded in-memory SessionStore. Every session has
// its own lock so concurrent requests for different sessions never wait on
// each other.
type MemorySessionStore struct {
	shards [sessionShardCount]*sessionShard
	now    func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	s := &MemorySessionStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &sessionShard{entries: make(map[string]*sessionEntry)}
	}
	return s
}

func (s *MemorySessionStore) shard(sessionID string) *sessionShard {
	return s.shards[xxhash.Sum64String(sessionID)%sessionShardCount]
}

// acquire returns the entry for sessionID with its lock held, or nil when it
// does not exist and create is false.
func (s *MemorySessionStore) acquire(sessionID string, create bool) *sessionEntry {
	sh := s.shard(sessionID)
	for {
		sh.mu.Lock()
		e, ok := sh.entries[sessionID]
		if !ok {
			if !create {
				sh.mu.Unlock()
				return nil
			}
			e = &sessionEntry{session: models.NewSession(sessionID, s.now())}
			sh.entries[sessionID] = e
		}
		sh.mu.Unlock()

		e.mu.Lock()
		if !e.dead {
			return e
		}
		// swept or deleted while we waited; look it up again
		e.mu.Unlock()
	}
}

func (s *MemorySessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	e := s.acquire(sessionID, false)
	if e == nil {
		return nil, ErrSessionNotFound
	}
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

func (s *MemorySessionStore) Put(ctx context.Context, session *models.Session) error {
	e := s.acquire(session.SessionID, true)
	defer e.mu.Unlock()
	e.session = session.Clone()
	return nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, sessionID string) error {
	sh := s.shard(sessionID)
	sh.mu.Lock()
	e, ok := sh.entries[sessionID]
	delete(sh.entries, sessionID)
	sh.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	e.dead = true
	e.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Update(ctx context.Context, sessionID string, fn func(session *models.Session) error) (*models.Session, error) {
	e := s.acquire(sessionID, true)
	defer e.mu.Unlock()

	updated := e.session.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	e.session = updated
	return updated.Clone(), nil
}

// Sweep deletes sessions whose lockout has elapsed. Entries locked by an
// in-flight Update are skipped and picked up by the next sweep.
func (s *MemorySessionStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh.mu.Lock()
		for id, e := range sh.entries {
			if !e.mu.TryLock() {
				continue
			}
			if e.session.LockoutElapsed(now) {
				e.dead = true
				delete(sh.entries, id)
				removed++
			}
			e.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored sessions.
func (s *MemorySessionStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
