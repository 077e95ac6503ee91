package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"canvas-gateway/internal/seal"
)

// MemoryStore is a mutex-guarded in-memory session table. Sessions do
// not survive a restart, which is the intended default: the core makes
// no persistence guarantee.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	cap         int
	now         func() time.Time

	// OnDestroy, when set, is called with the identifier of every
	// destroyed session so per-session state elsewhere (rate-limit
	// windows) can be released with it.
	OnDestroy func(sessionID string)
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(idleTimeout time.Duration, sessionCap int) *MemoryStore {
	if idleTimeout <= 0 {
		idleTimeout = time.Hour
	}
	if sessionCap <= 0 {
		sessionCap = 5
	}
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		cap:         sessionCap,
		now:         time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, credential, endpoint, label, fingerprint string) (string, error) {
	id, err := GenerateID()
	if err != nil {
		return "", err
	}

	secret, salt, err := seal.NewSecret()
	if err != nil {
		return "", err
	}
	key := seal.DeriveKey(secret, salt)
	sealed, err := seal.Encrypt(key, []byte(credential))
	seal.Zero(key)
	if err != nil {
		seal.Zero(secret)
		return "", fmt.Errorf("session: failed to seal credential: %w", err)
	}

	now := s.now()
	rec := &Session{
		ID:          id,
		Endpoint:    endpoint,
		Label:       label,
		Fingerprint: fingerprint,
		Sealed:      sealed,
		Secret:      secret,
		Salt:        salt,
		CreatedAt:   now,
		LastActive:  now,
	}

	s.mu.Lock()
	// Cap concurrent sessions per identity: evict the least recently
	// active session for this fingerprint before inserting.
	for s.countByFingerprintLocked(fingerprint) >= s.cap {
		oldest := s.oldestByFingerprintLocked(fingerprint)
		if oldest == "" {
			break
		}
		s.destroyLocked(oldest)
	}
	s.sessions[id] = rec
	s.mu.Unlock()

	return id, nil
}

func (s *MemoryStore) Lookup(ctx context.Context, sessionID string) (*Session, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if now.Sub(rec.LastActive) >= s.idleTimeout {
		s.destroyLocked(sessionID)
		return nil, ErrNotFound
	}
	rec.LastActive = now
	return copySession(rec), nil
}

func (s *MemoryStore) Destroy(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyLocked(sessionID), nil
}

// Sweep snapshots the expired identifiers first, then destroys them
// one by one, so the table lock is never held longer than a single
// record's destruction.
func (s *MemoryStore) Sweep(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	expired := make([]string, 0)
	for id, rec := range s.sessions {
		if now.Sub(rec.LastActive) >= s.idleTimeout {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	reclaimed := 0
	for _, id := range expired {
		s.mu.Lock()
		if s.destroyLocked(id) {
			reclaimed++
		}
		s.mu.Unlock()
	}
	return reclaimed
}

// destroyLocked zeroes sensitive fields before releasing the record.
// Callers must hold s.mu.
func (s *MemoryStore) destroyLocked(sessionID string) bool {
	rec, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	seal.Zero(rec.Sealed)
	seal.Zero(rec.Secret)
	seal.Zero(rec.Salt)
	delete(s.sessions, sessionID)
	if s.OnDestroy != nil {
		s.OnDestroy(sessionID)
	}
	return true
}

func (s *MemoryStore) countByFingerprintLocked(fingerprint string) int {
	n := 0
	for _, rec := range s.sessions {
		if rec.Fingerprint == fingerprint {
			n++
		}
	}
	return n
}

func (s *MemoryStore) oldestByFingerprintLocked(fingerprint string) string {
	oldest := ""
	var oldestAt time.Time
	for id, rec := range s.sessions {
		if rec.Fingerprint != fingerprint {
			continue
		}
		if oldest == "" || rec.LastActive.Before(oldestAt) {
			oldest = id
			oldestAt = rec.LastActive
		}
	}
	return oldest
}

// SetNow overrides the clock. Tests only.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// copySession returns a deep copy so the store can zero its own
// buffers without racing a caller that is mid-downstream-call.
func copySession(rec *Session) *Session {
	out := *rec
	out.Sealed = append([]byte(nil), rec.Sealed...)
	out.Secret = append([]byte(nil), rec.Secret...)
	out.Salt = append([]byte(nil), rec.Salt...)
	return &out
}
