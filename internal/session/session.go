package session

import (
	"context"
	"errors"
	"time"
)

// Session binds an opaque identifier to one tenant's sealed Canvas
// credential and activity metadata. The credential exists only as the
// Sealed blob; decrypting it requires this session's own Secret and
// Salt, so no cross-session decryption is possible.
type Session struct {
	ID          string    // opaque random identifier, base64url
	Endpoint    string    // downstream API base URL
	Label       string    // caller-supplied institution label, optional
	Fingerprint string    // non-reversible credential+endpoint hash
	Sealed      []byte    // encrypted credential blob
	Secret      []byte    // session-local key material (KDF input)
	Salt        []byte    // KDF salt
	CreatedAt   time.Time
	LastActive  time.Time
}

// ErrNotFound is returned when a session identifier is absent or its
// idle timeout has elapsed.
var ErrNotFound = errors.New("session: not found")

// Store defines how sessions are created, retrieved, and destroyed.
// Implementations own their records exclusively; Lookup returns a
// copy whose sensitive slices are safe to use for the duration of a
// single downstream call.
type Store interface {
	// Create seals the credential under fresh key material and inserts
	// a new record. When the identity already holds the configured
	// maximum of live sessions, the least recently active one is
	// destroyed first.
	Create(ctx context.Context, credential, endpoint, label, fingerprint string) (string, error)

	// Lookup returns the session and refreshes its last-activity
	// timestamp. An absent identifier or an elapsed idle timeout
	// yields ErrNotFound; in the timeout case the record is destroyed
	// as a side effect.
	Lookup(ctx context.Context, sessionID string) (*Session, error)

	// Destroy removes the record, zeroing its sealed blob and key
	// material first. Destroying an absent identifier is a no-op; the
	// boolean reports whether a session actually existed.
	Destroy(ctx context.Context, sessionID string) (bool, error)

	// Sweep destroys every record whose idle timeout has elapsed and
	// returns how many were reclaimed. Intended to run on a fixed
	// interval so sessions nobody queries still get destroyed.
	Sweep(ctx context.Context) int
}
