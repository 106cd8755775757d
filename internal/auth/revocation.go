package auth

import (
	"sync"
	"time"
)

// Revocations is the set of token identifiers invalidated before their
// natural expiry. It is owned by the Tokens instance that consults it; tests
// construct a fresh set per case. Revocations are process state only: a
// restart forgets them, which is acceptable because unexpired tokens were
// signed by the same secret either way and expiry is the natural cleanup
// signal.
type Revocations struct {
	mu   sync.RWMutex
	jtis map[string]time.Time
}

// NewRevocations returns an empty revocation set.
func NewRevocations() *Revocations {
	return &Revocations{jtis: make(map[string]time.Time)}
}

// Add marks a token id as revoked until its expiry. Adding the same id twice
// is a no-op. Entries past expiry are swept opportunistically so the set
// stays bounded by the number of live tokens.
func (r *Revocations) Add(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, exp := range r.jtis {
		if now.After(exp) {
			delete(r.jtis, id)
		}
	}
	r.jtis[jti] = expiresAt
}

// Contains reports whether a token id has been revoked.
func (r *Revocations) Contains(jti string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.jtis[jti]
	return ok
}

// Len returns the number of tracked revocations.
func (r *Revocations) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jtis)
}
