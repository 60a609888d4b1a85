package auth

import (
	"sync"
	"time"
)

const pendingTTL = 10 * time.Minute

type pendingEntry struct {
	codeHash string
	issuedAt time.Time
}

// PendingAuth holds server-issued code-verification handles keyed by
// phone number. Entries older than ten minutes are purged passively on
// every lookup and insert; there is no background timer.
type PendingAuth struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
	now     func() time.Time
}

// NewPendingAuth creates an empty pending-auth map.
func NewPendingAuth() *PendingAuth {
	return &PendingAuth{
		entries: make(map[string]pendingEntry),
		now:     time.Now,
	}
}

// Put records the handle for phone, replacing any previous one.
func (p *PendingAuth) Put(phone, codeHash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweep()
	p.entries[phone] = pendingEntry{codeHash: codeHash, issuedAt: p.now()}
}

// Get returns the handle for phone if present and not expired.
func (p *PendingAuth) Get(phone string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweep()
	e, ok := p.entries[phone]
	return e.codeHash, ok
}

// Delete removes the entry for phone. Called on successful sign-in.
func (p *PendingAuth) Delete(phone string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, phone)
}

// Len reports the number of live entries.
func (p *PendingAuth) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweep()
	return len(p.entries)
}

// sweep drops expired entries. Caller must hold the lock.
func (p *PendingAuth) sweep() {
	cutoff := p.now().Add(-pendingTTL)
	for phone, e := range p.entries {
		if e.issuedAt.Before(cutoff) {
			delete(p.entries, phone)
		}
	}
}
