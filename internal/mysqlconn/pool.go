package mysqlconn

import (
	"database/sql"
	"fmt"
	"sync"
)

// CredentialPolicy controls how the pool resolves a password when the
// caller's ConnectionConfig doesn't carry one.
type CredentialPolicy struct {
	// Interactive, when true, prompts on the terminal (PromptPassword) the
	// first time a fingerprint needs a password. When false, a missing
	// password is an error.
	Interactive bool
}

type poolEntry struct {
	db       *sql.DB
	refCount int
}

// Pool caches authenticated sessions by fingerprint (§4.5) and hands out
// stack-scoped activations so nested guards share the same underlying
// entry instead of re-dialing.
type Pool struct {
	mu        sync.Mutex
	policy    CredentialPolicy
	entries   map[string]*poolEntry
	passwords map[string]string
	dial      func(ConnectionConfig) (*sql.DB, error)
}

// NewPool returns an empty instance pool governed by the given credential
// policy.
func NewPool(policy CredentialPolicy) *Pool {
	return &Pool{
		policy:    policy,
		entries:   make(map[string]*poolEntry),
		passwords: make(map[string]string),
		dial:      Connect,
	}
}

// Guard is the RAII-style handle returned by Activate. Release must be
// called exactly once, typically via defer, when the caller's frame is
// done with the session.
type Guard struct {
	pool        *Pool
	fingerprint string
	DB          *sql.DB
}

// Release drops this guard's reference on the pool entry, closing the
// underlying session once no guard references it. Nested guards for the
// same fingerprint each hold their own reference, so the session survives
// until the outermost guard releases.
func (g *Guard) Release() {
	g.pool.release(g.fingerprint)
}

// Activate resolves (dialing if necessary) the session for cfg's
// fingerprint and returns a guard over it. Calling Activate again for the
// same fingerprint before the first guard is released nests: it returns
// the same *sql.DB and increments the entry's reference count rather than
// opening a second connection.
func (p *Pool) Activate(cfg ConnectionConfig) (*Guard, error) {
	fp := cfg.Fingerprint()

	p.mu.Lock()
	if entry, ok := p.entries[fp]; ok {
		entry.refCount++
		p.mu.Unlock()
		return &Guard{pool: p, fingerprint: fp, DB: entry.db}, nil
	}
	p.mu.Unlock()

	resolved := cfg
	if resolved.Password == "" {
		if cached, ok := p.lookupPassword(fp); ok {
			resolved.Password = cached
		} else if p.policy.Interactive {
			resolved.Password = PromptPassword()
		} else {
			return nil, fmt.Errorf("no password available for %s and interactive prompting is disabled", fp)
		}
	}

	db, err := p.dial(resolved)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another goroutine may have raced us to the same fingerprint; prefer
	// the entry already registered and discard our extra connection.
	if entry, ok := p.entries[fp]; ok {
		entry.refCount++
		db.Close()
		return &Guard{pool: p, fingerprint: fp, DB: entry.db}, nil
	}
	p.entries[fp] = &poolEntry{db: db, refCount: 1}
	p.passwords[fp] = resolved.Password
	return &Guard{pool: p, fingerprint: fp, DB: db}, nil
}

func (p *Pool) lookupPassword(fp string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pw, ok := p.passwords[fp]
	return pw, ok
}

func (p *Pool) release(fp string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[fp]
	if !ok {
		return
	}
	entry.refCount--
	if entry.refCount > 0 {
		return
	}
	entry.db.Close()
	delete(p.entries, fp)
	delete(p.passwords, fp)
}

// Close releases every cached session regardless of outstanding guards.
// Intended for process shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for fp, entry := range p.entries {
		entry.db.Close()
		delete(p.entries, fp)
		delete(p.passwords, fp)
	}
}
