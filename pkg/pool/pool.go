// Package pool implements the client-side idle connection pool: at most one
// idle connection cached per ConnectionKey (spec.md §4.4, a testable
// property), each pinned by its own idle deadline.
package pool

import (
	"sync"
	"time"

	"github.com/corehttp/corehttp/pkg/conn"
	"github.com/corehttp/corehttp/pkg/constants"
)

type entry struct {
	c       *conn.Connection
	expires time.Time
}

// Pool caches at most one idle *conn.Connection per conn.Key.
type Pool struct {
	mu      sync.Mutex
	entries map[conn.Key]entry
	idleTTL time.Duration

	hits   int64
	misses int64
}

// New returns an empty Pool. idleTTL bounds how long an idle connection is
// kept before it is considered stale (0 uses constants.MaxConnectionIdleTime).
func New(idleTTL time.Duration) *Pool {
	if idleTTL <= 0 {
		idleTTL = constants.MaxConnectionIdleTime
	}
	return &Pool{entries: make(map[conn.Key]entry), idleTTL: idleTTL}
}

// Get removes and returns the cached idle connection for key, if any and if
// it has not expired. A second call for the same key before a Put always
// misses: there is never more than one idle connection per key.
func (p *Pool) Get(key conn.Key) (*conn.Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		p.misses++
		return nil, false
	}
	delete(p.entries, key)
	if time.Now().After(e.expires) {
		e.c.Close()
		p.misses++
		return nil, false
	}
	p.hits++
	return e.c, true
}

// Put offers c back to the pool as the idle connection for key. If a
// connection is already cached for key, the incoming one is closed instead
// of replacing it (enforcing the at-most-one-idle-per-key invariant without
// discarding whichever connection the caller is already using). If c is not
// reusable, it is closed and discarded rather than cached.
func (p *Pool) Put(key conn.Key, c *conn.Connection) {
	if !c.IsReusable() {
		c.Close()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[key]; exists {
		c.Close()
		return
	}
	p.entries[key] = entry{c: c, expires: time.Now().Add(p.idleTTL)}
}

// Stats reports pool hit/miss counters and the number of currently cached
// idle connections, for observability (a supplemental feature, not part of
// the engine's wire behavior).
type Stats struct {
	Hits   int64
	Misses int64
	Idle   int
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Hits: p.hits, Misses: p.misses, Idle: len(p.entries)}
}

// CloseIdle closes and discards every cached connection, for shutdown.
func (p *Pool) CloseIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		e.c.Close()
		delete(p.entries, key)
	}
}
