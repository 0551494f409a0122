// Package lock implements the topology-scoped advisory lock service (§4.5):
// named SHARED/EXCLUSIVE locks acquired from the primary via MySQL's
// GET_LOCK()/RELEASE_LOCK() session-scoped advisory locks, returned to the
// caller as an RAII-style guard.
package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clusterctl/core/internal/clustererr"
)

// Kind distinguishes the two named locks held per topology.
type Kind string

const (
	Shared    Kind = "shared"
	Exclusive Kind = "exclusive"
)

// WaitForever is the default Acquire timeout: block until the lock is
// available rather than giving up after a fixed duration.
const WaitForever = 0

func lockName(topologyID string, kind Kind) string {
	return fmt.Sprintf("clusterctl:%s:%s", kind, topologyID)
}

// Service issues advisory locks against a topology's primary.
type Service struct {
	db *sql.DB
}

// NewService wraps a *sql.DB to the primary the locks are scoped against.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Lock is the RAII-style handle returned by Acquire. The underlying
// MySQL session is held open for the lifetime of the lock, since
// GET_LOCK/RELEASE_LOCK are session-scoped; Release must be called
// exactly once, typically via defer, when the caller's frame no longer
// needs the lock.
type Lock struct {
	svc        *Service
	conn       *sql.Conn
	topologyID string
	kind       Kind
	released   bool
}

// Acquire blocks (subject to timeout) until the named lock for topologyID
// is free, then holds it on a dedicated session. A zero timeout waits
// forever, matching GET_LOCK's negative-timeout convention.
func (s *Service) Acquire(ctx context.Context, topologyID string, kind Kind, timeout time.Duration) (*Lock, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, clustererr.Wrap(clustererr.KindRuntime, "", err, "acquiring lock session")
	}

	secs := timeoutSeconds(timeout)
	name := lockName(topologyID, kind)

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, secs).Scan(&got); err != nil {
		conn.Close()
		return nil, clustererr.Wrap(clustererr.KindRuntime, "", err, fmt.Sprintf("GET_LOCK(%s) failed", name))
	}
	if !got.Valid || got.Int64 != 1 {
		conn.Close()
		return nil, clustererr.Runtime("timed out waiting for %s lock on topology %s", kind, topologyID)
	}

	return &Lock{svc: s, conn: conn, topologyID: topologyID, kind: kind}, nil
}

// Upgrade reentrantly promotes a held shared lock to exclusive on the same
// session, succeeding only if no other holder currently has the exclusive
// lock. On success the shared lock is released and l.kind becomes
// Exclusive; on failure the shared lock is left intact.
func (l *Lock) Upgrade(ctx context.Context, timeout time.Duration) error {
	if l.kind != Shared {
		return clustererr.Logic("Upgrade called on a lock that is not Shared (kind=%s)", l.kind)
	}

	exclusiveName := lockName(l.topologyID, Exclusive)
	secs := timeoutSeconds(timeout)

	var got sql.NullInt64
	if err := l.conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", exclusiveName, secs).Scan(&got); err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, fmt.Sprintf("GET_LOCK(%s) failed", exclusiveName))
	}
	if !got.Valid || got.Int64 != 1 {
		return clustererr.Runtime("cannot upgrade to exclusive lock on topology %s: held elsewhere", l.topologyID)
	}

	sharedName := lockName(l.topologyID, Shared)
	var released sql.NullInt64
	if err := l.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", sharedName).Scan(&released); err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, fmt.Sprintf("RELEASE_LOCK(%s) failed", sharedName))
	}

	l.kind = Exclusive
	return nil
}

// Release releases the held lock and returns the session to the pool.
// Safe to call more than once.
func (l *Lock) Release(ctx context.Context) error {
	if l.released {
		return nil
	}
	l.released = true

	name := lockName(l.topologyID, l.kind)
	var released sql.NullInt64
	err := l.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", name).Scan(&released)
	l.conn.Close()
	if err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, fmt.Sprintf("RELEASE_LOCK(%s) failed", name))
	}
	return nil
}

func timeoutSeconds(timeout time.Duration) int {
	if timeout <= WaitForever {
		return -1
	}
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
