package lockmgr

import (
	"context"
	"time"

	"github.com/luxfi/crank/internal/errs"
	"github.com/luxfi/crank/internal/store"
)

// Manager is the dual-lock facade the orchestrator calls. It always takes
// the cheap in-process lock first; only once that succeeds does it attempt
// the durable distributed lock, so local contention is rejected without a
// round trip to the store. Every successful local acquire is followed by a
// store call.
type Manager struct {
	local  *Local
	locks  *store.DistributedLocksRepo
	owner  string
}

func NewManager(locks *store.DistributedLocksRepo, owner string) *Manager {
	return &Manager{local: NewLocal(), locks: locks, owner: owner}
}

// Acquire takes both locks for key, unwinding the local lock if the
// distributed one fails. Returns (false, nil) on ordinary contention,
// (false, err) on a store failure.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !m.local.TryAcquire(key, m.owner, ttl) {
		return false, nil
	}
	ok, err := m.locks.Acquire(ctx, key, m.owner, time.Now().Add(ttl))
	if err != nil {
		m.local.Release(key, m.owner)
		return false, errs.Wrap(errs.KindInternal, errs.CodeInternal, "distributed lock acquire", err)
	}
	if !ok {
		m.local.Release(key, m.owner)
		return false, nil
	}
	return true, nil
}

// Release drops both locks for key.
func (m *Manager) Release(ctx context.Context, key string) error {
	m.local.Release(key, m.owner)
	return m.locks.Release(ctx, key, m.owner)
}

// Extend pushes both locks' TTL forward, used by long-running settlement
// processing that outlives DefaultTTL.
func (m *Manager) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !m.local.TryAcquire(key, m.owner, ttl) {
		return false, nil
	}
	return m.locks.Extend(ctx, key, m.owner, time.Now().Add(ttl))
}

// ReleaseStaleLocal reclaims locally-expired entries; the store side expires
// on its own TTL column and is reclaimed by the orchestrator's stale-lock
// sweep (spec §4.5).
func (m *Manager) ReleaseStaleLocal() int {
	return m.local.ReleaseStale()
}

// ReleaseAll drops every distributed lock this owner holds, called on clean
// shutdown so a restarting instance doesn't wait out stale TTLs.
func (m *Manager) ReleaseAll(ctx context.Context) (int64, error) {
	return m.locks.ReleaseAllByOwner(ctx, m.owner)
}
