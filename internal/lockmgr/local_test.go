package lockmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocal_TryAcquire_MutualExclusion(t *testing.T) {
	require := require.New(t)
	l := NewLocal()

	require.True(l.TryAcquire("pair-1", "owner-a", time.Minute))
	require.False(l.TryAcquire("pair-1", "owner-b", time.Minute))
	require.True(l.TryAcquire("pair-1", "owner-a", time.Minute)) // same owner re-acquires
}

func TestLocal_Release(t *testing.T) {
	require := require.New(t)
	l := NewLocal()

	l.TryAcquire("pair-1", "owner-a", time.Minute)
	l.Release("pair-1", "owner-b") // wrong owner, no-op
	require.True(l.Held("pair-1"))

	l.Release("pair-1", "owner-a")
	require.False(l.Held("pair-1"))
}

func TestLocal_ExpiredLockIsReacquirable(t *testing.T) {
	require := require.New(t)
	l := NewLocal()

	require.True(l.TryAcquire("pair-1", "owner-a", -time.Second))
	require.True(l.TryAcquire("pair-1", "owner-b", time.Minute))
}

func TestLocal_ReleaseStale(t *testing.T) {
	require := require.New(t)
	l := NewLocal()

	l.TryAcquire("pair-1", "owner-a", -time.Second)
	l.TryAcquire("pair-2", "owner-a", time.Minute)

	n := l.ReleaseStale()
	require.Equal(1, n)
	require.False(l.Held("pair-1"))
	require.True(l.Held("pair-2"))
}
