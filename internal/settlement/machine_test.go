package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/crank/internal/domain"
	"github.com/luxfi/crank/internal/obslog"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory fake satisfying the Store interface, used so the
// state machine's transition logic can be tested without a real database.
type memStore struct {
	mu   sync.Mutex
	rows map[string]domain.SettlementRequest
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]domain.SettlementRequest)}
}

func (m *memStore) CreateIfAbsent(ctx context.Context, req domain.SettlementRequest) (domain.SettlementRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[req.ID]; ok {
		return existing, false, nil
	}
	m.rows[req.ID] = req
	return req, true, nil
}

func (m *memStore) Get(ctx context.Context, id string) (domain.SettlementRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	return row, ok, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, id string, from, to domain.SettlementStatus, mutate func(*domain.SettlementRequest)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	if mutate != nil {
		mutate(&row)
	}
	row.Status = to
	m.rows[id] = row
	return true, nil
}

func twoIDs() ([16]byte, [16]byte) {
	var a, b [16]byte
	a[0] = 1
	b[0] = 2
	return a, b
}

func TestMachine_InitiateIsIdempotent(t *testing.T) {
	require := require.New(t)
	s := newMemStore()
	m := New(s, obslog.NoopObserver{}, time.Minute)

	buy, sell := twoIDs()
	first, err := m.Initiate(context.Background(), buy, sell, "SOL", "USDC", domain.MethodPrivate)
	require.NoError(err)

	second, err := m.Initiate(context.Background(), buy, sell, "SOL", "USDC", domain.MethodPrivate)
	require.NoError(err)
	require.Equal(first.ID, second.ID)
	require.Len(s.rows, 1)
}

func TestMachine_FullHappyPath(t *testing.T) {
	require := require.New(t)
	s := newMemStore()
	m := New(s, obslog.NoopObserver{}, time.Minute)

	buy, sell := twoIDs()
	row, err := m.Initiate(context.Background(), buy, sell, "SOL", "USDC", domain.MethodPrivate)
	require.NoError(err)

	require.NoError(m.RecordBaseTransfer(context.Background(), row.ID, "base-tx-1"))
	require.NoError(m.RecordQuoteTransfer(context.Background(), row.ID, "quote-tx-1"))
	require.NoError(m.Complete(context.Background(), row.ID))

	final, ok, err := s.Get(context.Background(), row.ID)
	require.NoError(err)
	require.True(ok)
	require.Equal(domain.SettlementCompleted, final.Status)
	require.True(final.Status.IsTerminal())
}

func TestMachine_RejectsOutOfOrderTransition(t *testing.T) {
	require := require.New(t)
	s := newMemStore()
	m := New(s, obslog.NoopObserver{}, time.Minute)

	buy, sell := twoIDs()
	row, err := m.Initiate(context.Background(), buy, sell, "SOL", "USDC", domain.MethodPrivate)
	require.NoError(err)

	// QuoteTransferred requires BaseTransferred first.
	err = m.RecordQuoteTransfer(context.Background(), row.ID, "quote-tx-1")
	require.Error(err)
}

func TestMachine_BeginRollbackFromBaseTransferred(t *testing.T) {
	require := require.New(t)
	s := newMemStore()
	m := New(s, obslog.NoopObserver{}, time.Minute)

	buy, sell := twoIDs()
	row, err := m.Initiate(context.Background(), buy, sell, "SOL", "USDC", domain.MethodPrivate)
	require.NoError(err)
	require.NoError(m.RecordBaseTransfer(context.Background(), row.ID, "base-tx-1"))
	require.NoError(m.BeginRollback(context.Background(), row.ID, domain.SettlementBaseTransferred))

	final, _, err := s.Get(context.Background(), row.ID)
	require.NoError(err)
	require.Equal(domain.SettlementRollingBack, final.Status)
}

func TestIsExpired(t *testing.T) {
	require := require.New(t)
	row := domain.SettlementRequest{Status: domain.SettlementPending, ExpiresAt: time.Now().Add(-time.Second)}
	require.True(IsExpired(row))

	row.Status = domain.SettlementCompleted
	require.False(IsExpired(row))
}
