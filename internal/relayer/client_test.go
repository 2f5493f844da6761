package relayer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		MaxRetries: 0,
		RetryDelay: time.Millisecond,
		Timeout:    time.Second,
	})
}

func TestGetPoolBalance_ReturnsBalance(t *testing.T) {
	require := require.New(t)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal("/v1/balance", r.URL.Path)
		require.Equal("wallet-1", r.URL.Query().Get("wallet"))
		require.Equal("SOL", r.URL.Query().Get("token"))
		_ = json.NewEncoder(w).Encode(Balance{Available: 500, Deposited: 1000})
	})

	bal, err := c.GetPoolBalance(context.Background(), "wallet-1", "SOL")
	require.NoError(err)
	require.NotNil(bal)
	require.Equal(uint64(500), bal.Available)
}

func TestGetPoolBalance_NullIsNotFound(t *testing.T) {
	require := require.New(t)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	})

	bal, err := c.GetPoolBalance(context.Background(), "wallet-1", "")
	require.NoError(err)
	require.Nil(bal)
}

func TestHasEnoughBalance(t *testing.T) {
	require := require.New(t)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Balance{Available: 100})
	})

	ok, err := c.HasEnoughBalance(context.Background(), "wallet-1", "SOL", 50)
	require.NoError(err)
	require.True(ok)

	ok, err = c.HasEnoughBalance(context.Background(), "wallet-1", "SOL", 500)
	require.NoError(err)
	require.False(ok)
}
