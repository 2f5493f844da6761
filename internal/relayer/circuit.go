package relayer

import (
	"time"

	"github.com/luxfi/geth/log"
	"github.com/sony/gobreaker"
)

// newBreaker wraps the relayer's HTTP calls in a circuit breaker so a
// struggling relayer stops receiving new requests instead of piling up
// retries, per spec §6. It trips after 5 consecutive failures and probes
// again after a 30s cooldown.
func newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("relayer circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	})
}
