package orchestrator

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain uses goleak to verify Start/Stop never leaves the poll or
// maintenance goroutines running past a test's lifetime.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
