// Package supervisor implements the sustained-failure circuit breaker
// wrapping the orchestrator (spec §4.6): after ERROR_THRESHOLD consecutive
// poll failures it pauses the poll loop for PAUSE_DURATION before resuming,
// independent of the per-request circuit breaker in internal/relayer.
package supervisor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/luxfi/crank/internal/metrics"
	"github.com/luxfi/crank/internal/obslog"
)

// Loop is the subset of orchestrator.Orchestrator the supervisor controls.
type Loop interface {
	Pause()
	Resume()
	IsPaused() bool
}

// Supervisor tracks consecutive poll failures and pauses/resumes Loop.
type Supervisor struct {
	loop     Loop
	observer obslog.Observer
	metrics  *metrics.Metrics

	errorThreshold int
	pauseDuration  time.Duration

	consecutiveErrors atomic.Int64
	operatorPaused    atomic.Bool
}

func New(loop Loop, observer obslog.Observer, m *metrics.Metrics, errorThreshold int, pauseDuration time.Duration) *Supervisor {
	if observer == nil {
		observer = obslog.NoopObserver{}
	}
	return &Supervisor{
		loop:           loop,
		observer:       observer,
		metrics:        m,
		errorThreshold: errorThreshold,
		pauseDuration:  pauseDuration,
	}
}

// RecordSuccess resets the consecutive-error counter.
func (s *Supervisor) RecordSuccess() {
	s.consecutiveErrors.Store(0)
	if s.metrics != nil {
		s.metrics.ConsecutiveErrors.Set(0)
	}
}

// RecordFailure increments the consecutive-error counter and trips the
// breaker once it reaches errorThreshold.
func (s *Supervisor) RecordFailure(ctx context.Context) {
	n := s.consecutiveErrors.Add(1)
	if s.metrics != nil {
		s.metrics.ConsecutiveErrors.Set(float64(n))
	}
	if n < int64(s.errorThreshold) {
		return
	}
	if s.loop.IsPaused() {
		return
	}
	s.loop.Pause()
	s.observer.OnAlert(obslog.AlertSustainedFailurePause, "pausing poll loop after sustained failures",
		map[string]any{"consecutiveErrors": n, "pauseDuration": s.pauseDuration.String()})

	go func() {
		t := time.NewTimer(s.pauseDuration)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			if !s.operatorPaused.Load() {
				s.consecutiveErrors.Store(0)
				s.loop.Resume()
			}
		}
	}()
}

// OperatorPause is an explicit operator override that holds the loop paused
// until OperatorResume is called, regardless of the automatic timer.
func (s *Supervisor) OperatorPause() {
	s.operatorPaused.Store(true)
	s.loop.Pause()
}

// OperatorResume clears an operator-initiated pause.
func (s *Supervisor) OperatorResume() {
	s.operatorPaused.Store(false)
	s.consecutiveErrors.Store(0)
	s.loop.Resume()
}

// GetStatus reports the supervisor's current view for an admin surface.
type Status struct {
	Paused            bool
	OperatorPaused    bool
	ConsecutiveErrors int64
}

func (s *Supervisor) GetStatus() Status {
	return Status{
		Paused:            s.loop.IsPaused(),
		OperatorPaused:    s.operatorPaused.Load(),
		ConsecutiveErrors: s.consecutiveErrors.Load(),
	}
}
