// Package obslog wraps the teacher's structured key/value logger
// (github.com/luxfi/geth/log, itself a thin redirect to github.com/luxfi/log)
// and defines the small Observer capability the orchestrator calls at
// well-known events. HTTP admin routes, metrics scraping, and Sentry wiring
// are out of scope (spec §1); Observer is the seam a future admin surface
// hangs off of.
package obslog

import (
	"io"
	"os"

	"github.com/luxfi/geth/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger re-exports the teacher's logger type so callers don't import
// github.com/luxfi/geth/log directly.
type Logger = log.Logger

// New returns a terminal logger at the given level, matching the teacher's
// cmd/evm-node/main.go setup.
func New(levelName string) Logger {
	return NewWithFile(levelName, "")
}

// NewWithFile returns a logger at levelName that writes to stderr and,
// when logFilePath is non-empty, also to a lumberjack-rotated file. Log
// rotation runs entirely inside this process; there is no external
// logrotate dependency to configure.
func NewWithFile(levelName, logFilePath string) Logger {
	lvl, err := log.LvlFromString(levelName)
	if err != nil {
		lvl = log.LevelInfo
	}

	var w io.Writer = os.Stderr
	if logFilePath != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	l := log.NewLogger(log.NewTerminalHandlerWithLevel(w, lvl, true))
	log.SetDefault(l)
	return l
}

// AlertKind labels the reason an Observer.OnAlert call was raised, per
// spec §7's operator-alert list.
type AlertKind string

const (
	AlertSettlementRollbackFailed AlertKind = "settlement_rollback_failed"
	AlertMpcCallbackFailed        AlertKind = "mpc_callback_failed"
	AlertInsufficientBalance      AlertKind = "insufficient_balance"
	AlertSustainedFailurePause    AlertKind = "sustained_failure_pause"
)

// Observer is the small capability the orchestrator calls at well-known
// events, per spec §9. LogObserver and NoopObserver are the implementations
// in this module; there is no metrics or Sentry observer.
type Observer interface {
	OnPollStart(iteration int64)
	OnSettlementTransition(settlementID string, from, to string)
	OnAlert(kind AlertKind, message string, fields map[string]any)
}

// LogObserver is the default Observer: it just logs.
type LogObserver struct {
	Log Logger
}

func (o LogObserver) OnPollStart(iteration int64) {
	o.Log.Debug("poll iteration start", "iteration", iteration)
}

func (o LogObserver) OnSettlementTransition(settlementID string, from, to string) {
	o.Log.Info("settlement transition", "settlementID", settlementID, "from", from, "to", to)
}

func (o LogObserver) OnAlert(kind AlertKind, message string, fields map[string]any) {
	args := make([]any, 0, 2+2*len(fields))
	args = append(args, "kind", kind)
	for k, v := range fields {
		args = append(args, k, v)
	}
	o.Log.Warn("operator alert: "+message, args...)
}

// NoopObserver discards every event; used in tests.
type NoopObserver struct{}

func (NoopObserver) OnPollStart(int64)                                      {}
func (NoopObserver) OnSettlementTransition(string, string, string)          {}
func (NoopObserver) OnAlert(AlertKind, string, map[string]any)              {}

var _ Observer = LogObserver{}
var _ Observer = NoopObserver{}
