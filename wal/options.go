package wal

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marlowdb/walcore/internal/executor"
)

// Default tuning thresholds (§4.9.9, §4.9.11).
const (
	DefaultIndexTrigger  = 512
	DefaultLogSizeTrigger = 1 << 30 // 1 GiB
	DefaultJanitorPeriod = 5 * time.Second
)

// Options configures a WAL's checkpoint/janitor tuning and logging. The
// zero value is not usable directly; use NewOptions for the documented
// defaults.
type Options struct {
	// IndexTrigger checkpoints once the in-memory index holds this many
	// uncheckpointed transaction records.
	IndexTrigger int
	// LogSizeTrigger checkpoints once the log file exceeds this many bytes.
	LogSizeTrigger int64
	// JanitorPeriod is how often the background janitor sweeps for orphaned
	// transactions and evaluates checkpoint triggers.
	JanitorPeriod time.Duration
	// Logger receives structured WAL lifecycle events (commit, conflict,
	// checkpoint, reload, janitor sweep). A nil Logger discards them.
	Logger *logrus.Logger
	// LivenessProbe overrides how the janitor decides whether a
	// transaction's owning executor is still alive. A nil value defaults
	// to executor.Alive (OS process liveness).
	LivenessProbe executor.LivenessProbe
}

// NewOptions returns Options populated with the documented defaults.
func NewOptions() Options {
	return Options{
		IndexTrigger:   DefaultIndexTrigger,
		LogSizeTrigger: DefaultLogSizeTrigger,
		JanitorPeriod:  DefaultJanitorPeriod,
	}
}

func (o Options) logger() *logrus.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
