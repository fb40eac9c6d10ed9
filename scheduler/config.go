package scheduler

import (
	"time"

	"github.com/Willam-Ni/easyFL/gpu"
)

// Provide defaults for settings that should never be uninitialized/zero.
const (
	// How often the dispatch loop runs.
	DefaultPollPeriod = 500 * time.Millisecond

	// How long the surplus condition must hold before a device is eligible.
	DefaultHysteresisWindow = 5 * time.Second

	// Assumed per-job usage for devices with no history.
	DefaultBaselineUsage = gpu.Memory(1 << 30) // 1 GiB

	// Warn after this many consecutive no-dispatch cycles with work pending.
	DefaultStallWarnCycles = 60
)

// Config carries the dispatcher's knobs. The zero value is usable:
// ApplyDefaults fills anything unset.
type Config struct {
	// PollPeriod is the sleep between dispatch cycles.
	PollPeriod time.Duration `json:"poll_period_ns"`

	// HysteresisWindow is how long the free-memory surplus must hold
	// continuously before the auto policy reports a device available.
	HysteresisWindow time.Duration `json:"hysteresis_window_ns"`

	// SafetyMargin is extra free memory required beyond the ledger statistic.
	SafetyMargin gpu.Memory `json:"safety_margin_bytes"`

	// BaselineUsage seeds the ledger for devices with no history.
	BaselineUsage gpu.Memory `json:"baseline_usage_bytes"`

	// Statistic selects average or max historical usage for the gate.
	Statistic UsageStatistic `json:"usage_statistic"`

	// MaxRetries caps dispatch attempts per spec. <= 0 means unbounded,
	// which is the default: failures are assumed transient.
	MaxRetries int `json:"max_retries"`

	// RetryBackoffInitial, when > 0, delays each re-enqueued spec with
	// exponential backoff starting at this interval. Zero re-enqueues with
	// no delay.
	RetryBackoffInitial time.Duration `json:"retry_backoff_initial_ns"`

	// StallWarnCycles is the stall-detection threshold.
	StallWarnCycles int `json:"stall_warn_cycles"`

	// AbortTimeout is how long an aborted worker gets to exit on SIGTERM
	// before its process group is killed. Zero keeps the execer default.
	AbortTimeout time.Duration `json:"abort_timeout_ns"`

	// WorkerArgv is the command prefix for the worker program, e.g.
	// ["python", "-m", "flgo.run"] or ["simworker"]. Job parameters are
	// appended as flags.
	WorkerArgv []string `json:"worker_argv"`

	// WorkerCommand overrides argv construction entirely. For tests and
	// embedders with bespoke worker invocations. Nil uses WorkerArgv.
	WorkerCommand func(spec *JobSpec, device int) ([]string, error) `json:"-"`
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.PollPeriod <= 0 {
		c.PollPeriod = DefaultPollPeriod
	}
	if c.HysteresisWindow <= 0 {
		c.HysteresisWindow = DefaultHysteresisWindow
	}
	if c.BaselineUsage == 0 {
		c.BaselineUsage = DefaultBaselineUsage
	}
	if c.Statistic == "" {
		c.Statistic = UseMax
	}
	if c.StallWarnCycles <= 0 {
		c.StallWarnCycles = DefaultStallWarnCycles
	}
}
