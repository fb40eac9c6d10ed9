package scheduler

import (
	"sync"

	"github.com/Willam-Ni/easyFL/gpu"
)

// Ledger tracks, per device, the memory footprint of jobs previously
// dispatched there. The availability policy uses these statistics as a
// conservative estimate of what the next job will need, since a job's own
// peak usage is unknowable in advance. Nothing persists across processes.
type Ledger struct {
	mu       sync.Mutex
	baseline gpu.Memory
	usage    map[int]*deviceUsage
}

type deviceUsage struct {
	jobs int64
	avg  float64
	max  gpu.Memory
}

// NewLedger returns a ledger whose statistics default to baseline for
// devices with no history (cold start).
func NewLedger(baseline gpu.Memory) *Ledger {
	return &Ledger{baseline: baseline, usage: map[int]*deviceUsage{}}
}

// Observe records the estimated peak memory usage of one finished job on
// the given device.
func (l *Ledger) Observe(device int, usage gpu.Memory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.usage[device]
	if !ok {
		u = &deviceUsage{}
		l.usage[device] = u
	}
	u.jobs++
	u.avg += (float64(usage) - u.avg) / float64(u.jobs)
	if usage > u.max {
		u.max = usage
	}
}

// Average returns the running average usage for the device, or the baseline
// when no jobs have been observed.
func (l *Ledger) Average(device int) gpu.Memory {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.usage[device]; ok {
		return gpu.Memory(u.avg)
	}
	return l.baseline
}

// Max returns the running maximum usage for the device, or the baseline
// when no jobs have been observed.
func (l *Ledger) Max(device int) gpu.Memory {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.usage[device]; ok {
		return u.max
	}
	return l.baseline
}

// Jobs returns how many finished jobs have been observed on the device.
func (l *Ledger) Jobs(device int) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.usage[device]; ok {
		return u.jobs
	}
	return 0
}
