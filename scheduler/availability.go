package scheduler

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Willam-Ni/easyFL/common/stats"
	"github.com/Willam-Ni/easyFL/gpu"
)

// UsageStatistic selects which ledger statistic the availability policy
// compares free memory against.
type UsageStatistic string

const (
	// UseAverage gates on the running average of prior job usage.
	UseAverage UsageStatistic = "average"
	// UseMax gates on the running maximum. More conservative; the default.
	UseMax UsageStatistic = "max"
)

// DeviceChecker decides whether a device may accept a new job right now.
// The answer is advisory: the dispatcher may ask again next cycle and two
// cycles may both say yes for the same device.
type DeviceChecker interface {
	IsAvailable(device int) bool
}

// DeviceObserver is implemented by checkers that consume the dispatcher's
// probe readings. The dispatcher feeds every device's reading to the checker
// once per cycle, whether or not anything is dispatchable, so a violating
// reading taken while jobs run or the queue sits empty is never missed.
type DeviceObserver interface {
	// Observe records one reading for a device. A non-nil err means the
	// probe failed this cycle.
	Observe(device int, mem gpu.MemInfo, err error)
}

// BasicChecker reports every explicitly listed device as available and
// performs no memory inspection. Callers choosing it accept responsibility
// for oversubscription.
type BasicChecker struct {
	devices map[int]bool
}

func NewBasicChecker(devices []int) *BasicChecker {
	m := make(map[int]bool, len(devices))
	for _, d := range devices {
		m[d] = true
	}
	return &BasicChecker{devices: m}
}

func (c *BasicChecker) IsAvailable(device int) bool {
	return c.devices[device]
}

// AutoChecker gates on observed memory: a device is available when its free
// memory has exceeded the ledger statistic plus a safety margin continuously
// for at least the hysteresis window. Readings arrive via Observe once per
// dispatch cycle; a single favorable reading is never sufficient, and any
// unfavorable or failed reading resets the window.
type AutoChecker struct {
	ledger    *Ledger
	margin    gpu.Memory
	window    time.Duration
	statistic UsageStatistic

	time stats.StatsTime
	// heldSince[d] is the instant since which the surplus condition has
	// held uninterrupted on device d. Absent when it does not hold.
	heldSince map[int]time.Time
}

func NewAutoChecker(ledger *Ledger, margin gpu.Memory, window time.Duration, statistic UsageStatistic) *AutoChecker {
	if statistic == "" {
		statistic = UseMax
	}
	return &AutoChecker{
		ledger:    ledger,
		margin:    margin,
		window:    window,
		statistic: statistic,
		time:      stats.DefaultStatsTime(),
		heldSince: map[int]time.Time{},
	}
}

// SetTime overrides the clock. For tests.
func (c *AutoChecker) SetTime(t stats.StatsTime) { c.time = t }

// Observe evaluates one reading against the surplus condition. A violation
// or a probe failure breaks the streak immediately; a favorable reading
// starts the window if it is not already running.
func (c *AutoChecker) Observe(device int, mem gpu.MemInfo, err error) {
	if err != nil {
		log.WithFields(log.Fields{"device": device, "error": err}).Warn("Device probe failed")
		delete(c.heldSince, device)
		return
	}
	if mem.Free <= c.need(device) {
		delete(c.heldSince, device)
		return
	}
	if _, held := c.heldSince[device]; !held {
		c.heldSince[device] = c.time.Now()
	}
}

// IsAvailable reports whether the surplus condition has held continuously
// for the full hysteresis window.
func (c *AutoChecker) IsAvailable(device int) bool {
	since, held := c.heldSince[device]
	return held && c.time.Since(since) >= c.window
}

func (c *AutoChecker) need(device int) gpu.Memory {
	var usage gpu.Memory
	switch c.statistic {
	case UseAverage:
		usage = c.ledger.Average(device)
	default:
		usage = c.ledger.Max(device)
	}
	return usage + c.margin
}
