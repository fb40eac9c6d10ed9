package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Willam-Ni/easyFL/common/log/tags"
	"github.com/Willam-Ni/easyFL/common/stats"
	"github.com/Willam-Ni/easyFL/gpu"
	"github.com/Willam-Ni/easyFL/runner/execer"
)

// Dispatcher owns the job queue and the polling loop that matches eligible
// devices to pending jobs. Scheduling decisions happen on a single
// goroutine; only job execution is multi-process. One Dispatcher can serve
// many sequential Run calls but not concurrent ones.
type Dispatcher struct {
	cfg     Config
	exec    execer.Execer
	checker DeviceChecker
	// probe supplies the one reading per device taken each cycle. Required
	// when checker consumes observations (AutoChecker); otherwise optional,
	// with the ledger fed the baseline only and no free-memory gauges.
	probe   gpu.Probe
	devices []int
	ledger  *Ledger
	stat    stats.StatsReceiver
	time    stats.StatsTime
}

// NewDispatcher wires a dispatcher. ledger may be nil to create a fresh one;
// pass the same ledger to an AutoChecker so the availability gate sees the
// usage history this dispatcher records. stat may be nil.
func NewDispatcher(cfg Config, exec execer.Execer, checker DeviceChecker, probe gpu.Probe, devices []int, ledger *Ledger, stat stats.StatsReceiver) *Dispatcher {
	cfg.ApplyDefaults()
	if ledger == nil {
		ledger = NewLedger(cfg.BaselineUsage)
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Dispatcher{
		cfg:     cfg,
		exec:    exec,
		checker: checker,
		probe:   probe,
		devices: devices,
		ledger:  ledger,
		stat:    stat.Scope("dispatcher"),
		time:    stats.DefaultStatsTime(),
	}
}

// Ledger exposes the usage history this dispatcher maintains.
func (d *Dispatcher) Ledger() *Ledger { return d.ledger }

// SetTime overrides the dispatcher's clock. For tests.
func (d *Dispatcher) SetTime(t stats.StatsTime) { d.time = t }

// Run submits the specs and blocks until every one has completed or ctx is
// canceled. The returned slice has the same length and order as specs.
//
// Malformed specs fail here, before any subprocess is spawned. Individual
// job crashes are recovered by re-enqueueing and never surface as errors.
// On cancellation every live subprocess is terminated before returning; the
// dispatcher owns subprocess liveness for the duration of the call.
func (d *Dispatcher) Run(ctx context.Context, specs []*JobSpec) ([]*Record, error) {
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, errors.Wrapf(err, "spec %d", i)
		}
	}
	if d.cfg.WorkerCommand == nil && len(d.cfg.WorkerArgv) == 0 {
		return nil, errors.New("no worker command configured")
	}
	if len(d.devices) == 0 {
		return nil, errors.New("no devices configured")
	}
	if _, ok := d.checker.(DeviceObserver); ok && d.probe == nil {
		return nil, errors.New("availability policy consumes probe readings but no probe is configured")
	}
	d.stat.Counter(stats.DispatcherJobsSubmitted).Inc(int64(len(specs)))

	r := d.newRun(specs)
	ticker := time.NewTicker(d.cfg.PollPeriod)
	defer ticker.Stop()

	for !r.done() {
		select {
		case <-ctx.Done():
			r.abortAll("run canceled")
			return r.agg.results(), errors.Wrap(ctx.Err(), "run canceled")
		case <-ticker.C:
			r.step()
			if r.fatal != nil {
				r.abortAll("fatal dispatch error")
				return r.agg.results(), r.fatal
			}
		}
	}
	return r.agg.results(), nil
}

// pendingJob is one queue entry. attempts counts dispatches so far.
type pendingJob struct {
	index    int
	spec     *JobSpec
	attempts int
	// bo produces the re-enqueue delay once RetryBackoffInitial is set.
	bo backoff.BackOff
	// notBefore delays eligibility after a failure. Zero means immediately
	// eligible. A delayed head blocks the queue: pop order stays FIFO.
	notBefore time.Time
}

// runningJob links a dispatched spec to its live subprocess and device.
type runningJob struct {
	index    int
	spec     *JobSpec
	attempts int
	bo       backoff.BackOff
	device   int
	process  execer.Process
	// doneCh receives the final status exactly once, from the watcher
	// goroutine that blocks in process.Wait().
	doneCh chan execer.ProcessStatus
	stdout *lockedBuffer
	stderr *lockedBuffer

	freeAtLaunch   gpu.Memory
	haveLaunchFree bool
	peak           gpu.Memory

	tags.LogTags
}

// run is the state of one Run call. Mutated only by the dispatch loop
// goroutine, so no locks.
type run struct {
	d       *Dispatcher
	pending []*pendingJob
	running []*runningJob
	agg     *aggregator
	freeNow map[int]gpu.Memory

	stallCycles int
	fatal       error
}

func (d *Dispatcher) newRun(specs []*JobSpec) *run {
	r := &run{d: d, agg: newAggregator(len(specs))}
	for i, spec := range specs {
		r.pending = append(r.pending, &pendingJob{index: i, spec: spec})
	}
	return r
}

func (r *run) done() bool {
	return len(r.pending) == 0 && len(r.running) == 0
}

// step is one dispatch cycle: take one probe reading per device and ask the
// availability policy about every device, charge the reading to running
// jobs' peak estimates, reap exited subprocesses, launch onto available
// devices, then check for a stall. Peaks update before the reap so a job's
// last in-flight reading still counts toward its footprint.
func (r *run) step() {
	lat := r.d.stat.Latency(stats.DispatcherCycleLatency).Time()
	defer lat.Stop()

	avail := r.pollDevices()
	r.updatePeaks()
	r.scanRunning()
	dispatched := r.dispatch(avail)
	r.updateStats()

	if dispatched == 0 && len(r.pending) > 0 {
		r.stallCycles++
		if r.stallCycles >= r.d.cfg.StallWarnCycles {
			log.WithFields(log.Fields{
				"cycles":  r.stallCycles,
				"pending": len(r.pending),
				"running": len(r.running),
			}).Warn("No dispatch for many consecutive cycles; devices may never become available")
			r.d.stat.Counter(stats.DispatcherStallWarnings).Inc(1)
			r.stallCycles = 0
		}
	} else {
		r.stallCycles = 0
	}
}

// scanRunning reaps every subprocess that has exited since the last cycle.
// Still-running jobs are left untouched.
func (r *run) scanRunning() {
	kept := r.running[:0]
	for _, rj := range r.running {
		select {
		case st := <-rj.doneCh:
			r.finish(rj, st)
		default:
			kept = append(kept, rj)
		}
	}
	r.running = kept
}

func (r *run) finish(rj *runningJob, st execer.ProcessStatus) {
	// Feed the ledger the conservative peak estimate, floored at baseline.
	usage := rj.peak
	if usage < r.d.cfg.BaselineUsage {
		usage = r.d.cfg.BaselineUsage
	}
	r.d.ledger.Observe(rj.device, usage)

	if st.State == execer.COMPLETE && st.ExitCode == 0 {
		if err := r.agg.add(rj.index, rj.stdout.Bytes()); err != nil {
			r.requeue(rj.index, rj.spec, rj.attempts, rj.bo, err.Error())
			return
		}
		r.d.stat.Counter(stats.DispatcherJobCompletions).Inc(1)
		log.WithFields(log.Fields{
			"jobID":  rj.JobID,
			"runID":  rj.RunID,
			"device": rj.device,
			"state":  Completed,
		}).Info("Job completed")
		return
	}

	reason := st.Error
	if reason == "" {
		reason = "exit code " + strconv.Itoa(st.ExitCode)
	}
	if tail := lastLine(rj.stderr.Bytes()); len(tail) > 0 {
		reason += ": " + string(tail)
	}
	r.requeue(rj.index, rj.spec, rj.attempts, rj.bo, reason)
}

// requeue puts a failed spec back at the tail of the pending queue. Failures
// are assumed transient (e.g. two cycles both judged a device available and
// the second job OOMed), so retry is unbounded unless a cap is configured.
func (r *run) requeue(index int, spec *JobSpec, attempts int, bo backoff.BackOff, reason string) {
	if r.d.cfg.MaxRetries > 0 && attempts-1 >= r.d.cfg.MaxRetries {
		r.fatal = errors.Errorf("job %d failed %d times, exceeding %d retries: %s",
			index, attempts, r.d.cfg.MaxRetries, reason)
		return
	}
	log.WithFields(log.Fields{
		"jobID":    index,
		"attempts": attempts,
		"state":    Pending,
		"reason":   reason,
	}).Warn("Job failed, re-enqueueing")
	r.d.stat.Counter(stats.DispatcherJobRetries).Inc(1)

	pj := &pendingJob{index: index, spec: spec, attempts: attempts, bo: bo}
	if r.d.cfg.RetryBackoffInitial > 0 {
		if pj.bo == nil {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = r.d.cfg.RetryBackoffInitial
			eb.MaxElapsedTime = 0
			pj.bo = eb
		}
		pj.notBefore = r.d.time.Now().Add(pj.bo.NextBackOff())
	}
	r.pending = append(r.pending, pj)
}

// pollDevices takes one probe reading per device, feeds it to the
// availability policy, and collects the policy's verdict for every device.
// This happens every cycle regardless of queue state, so the hysteresis
// window tracks violations that occur while jobs run or the queue is empty.
func (r *run) pollDevices() map[int]bool {
	r.freeNow = map[int]gpu.Memory{}
	obs, observes := r.d.checker.(DeviceObserver)
	avail := make(map[int]bool, len(r.d.devices))
	for _, dev := range r.d.devices {
		if r.d.probe != nil {
			mem, err := r.d.probe.MemInfo(dev)
			if err != nil {
				r.d.stat.Counter(stats.DeviceProbeFailures).Inc(1)
			} else {
				r.freeNow[dev] = mem.Free
			}
			if observes {
				obs.Observe(dev, mem, err)
			}
		}
		avail[dev] = r.d.checker.IsAvailable(dev)
	}
	return avail
}

// dispatch matches the queue head against this cycle's availability
// verdicts, launching at most one job per device per cycle. The verdict is
// advisory, not a lock: a device that keeps reporting available keeps
// receiving jobs.
func (r *run) dispatch(avail map[int]bool) int {
	launched := 0
	now := r.d.time.Now()
	for _, device := range r.d.devices {
		if len(r.pending) == 0 {
			break
		}
		head := r.pending[0]
		if !head.notBefore.IsZero() && now.Before(head.notBefore) {
			break
		}
		if !avail[device] {
			continue
		}
		r.pending = r.pending[1:]
		head.attempts++
		if err := r.launch(head, device); err != nil {
			r.requeue(head.index, head.spec, head.attempts, head.bo, err.Error())
			continue
		}
		launched++
	}
	return launched
}

func (r *run) launch(pj *pendingJob, device int) error {
	argv, err := r.d.workerCommand(pj.spec, device)
	if err != nil {
		return err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return errors.Wrap(err, "generating run id")
	}

	rj := &runningJob{
		index:    pj.index,
		spec:     pj.spec,
		attempts: pj.attempts,
		bo:       pj.bo,
		device:   device,
		doneCh:   make(chan execer.ProcessStatus, 1),
		stdout:   &lockedBuffer{},
		stderr:   &lockedBuffer{},
		LogTags:  tags.LogTags{JobID: pj.index, RunID: id.String(), Tag: pj.spec.Scene},
	}

	// The worker learns its device from the environment, not by inspecting
	// its options after the fact.
	cmd := execer.Command{
		Argv: argv,
		EnvVars: map[string]string{
			"CUDA_VISIBLE_DEVICES": strconv.Itoa(device),
			"EASYFL_DEVICE":        strconv.Itoa(device),
		},
		Stdout:       rj.stdout,
		Stderr:       rj.stderr,
		AbortTimeout: r.d.cfg.AbortTimeout,
		LogTags:      rj.LogTags,
	}

	// This cycle's reading is the launch snapshot.
	if free, ok := r.freeNow[device]; ok {
		rj.freeAtLaunch = free
		rj.haveLaunchFree = true
	}

	proc, err := r.d.exec.Exec(cmd)
	if err != nil {
		return errors.Wrap(err, "spawning worker")
	}
	rj.process = proc
	go func() {
		rj.doneCh <- proc.Wait()
	}()
	r.running = append(r.running, rj)

	r.d.stat.Counter(stats.DispatcherJobLaunches).Inc(1)
	log.WithFields(log.Fields{
		"jobID":   rj.JobID,
		"runID":   rj.RunID,
		"device":  device,
		"attempt": pj.attempts,
		"state":   Running,
	}).Info("Dispatched job")
	return nil
}

// updatePeaks advances each running job's conservative peak estimate: the
// largest drop in free memory since the job launched, using the reading this
// cycle already took. Concurrent jobs on one device each get charged the
// whole drop, which errs on the safe side.
func (r *run) updatePeaks() {
	for _, rj := range r.running {
		free, ok := r.freeNow[rj.device]
		if !ok || !rj.haveLaunchFree {
			continue
		}
		if rj.freeAtLaunch > free {
			if used := rj.freeAtLaunch - free; used > rj.peak {
				rj.peak = used
			}
		}
	}
}

func (r *run) updateStats() {
	d := r.d
	d.stat.Gauge(stats.DispatcherPendingJobsGauge).Update(int64(len(r.pending)))
	d.stat.Gauge(stats.DispatcherRunningJobsGauge).Update(int64(len(r.running)))
	for _, dev := range d.devices {
		scope := d.stat.Scope("device", strconv.Itoa(dev))
		scope.Gauge(stats.DeviceUsageAvgGauge).Update(int64(d.ledger.Average(dev)))
		scope.Gauge(stats.DeviceUsageMaxGauge).Update(int64(d.ledger.Max(dev)))
		if free, ok := r.freeNow[dev]; ok {
			scope.Gauge(stats.DeviceFreeMemGauge).Update(int64(free))
		}
	}
}

// abortAll terminates every live subprocess and waits for each to be
// reaped, so no orphans outlive the Run call.
func (r *run) abortAll(reason string) {
	for _, rj := range r.running {
		log.WithFields(log.Fields{
			"jobID":  rj.JobID,
			"runID":  rj.RunID,
			"device": rj.device,
		}).Info("Aborting job: " + reason)
		rj.process.Abort()
	}
	for _, rj := range r.running {
		<-rj.doneCh
	}
	r.running = nil
}

// workerCommand builds the argv for one dispatch. The assigned device also
// rides in the options mapping so the worker's logger echoes it back.
func (d *Dispatcher) workerCommand(spec *JobSpec, device int) ([]string, error) {
	if d.cfg.WorkerCommand != nil {
		return d.cfg.WorkerCommand(spec, device)
	}
	opts := make(map[string]interface{}, len(spec.Options)+1)
	for k, v := range spec.Options {
		opts[k] = v
	}
	opts["gpu"] = device
	optJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling options")
	}
	argv := append([]string{}, d.cfg.WorkerArgv...)
	argv = append(argv, "--task", spec.Task, "--algorithm", spec.Algorithm, "--option", string(optJSON))
	if spec.Model != "" {
		argv = append(argv, "--model", spec.Model)
	}
	if spec.Logger != "" {
		argv = append(argv, "--logger", spec.Logger)
	}
	if spec.Simulator != "" {
		argv = append(argv, "--simulator", spec.Simulator)
	}
	if spec.Scene != "" {
		argv = append(argv, "--scene", spec.Scene)
	}
	return argv, nil
}

// lockedBuffer is an io.Writer safe for the execer's copy goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
