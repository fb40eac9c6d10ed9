package stats

// Instrument names. Keeping them centralized makes dashboards greppable.
const (
	// Dispatcher
	DispatcherJobsSubmitted    = "jobsSubmitted"
	DispatcherJobLaunches      = "jobLaunches"
	DispatcherJobCompletions   = "jobCompletions"
	DispatcherJobRetries       = "jobRetries"
	DispatcherStallWarnings    = "stallWarnings"
	DispatcherPendingJobsGauge = "pendingJobs"
	DispatcherRunningJobsGauge = "runningJobs"
	DispatcherCycleLatency     = "cycleLatency_ns"

	// Devices
	DeviceFreeMemGauge  = "freeMemBytes"
	DeviceProbeFailures = "probeFailures"
	DeviceUsageAvgGauge = "usageAvgBytes"
	DeviceUsageMaxGauge = "usageMaxBytes"
)
