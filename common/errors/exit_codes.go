package errors

type ExitCode int

const (
	// Worker could not be exec'd at all.
	CouldNotExecExitCode ExitCode = 110

	// Worker started but its result output was missing or unparseable.
	MalformedResultExitCode ExitCode = 111

	// Dispatcher killed the worker during shutdown or cancellation.
	AbortedExitCode ExitCode = 130
)
