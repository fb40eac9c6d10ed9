// Package execer lets you run one Unix command. It knows nothing about jobs
// or devices; it is at the level of os/exec, not exec-as-a-service. The
// dispatcher builds on it so tests can swap the real thing for a simulation.
package execer

import (
	"io"
	"time"

	"github.com/Willam-Ni/easyFL/common/log/tags"
)

// Command is the command line, environment and output sinks for one run.
type Command struct {
	Argv []string
	Dir  string

	// EnvVars are appended to the parent environment. This is how a device
	// assignment reaches the worker.
	EnvVars map[string]string

	Stdout io.Writer
	Stderr io.Writer

	// AbortTimeout bounds the graceful-exit grace period on Abort before
	// the process group is killed. Zero uses the execer's default.
	AbortTimeout time.Duration

	tags.LogTags
}

type ProcessState int

const (
	UNKNOWN ProcessState = iota
	RUNNING
	// Ran to termination yielding an exit code. The only state with a
	// meaningful exit code; a nonzero code is still COMPLETE.
	COMPLETE
	// Run mechanism failed; no exit code could be determined.
	FAILED
)

func (s ProcessState) IsDone() bool {
	return s == COMPLETE || s == FAILED
}

func (s ProcessState) String() string {
	switch s {
	case UNKNOWN:
		return "UNKNOWN"
	case RUNNING:
		return "RUNNING"
	case COMPLETE:
		return "COMPLETE"
	case FAILED:
		return "FAILED"
	default:
		return "INVALID"
	}
}

type ProcessStatus struct {
	State    ProcessState
	ExitCode int
	Error    string
}

type Execer interface {
	Exec(command Command) (Process, error)
}

type Process interface {
	// Wait blocks until the process terminates.
	Wait() ProcessStatus
	// Abort terminates the process and everything it spawned, then returns
	// the final status. Safe to call after the process already exited.
	Abort() ProcessStatus
}
