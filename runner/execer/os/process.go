package os

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	cerrors "github.com/Willam-Ni/easyFL/common/errors"
	"github.com/Willam-Ni/easyFL/common/log/tags"
	"github.com/Willam-Ni/easyFL/runner/execer"
)

// Implements runner/execer.Process.
type process struct {
	cmd     *exec.Cmd
	wg      *sync.WaitGroup
	waiting bool
	result  *execer.ProcessStatus
	mutex   sync.Mutex
	ats     time.Duration // Abort grace period before sigkill.
	tags.LogTags
}

// Wait for the process to finish.
// If the command terminates, return COMPLETE with its exit code (nonzero
// included). If we cannot determine an exit code, return FAILED with the
// error that prevented it.
func (p *process) Wait() (result execer.ProcessStatus) {
	p.mutex.Lock()
	p.waiting = true
	p.mutex.Unlock()

	// Wait for the output goroutines to finish, then wait on the process
	// itself to release its resources.
	p.wg.Wait()
	pid := p.cmd.Process.Pid

	err := p.cmd.Wait()
	log.WithFields(log.Fields{
		"pid":   pid,
		"jobID": p.JobID,
		"runID": p.RunID,
	}).Debug("Finished waiting for process")

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.waiting = false

	if p.result != nil {
		return *p.result
	}
	p.result = &result

	if err == nil {
		result.State = execer.COMPLETE
		result.ExitCode = 0
		return result
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			result.State = execer.COMPLETE
			if status.Signaled() {
				// Killed by a signal; report it like the shell would.
				result.ExitCode = 128 + int(status.Signal())
				result.Error = fmt.Sprintf("killed by signal %v", status.Signal())
			} else {
				result.ExitCode = status.ExitStatus()
			}
			return result
		}
		result.State = execer.FAILED
		result.Error = "could not find WaitStatus from exiterr.Sys()"
		return result
	}

	result.State = execer.FAILED
	result.Error = err.Error()
	return result
}

// Abort attempts to SIGTERM the process, allowing for graceful exit,
// and SIGKILLs the process group after the abort timeout.
func (p *process) Abort() execer.ProcessStatus {
	p.mutex.Lock()
	if p.result != nil {
		defer p.mutex.Unlock()
		return *p.result
	}
	p.result = &execer.ProcessStatus{
		State:    execer.FAILED,
		ExitCode: int(cerrors.AbortedExitCode),
		Error:    "Aborted",
	}
	waiting := p.waiting
	p.mutex.Unlock()

	pid := p.cmd.Process.Pid
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.WithFields(log.Fields{
			"pid":   pid,
			"error": err,
			"jobID": p.JobID,
			"runID": p.RunID,
		}).Error("Error aborting process via SIGTERM")
		p.killAndWait("SIGTERM failed, killing")
		p.mutex.Lock()
		defer p.mutex.Unlock()
		return *p.result
	}

	log.WithFields(log.Fields{
		"pid":   pid,
		"jobID": p.JobID,
		"runID": p.RunID,
	}).Info("Aborting process via SIGTERM")

	// Wait on the process if nothing has claimed it yet; calling cmd.Wait()
	// twice is an immediate error, so if Wait() is already in flight just
	// poll for the recorded ProcessState.
	done := make(chan struct{})
	if !waiting {
		go func() {
			p.cmd.Wait()
			close(done)
		}()
	} else {
		go func() {
			for {
				if p.cmd.ProcessState != nil {
					close(done)
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}

	select {
	case <-done:
		log.WithFields(log.Fields{
			"pid":   pid,
			"jobID": p.JobID,
			"runID": p.RunID,
		}).Info("Process finished via SIGTERM")
	case <-time.After(p.ats):
		p.killAndWait(fmt.Sprintf("%v abort timeout exceeded, killing", p.ats))
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	return *p.result
}

// killAndWait SIGKILLs the process and its whole process group.
func (p *process) killAndWait(reason string) {
	pid := p.cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		log.WithFields(log.Fields{
			"pid":   pid,
			"error": err,
			"jobID": p.JobID,
			"runID": p.RunID,
		}).Error("Error finding pgid")
	} else {
		defer cleanupProcs(pgid)
	}

	log.WithFields(log.Fields{
		"pid":   pid,
		"jobID": p.JobID,
		"runID": p.RunID,
	}).Info(reason)

	if err := p.cmd.Process.Kill(); err != nil {
		p.mutex.Lock()
		p.result.Error += fmt.Sprintf(" (couldn't kill process: %s)", err)
		p.mutex.Unlock()
	}
	p.cmd.Process.Wait()
}
