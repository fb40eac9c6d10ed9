package os

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/pkg/errors"

	cerrors "github.com/Willam-Ni/easyFL/common/errors"
	"github.com/Willam-Ni/easyFL/runner/execer"
)

// DefaultAbortTimeout is how long Abort waits after SIGTERM before SIGKILL
// when the command does not set its own timeout.
var DefaultAbortTimeout = 10 * time.Second

// Implements runner/execer.Execer by spawning real OS processes.
type osExecer struct{}

func NewExecer() *osExecer {
	return &osExecer{}
}

// Exec starts a command and returns a process wrapper for it.
func (e *osExecer) Exec(command execer.Command) (execer.Process, error) {
	if len(command.Argv) == 0 {
		return nil, errors.New("no command specified")
	}

	cmd := exec.Command(command.Argv[0], command.Argv[1:]...)
	cmd.Dir = command.Dir

	// Use the parent environment plus whatever additional env vars are provided.
	cmd.Env = os.Environ()
	for k, v := range command.EnvVars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// Sets pgid of all child processes to cmd's pid, so Abort can kill the
	// whole tree and leave no orphans.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Use pipes rather than handing writers to os/exec directly: a blocked
	// writer must not be able to hang process.Wait().
	stdErrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdOutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(command.Stderr, stdErrPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(command.Stdout, stdOutPipe)
	}()

	if err := cmd.Start(); err != nil {
		return nil, cerrors.NewError(errors.Wrap(err, "starting process"), cerrors.CouldNotExecExitCode)
	}

	log.WithFields(log.Fields{
		"pid":   cmd.Process.Pid,
		"argv":  command.Argv,
		"jobID": command.JobID,
		"runID": command.RunID,
	}).Debug("Started process")

	ats := command.AbortTimeout
	if ats <= 0 {
		ats = DefaultAbortTimeout
	}
	return &process{cmd: cmd, wg: &wg, ats: ats, LogTags: command.LogTags}, nil
}

// Kill process along with all child processes, assuming no child called setpgid.
func cleanupProcs(pgid int) error {
	log.WithFields(log.Fields{"pgid": pgid}).Info("Cleaning up pgid")
	err := syscall.Kill(-pgid, syscall.SIGKILL)
	if err != nil && err != syscall.ESRCH {
		log.WithFields(log.Fields{"pgid": pgid, "error": err}).Error("Error cleaning up pgid")
		return err
	}
	return nil
}
