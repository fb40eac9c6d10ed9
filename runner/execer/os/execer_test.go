package os

import (
	"bytes"
	"testing"
	"time"

	"github.com/Willam-Ni/easyFL/runner/execer"
)

func TestExecEcho(t *testing.T) {
	var stdout, stderr bytes.Buffer
	st := execAndWait(t, execer.Command{
		Argv:   []string{"sh", "-c", "printf hello"},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if st.State != execer.COMPLETE || st.ExitCode != 0 {
		t.Fatalf("status: %v", st)
	}
	if stdout.String() != "hello" {
		t.Fatalf("stdout: got %q", stdout.String())
	}
}

func TestExecExitCode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	st := execAndWait(t, execer.Command{
		Argv:   []string{"sh", "-c", "exit 7"},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if st.State != execer.COMPLETE || st.ExitCode != 7 {
		t.Fatalf("status: %v", st)
	}
}

func TestExecEnvVars(t *testing.T) {
	var stdout, stderr bytes.Buffer
	st := execAndWait(t, execer.Command{
		Argv:    []string{"sh", "-c", "printf %s \"$CUDA_VISIBLE_DEVICES\""},
		EnvVars: map[string]string{"CUDA_VISIBLE_DEVICES": "2"},
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	if st.State != execer.COMPLETE || st.ExitCode != 0 {
		t.Fatalf("status: %v", st)
	}
	if stdout.String() != "2" {
		t.Fatalf("stdout: got %q", stdout.String())
	}
}

func TestExecMissingArgv(t *testing.T) {
	e := NewExecer()
	if _, err := e.Exec(execer.Command{}); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestAbortKillsProcess(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := NewExecer()
	p, err := e.Exec(execer.Command{
		Argv:   []string{"sh", "-c", "sleep 60"},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan execer.ProcessStatus, 1)
	go func() { done <- p.Abort() }()
	select {
	case st := <-done:
		if st.State != execer.FAILED {
			t.Fatalf("abort status: %v", st)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("abort did not return")
	}
}

// A command-level abort timeout bounds how long a SIGTERM-ignoring process
// can linger before the process group is killed.
func TestAbortTimeoutOverride(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := NewExecer()
	p, err := e.Exec(execer.Command{
		Argv:         []string{"sh", "-c", "trap '' TERM; sleep 60"},
		AbortTimeout: 100 * time.Millisecond,
		Stdout:       &stdout,
		Stderr:       &stderr,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Let the shell install its trap before we signal it.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	st := p.Abort()
	if st.State != execer.FAILED {
		t.Fatalf("abort status: %v", st)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("abort took %v, timeout override was not applied", elapsed)
	}
}

func TestAbortWhileWaiting(t *testing.T) {
	var stdout, stderr bytes.Buffer
	e := NewExecer()
	p, err := e.Exec(execer.Command{
		Argv:   []string{"sh", "-c", "sleep 60"},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		t.Fatal(err)
	}

	waited := make(chan execer.ProcessStatus, 1)
	go func() { waited <- p.Wait() }()
	// Give the Wait goroutine a moment to get into cmd.Wait.
	time.Sleep(100 * time.Millisecond)

	st := p.Abort()
	if st.State != execer.FAILED {
		t.Fatalf("abort status: %v", st)
	}
	select {
	case wst := <-waited:
		if !wst.State.IsDone() {
			t.Fatalf("wait status: %v", wst)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("wait did not return after abort")
	}
}

func execAndWait(t *testing.T, cmd execer.Command) execer.ProcessStatus {
	t.Helper()
	e := NewExecer()
	p, err := e.Exec(cmd)
	if err != nil {
		t.Fatal(err)
	}
	return p.Wait()
}
