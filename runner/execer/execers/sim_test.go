package execers

import (
	"bytes"
	"testing"

	"github.com/Willam-Ni/easyFL/runner/execer"
)

func TestSimComplete(t *testing.T) {
	ex := NewSimExecer()
	st := run(t, ex, nil, "complete 4")
	assertStatus(t, st, execer.COMPLETE, 4)
}

func TestSimStdout(t *testing.T) {
	ex := NewSimExecer()
	var out bytes.Buffer
	st := run(t, ex, &out, "stdout hello", "complete 0")
	assertStatus(t, st, execer.COMPLETE, 0)
	if out.String() != "hello" {
		t.Fatalf("stdout: got %q, want %q", out.String(), "hello")
	}
}

func TestSimPauseResume(t *testing.T) {
	ex := NewSimExecer()
	p, err := ex.Exec(execer.Command{Argv: []string{"pause", "complete 0"}})
	if err != nil {
		t.Fatal(err)
	}
	ex.Resume()
	assertStatus(t, p.Wait(), execer.COMPLETE, 0)
}

func TestSimAbortWhilePaused(t *testing.T) {
	ex := NewSimExecer()
	p, err := ex.Exec(execer.Command{Argv: []string{"pause", "complete 0"}})
	if err != nil {
		t.Fatal(err)
	}
	assertStatus(t, p.Abort(), execer.FAILED, -1)
	assertStatus(t, p.Wait(), execer.FAILED, -1)
}

func TestSimFailOnce(t *testing.T) {
	ex := NewSimExecer()
	argv := []string{"failonce 7", "complete 0"}
	st := run(t, ex, nil, argv...)
	assertStatus(t, st, execer.COMPLETE, 7)
	st = run(t, ex, nil, argv...)
	assertStatus(t, st, execer.COMPLETE, 0)
	// A different argv fails independently.
	st = run(t, ex, nil, "failonce 3", "complete 0")
	assertStatus(t, st, execer.COMPLETE, 3)
}

func TestSimBadArg(t *testing.T) {
	ex := NewSimExecer()
	if _, err := ex.Exec(execer.Command{Argv: []string{"explode"}}); err == nil {
		t.Fatal("expected parse error for unknown arg")
	}
}

func run(t *testing.T, ex *SimExecer, stdout *bytes.Buffer, argv ...string) execer.ProcessStatus {
	t.Helper()
	cmd := execer.Command{Argv: argv}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	p, err := ex.Exec(cmd)
	if err != nil {
		t.Fatal(err)
	}
	return p.Wait()
}

func assertStatus(t *testing.T, st execer.ProcessStatus, state execer.ProcessState, exitCode int) {
	t.Helper()
	if st.State != state || st.ExitCode != exitCode {
		t.Fatalf("status: got %v exit %d, want %v exit %d", st.State, st.ExitCode, state, exitCode)
	}
}
