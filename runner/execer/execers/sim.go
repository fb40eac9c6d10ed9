// Package execers provides execer.Execer implementations for tests.
package execers

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Willam-Ni/easyFL/runner/execer"
)

func NewSimExecer() *SimExecer {
	return &SimExecer{resumeCh: make(chan struct{})}
}

// SimExecer execs by simulating running argv. Each arg in command.Argv is
// simulated in order. Valid args are:
//
//	complete <exitcode int>
//	  terminate with exitcode
//	pause
//	  block until SimExecer.Resume() is called
//	sleep <millis int>
//	  sleep for millis milliseconds
//	stdout <message>
//	  write <message> to the command's stdout
//	failonce <exitcode int>
//	  terminate with exitcode the first time this exact argv is run,
//	  no-op on every later run (for retry tests)
type SimExecer struct {
	resumeCh chan struct{}

	mu   sync.Mutex
	seen map[string]int
}

// Exec starts simulating command and returns a simProcess for it.
func (e *SimExecer) Exec(command execer.Command) (execer.Process, error) {
	steps, err := e.parse(command)
	if err != nil {
		return nil, err
	}
	p := &simProcess{stdout: command.Stdout}
	p.done = sync.NewCond(&p.mu)
	p.status.State = execer.RUNNING
	go p.run(steps)
	return p, nil
}

// Resume unblocks one pending "pause" step.
func (e *SimExecer) Resume() {
	e.resumeCh <- struct{}{}
}

func (e *SimExecer) parse(command execer.Command) (steps []simStep, err error) {
	for _, arg := range command.Argv {
		s, err := e.parseArg(arg, strings.Join(command.Argv, "|"))
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func (e *SimExecer) parseArg(arg, argvKey string) (simStep, error) {
	if strings.HasPrefix(arg, "#") {
		return &noopStep{}, nil
	}
	splits := strings.SplitN(arg, " ", 2)
	opcode, rest := splits[0], ""
	if len(splits) == 2 {
		rest = splits[1]
	}
	switch opcode {
	case "complete":
		i, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("error parsing <n> in complete <n>: %s", err)
		}
		return &completeStep{i}, nil
	case "pause":
		return &pauseStep{e.resumeCh}, nil
	case "sleep":
		i, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("error parsing <n> in sleep <n>: %s", err)
		}
		return &sleepStep{time.Duration(i) * time.Millisecond}, nil
	case "stdout":
		return &stdoutStep{rest}, nil
	case "failonce":
		i, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("error parsing <n> in failonce <n>: %s", err)
		}
		return &failOnceStep{exitCode: i, key: argvKey, e: e}, nil
	}
	return nil, fmt.Errorf("can't simulate arg: %v", arg)
}

type simProcess struct {
	status execer.ProcessStatus
	done   *sync.Cond
	mu     sync.Mutex

	stdout io.Writer
}

func (p *simProcess) Wait() execer.ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.status.State.IsDone() {
		p.done.Wait()
	}
	return p.status
}

func (p *simProcess) Abort() execer.ProcessStatus {
	st := execer.ProcessStatus{State: execer.FAILED, ExitCode: -1, Error: "Aborted"}
	p.setStatus(st)
	return st
}

func (p *simProcess) setStatus(status execer.ProcessStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State.IsDone() {
		return
	}
	p.status = status
	if p.status.State.IsDone() {
		p.done.Broadcast()
	}
}

func (p *simProcess) getStatus() execer.ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *simProcess) run(steps []simStep) {
	for _, step := range steps {
		status := p.getStatus()
		if status.State.IsDone() {
			break
		}
		p.setStatus(step.run(status, p))
	}
}

type simStep interface {
	run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus
}

type completeStep struct {
	exitCode int
}

func (s *completeStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	status.ExitCode = s.exitCode
	status.State = execer.COMPLETE
	return status
}

type failOnceStep struct {
	exitCode int
	key      string
	e        *SimExecer
}

func (s *failOnceStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	s.e.mu.Lock()
	if s.e.seen == nil {
		s.e.seen = map[string]int{}
	}
	n := s.e.seen[s.key]
	s.e.seen[s.key] = n + 1
	s.e.mu.Unlock()
	if n == 0 {
		status.ExitCode = s.exitCode
		status.State = execer.COMPLETE
	}
	return status
}

type pauseStep struct {
	ch chan struct{}
}

func (s *pauseStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	abortCh := make(chan struct{})
	go func() {
		// Waits until this process is stopped (by being aborted).
		p.Wait()
		close(abortCh)
	}()
	// Wait for the first of being aborted or SimExecer.Resume().
	select {
	case <-abortCh:
	case <-s.ch:
	}
	return status
}

type sleepStep struct {
	duration time.Duration
}

func (s *sleepStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	time.Sleep(s.duration)
	return status
}

type stdoutStep struct {
	output string
}

func (s *stdoutStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	p.stdout.Write([]byte(s.output))
	return status
}

type noopStep struct{}

func (s *noopStep) run(status execer.ProcessStatus, p *simProcess) execer.ProcessStatus {
	return status
}
