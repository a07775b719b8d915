package fake

import (
	"sync"

	"github.com/twitter/launcher/executor/execer"
)

// Execer records every command and hands back processes that have already
// completed, unless Err is set.
type Execer struct {
	mu       sync.Mutex
	commands []execer.Command
	procs    []*Process

	// Returned by Exec instead of starting anything.
	Err error

	// Exit code of started processes.
	ExitCode int

	// Started processes stay RUNNING until aborted.
	Hang bool
}

func NewExecer() *Execer {
	return &Execer{}
}

func (e *Execer) Exec(command execer.Command) (execer.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	e.commands = append(e.commands, command)
	p := &Process{pid: 1000 + len(e.procs), done: make(chan struct{})}
	if e.Hang {
		p.status = execer.ProcessStatus{State: execer.RUNNING}
	} else {
		p.status = execer.ProcessStatus{State: execer.COMPLETE, ExitCode: e.ExitCode}
		close(p.done)
	}
	e.procs = append(e.procs, p)
	return p, nil
}

// Commands returns a copy of what was executed, in order.
func (e *Execer) Commands() []execer.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]execer.Command, len(e.commands))
	copy(out, e.commands)
	return out
}

// Processes returns a copy of the started processes, in order.
func (e *Execer) Processes() []*Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Process, len(e.procs))
	copy(out, e.procs)
	return out
}

type Process struct {
	mu      sync.Mutex
	pid     int
	status  execer.ProcessStatus
	done    chan struct{}
	aborted bool
}

func (p *Process) Pid() int { return p.pid }

func (p *Process) Wait() execer.ProcessStatus {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Process) Abort() execer.ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State.IsDone() {
		return p.status
	}
	p.aborted = true
	p.status = execer.ProcessStatus{State: execer.FAILED, ExitCode: -1, Error: "Aborted"}
	close(p.done)
	return p.status
}

// Aborted reports whether Abort stopped the process while it was running.
func (p *Process) Aborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborted
}
