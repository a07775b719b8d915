package execer

import (
	"fmt"
	"io"
)

// Execer lets you start one Unix command. The launcher hands every task off
// to a detached process, so an Execer only has to start, reap and abort.
// It's at the level of os/exec, not exec-as-a-service.

type Command struct {
	Argv []string
	Dir  string

	// Added to the parent environment.
	EnvVars map[string]string

	// Nil discards the output.
	Stdout io.Writer
	Stderr io.Writer

	// Logged with the process, ex: the task id or the executor name.
	Tag string
}

func (c Command) String() string {
	return fmt.Sprintf("%q (tag %s)", c.Argv, c.Tag)
}

type ProcessState int

const (
	UNKNOWN ProcessState = iota
	RUNNING
	COMPLETE
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
		panic(fmt.Sprintf("Unexpected ProcessState %d", int(s)))
	}
}

type Execer interface {
	Exec(command Command) (Process, error)
}

type Process interface {
	Pid() int
	Wait() ProcessStatus
	Abort() ProcessStatus
}

type ProcessStatus struct {
	State    ProcessState
	ExitCode int
	Error    string
}

func (s ProcessStatus) String() string {
	return fmt.Sprintf("%s exit=%d %s", s.State, s.ExitCode, s.Error)
}
