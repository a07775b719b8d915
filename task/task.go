// Package task holds one schedulable command and tracks it from the queue
// through launch to completion or abandonment.
package task

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/launcher/pool"
	"github.com/twitter/launcher/source"
)

type State int

const (
	// An unambiguous 0-value.
	UNKNOWN State = iota
	// Waiting for slots.
	QUEUED
	// Handed to the executor.
	RUNNING

	// States below are end states

	// The completion side effect was observed.
	COMPLETED
	// Ran past its budget and was abandoned. The process is not killed.
	ABORTED
)

func (s State) IsDone() bool {
	return s == COMPLETED || s == ABORTED
}

func (s State) String() string {
	switch s {
	case UNKNOWN:
		return "UNKNOWN"
	case QUEUED:
		return "QUEUED"
	case RUNNING:
		return "RUNNING"
	case COMPLETED:
		return "COMPLETED"
	case ABORTED:
		return "ABORTED"
	default:
		panic(fmt.Sprintf("Unexpected task State %v", int(s)))
	}
}

// Placeholders substituted in the command text when a task starts.
const (
	IDPlaceholder      = "PYL_ID"
	AltIDPlaceholder   = "PYLTID"
	MPIExecPlaceholder = "PYL_MPIEXEC"
)

var (
	nestedSrun = regexp.MustCompile(`\bsrun\b`)

	// ErrNestedParallelism rejects commands that would start their own srun.
	ErrNestedParallelism = errors.New("nested parallelism using srun")

	// ErrBadTransition is returned for a state change the task does not allow.
	ErrBadTransition = errors.New("invalid task state transition")
)

// Options shared by all tasks of a job.
type Options struct {
	// Builds the completion when the task starts. Required.
	Completion CompletionFactory

	// Replaces MPIExecPlaceholder for the task's slot range, when set.
	MPIPrefix func(loc *pool.Locator) string

	// Defaults to time.Now.
	Now func() time.Time
}

type Task struct {
	id      int
	command string
	size    int
	opts    Options

	state       State
	locator     *pool.Locator
	completion  Completion
	actual      string
	startTime   time.Time
	startTick   int
	runningTime time.Duration
	timed       bool
}

// New creates a queued task for commandline cl.
func New(id int, cl source.Commandline, opts Options) (*Task, error) {
	if err := cl.Validate(); err != nil {
		return nil, err
	}
	if nestedSrun.MatchString(cl.Command) {
		return nil, errors.Wrapf(ErrNestedParallelism, "in line %q", cl.Command)
	}
	if opts.Completion == nil {
		return nil, errors.New("task needs a completion factory")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Task{
		id:      id,
		command: cl.Command,
		size:    cl.Cores,
		opts:    opts,
		state:   QUEUED,
	}, nil
}

func (t *Task) ID() int                    { return t.id }
func (t *Task) Command() string            { return t.command }
func (t *Task) Size() int                  { return t.size }
func (t *Task) State() State               { return t.state }
func (t *Task) Locator() *pool.Locator     { return t.locator }
func (t *Task) StartTick() int             { return t.startTick }
func (t *Task) StartTime() time.Time       { return t.startTime }
func (t *Task) RunningTime() time.Duration { return t.runningTime }

// ActualCommand is the command after placeholder substitution, without
// the completion attached.
func (t *Task) ActualCommand() string { return t.actual }

func (t *Task) expand(loc *pool.Locator) string {
	id := strconv.Itoa(t.id)
	line := strings.ReplaceAll(t.command, IDPlaceholder, id)
	line = strings.ReplaceAll(line, AltIDPlaceholder, id)
	if t.opts.MPIPrefix != nil && strings.Contains(line, MPIExecPlaceholder) {
		line = strings.ReplaceAll(line, MPIExecPlaceholder, t.opts.MPIPrefix(loc))
	}
	return line
}

// Start launches the task on the slots of loc through the pool's executor.
// The executor returns as soon as the command is handed off.
func (t *Task) Start(ctx context.Context, loc *pool.Locator, tick int) error {
	if t.state != QUEUED {
		return errors.Wrapf(ErrBadTransition, "starting task %d in state %s", t.id, t.state)
	}
	if loc.Extent() != t.size {
		return errors.Errorf("task %d needs %d slots, got %d", t.id, t.size, loc.Extent())
	}
	now := t.opts.Now()
	t.completion = t.opts.Completion(t.id, now)
	t.actual = t.expand(loc)
	wrapped := t.completion.Attach(t.actual)

	log.WithFields(log.Fields{
		"taskID":  t.id,
		"size":    t.size,
		"locator": loc,
		"tick":    tick,
		"command": wrapped,
	}).Debug("starting task")

	if err := loc.Pool().Executor().Execute(ctx, wrapped, loc, t.id); err != nil {
		t.completion = nil
		return errors.Wrapf(err, "executing task %d", t.id)
	}
	t.locator = loc
	t.startTime = now
	t.startTick = tick
	t.state = RUNNING
	return nil
}

// HasCompleted polls the completion. The running time is fixed the first
// time it reports true.
func (t *Task) HasCompleted() bool {
	if t.state != RUNNING && t.state != COMPLETED {
		return false
	}
	if t.state == COMPLETED {
		return true
	}
	done := t.completion.Test()
	if done && !t.timed {
		t.stopClock()
		log.WithFields(log.Fields{
			"taskID":      t.id,
			"runningTime": t.runningTime,
		}).Debug("task completed")
	}
	return done
}

// Complete moves a running task whose completion was observed to COMPLETED.
func (t *Task) Complete() error {
	if t.state != RUNNING {
		return errors.Wrapf(ErrBadTransition, "completing task %d in state %s", t.id, t.state)
	}
	t.state = COMPLETED
	return nil
}

// Abort abandons a running task. Its process is left alone.
func (t *Task) Abort() error {
	if t.state != RUNNING {
		return errors.Wrapf(ErrBadTransition, "aborting task %d in state %s", t.id, t.state)
	}
	if !t.timed {
		t.stopClock()
	}
	t.state = ABORTED
	return nil
}

func (t *Task) stopClock() {
	t.runningTime = t.opts.Now().Sub(t.startTime)
	t.timed = true
}

func (t *Task) String() string {
	return fmt.Sprintf("Task id=%d, cmd=<<%s>>, size=%d, state=%s", t.id, t.command, t.size, t.state)
}
