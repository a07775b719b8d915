package task

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// A Completion decides, by polling a side effect, whether a detached
// command has finished.
type Completion interface {
	// Attach returns command extended with whatever produces the side effect.
	Attach(command string) string

	// Test reports whether the command has finished.
	Test() bool
}

// CompletionFactory builds the Completion for a task when it starts.
type CompletionFactory func(taskID int, start time.Time) Completion

// StampName is the marker created when a task finishes, successfully or not.
func StampName(workdir string, taskID int) string {
	return filepath.Join(workdir, fmt.Sprintf("expire%d", taskID))
}

// SuccessName is the marker created only when a task exits zero.
func SuccessName(workdir string, taskID int) string {
	return filepath.Join(workdir, fmt.Sprintf("success%d", taskID))
}

func stampExists(path string, taskID int) bool {
	_, err := os.Stat(path)
	if err != nil {
		return false
	}
	log.WithFields(log.Fields{
		"taskID": taskID,
		"stamp":  path,
	}).Debug("stamp file detected")
	return true
}

// WrapCompletion chains the creation of the stamp file, and of the success
// file on a zero exit, onto the command itself.
type WrapCompletion struct {
	taskID  int
	workdir string
}

func NewWrapCompletion(taskID int, workdir string) *WrapCompletion {
	return &WrapCompletion{taskID: taskID, workdir: workdir}
}

func (c *WrapCompletion) Attach(command string) string {
	stamp := StampName(c.workdir, c.taskID)
	if strings.TrimSpace(command) == "" {
		return "touch " + stamp
	}
	return fmt.Sprintf("( %s ) && touch %s ; touch %s", command, SuccessName(c.workdir, c.taskID), stamp)
}

func (c *WrapCompletion) Test() bool {
	return stampExists(StampName(c.workdir, c.taskID), c.taskID)
}

// Succeeded reports whether the success file exists.
func (c *WrapCompletion) Succeeded() bool {
	_, err := os.Stat(SuccessName(c.workdir, c.taskID))
	return err == nil
}

// BareCompletion leaves the command alone and expects something else, ex: a
// batch job script, to create the stamp file.
type BareCompletion struct {
	taskID  int
	workdir string
}

func NewBareCompletion(taskID int, workdir string) *BareCompletion {
	return &BareCompletion{taskID: taskID, workdir: workdir}
}

func (c *BareCompletion) Attach(command string) string { return command }

func (c *BareCompletion) Test() bool {
	return stampExists(StampName(c.workdir, c.taskID), c.taskID)
}

// TimedCompletion considers a task done once maxRuntime has passed.
type TimedCompletion struct {
	start      time.Time
	maxRuntime time.Duration
	now        func() time.Time
}

func NewTimedCompletion(start time.Time, maxRuntime time.Duration, now func() time.Time) *TimedCompletion {
	if now == nil {
		now = time.Now
	}
	return &TimedCompletion{start: start, maxRuntime: maxRuntime, now: now}
}

func (c *TimedCompletion) Attach(command string) string { return command }

func (c *TimedCompletion) Test() bool {
	return c.maxRuntime > 0 && c.now().Sub(c.start) > c.maxRuntime
}

func WrapFactory(workdir string) CompletionFactory {
	return func(taskID int, _ time.Time) Completion { return NewWrapCompletion(taskID, workdir) }
}

func BareFactory(workdir string) CompletionFactory {
	return func(taskID int, _ time.Time) Completion { return NewBareCompletion(taskID, workdir) }
}

func TimedFactory(maxRuntime time.Duration, now func() time.Time) CompletionFactory {
	return func(_ int, start time.Time) Completion { return NewTimedCompletion(start, maxRuntime, now) }
}
