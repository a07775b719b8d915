package pool

import (
	"fmt"

	"github.com/twitter/launcher/hosts"
)

// NoTask marks a free slot.
const NoTask = -1

// Slot is one schedulable unit of the pool, typically one core. Slots are
// owned by their Pool and only change through Pool operations.
type Slot struct {
	index  int
	loc    hosts.Location
	taskID int
	used   bool
	runs   int
}

func (s *Slot) Index() int               { return s.index }
func (s *Slot) Host() string             { return s.loc.Host }
func (s *Slot) Location() hosts.Location { return s.loc }
func (s *Slot) IsFree() bool             { return s.taskID == NoTask }

// TaskID is the occupying task, or NoTask.
func (s *Slot) TaskID() int { return s.taskID }

// Used reports whether any task ever ran on this slot.
func (s *Slot) Used() bool { return s.used }

// Runs is the number of tasks that finished on this slot.
func (s *Slot) Runs() int { return s.runs }

func (s *Slot) occupy(taskID int) {
	s.taskID = taskID
	s.used = true
}

func (s *Slot) release() {
	s.taskID = NoTask
	s.runs++
}

func (s *Slot) String() string {
	state := "free"
	if !s.IsFree() {
		state = fmt.Sprintf("task %d", s.taskID)
	}
	return fmt.Sprintf("slot %d on %s (%s)", s.index, s.loc, state)
}
