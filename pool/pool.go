// Package pool tracks the slots of a batch allocation and hands out
// contiguous slot ranges to tasks.
package pool

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/hosts"
)

var (
	// ErrSlotOccupied is returned when occupying a range that is not entirely free.
	ErrSlotOccupied = errors.New("slot is not free")

	// ErrTaskNotFound is returned when releasing a task that holds no slots.
	ErrTaskNotFound = errors.New("no slots held by task")

	// ErrForeignLocator is returned for a locator handed out by another pool.
	ErrForeignLocator = errors.New("locator belongs to a different pool")
)

// Pool is a fixed, ordered set of slots plus the Executor that launches
// commands on them. It is driven by a single control loop and does no locking.
type Pool struct {
	slots       []*Slot
	executor    Executor
	occupancies []int
	stat        stats.StatsReceiver
}

// NewPool creates one slot per location, in order, and runs the executor's
// SetupOnResource on each of them.
func NewPool(locations []hosts.Location, executor Executor, stat stats.StatsReceiver) (*Pool, error) {
	if len(locations) == 0 {
		return nil, errors.New("pool needs at least one slot")
	}
	if executor == nil {
		return nil, errors.New("pool needs an executor")
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	p := &Pool{
		slots:    make([]*Slot, 0, len(locations)),
		executor: executor,
		stat:     stat.Scope("pool"),
	}
	for i, loc := range locations {
		slot := &Slot{index: i, loc: loc, taskID: NoTask}
		if err := executor.SetupOnResource(slot); err != nil {
			return nil, errors.Wrapf(err, "setting up slot %d on %s", i, loc.Host)
		}
		p.slots = append(p.slots, slot)
	}
	p.stat.Gauge(stats.PoolSizeGauge).Update(int64(len(p.slots)))
	log.WithFields(log.Fields{
		"size": len(p.slots),
	}).Info("created pool")
	return p, nil
}

func (p *Pool) Size() int          { return len(p.slots) }
func (p *Pool) Executor() Executor { return p.executor }
func (p *Pool) Slot(i int) *Slot   { return p.slots[i] }

// RequestSlots finds the first window of n consecutive free slots. When the
// window runs into an occupied slot the search restarts just past it.
func (p *Pool) RequestSlots(n int) (*Locator, bool) {
	if n <= 0 || n > len(p.slots) {
		return nil, false
	}
	start := 0
	for start+n <= len(p.slots) {
		blocked := -1
		for i := start; i < start+n; i++ {
			if !p.slots[i].IsFree() {
				blocked = i
				break
			}
		}
		if blocked < 0 {
			loc := &Locator{pool: p, offset: start, extent: n}
			log.WithFields(log.Fields{
				"request": n,
				"offset":  start,
			}).Debug("found slots")
			return loc, true
		}
		start = blocked + 1
	}
	p.stat.Counter(stats.PoolNoFitCounter).Inc(1)
	log.WithFields(log.Fields{
		"request": n,
	}).Debug("no contiguous slots")
	return nil, false
}

// Occupy marks every slot of loc as held by taskID. Nothing changes if any
// slot in the range is already taken.
func (p *Pool) Occupy(loc *Locator, taskID int) error {
	if loc.pool != p {
		return ErrForeignLocator
	}
	for i := 0; i < loc.extent; i++ {
		if s := loc.Slot(i); !s.IsFree() {
			return errors.Wrapf(ErrSlotOccupied, "occupying slot %d for task %d, held by task %d", s.index, taskID, s.taskID)
		}
	}
	for i := 0; i < loc.extent; i++ {
		loc.Slot(i).occupy(taskID)
	}
	log.WithFields(log.Fields{
		"taskID": taskID,
		"offset": loc.offset,
		"extent": loc.extent,
	}).Debug("occupied slots")
	return nil
}

// ReleaseByTask frees every slot held by taskID.
func (p *Pool) ReleaseByTask(taskID int) error {
	released := 0
	for _, s := range p.slots {
		if !s.IsFree() && s.taskID == taskID {
			s.release()
			released++
		}
	}
	if released == 0 {
		return errors.Wrapf(ErrTaskNotFound, "releasing task %d", taskID)
	}
	log.WithFields(log.Fields{
		"taskID": taskID,
		"slots":  released,
	}).Debug("released slots")
	return nil
}

// Occupancy is the number of occupied slots right now.
func (p *Pool) Occupancy() int {
	n := 0
	for _, s := range p.slots {
		if !s.IsFree() {
			n++
		}
	}
	return n
}

// RecordOccupancy takes the per-tick snapshot used by the final report.
func (p *Pool) RecordOccupancy() {
	n := p.Occupancy()
	p.occupancies = append(p.occupancies, n)
	p.stat.Gauge(stats.PoolOccupancyGauge).Update(int64(n))
	p.stat.GaugeFloat(stats.PoolUtilizationGauge).Update(float64(n) / float64(len(p.slots)))
}

func (p *Pool) MaxOccupancy() int {
	max := 0
	for _, n := range p.occupancies {
		if n > max {
			max = n
		}
	}
	return max
}

func (p *Pool) AverageOccupancy() float64 {
	if len(p.occupancies) == 0 {
		return 0
	}
	sum := 0
	for _, n := range p.occupancies {
		sum += n
	}
	return float64(sum) / float64(len(p.occupancies))
}

// Unused counts slots that never ran a task.
func (p *Pool) Unused() int {
	n := 0
	for _, s := range p.slots {
		if !s.used {
			n++
		}
	}
	return n
}

// Display renders one token per slot: the occupying task id, or X.
func (p *Pool) Display() string {
	tokens := make([]string, len(p.slots))
	for i, s := range p.slots {
		if s.IsFree() {
			tokens[i] = "X"
		} else {
			tokens[i] = strconv.Itoa(s.taskID)
		}
	}
	return strings.Join(tokens, " ")
}

// Release undoes per-slot setup and terminates the executor.
func (p *Pool) Release() error {
	var firstErr error
	for _, s := range p.slots {
		if err := p.executor.ReleaseFromResource(s); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "releasing slot %d", s.index)
		}
	}
	if err := p.executor.Terminate(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "terminating executor")
	}
	log.Info("released pool")
	return firstErr
}

// FinalReport summarizes how the pool was used over the run.
func (p *Pool) FinalReport() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Host pool of size %d.\n\n", len(p.slots))
	fmt.Fprintf(&b, "Number of tasks executed:\n")
	fmt.Fprintf(&b, "max: %d\n", p.MaxOccupancy())
	fmt.Fprintf(&b, "avg: %.2f\n", p.AverageOccupancy())
	fmt.Fprintf(&b, "unused cores: %d\n", p.Unused())
	return b.String()
}

func (p *Pool) String() string {
	return spew.Sprintf("%v", p.slots)
}
