// Package queue partitions the tasks of a launcher job into queued, running,
// completed and aborted, and packs queued tasks onto free pool slots.
package queue

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/pool"
	"github.com/twitter/launcher/source"
	"github.com/twitter/launcher/task"
)

// TaskQueue is owned by the job loop and is not safe for concurrent use.
type TaskQueue struct {
	queued    []*task.Task
	running   []*task.Task
	completed []*task.Task
	aborted   []*task.Task
	maxSimul  int
	stat      stats.StatsReceiver
}

func NewTaskQueue(stat stats.StatsReceiver) *TaskQueue {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &TaskQueue{stat: stat.Scope("queue")}
}

// Enqueue appends a freshly created task.
func (q *TaskQueue) Enqueue(t *task.Task) error {
	if t.State() != task.QUEUED {
		return errors.Wrapf(task.ErrBadTransition, "enqueueing task %d in state %s", t.ID(), t.State())
	}
	q.queued = append(q.queued, t)
	log.WithFields(log.Fields{
		"taskID":  t.ID(),
		"size":    t.Size(),
		"command": t.Command(),
	}).Debug("enqueued task")
	q.updateStats()
	return nil
}

// AdmitIfPossible starts queued tasks, largest first, wherever the pool has
// room. Once a size fails to fit, nothing of that size or larger is tried
// again in the same pass. It returns the number of tasks started.
func (q *TaskQueue) AdmitIfPossible(ctx context.Context, p *pool.Pool, tick int) (int, error) {
	defer q.stat.Latency(stats.QueueAdmitLatency_ms).Time().Stop()
	candidates := make([]*task.Task, len(q.queued))
	copy(candidates, q.queued)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Size() > candidates[j].Size()
	})

	started := 0
	bound := p.Size()
	for _, t := range candidates {
		if bound == 0 {
			break
		}
		if t.Size() > bound {
			continue
		}
		loc, ok := p.RequestSlots(t.Size())
		if !ok {
			log.WithFields(log.Fields{
				"taskID": t.ID(),
				"size":   t.Size(),
			}).Debug("could not find gap")
			bound = t.Size() - 1
			continue
		}
		if err := p.Occupy(loc, t.ID()); err != nil {
			return started, err
		}
		if err := t.Start(ctx, loc, tick); err != nil {
			if rerr := p.ReleaseByTask(t.ID()); rerr != nil {
				log.WithFields(log.Fields{
					"taskID": t.ID(),
					"err":    rerr,
				}).Error("releasing slots of failed task")
			}
			return started, err
		}
		q.queued = removeTask(q.queued, t)
		q.running = append(q.running, t)
		if len(q.running) > q.maxSimul {
			q.maxSimul = len(q.running)
		}
		started++
		q.stat.Counter(stats.QueueStartedCounter).Inc(1)
		log.WithFields(log.Fields{
			"taskID":  t.ID(),
			"locator": loc,
			"tick":    tick,
		}).Info("started task")
	}
	q.updateStats()
	return started, nil
}

// ReapOneCompleted moves the first running task, in start order, whose
// completion is observed to the completed list. Returns nil if none.
func (q *TaskQueue) ReapOneCompleted() (*task.Task, error) {
	for _, t := range q.running {
		if !t.HasCompleted() {
			continue
		}
		if err := t.Complete(); err != nil {
			return nil, err
		}
		q.running = removeTask(q.running, t)
		q.completed = append(q.completed, t)
		log.WithFields(log.Fields{
			"taskID":      t.ID(),
			"runningTime": t.RunningTime(),
		}).Info("task completed")
		q.updateStats()
		return t, nil
	}
	return nil, nil
}

// ReapOneAborted moves the first running task matching expired to the
// aborted list. Returns nil if none.
func (q *TaskQueue) ReapOneAborted(expired func(*task.Task) bool) (*task.Task, error) {
	for _, t := range q.running {
		if !expired(t) {
			continue
		}
		if err := t.Abort(); err != nil {
			return nil, err
		}
		q.running = removeTask(q.running, t)
		q.aborted = append(q.aborted, t)
		log.WithFields(log.Fields{
			"taskID":    t.ID(),
			"startTick": t.StartTick(),
		}).Warn("task aborted")
		q.updateStats()
		return t, nil
	}
	return nil, nil
}

// BudgetExceeded matches tasks that have been running for more than
// budget ticks at tick. A budget of zero never matches.
func BudgetExceeded(tick, budget int) func(*task.Task) bool {
	return func(t *task.Task) bool {
		return budget > 0 && tick-t.StartTick() > budget
	}
}

// IsEmpty is true when nothing is queued or running.
func (q *TaskQueue) IsEmpty() bool {
	return len(q.queued) == 0 && len(q.running) == 0
}

func (q *TaskQueue) Queued() []*task.Task    { return copyTasks(q.queued) }
func (q *TaskQueue) Running() []*task.Task   { return copyTasks(q.running) }
func (q *TaskQueue) Completed() []*task.Task { return copyTasks(q.completed) }
func (q *TaskQueue) Aborted() []*task.Task   { return copyTasks(q.aborted) }

// MaxSimultaneous is the largest number of tasks that were running at once.
func (q *TaskQueue) MaxSimultaneous() int { return q.maxSimul }

// SaveState renders the restart snapshot: each section header followed by
// one source.StateLine per task.
func (q *TaskQueue) SaveState() string {
	var b bytes.Buffer
	for _, section := range []struct {
		header string
		tasks  []*task.Task
	}{
		{"queued", q.queued},
		{"running", q.running},
		{"completed", q.completed},
	} {
		b.WriteString(section.header + "\n")
		for _, t := range section.tasks {
			b.WriteString(source.StateLine(t.ID(), t.Size(), t.Command()) + "\n")
		}
	}
	return b.String()
}

// Summary lists the ids in each collection as compact ranges.
func (q *TaskQueue) Summary() string {
	var b bytes.Buffer
	for _, section := range []struct {
		name  string
		tasks []*task.Task
	}{
		{"completed", q.completed},
		{"aborted", q.aborted},
		{"queued", q.queued},
		{"running", q.running},
	} {
		ids := taskIDs(section.tasks)
		fmt.Fprintf(&b, "%-9s %3d jobs: %s\n", section.name, len(ids), CompactIntList(ids))
	}
	return b.String()
}

// FinalReport describes the running times of completed tasks and the
// speedup over runtime, against the ideal speedup.
func (q *TaskQueue) FinalReport(runtime time.Duration, idealSpeedup float64) string {
	var max, sum time.Duration
	for _, t := range q.completed {
		rt := t.RunningTime()
		sum += rt
		if rt > max {
			max = rt
		}
	}
	var avg, speedup float64
	if n := len(q.completed); n > 0 {
		avg = sum.Seconds() / float64(n)
		if runtime > 0 {
			speedup = sum.Seconds() / runtime.Seconds()
		}
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "tasks completed: %d\n", len(q.completed))
	fmt.Fprintf(&b, "tasks aborted: %d\n", len(q.aborted))
	fmt.Fprintf(&b, "max runningtime: %6.2f\n", max.Seconds())
	fmt.Fprintf(&b, "avg runningtime: %6.2f\n", avg)
	fmt.Fprintf(&b, "aggregate      : %6.2f\n", sum.Seconds())
	fmt.Fprintf(&b, "speedup        : %6.2f\n", speedup)
	fmt.Fprintf(&b, "out of ideal   : %6.2f\n", idealSpeedup)
	return b.String()
}

func (q *TaskQueue) updateStats() {
	q.stat.Gauge(stats.QueueQueuedGauge).Update(int64(len(q.queued)))
	q.stat.Gauge(stats.QueueRunningGauge).Update(int64(len(q.running)))
	q.stat.Gauge(stats.QueueMaxSimultaneousGauge).Update(int64(q.maxSimul))
}

// CompactIntList renders sorted integers with consecutive runs collapsed,
// ex: [1 2 3 5] is "1-3 5".
func CompactIntList(ints []int) string {
	var parts []string
	for i := 0; i < len(ints); {
		j := i
		for j+1 < len(ints) && ints[j+1] == ints[j]+1 {
			j++
		}
		if j == i {
			parts = append(parts, strconv.Itoa(ints[i]))
		} else {
			parts = append(parts, strconv.Itoa(ints[i])+"-"+strconv.Itoa(ints[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, " ")
}

func taskIDs(tasks []*task.Task) []int {
	ids := make([]int, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID()
	}
	sort.Ints(ids)
	return ids
}

func removeTask(tasks []*task.Task, t *task.Task) []*task.Task {
	for i, other := range tasks {
		if other == t {
			return append(tasks[:i:i], tasks[i+1:]...)
		}
	}
	return tasks
}

func copyTasks(tasks []*task.Task) []*task.Task {
	out := make([]*task.Task, len(tasks))
	copy(out, tasks)
	return out
}
