// Package job runs the launcher's control loop: it pulls commands from a
// source, turns them into tasks, packs them onto the pool and reaps them
// as they complete or run out of budget.
//
// The loop is single threaded. Concurrency comes only from the commands
// themselves, which executors launch detached; each tick polls a cheap
// side effect instead of waiting on any of them.
package job

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	lerrors "github.com/twitter/launcher/common/errors"
	"github.com/twitter/launcher/common/log/hooks"
	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/pool"
	"github.com/twitter/launcher/queue"
	"github.com/twitter/launcher/source"
	"github.com/twitter/launcher/task"
)

func init() {
	if loglevel := os.Getenv("LAUNCHER_LOGLEVEL"); loglevel != "" {
		level, err := log.ParseLevel(loglevel)
		if err != nil {
			log.Error(err)
			return
		}
		log.SetLevel(level)
		log.AddHook(hooks.NewContextHook())
	}
}

// Job Config variables read at initialization
// Type - launcher type, only used in the final report.
// Delay - sleep between ticks.
// TaskMaxRuntime - a running task is aborted once more than this many
//     ticks have passed since it started. Zero disables.
// MaxRuntime - wall clock budget for Run. Zero disables.
// QueueState - restart snapshot path, rewritten every tick. Empty disables.
// UniformCores - cores per task used for the ideal speedup.
// DebugMode - if true, ticks do not sleep; tests advance the job by
//     calling Tick.
type Configuration struct {
	Type           string        `mapstructure:"type" yaml:"type"`
	Delay          time.Duration `mapstructure:"delay" yaml:"delay"`
	TaskMaxRuntime int           `mapstructure:"task_max_runtime" yaml:"task_max_runtime"`
	MaxRuntime     time.Duration `mapstructure:"max_runtime" yaml:"max_runtime"`
	QueueState     string        `mapstructure:"queue_state" yaml:"queue_state"`
	UniformCores   int           `mapstructure:"uniform_cores" yaml:"uniform_cores"`
	DebugMode      bool          `mapstructure:"debug_mode" yaml:"debug_mode"`
}

func (c *Configuration) String() string {
	return fmt.Sprintf("JobConfiguration: Type: %s, Delay: %s, TaskMaxRuntime: %d, MaxRuntime: %s, QueueState: %s, "+
		"UniformCores: %d, DebugMode: %t",
		c.Type, c.Delay, c.TaskMaxRuntime, c.MaxRuntime, c.QueueState, c.UniformCores, c.DebugMode)
}

// LauncherJob is the tick-driven state machine tying a pool, a command
// source and a task queue together.
type LauncherJob struct {
	config   Configuration
	pool     *pool.Pool
	source   source.Source
	queue    *queue.TaskQueue
	taskOpts task.Options

	tick        int
	nextID      int
	barrierWait bool
	enqueued    int

	startTime time.Time
	runtime   time.Duration
	now       func() time.Time

	stat stats.StatsReceiver
}

// NewLauncherJob validates its collaborators. Missing pieces are
// configuration faults.
func NewLauncherJob(config Configuration, p *pool.Pool, src source.Source, taskOpts task.Options,
	stat stats.StatsReceiver) (*LauncherJob, error) {
	if p == nil {
		return nil, lerrors.NewErrorf(lerrors.ConfigFaultExitCode, "launcher job needs a host pool")
	}
	if src == nil {
		return nil, lerrors.NewErrorf(lerrors.ConfigFaultExitCode, "launcher job needs a command source")
	}
	if taskOpts.Completion == nil {
		return nil, lerrors.NewErrorf(lerrors.ConfigFaultExitCode, "launcher job needs a completion")
	}
	if config.TaskMaxRuntime < 0 || config.MaxRuntime < 0 || config.Delay < 0 {
		return nil, lerrors.NewErrorf(lerrors.ConfigFaultExitCode, "negative limits in %s", &config)
	}
	if config.UniformCores < 1 {
		config.UniformCores = 1
	}
	if config.Type == "" {
		config.Type = "LauncherJob"
	}
	if taskOpts.Now == nil {
		taskOpts.Now = time.Now
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	log.WithFields(log.Fields{
		"config":   &config,
		"poolSize": p.Size(),
	}).Info("created launcher job")
	return &LauncherJob{
		config:   config,
		pool:     p,
		source:   src,
		queue:    queue.NewTaskQueue(stat),
		taskOpts: taskOpts,
		now:      taskOpts.Now,
		stat:     stat.Scope("job"),
	}, nil
}

func (j *LauncherJob) Queue() *queue.TaskQueue { return j.queue }
func (j *LauncherJob) Pool() *pool.Pool         { return j.pool }

// TickCount is the number of the next tick to run.
func (j *LauncherJob) TickCount() int { return j.tick }

func (j *LauncherJob) BarrierWaiting() bool { return j.barrierWait }

// Finished is true once the source can produce nothing more and every
// task has completed or been aborted.
func (j *LauncherJob) Finished() bool {
	return j.source.Exhausted() && j.queue.IsEmpty()
}

// Tick runs one step of the loop: admission, one completion, one abort,
// one item from the source, then occupancy and snapshot bookkeeping.
// Errors are fatal and carry an exit code.
func (j *LauncherJob) Tick(ctx context.Context) error {
	if err := j.step(ctx); err != nil {
		return err
	}
	j.tick++
	if !j.config.DebugMode && j.config.Delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(j.config.Delay):
		}
	}
	return nil
}

func (j *LauncherJob) step(ctx context.Context) error {
	defer j.stat.Latency(stats.JobTickLatency_ms).Time().Stop()
	j.stat.Counter(stats.JobTickCounter).Inc(1)

	if poller, ok := j.source.(source.Poller); ok {
		if err := poller.Poll(); err != nil {
			return lerrors.NewError(errors.Wrap(err, "polling command source"), lerrors.ConfigFaultExitCode)
		}
	}

	// Tasks already queued during a barrier wait all came before the
	// barrier, so admission continues; only generation is held back. Nothing
	// after the barrier starts until everything before it has finished.
	if _, err := j.queue.AdmitIfPossible(ctx, j.pool, j.tick); err != nil {
		return classify(err)
	}
	if err := j.handleCompleted(); err != nil {
		return classify(err)
	}
	if err := j.handleAborted(); err != nil {
		return classify(err)
	}
	if err := j.handleEnqueueing(); err != nil {
		return classify(err)
	}

	j.pool.RecordOccupancy()
	log.WithFields(log.Fields{
		"tick": j.tick,
		"pool": j.pool.Display(),
	}).Debug("tick\n" + j.queue.Summary())

	if err := j.saveState(); err != nil {
		return lerrors.NewError(err, lerrors.PostProcessingFailureExitCode)
	}
	j.updateStats()
	return nil
}

func (j *LauncherJob) handleCompleted() error {
	t, err := j.queue.ReapOneCompleted()
	if err != nil || t == nil {
		return err
	}
	j.stat.Counter(stats.JobCompletedCounter).Inc(1)
	return j.pool.ReleaseByTask(t.ID())
}

func (j *LauncherJob) handleAborted() error {
	t, err := j.queue.ReapOneAborted(queue.BudgetExceeded(j.tick, j.config.TaskMaxRuntime))
	if err != nil || t == nil {
		return err
	}
	j.stat.Counter(stats.JobAbortedCounter).Inc(1)
	log.WithFields(log.Fields{
		"taskID":    t.ID(),
		"startTick": t.StartTick(),
		"tick":      j.tick,
	}).Warn("abandoned task after exceeding its runtime budget")
	return j.pool.ReleaseByTask(t.ID())
}

func (j *LauncherJob) handleEnqueueing() error {
	if j.barrierWait {
		if !j.queue.IsEmpty() {
			return nil
		}
		j.barrierWait = false
		log.WithFields(log.Fields{
			"tick": j.tick,
		}).Info("barrier cleared")
	}
	switch {
	case j.source.Stalling():
		j.stat.Counter(stats.JobStallCounter).Inc(1)
		log.Debug("command source stalling")
		return nil
	case j.source.Stopping():
		log.Debug("command source stopping, rolling till completion")
		return nil
	}

	item, err := j.source.Next()
	if err != nil {
		return err
	}
	if item.IsBarrier() {
		j.barrierWait = true
		j.stat.Counter(stats.JobBarrierCounter).Inc(1)
		log.WithFields(log.Fields{
			"tick":    j.tick,
			"running": len(j.queue.Running()),
			"queued":  len(j.queue.Queued()),
		}).Info("barrier reached")
		return nil
	}

	t, err := task.New(j.nextID, item.Commandline, j.taskOpts)
	if err != nil {
		return lerrors.NewError(err, lerrors.ConfigFaultExitCode)
	}
	j.nextID++
	if err := j.queue.Enqueue(t); err != nil {
		return err
	}
	j.enqueued++
	j.stat.Counter(stats.JobEnqueuedCounter).Inc(1)
	return nil
}

// saveState rewrites the restart snapshot by renaming a fresh copy over it.
func (j *LauncherJob) saveState() error {
	if j.config.QueueState == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(j.config.QueueState), 0755); err != nil {
		return errors.Wrap(err, "creating queue state directory")
	}
	tmp := j.config.QueueState + ".tmp"
	if err := os.WriteFile(tmp, []byte(j.queue.SaveState()), 0644); err != nil {
		return errors.Wrap(err, "writing queue state")
	}
	return errors.Wrap(os.Rename(tmp, j.config.QueueState), "replacing queue state")
}

func (j *LauncherJob) updateStats() {
	wait := int64(0)
	if j.barrierWait {
		wait = 1
	}
	j.stat.Gauge(stats.JobBarrierWaitGauge).Update(wait)
}

// Run ticks until the job is finished, the wall clock budget is spent or
// ctx is done, then releases the pool.
func (j *LauncherJob) Run(ctx context.Context) error {
	j.startTime = j.now()
	uptimeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go stats.ReportUptime(uptimeCtx, j.stat, stats.JobUptime_ms, time.Second)

	log.WithFields(log.Fields{
		"poolSize":   j.pool.Size(),
		"maxRuntime": j.config.MaxRuntime,
	}).Info("launcher job started")

	var runErr error
	for {
		j.runtime = j.now().Sub(j.startTime)
		if j.config.MaxRuntime > 0 && j.runtime > j.config.MaxRuntime {
			log.WithFields(log.Fields{
				"runtime":    j.runtime,
				"maxRuntime": j.config.MaxRuntime,
			}).Warn("maximum running time exceeded")
			break
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := j.Tick(ctx); err != nil {
			runErr = err
			break
		}
		if j.Finished() {
			log.WithFields(log.Fields{
				"ticks": j.tick,
			}).Info("all enqueued tasks are now completed")
			break
		}
	}
	j.runtime = j.now().Sub(j.startTime)

	if err := j.pool.Release(); err != nil {
		log.WithFields(log.Fields{
			"err": err,
		}).Error("releasing pool")
		if runErr == nil {
			runErr = lerrors.NewError(err, lerrors.ExecutorFailureExitCode)
		}
	}
	return runErr
}

// FinalReport combines the queue and pool reports with the total time.
func (j *LauncherJob) FinalReport() string {
	ideal := float64(j.pool.Size()) / float64(j.config.UniformCores)
	var b bytes.Buffer
	b.WriteString("\n==========================\n")
	fmt.Fprintf(&b, "Launcher run completed, launcher type: %s\n\n", j.config.Type)
	fmt.Fprintf(&b, "total running time: %6.2f\n\n", j.runtime.Seconds())
	b.WriteString(j.queue.FinalReport(j.runtime, ideal))
	b.WriteString("\n")
	b.WriteString(j.pool.FinalReport())
	b.WriteString("==========================\n")
	return b.String()
}

// classify maps a failure from the queue or pool to an exit code.
func classify(err error) error {
	switch errors.Cause(err) {
	case pool.ErrSlotOccupied, pool.ErrTaskNotFound, pool.ErrForeignLocator,
		source.ErrNotReady, task.ErrBadTransition:
		return lerrors.NewError(err, lerrors.InvariantFaultExitCode)
	}
	if _, ok := err.(*lerrors.ExitCodeError); ok {
		return err
	}
	return lerrors.NewError(err, lerrors.ExecutorFailureExitCode)
}
