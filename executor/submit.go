package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/executor/execer"
	"github.com/twitter/launcher/pool"
	"github.com/twitter/launcher/task"
)

// SubmitOutput collects the output of every submitted job script.
const SubmitOutput = "launcherjob.out"

// SubmitExecutor turns every command into its own batch job. The job script
// touches the task's stamp files itself, so tasks pair it with bare
// completion on the same work directory.
type SubmitExecutor struct {
	scripts *Scripts
	params  string
	ex      execer.Execer
	limiter *rate.Limiter
	procs   *processes
	stat    stats.StatsReceiver
}

// NewSubmitExecutor submits with "sbatch <params> <script>", at most one
// submission per interval. A zero interval does not limit.
func NewSubmitExecutor(opts Options, params string, interval time.Duration, ex execer.Execer, stat stats.StatsReceiver) (*SubmitExecutor, error) {
	if ex == nil {
		return nil, errors.New("submit executor needs an execer")
	}
	scripts, err := NewScripts(opts)
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	log.WithFields(log.Fields{"params": params, "interval": interval}).Info("created submit executor")
	return &SubmitExecutor{
		scripts: scripts,
		params:  params,
		ex:      ex,
		limiter: rate.NewLimiter(limit, 1),
		procs:   newProcesses(),
		stat:    stat.Scope("executor"),
	}, nil
}

func (e *SubmitExecutor) Scripts() *Scripts { return e.scripts }

func (e *SubmitExecutor) SetupOnResource(*pool.Slot) error     { return nil }
func (e *SubmitExecutor) ReleaseFromResource(*pool.Slot) error { return nil }

// JobScriptName is where the job script of taskID is written.
func JobScriptName(workdir string, taskID int) string {
	return filepath.Join(workdir, fmt.Sprintf("jobscript%d", taskID))
}

func (e *SubmitExecutor) Execute(ctx context.Context, command string, loc *pool.Locator, taskID int) error {
	defer e.stat.Latency(stats.ExecutorExecLatency_ms).Time().Stop()
	if e.limiter.Limit() != rate.Inf && e.limiter.Tokens() < 1 {
		e.stat.Counter(stats.ExecutorSubmitThrottledCounter).Inc(1)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	stamped := task.NewWrapCompletion(taskID, e.scripts.Workdir()).Attach(command)
	script := JobScriptName(e.scripts.Workdir(), taskID)
	content := fmt.Sprintf("#!/bin/bash\n#SBATCH -o %s\n#SBATCH -e %s\n%s\n", SubmitOutput, SubmitOutput, stamped)
	if err := os.WriteFile(script, []byte(content), 0644); err != nil {
		return errors.Wrapf(err, "writing %s", script)
	}

	full := strings.Join(strings.Fields("sbatch "+e.params+" "+script), " ")
	log.WithFields(log.Fields{
		"taskID":      taskID,
		"commandline": full,
	}).Debug("batch submission")
	tag := fmt.Sprintf("task%d", taskID)
	p, err := e.ex.Exec(execer.Command{Argv: []string{Shell, "-c", full}, Tag: tag})
	if err != nil {
		e.stat.Counter(stats.ExecutorExecErrCounter).Inc(1)
		return errors.Wrapf(err, "starting %s", full)
	}
	e.stat.Counter(stats.ExecutorExecCounter).Inc(1)
	e.procs.track(p, tag)
	return nil
}

// Terminate waits out outstanding sbatch calls; the submitted jobs belong to
// the batch system.
func (e *SubmitExecutor) Terminate() error {
	e.procs.wg.Wait()
	return nil
}
