package executor

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/executor/execer"
	"github.com/twitter/launcher/pool"
)

// Shell used to run wrapped command lines.
const Shell = "/bin/sh"

// LocalExecutor runs commands on this machine, each in its own process
// group. The slot range is ignored.
type LocalExecutor struct {
	scripts *Scripts
	prefix  string
	ex      execer.Execer
	procs   *processes
	stat    stats.StatsReceiver
}

// NewLocalExecutor returns an executor that starts commands through ex.
// prefix goes in front of every wrapped line, ex: "/bin/bash " for
// recalcitrant shells.
func NewLocalExecutor(opts Options, prefix string, ex execer.Execer, stat stats.StatsReceiver) (*LocalExecutor, error) {
	if ex == nil {
		return nil, errors.New("local executor needs an execer")
	}
	scripts, err := NewScripts(opts)
	if err != nil {
		return nil, err
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	log.WithFields(log.Fields{"options": opts, "prefix": prefix}).Info("created local executor")
	return &LocalExecutor{
		scripts: scripts,
		prefix:  prefix,
		ex:      ex,
		procs:   newProcesses(),
		stat:    stat.Scope("executor"),
	}, nil
}

func (e *LocalExecutor) Scripts() *Scripts { return e.scripts }

func (e *LocalExecutor) SetupOnResource(*pool.Slot) error     { return nil }
func (e *LocalExecutor) ReleaseFromResource(*pool.Slot) error { return nil }

func (e *LocalExecutor) Execute(ctx context.Context, command string, loc *pool.Locator, taskID int) error {
	defer e.stat.Latency(stats.ExecutorExecLatency_ms).Time().Stop()
	if err := ctx.Err(); err != nil {
		return err
	}
	wrapped, err := e.scripts.Wrap(command, "")
	if err != nil {
		return err
	}
	full := e.prefix + wrapped
	log.WithFields(log.Fields{
		"taskID":      taskID,
		"commandline": full,
	}).Debug("local execution")
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

// Terminate returns at once. Commands still running, ex: tasks abandoned
// after their runtime budget, are left alone in their own process groups.
func (e *LocalExecutor) Terminate() error {
	log.WithFields(log.Fields{"live": e.procs.release()}).Info("local executor terminate")
	return nil
}
