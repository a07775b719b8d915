package config

import (
	"context"
	"strconv"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	lerrors "github.com/twitter/launcher/common/errors"
	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/executor"
	"github.com/twitter/launcher/executor/execer"
	osexecer "github.com/twitter/launcher/executor/execer/os"
	"github.com/twitter/launcher/hosts"
	"github.com/twitter/launcher/job"
	"github.com/twitter/launcher/pool"
	"github.com/twitter/launcher/source"
	"github.com/twitter/launcher/task"
)

const workdirPrefix = "launcher_tmp"

// Launcher is a configured job with everything it was built from.
type Launcher struct {
	Config   *LauncherConfig
	Hosts    *hosts.List
	Pool     *pool.Pool
	Executor pool.Executor
	Scripts  *executor.Scripts
	Source   source.Source
	Job      *job.LauncherJob
}

// Deps are the outside pieces Build uses. Zero values use the real process
// environment and processes.
type Deps struct {
	Getenv hosts.Getenv
	Execer execer.Execer
	Dialer executor.Dialer
	Stat   stats.StatsReceiver
	Now    func() time.Time
}

// DefaultWorkdir is launcher_tmp<jobid>, or a random suffix outside of a
// batch job.
func DefaultWorkdir(getenv hosts.Getenv) string {
	if id := hosts.JobID(getenv); id != "" {
		return workdirPrefix + id
	}
	u, err := uuid.NewV4()
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Warn("could not generate workdir suffix")
		return workdirPrefix
	}
	return workdirPrefix + "_" + u.String()
}

func configFault(err error) error {
	return lerrors.NewError(err, lerrors.ConfigFaultExitCode)
}

// Build discovers hosts and wires the executor, pool, source and job that
// cfg describes. Errors carry an exit code.
func Build(cfg *LauncherConfig, deps Deps) (*Launcher, error) {
	if deps.Getenv == nil {
		deps.Getenv = hosts.OsGetenv
	}
	if deps.Stat == nil {
		deps.Stat = stats.NilStatsReceiver()
	}
	if deps.Execer == nil {
		deps.Execer = osexecer.NewExecer(deps.Stat.Scope("execer"))
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Executor.Workdir == "" {
		cfg.Executor.Workdir = DefaultWorkdir(deps.Getenv)
	}

	list, err := hosts.Discover(cfg.Hosts, deps.Getenv)
	if err != nil {
		return nil, configFault(err)
	}
	coresPerNode := list.Len() / len(list.UniqueHosts())

	ex, scripts, err := buildExecutor(cfg.Executor, coresPerNode, deps)
	if err != nil {
		return nil, configFault(err)
	}
	p, err := pool.NewPool(list.Locations(), ex, deps.Stat)
	if err != nil {
		return nil, lerrors.NewError(err, lerrors.ExecutorFailureExitCode)
	}

	src, cores, err := buildSource(cfg.Source, coresPerNode)
	if err != nil {
		p.Release()
		return nil, configFault(err)
	}

	opts, err := taskOptions(cfg.Executor, scripts.Workdir(), coresPerNode, deps.Now)
	if err != nil {
		p.Release()
		return nil, configFault(err)
	}
	jobCfg := cfg.Job
	if cores > 0 && jobCfg.UniformCores <= 1 {
		jobCfg.UniformCores = cores
	}
	j, err := job.NewLauncherJob(jobCfg, p, src, opts, deps.Stat)
	if err != nil {
		p.Release()
		return nil, err
	}
	log.WithFields(log.Fields{
		"hosts":    cfg.Hosts.Type,
		"executor": cfg.Executor.Type,
		"source":   cfg.Source.Type,
		"slots":    p.Size(),
		"workdir":  scripts.Workdir(),
	}).Info("built launcher")
	return &Launcher{
		Config:   cfg,
		Hosts:    list,
		Pool:     p,
		Executor: ex,
		Scripts:  scripts,
		Source:   src,
		Job:      j,
	}, nil
}

func buildExecutor(cfg ExecutorConfig, coresPerNode int, deps Deps) (pool.Executor, *executor.Scripts, error) {
	stat := deps.Stat
	switch cfg.Type {
	case LocalExecutor:
		e, err := executor.NewLocalExecutor(cfg.Options, cfg.Prefix, deps.Execer, stat)
		if err != nil {
			return nil, nil, err
		}
		return e, e.Scripts(), nil
	case SSHExecutor:
		env, err := executor.LocalEnvironment()
		if err != nil {
			return nil, nil, err
		}
		e, err := executor.NewSSHExecutor(cfg.Options, cfg.SSH, env, deps.Dialer, stat)
		if err != nil {
			return nil, nil, err
		}
		return e, e.Scripts(), nil
	case MPIExecutor:
		mpi := cfg.MPI
		if mpi.CoresPerNode == 0 {
			mpi.CoresPerNode = coresPerNode
		}
		e, err := executor.NewMPIExecutor(cfg.Options, mpi, deps.Execer, stat)
		if err != nil {
			return nil, nil, err
		}
		return e, e.Scripts(), nil
	case SubmitExecutor:
		e, err := executor.NewSubmitExecutor(cfg.Options, cfg.SubmitParams, cfg.SubmitInterval, deps.Execer, stat)
		if err != nil {
			return nil, nil, err
		}
		return e, e.Scripts(), nil
	default:
		return nil, nil, errors.Errorf("unknown executor type %q", cfg.Type)
	}
}

// buildSource also returns the uniform core count of its commands, or 0
// when counts vary per line.
func buildSource(cfg SourceConfig, coresPerNode int) (source.Source, int, error) {
	opts := cfg.FileOptions
	if opts.CoresPerNode == 0 {
		opts.CoresPerNode = coresPerNode
	}
	cores := uniformCores(opts)
	switch cfg.Type {
	case FileSource:
		src, err := source.NewFile(cfg.Path, opts)
		return src, cores, err
	case StateSource:
		src, err := source.NewStateFile(cfg.Path, cores)
		return src, cores, err
	case ListSource:
		src, err := source.NewCommands(cfg.Commands, max(cores, 1))
		return src, cores, err
	case SleepSource:
		src, err := source.NewSleep(cfg.Sleep)
		return src, cfg.Sleep.Cores, err
	case DirSource:
		src, err := source.NewDirectory(cfg.Dir, cfg.Root, max(cores, 1))
		return src, cores, err
	default:
		return nil, 0, errors.Errorf("unknown source type %q", cfg.Type)
	}
}

func uniformCores(opts source.FileOptions) int {
	switch opts.Cores {
	case "":
		return 1
	case source.CoresFromFile:
		return 0
	case source.CoresPerNode:
		return opts.CoresPerNode
	}
	n, err := strconv.Atoi(opts.Cores)
	if err != nil {
		return 0
	}
	return n
}

func taskOptions(cfg ExecutorConfig, workdir string, coresPerNode int, now func() time.Time) (task.Options, error) {
	opts := task.Options{Now: now}
	completion := cfg.Completion
	if completion == "" && cfg.Type == SubmitExecutor {
		completion = BareCompletion
	}
	switch completion {
	case WrapCompletion, "":
		opts.Completion = task.WrapFactory(workdir)
	case BareCompletion:
		opts.Completion = task.BareFactory(workdir)
	case TimedCompletion:
		if cfg.TimedRuntime <= 0 {
			return opts, errors.New("timed completion needs a positive timed_runtime")
		}
		opts.Completion = task.TimedFactory(cfg.TimedRuntime, now)
	default:
		return opts, errors.Errorf("unknown completion %q", completion)
	}
	switch cfg.MPIPrefix {
	case "":
	case executor.Ibrun:
		opts.MPIPrefix = executor.IbrunPrefix(coresPerNode)
	case executor.MPIExec:
		opts.MPIPrefix = executor.MpiexecPrefix
	default:
		return opts, errors.Errorf("unknown mpi prefix %q", cfg.MPIPrefix)
	}
	return opts, nil
}

// Run runs the job, then removes the work directory when configured to.
func (l *Launcher) Run(ctx context.Context) error {
	err := l.Job.Run(ctx)
	if l.Config.Executor.Cleanup {
		if rerr := l.Scripts.RemoveWorkdir(); rerr != nil {
			log.WithFields(log.Fields{"err": rerr}).Warn("could not remove workdir")
		}
	}
	return err
}
