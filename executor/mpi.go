package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/executor/execer"
	"github.com/twitter/launcher/pool"
)

// MPI launcher flavors.
const (
	MPIRun  = "mpirun"
	MPIExec = "mpiexec"
	Ibrun   = "ibrun"
)

const hostfilePrefix = "hostfile."

type MPIOptions struct {
	// One of MPIRun, MPIExec or Ibrun.
	Flavor string `mapstructure:"flavor" yaml:"flavor"`

	// mpirun switch that names the host file.
	HostfileSwitch string `mapstructure:"hostfile_switch" yaml:"hostfile_switch"`

	// Cores per node reported to ibrun.
	CoresPerNode int `mapstructure:"cores_per_node" yaml:"cores_per_node"`
}

// MPIExecutor runs every command under an MPI launcher sized to the task's
// slot range. Output is never captured; the launcher owns it.
type MPIExecutor struct {
	scripts   *Scripts
	opts      MPIOptions
	ex        execer.Execer
	procs     *processes
	stat      stats.StatsReceiver
	hostfiles int
}

func NewMPIExecutor(opts Options, mpi MPIOptions, ex execer.Execer, stat stats.StatsReceiver) (*MPIExecutor, error) {
	if ex == nil {
		return nil, errors.New("mpi executor needs an execer")
	}
	switch mpi.Flavor {
	case "":
		mpi.Flavor = MPIRun
	case MPIRun, MPIExec, Ibrun:
	default:
		return nil, errors.Errorf("unknown mpi flavor %q", mpi.Flavor)
	}
	if mpi.HostfileSwitch == "" {
		mpi.HostfileSwitch = "-machinefile"
	}
	opts.CatchOutput = false
	scripts, err := NewScripts(opts)
	if err != nil {
		return nil, err
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	log.WithFields(log.Fields{"flavor": mpi.Flavor, "workdir": scripts.Workdir()}).Info("created mpi executor")
	return &MPIExecutor{
		scripts: scripts,
		opts:    mpi,
		ex:      ex,
		procs:   newProcesses(),
		stat:    stat.Scope("executor"),
	}, nil
}

func (e *MPIExecutor) Scripts() *Scripts { return e.scripts }

func (e *MPIExecutor) SetupOnResource(*pool.Slot) error     { return nil }
func (e *MPIExecutor) ReleaseFromResource(*pool.Slot) error { return nil }

// writeHostfile lists the host of every slot of loc, one per line, in the
// first unused hostfile.<K>.
func (e *MPIExecutor) writeHostfile(loc *pool.Locator) (string, error) {
	for {
		name := filepath.Join(e.scripts.Workdir(), fmt.Sprintf("%s%d", hostfilePrefix, e.hostfiles))
		e.hostfiles++
		if _, err := os.Stat(name); err == nil {
			continue
		}
		content := strings.Join(loc.Hosts(), "\n") + "\n"
		if err := os.WriteFile(name, []byte(content), 0644); err != nil {
			return "", errors.Wrapf(err, "writing %s", name)
		}
		return name, nil
	}
}

func (e *MPIExecutor) commandline(wrapped string, loc *pool.Locator) (string, error) {
	switch e.opts.Flavor {
	case MPIExec:
		return fmt.Sprintf("mpiexec -n %d %s", loc.Extent(), wrapped), nil
	case Ibrun:
		return IbrunPrefix(e.opts.CoresPerNode)(loc) + " " + wrapped, nil
	default:
		hostfile, err := e.writeHostfile(loc)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("mpirun -np %d %s %s %s", loc.Extent(), e.opts.HostfileSwitch, hostfile, wrapped), nil
	}
}

func (e *MPIExecutor) Execute(ctx context.Context, command string, loc *pool.Locator, taskID int) error {
	defer e.stat.Latency(stats.ExecutorExecLatency_ms).Time().Stop()
	if err := ctx.Err(); err != nil {
		return err
	}
	wrapped, err := e.scripts.Wrap(command, "")
	if err != nil {
		return err
	}
	full, err := e.commandline(wrapped, loc)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"taskID":      taskID,
		"commandline": full,
	}).Debug("mpi execution")
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

// Terminate stops the mpirun, mpiexec or ibrun launchers it started that are
// still alive.
func (e *MPIExecutor) Terminate() error {
	log.WithFields(log.Fields{"live": e.procs.count()}).Info("mpi executor terminate")
	e.procs.abortAll()
	return nil
}

// IbrunPrefix fills the MPI placeholder of a command with TACC's
// offset-aware ibrun for the task's slot range.
func IbrunPrefix(coresPerNode int) func(loc *pool.Locator) string {
	return func(loc *pool.Locator) string {
		return fmt.Sprintf("TACC_TASKS_PER_NODE=%d ibrun -o %d -n %d", coresPerNode, loc.Offset(), loc.Extent())
	}
}

// MpiexecPrefix is the plain mpiexec equivalent of IbrunPrefix.
func MpiexecPrefix(loc *pool.Locator) string {
	return fmt.Sprintf("mpiexec -n %d", loc.Extent())
}
