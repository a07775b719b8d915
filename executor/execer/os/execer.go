package os

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/executor/execer"
)

// Seconds between SIGTERM and SIGKILL when aborting.
const AbortTimeoutSec = 5

// Implements executor/execer.Execer
type osExecer struct {
	stat stats.StatsReceiver
}

// NewExecer returns an Execer that starts real processes, each in its own
// process group so an abort reaches everything the command spawned.
func NewExecer(stat stats.StatsReceiver) execer.Execer {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &osExecer{stat: stat}
}

func (e *osExecer) Exec(command execer.Command) (execer.Process, error) {
	if len(command.Argv) == 0 {
		return nil, fmt.Errorf("No command specified.")
	}

	cmd := exec.Command(command.Argv[0], command.Argv[1:]...)
	cmd.Dir = command.Dir

	// Use the parent environment plus whatever additional env vars are provided.
	cmd.Env = os.Environ()
	for k, v := range command.EnvVars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// Sets pgid of all child processes to cmd's pid
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Stdout = orDiscard(command.Stdout)
	cmd.Stderr = orDiscard(command.Stderr)

	if err := cmd.Start(); err != nil {
		e.stat.Counter(stats.ExecerStartFailureCounter).Inc(1)
		return nil, err
	}
	e.stat.Counter(stats.ExecerStartedCounter).Inc(1)
	log.WithFields(
		log.Fields{
			"pid":  cmd.Process.Pid,
			"argv": command.Argv,
			"tag":  command.Tag,
		}).Debug("Started process")

	return &process{cmd: cmd, tag: command.Tag, ats: AbortTimeoutSec, done: make(chan struct{})}, nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// Implements executor/execer.Process
type process struct {
	cmd     *exec.Cmd
	tag     string
	ats     int
	mutex   sync.Mutex
	waiting bool
	result  *execer.ProcessStatus
	done    chan struct{}
}

func (p *process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait for the process to finish.
// If the command exits, return COMPLETE with its exit code.
// If we cannot get the exit code, return FAILED and the error.
func (p *process) Wait() execer.ProcessStatus {
	p.mutex.Lock()
	if p.result != nil || p.waiting {
		p.mutex.Unlock()
		<-p.done
		return p.status()
	}
	p.waiting = true
	p.mutex.Unlock()

	err := p.cmd.Wait()

	p.mutex.Lock()
	defer p.mutex.Unlock()
	defer close(p.done)
	if p.result != nil {
		return *p.result
	}
	result := exitStatus(err)
	p.result = &result
	log.WithFields(
		log.Fields{
			"pid":    p.cmd.Process.Pid,
			"tag":    p.tag,
			"status": result,
		}).Debug("Finished waiting for process")
	return result
}

func (p *process) status() execer.ProcessStatus {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return *p.result
}

func exitStatus(err error) execer.ProcessStatus {
	if err == nil {
		return execer.ProcessStatus{State: execer.COMPLETE}
	}
	if err, ok := err.(*exec.ExitError); ok {
		if status, ok := err.Sys().(syscall.WaitStatus); ok {
			return execer.ProcessStatus{State: execer.COMPLETE, ExitCode: status.ExitStatus()}
		}
		return execer.ProcessStatus{State: execer.FAILED, Error: "Could not find WaitStatus from exiterr.Sys()"}
	}
	return execer.ProcessStatus{State: execer.FAILED, Error: err.Error()}
}

// Abort SIGTERMs the process group, and SIGKILLs it if the leader has not
// been reaped after the abort timeout. A process that already finished
// keeps its status.
func (p *process) Abort() execer.ProcessStatus {
	p.mutex.Lock()
	if p.result != nil {
		defer p.mutex.Unlock()
		return *p.result
	}
	waiting := p.waiting
	p.mutex.Unlock()

	pid := p.cmd.Process.Pid
	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		log.WithFields(
			log.Fields{
				"pid":   pid,
				"tag":   p.tag,
				"error": err,
			}).Info("SIGTERM of process group failed")
	}

	if !waiting {
		go p.Wait()
	}
	select {
	case <-p.done:
	case <-time.After(time.Duration(p.ats) * time.Second):
		log.WithFields(
			log.Fields{
				"pid": pid,
				"tag": p.tag,
			}).Warnf("%d second timeout exceeded, killing process group", p.ats)
		if err := signalGroup(pid, unix.SIGKILL); err != nil {
			log.WithFields(
				log.Fields{
					"pid":   pid,
					"tag":   p.tag,
					"error": err,
				}).Error("SIGKILL of process group failed")
		}
		<-p.done
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.result.State = execer.FAILED
	p.result.Error = "Aborted"
	return *p.result
}

// The leader may already be gone while its group lives on, so the group id
// is the pid we started.
func signalGroup(pgid int, sig unix.Signal) error {
	err := unix.Kill(-pgid, sig)
	if err == unix.ESRCH {
		return nil
	}
	return err
}
