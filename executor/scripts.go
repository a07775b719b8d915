// Package executor holds the backends that launch wrapped task commands on
// pool slots: local processes, ssh sessions, mpirun-style launchers and
// batch submissions. Every backend writes the command to a small script in
// the work directory and returns as soon as the launch is handed off.
package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	execPrefix = "exec"
	outPrefix  = "out"
)

// Options shared by all backends.
type Options struct {
	// Directory for exec, out, host and job script files. Relative paths
	// are taken from the current directory.
	Workdir string `mapstructure:"workdir" yaml:"workdir"`

	// Redirect each command's output to its own out<N> file.
	CatchOutput bool `mapstructure:"catch_output" yaml:"catch_output"`

	// When set with CatchOutput, every command appends to this one file.
	AppendOutput string `mapstructure:"append_output" yaml:"append_output,omitempty"`
}

func (o Options) String() string {
	return fmt.Sprintf("workdir=%s catch_output=%t append_output=%q", o.Workdir, o.CatchOutput, o.AppendOutput)
}

// Scripts writes commands to numbered executable files and builds the
// command line that runs them. The counter belongs to one executor.
type Scripts struct {
	workdir  string
	catch    bool
	appendTo string
	count    int
}

// NewScripts makes the work directory if needed. A directory that already
// exists is reused; a plain file in its place is an error.
func NewScripts(opts Options) (*Scripts, error) {
	if opts.Workdir == "" {
		return nil, errors.New("executor needs an explicit workdir")
	}
	workdir, err := filepath.Abs(opts.Workdir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving workdir %s", opts.Workdir)
	}
	info, err := os.Stat(workdir)
	switch {
	case err == nil && info.IsDir():
		log.WithFields(log.Fields{"workdir": workdir}).Warn("re-using workdir")
	case err == nil:
		return nil, errors.Errorf("workdir %s should not be a file", workdir)
	case os.IsNotExist(err):
		if err := os.MkdirAll(workdir, 0755); err != nil {
			return nil, errors.Wrapf(err, "creating workdir %s", workdir)
		}
	default:
		return nil, errors.Wrapf(err, "checking workdir %s", workdir)
	}
	s := &Scripts{workdir: workdir, catch: opts.CatchOutput}
	if opts.CatchOutput {
		s.appendTo = opts.AppendOutput
	}
	return s, nil
}

func (s *Scripts) Workdir() string { return s.workdir }

// Count is the number of scripts written so far.
func (s *Scripts) Count() int { return s.count }

func (s *Scripts) names() (string, string) {
	execName := filepath.Join(s.workdir, fmt.Sprintf("%s%d", execPrefix, s.count))
	outName := filepath.Join(s.workdir, fmt.Sprintf("%s%d", outPrefix, s.count))
	if s.appendTo != "" {
		outName = s.appendTo
	}
	s.count++
	return execName, outName
}

// Wrap writes command to the next exec<N> file and returns the line that
// runs it, with output redirected as configured and prefix in front.
func (s *Scripts) Wrap(command, prefix string) (string, error) {
	execName, outName := s.names()
	if _, err := os.Stat(execName); err == nil {
		return "", errors.Errorf("exec file already exists %s", execName)
	}
	if err := os.WriteFile(execName, []byte("#!/bin/bash\n"+command+"\n"), 0777); err != nil {
		return "", errors.Wrapf(err, "writing %s", execName)
	}
	// WriteFile is subject to the umask.
	if err := os.Chmod(execName, 0777); err != nil {
		return "", errors.Wrapf(err, "chmod %s", execName)
	}

	wrapped := execName
	if s.catch {
		pipe := ">"
		if s.appendTo != "" {
			pipe = ">>"
		}
		wrapped = fmt.Sprintf("%s %s %s 2>&1", execName, pipe, outName)
	}
	wrapped = prefix + wrapped
	log.WithFields(log.Fields{"commandline": wrapped}).Debug("wrapped command")
	return wrapped, nil
}

// RemoveWorkdir deletes the work directory, but only when it lies strictly
// below the current directory.
func (s *Scripts) RemoveWorkdir() error {
	here, err := os.Getwd()
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(here, s.workdir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.Errorf("refusing to remove workdir %s outside of %s", s.workdir, here)
	}
	return os.RemoveAll(s.workdir)
}
