package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/twitter/launcher/common/errors"
	"github.com/twitter/launcher/config"
	"github.com/twitter/launcher/executor/execer/fake"
)

// localArgs run on two local slots with fake processes that finish at once.
func localArgs(t *testing.T) []string {
	return []string{
		"--type", config.LocalPreset,
		"--workdir", filepath.Join(t.TempDir(), "work"),
		"--set", "hosts.nhosts=2",
		"--set", "executor.completion=timed",
		"--set", "executor.timed_runtime=1ns",
		"--set", "job.debug_mode=true",
		"--set", "job.queue_state=",
	}
}

func newTestCLI() (*CLI, *bytes.Buffer, *fake.Execer) {
	var out bytes.Buffer
	ex := fake.NewExecer()
	return NewCLI(&out, config.Deps{Execer: ex}), &out, ex
}

func Test_Run(t *testing.T) {
	dir := t.TempDir()
	commands := filepath.Join(dir, "commandlines")
	require.NoError(t, os.WriteFile(commands, []byte("echo a\n# skipped\necho b\necho c\n"), 0644))
	statsFile := filepath.Join(dir, "stats.json")

	c, out, ex := newTestCLI()
	args := append([]string{"run", "--commandfile", commands, "--stats_file", statsFile, "--log_level", "debug"}, localArgs(t)...)
	require.NoError(t, c.Exec(context.Background(), args))

	assert.Len(t, ex.Commands(), 3)
	assert.Contains(t, out.String(), "launcher type: LocalLauncher")
	assert.Contains(t, out.String(), "tasks completed: 3")

	data, err := os.ReadFile(statsFile)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func Test_Run_MissingCommandFile(t *testing.T) {
	c, _, _ := newTestCLI()
	args := append([]string{"run", "--commandfile", filepath.Join(t.TempDir(), "nothing")}, localArgs(t)...)
	err := c.Exec(context.Background(), args)
	assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))
}

func Test_Resume(t *testing.T) {
	state := filepath.Join(t.TempDir(), "queuestate")
	require.NoError(t, os.WriteFile(state, []byte("queued\n0: echo a\nrunning\n1: echo b\ncompleted\n2: echo c\n"), 0644))

	c, out, ex := newTestCLI()
	require.NoError(t, c.Exec(context.Background(), append([]string{"resume", state}, localArgs(t)...)))
	assert.Len(t, ex.Commands(), 2)
	assert.Contains(t, out.String(), "tasks completed: 2")

	err := c.Exec(context.Background(), []string{"resume"})
	assert.Error(t, err)
}

func Test_Dir(t *testing.T) {
	dir := t.TempDir()
	c, out, ex := newTestCLI()
	args := append([]string{"dir", dir, "--root", "job"}, localArgs(t)...)
	args = append(args, "--set", "job.max_runtime=50ms")
	require.NoError(t, c.Exec(context.Background(), args))
	assert.Empty(t, ex.Commands())
	assert.Contains(t, out.String(), "tasks completed: 0")
}

func Test_Config(t *testing.T) {
	c, out, _ := newTestCLI()
	require.NoError(t, c.Exec(context.Background(), []string{"config", "--type", config.SlurmMPIPreset, "--set", "job.delay=2s"}))
	assert.Contains(t, out.String(), "type: MPILauncher")
	assert.Contains(t, out.String(), "delay: 2s")

	c, out, _ = newTestCLI()
	require.NoError(t, c.Exec(context.Background(), []string{"config", "--workdir", "/scratch/run1"}))
	assert.Contains(t, out.String(), "workdir: /scratch/run1")

	c, _, _ = newTestCLI()
	err := c.Exec(context.Background(), []string{"config", "--type", "slurm.bogus"})
	assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))

	c, _, _ = newTestCLI()
	err = c.Exec(context.Background(), []string{"config", "--log_level", "chatty"})
	assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))
}

func Test_Hosts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hosts:\n  type: list\n  hosts: [c1, c2]\n  ppn: 2\n"), 0644))

	c, out, _ := newTestCLI()
	require.NoError(t, c.Exec(context.Background(), []string{"hosts", "--config", path}))
	assert.Contains(t, out.String(), "4 slots on 2 hosts: c1 c2")
	assert.Contains(t, out.String(), "c2[1] loc=1")

	c, _, _ = newTestCLI()
	c.deps.Getenv = func(string) (string, bool) { return "", false }
	err := c.Exec(context.Background(), []string{"hosts", "--type", config.SlurmSSHPreset})
	assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))
}
