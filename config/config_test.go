package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	lerrors "github.com/twitter/launcher/common/errors"
	"github.com/twitter/launcher/executor"
	"github.com/twitter/launcher/executor/execer/fake"
	"github.com/twitter/launcher/hosts"
	"github.com/twitter/launcher/source"
	"github.com/twitter/launcher/task"
)

func fakeEnv(vars map[string]string) hosts.Getenv {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func Test_Load_Presets(t *testing.T) {
	for _, name := range Presets() {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(name, "", nil)
			require.NoError(t, err)
			assert.NotEmpty(t, cfg.Executor.Type)
			assert.NotEmpty(t, cfg.Source.Type)
			assert.Equal(t, 500*time.Millisecond, cfg.Job.Delay, "inherited from the default")
		})
	}

	cfg, err := Load(SlurmSubmitPreset, "", nil)
	require.NoError(t, err)
	assert.Equal(t, SubmitExecutor, cfg.Executor.Type)
	assert.Equal(t, BareCompletion, cfg.Executor.Completion)
	assert.Equal(t, 1, cfg.Hosts.NHosts)
	assert.Equal(t, 3*time.Second, cfg.Executor.SSH.RetryDelay)
	assert.True(t, cfg.Executor.CatchOutput)

	_, err = Load("slurm.bogus", "", nil)
	assert.Error(t, err)
}

func Test_Load_FileEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "launcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hosts:
  type: list
  hosts: [c1, c2]
  ppn: 4
source:
  path: mycommands
  cores: file
job:
  task_max_runtime: 20
`), 0644))
	t.Setenv("LAUNCHER_JOB_DELAY", "2s")
	t.Setenv("LAUNCHER_EXECUTOR_WORKDIR", "scratch")

	cfg, err := Load(LocalPreset, path, map[string]interface{}{"job.queue_state": ""})
	require.NoError(t, err)
	assert.Equal(t, hosts.ListType, cfg.Hosts.Type)
	assert.Equal(t, []string{"c1", "c2"}, cfg.Hosts.Hosts)
	assert.Equal(t, 4, cfg.Hosts.PPN)
	assert.Equal(t, LocalExecutor, cfg.Executor.Type)
	assert.Equal(t, "scratch", cfg.Executor.Workdir)
	assert.Equal(t, "mycommands", cfg.Source.Path)
	assert.Equal(t, "file", cfg.Source.Cores)
	assert.Equal(t, 20, cfg.Job.TaskMaxRuntime)
	assert.Equal(t, 2*time.Second, cfg.Job.Delay)
	assert.Equal(t, "", cfg.Job.QueueState)

	_, err = Load(DefaultPreset, filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func Test_Dump_RoundTrip(t *testing.T) {
	cfg, err := Load(SlurmMPIPreset, "", nil)
	require.NoError(t, err)
	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.Contains(t, out, "type: MPILauncher")
	assert.Contains(t, out, "delay: 500ms")

	path := filepath.Join(t.TempDir(), "dump.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0644))
	again, err := Load(DefaultPreset, path, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)

	var generic map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(cfg.String()), &generic))
	assert.Contains(t, generic, "executor")
}

func Test_DefaultWorkdir(t *testing.T) {
	assert.Equal(t, "launcher_tmp123", DefaultWorkdir(fakeEnv(map[string]string{"SLURM_JOB_ID": "123"})))
	w := DefaultWorkdir(fakeEnv(nil))
	assert.True(t, strings.HasPrefix(w, "launcher_tmp_"))
	assert.NotEqual(t, w, DefaultWorkdir(fakeEnv(nil)))
}

func localConfig(t *testing.T, commands ...string) *LauncherConfig {
	cfg, err := Load(LocalPreset, "", map[string]interface{}{
		"hosts.nhosts":           2,
		"executor.workdir":       filepath.Join(t.TempDir(), "work"),
		"source.type":            ListSource,
		"source.commands":        commands,
		"job.queue_state":        "",
		"job.debug_mode":         true,
		"job.delay":              "0s",
		"executor.completion":    TimedCompletion,
		"executor.timed_runtime": "1ns",
	})
	require.NoError(t, err)
	return cfg
}

func Test_Build_Local(t *testing.T) {
	ex := fake.NewExecer()
	cfg := localConfig(t, "echo a", "echo b", "echo c")
	l, err := Build(cfg, Deps{Execer: ex})
	require.NoError(t, err)
	assert.Equal(t, 2, l.Pool.Size())
	assert.DirExists(t, l.Scripts.Workdir())

	require.NoError(t, l.Run(context.Background()))
	assert.Len(t, l.Job.Queue().Completed(), 3)
	assert.Len(t, ex.Commands(), 3)
	assert.Equal(t, 3, l.Scripts.Count())
	assert.Contains(t, l.Job.FinalReport(), "LocalLauncher")
}

func Test_Build_Cleanup(t *testing.T) {
	cfg := localConfig(t, "echo a")
	cfg.Executor.Cleanup = true
	here, err := os.Getwd()
	require.NoError(t, err)
	// Cleanup only removes directories below the current one.
	tmp := t.TempDir()
	require.NoError(t, os.Chdir(tmp))
	defer os.Chdir(here)
	cfg.Executor.Workdir = "work"

	l, err := Build(cfg, Deps{Execer: fake.NewExecer()})
	require.NoError(t, err)
	require.NoError(t, l.Run(context.Background()))
	assert.NoDirExists(t, filepath.Join(tmp, "work"))
}

func Test_Build_Faults(t *testing.T) {
	t.Run("unknown executor", func(t *testing.T) {
		cfg := localConfig(t, "echo a")
		cfg.Executor.Type = "telnet"
		_, err := Build(cfg, Deps{Execer: fake.NewExecer()})
		assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))
	})

	t.Run("empty command list", func(t *testing.T) {
		cfg := localConfig(t)
		_, err := Build(cfg, Deps{Execer: fake.NewExecer()})
		assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))
	})

	t.Run("no slurm environment", func(t *testing.T) {
		cfg := localConfig(t, "echo a")
		cfg.Hosts.Type = hosts.SlurmType
		_, err := Build(cfg, Deps{Execer: fake.NewExecer(), Getenv: fakeEnv(nil)})
		assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))
	})

	t.Run("ssh setup fails", func(t *testing.T) {
		cfg := localConfig(t, "echo a")
		cfg.Executor.Type = SSHExecutor
		dial := func(host string) (executor.SSHClient, error) { return nil, errors.New("connection refused") }
		_, err := Build(cfg, Deps{Dialer: dial})
		assert.Equal(t, lerrors.ExecutorFailureExitCode, lerrors.ExitCodeOf(err))
	})

	t.Run("timed without runtime", func(t *testing.T) {
		cfg := localConfig(t, "echo a")
		cfg.Executor.TimedRuntime = 0
		_, err := Build(cfg, Deps{Execer: fake.NewExecer()})
		assert.Equal(t, lerrors.ConfigFaultExitCode, lerrors.ExitCodeOf(err))
	})
}

func Test_TaskOptions(t *testing.T) {
	opts, err := taskOptions(ExecutorConfig{Type: SubmitExecutor}, "/w", 4, time.Now)
	require.NoError(t, err)
	c := opts.Completion(3, time.Now())
	assert.IsType(t, &task.BareCompletion{}, c)

	opts, err = taskOptions(ExecutorConfig{Type: LocalExecutor, MPIPrefix: executor.Ibrun}, "/w", 4, time.Now)
	require.NoError(t, err)
	assert.IsType(t, &task.WrapCompletion{}, opts.Completion(3, time.Now()))
	require.NotNil(t, opts.MPIPrefix)

	_, err = taskOptions(ExecutorConfig{Completion: "psychic"}, "/w", 4, time.Now)
	assert.Error(t, err)
}

func Test_UniformCores(t *testing.T) {
	src, cores, err := buildSource(SourceConfig{Type: ListSource, Commands: []string{"a"}}, 8)
	require.NoError(t, err)
	assert.NotNil(t, src)
	assert.Equal(t, 1, cores, "no core spec")

	cfg := SourceConfig{Type: ListSource, Commands: []string{"a"}}
	cfg.Cores = source.CoresFromFile
	_, cores, err = buildSource(cfg, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, cores, "counts vary per line")

	cfg.Cores = source.CoresPerNode
	_, cores, err = buildSource(cfg, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, cores)
}
