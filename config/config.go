// Package config loads launcher configurations and wires them into a
// runnable job: host discovery, pool, executor, command source and job.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/twitter/launcher/executor"
	"github.com/twitter/launcher/hosts"
	"github.com/twitter/launcher/job"
	"github.com/twitter/launcher/source"
)

// Environment variables LAUNCHER_<SECTION>_<KEY> override loaded values,
// ex: LAUNCHER_JOB_DELAY=2s.
const EnvPrefix = "LAUNCHER"

// Executor types.
const (
	LocalExecutor  = "local"
	SSHExecutor    = "ssh"
	MPIExecutor    = "mpi"
	SubmitExecutor = "submit"
)

// Completion types.
const (
	WrapCompletion  = "wrap"
	BareCompletion  = "bare"
	TimedCompletion = "timed"
)

// Source types.
const (
	FileSource  = "file"
	ListSource  = "list"
	SleepSource = "sleep"
	DirSource   = "dir"
	StateSource = "state"
)

type LauncherConfig struct {
	Hosts    hosts.Config      `mapstructure:"hosts" yaml:"hosts"`
	Executor ExecutorConfig    `mapstructure:"executor" yaml:"executor"`
	Source   SourceConfig      `mapstructure:"source" yaml:"source"`
	Job      job.Configuration `mapstructure:"job" yaml:"job"`
}

// Executor Config variables
// Type - one of the executor types above.
// Prefix - local only, put in front of every wrapped line.
// Completion - how a started task is detected as done. Submit pairs with bare.
// TimedRuntime - run time of every task under timed completion.
// MPIPrefix - "ibrun" or "mpiexec" fills PYL_MPIEXEC in commands.
// SubmitParams, SubmitInterval - sbatch arguments and minimum spacing.
// Cleanup - remove the work directory after the run.
type ExecutorConfig struct {
	Type             string `mapstructure:"type" yaml:"type"`
	executor.Options `mapstructure:",squash" yaml:",inline"`
	Prefix           string              `mapstructure:"prefix" yaml:"prefix"`
	Completion       string              `mapstructure:"completion" yaml:"completion"`
	TimedRuntime     time.Duration       `mapstructure:"timed_runtime" yaml:"timed_runtime"`
	MPIPrefix        string              `mapstructure:"mpi_prefix" yaml:"mpi_prefix"`
	SubmitParams     string              `mapstructure:"submit_params" yaml:"submit_params"`
	SubmitInterval   time.Duration       `mapstructure:"submit_interval" yaml:"submit_interval"`
	Cleanup          bool                `mapstructure:"cleanup" yaml:"cleanup"`
	SSH              executor.SSHOptions `mapstructure:"ssh" yaml:"ssh"`
	MPI              executor.MPIOptions `mapstructure:"mpi" yaml:"mpi"`
}

func (c ExecutorConfig) String() string {
	return fmt.Sprintf("ExecutorConfig: Type: %s, %s, Completion: %s, MPIPrefix: %q, Cleanup: %t",
		c.Type, c.Options, c.Completion, c.MPIPrefix, c.Cleanup)
}

// Source Config variables
// Type - one of the source types above.
// Path - command file, or queue state file for the state type.
// Commands - list type, one command per entry.
// Dir, Root - dir type, poll Dir for files named Root-<n>.
type SourceConfig struct {
	Type               string   `mapstructure:"type" yaml:"type"`
	Path               string   `mapstructure:"path" yaml:"path"`
	Commands           []string `mapstructure:"commands" yaml:"commands"`
	Dir                string   `mapstructure:"dir" yaml:"dir"`
	Root               string   `mapstructure:"root" yaml:"root"`
	source.FileOptions `mapstructure:",squash" yaml:",inline"`
	Sleep              source.SleepOptions `mapstructure:"sleep" yaml:"sleep"`
}

func (c SourceConfig) String() string {
	return fmt.Sprintf("SourceConfig: Type: %s, Path: %s, Commands: %d, Dir: %s, Root: %s, Cores: %s, Schedule: %s, Cap: %d",
		c.Type, c.Path, len(c.Commands), c.Dir, c.Root, c.Cores, c.Schedule, c.Cap)
}

// String renders the configuration as YAML.
func (c *LauncherConfig) String() string {
	out, err := c.Dump()
	if err != nil {
		return fmt.Sprintf("LauncherConfig: %v", err)
	}
	return out
}

// Dump renders the configuration as the YAML that Load accepts.
func (c *LauncherConfig) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "rendering configuration")
	}
	return string(out), nil
}

// Load merges, in order: the default preset, the named preset, the user's
// YAML file when given, LAUNCHER_* environment variables, then overrides
// keyed by dotted path, ex: "job.max_runtime".
func Load(preset, file string, overrides map[string]interface{}) (*LauncherConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(presets[DefaultPreset])); err != nil {
		return nil, errors.Wrap(err, "reading default configuration")
	}
	if preset == "" {
		preset = DefaultPreset
	}
	text, ok := presets[preset]
	if !ok {
		return nil, errors.Errorf("unknown configuration %q, known: %s", preset, strings.Join(Presets(), ", "))
	}
	if preset != DefaultPreset {
		if err := v.MergeConfig(strings.NewReader(text)); err != nil {
			return nil, errors.Wrapf(err, "reading configuration %s", preset)
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading configuration file %s", file)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg LauncherConfig
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	log.WithFields(log.Fields{
		"preset": preset,
		"file":   file,
	}).Info("loaded configuration")
	log.Debug(cfg.String())
	return &cfg, nil
}
