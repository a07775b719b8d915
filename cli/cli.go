// Package cli is the command line front end of the launcher.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	lerrors "github.com/twitter/launcher/common/errors"
	"github.com/twitter/launcher/common/stats"
	"github.com/twitter/launcher/config"
)

// CLI runs launcher subcommands. Output meant for the user, like the final
// report, goes to out; everything else is logged.
type CLI struct {
	rootCmd *cobra.Command
	out     io.Writer
	deps    config.Deps
	reg     stats.StatsRegistry

	logLevel  string
	statsFile string
}

// NewCLI builds the command tree. deps are passed to every build, with Stat
// replaced by a receiver over a registry the CLI can render.
func NewCLI(out io.Writer, deps config.Deps) *CLI {
	c := &CLI{out: out, deps: deps}
	c.reg = stats.NewFinagleStatsRegistry()
	if c.deps.Stat == nil {
		c.deps.Stat = stats.NewCustomStatsReceiver(func() stats.StatsRegistry { return c.reg }).Scope("launcher")
	}

	c.rootCmd = &cobra.Command{
		Use:               "launcher",
		Short:             "launcher packs many small commands into one batch allocation",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	c.rootCmd.PersistentFlags().StringVar(&c.logLevel, "log_level", "info", "Log everything at this level and above (error|warn|info|debug)")
	c.rootCmd.PersistentFlags().StringVar(&c.statsFile, "stats_file", "", "write the collected stats as json to this file after a run")

	c.addCmd(&runCmd{})
	c.addCmd(&resumeCmd{})
	c.addCmd(&dirCmd{})
	c.addCmd(&configCmd{})
	c.addCmd(&hostsCmd{})
	return c
}

// Exec runs the command named by args.
func (c *CLI) Exec(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	c.rootCmd.SetOut(c.out)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setup(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(c.logLevel)
	if err != nil {
		return lerrors.NewError(err, lerrors.ConfigFaultExitCode)
	}
	log.SetLevel(level)
	return nil
}

func (c *CLI) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

type command interface {
	registerFlags() *cobra.Command
	run(c *CLI, cmd *cobra.Command, args []string) error
}

// loadFlags pick and adjust a configuration. Every command that builds a
// launcher shares them.
type loadFlags struct {
	preset  string
	file    string
	workdir string
	sets    map[string]string
}

func (f *loadFlags) register(cmd *cobra.Command, preset string) {
	cmd.Flags().StringVar(&f.preset, "type", preset,
		fmt.Sprintf("named configuration, one of: %s", strings.Join(config.Presets(), ", ")))
	cmd.Flags().StringVar(&f.file, "config", "", "yaml file merged over the named configuration")
	cmd.Flags().StringVar(&f.workdir, "workdir", "", "directory for scripts and output, overrides executor.workdir")
	cmd.Flags().StringToStringVar(&f.sets, "set", nil, "override a value by dotted key, ex: --set job.delay=2s --set hosts.nhosts=8")
}

// load applies, last wins: presets and file, --set values, --workdir, then
// extra.
func (f *loadFlags) load(extra map[string]interface{}) (*config.LauncherConfig, error) {
	overrides := map[string]interface{}{}
	for k, v := range f.sets {
		overrides[k] = v
	}
	if f.workdir != "" {
		overrides["executor.workdir"] = f.workdir
	}
	for k, v := range extra {
		overrides[k] = v
	}
	cfg, err := config.Load(f.preset, f.file, overrides)
	if err != nil {
		return nil, lerrors.NewError(err, lerrors.ConfigFaultExitCode)
	}
	return cfg, nil
}

// launch builds and runs cfg until it finishes or the process is signalled,
// then prints the final report.
func (c *CLI) launch(cmd *cobra.Command, cfg *config.LauncherConfig) error {
	l, err := config.Build(cfg, c.deps)
	if err != nil {
		return err
	}
	defer c.writeStats()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runErr := l.Run(ctx)
	fmt.Fprint(c.out, l.Job.FinalReport())
	if runErr != nil {
		log.WithFields(log.Fields{
			"err":      runErr,
			"exitCode": lerrors.ExitCodeOf(runErr),
		}).Error("launcher run failed")
	}
	return runErr
}

func (c *CLI) writeStats() {
	if c.statsFile == "" {
		return
	}
	if err := os.WriteFile(c.statsFile, c.deps.Stat.Render(true), 0644); err != nil {
		log.WithFields(log.Fields{
			"err":  errors.Wrap(err, "writing stats"),
			"path": c.statsFile,
		}).Warn("could not write stats file")
	}
}
