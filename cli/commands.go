package cli

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	lerrors "github.com/twitter/launcher/common/errors"
	"github.com/twitter/launcher/config"
	"github.com/twitter/launcher/hosts"
)

type runCmd struct {
	load        loadFlags
	commandFile string
	cores       string
}

func (c *runCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "run",
		Short: "run the commands of a command file",
		Args:  cobra.NoArgs,
	}
	c.load.register(r, config.DefaultPreset)
	r.Flags().StringVar(&c.commandFile, "commandfile", "", "file with one command per line, overrides source.path")
	r.Flags().StringVar(&c.cores, "cores", "", "cores per command: a number, \"file\" or \"node\", overrides source.cores")
	return r
}

func (c *runCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	extra := map[string]interface{}{}
	if c.commandFile != "" {
		extra["source.type"] = config.FileSource
		extra["source.path"] = c.commandFile
	}
	if c.cores != "" {
		extra["source.cores"] = c.cores
	}
	cfg, err := c.load.load(extra)
	if err != nil {
		return err
	}
	return cl.launch(cmd, cfg)
}

type resumeCmd struct {
	load loadFlags
}

func (c *resumeCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "resume <queuestate>",
		Short: "run the queued and running commands recorded by an earlier run",
		Args:  cobra.ExactArgs(1),
	}
	c.load.register(r, config.DefaultPreset)
	return r
}

func (c *resumeCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	cfg, err := c.load.load(map[string]interface{}{
		"source.type": config.StateSource,
		"source.path": args[0],
	})
	if err != nil {
		return err
	}
	// the state file being resumed is not overwritten
	if cfg.Job.QueueState == args[0] {
		cfg.Job.QueueState = args[0] + ".resumed"
	}
	log.WithFields(log.Fields{
		"state": args[0],
	}).Info("resuming")
	return cl.launch(cmd, cfg)
}

type dirCmd struct {
	load loadFlags
	root string
}

func (c *dirCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "dir <directory>",
		Short: "run command files as they appear in a directory",
		Args:  cobra.ExactArgs(1),
	}
	c.load.register(r, config.DynamicPreset)
	r.Flags().StringVar(&c.root, "root", "", "file name stem to watch for, overrides source.root")
	return r
}

func (c *dirCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	extra := map[string]interface{}{
		"source.type": config.DirSource,
		"source.dir":  args[0],
	}
	if c.root != "" {
		extra["source.root"] = c.root
	}
	cfg, err := c.load.load(extra)
	if err != nil {
		return err
	}
	return cl.launch(cmd, cfg)
}

type configCmd struct {
	load loadFlags
}

func (c *configCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "config",
		Short: "print the effective configuration as yaml",
		Args:  cobra.NoArgs,
	}
	c.load.register(r, config.DefaultPreset)
	return r
}

func (c *configCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	cfg, err := c.load.load(nil)
	if err != nil {
		return err
	}
	out, err := cfg.Dump()
	if err != nil {
		return err
	}
	fmt.Fprint(cl.out, out)
	return nil
}

type hostsCmd struct {
	load loadFlags
}

func (c *hostsCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "hosts",
		Short: "print the hosts and slots that would be used",
		Args:  cobra.NoArgs,
	}
	c.load.register(r, config.DefaultPreset)
	return r
}

func (c *hostsCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	cfg, err := c.load.load(nil)
	if err != nil {
		return err
	}
	getenv := cl.deps.Getenv
	if getenv == nil {
		getenv = hosts.OsGetenv
	}
	list, err := hosts.Discover(cfg.Hosts, getenv)
	if err != nil {
		return lerrors.NewError(err, lerrors.ConfigFaultExitCode)
	}
	unique := list.UniqueHosts()
	fmt.Fprintf(cl.out, "%d slots on %d hosts: %s\n", list.Len(), len(unique), strings.Join(unique, " "))
	for _, loc := range list.Locations() {
		fmt.Fprintln(cl.out, loc)
	}
	return nil
}
