package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/launcher/cli"
	lerrors "github.com/twitter/launcher/common/errors"
	"github.com/twitter/launcher/common/log/hooks"
	"github.com/twitter/launcher/config"
)

// Launcher binary, packs many small commands into one batch allocation
//	Supported commands: (see "-h" for all options)
//		run [--commandfile file]
//		resume [queuestate]
//		dir [directory]
//		config
//		hosts
//	Global flags:
//		--log_level [<error|warn|info|debug> level and above should be logged]
//		--stats_file [write collected stats as json here after a run]
//	Exit codes: 70 configuration fault, 80 invariant fault, 90 executor failure.

func main() {
	log.AddHook(hooks.NewContextHook())

	cl := cli.NewCLI(os.Stdout, config.Deps{})
	if err := cl.Exec(context.Background(), os.Args[1:]); err != nil {
		code := lerrors.ExitCodeOf(err)
		log.WithFields(log.Fields{
			"err":      err,
			"exitCode": code,
		}).Error("launcher failed")
		os.Exit(int(code))
	}
}
