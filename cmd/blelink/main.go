package main

import (
	"fmt"
	"os"

	ctl "github.com/TheCacophonyProject/blelink/internal/blelink-ctl"
	daemon "github.com/TheCacophonyProject/blelink/internal/blelink-daemon"
	"github.com/TheCacophonyProject/blelink/internal/logging"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

var version = "<not set>"

func runMain() error {
	log = logging.NewLogger("info")
	if len(os.Args) < 2 {
		log.Info("Usage: blelink <daemon|ctl> [args]")
		return fmt.Errorf("no subcommand given")
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	var err error
	switch subcommand {
	case "daemon":
		err = daemon.Run(args, version)
	case "ctl":
		err = ctl.Run(args, version)
	default:
		err = fmt.Errorf("unknown subcommand: %s", subcommand)
	}

	return err
}
