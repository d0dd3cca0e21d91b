/*
blelink - Keeps a BLE peripheral connected and reports connection changes
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/TheCacophonyProject/blelink/internal/bluez"
	"github.com/TheCacophonyProject/blelink/internal/dispatch"
	"github.com/TheCacophonyProject/blelink/internal/link"
	"github.com/TheCacophonyProject/blelink/internal/logging"
	"github.com/TheCacophonyProject/blelink/internal/prefs"
	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/alexflint/go-arg"
	"github.com/google/go-cmp/cmp"
	"github.com/rjeczalik/notify"
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

type Args struct {
	goconfig.ConfigArgs
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{}

func procArgs(input []string) (Args, error) {
	args := defaultArgs
	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)
	link.SetLogger(log)
	bluez.SetLogger(log)
	dispatch.SetLogger(log)
	log.Printf("Running version: %s", version)

	conf, err := ParseConfig(args.ConfigDir)
	if err != nil {
		return err
	}

	store, err := prefs.Open(conf.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, restart := context.WithCancel(ctx)
	defer restart()
	go watchConfig(ctx, conf, args.ConfigDir, restart)

	// The transport outlives the engine so the final disconnect can be sent.
	transportCtx, cancelTransport := context.WithCancel(context.Background())
	defer cancelTransport()
	transport := bluez.New(conf.Adapter)
	if err := transport.Start(transportCtx); err != nil {
		return err
	}

	engine := link.NewEngine(conf.linkConfig(), transport, store, newDispatcher(conf), nil)
	if err := startService(engine, store); err != nil {
		return fmt.Errorf("failed to start D-Bus service: %w", err)
	}

	if conf.hasForegroundWindow() {
		w, err := newForegroundWindow(conf)
		if err != nil {
			return err
		}
		go runForegroundWindow(ctx, w, engine)
	}

	log.Infof("Managing BLE link on %s", conf.Adapter)
	err = engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("Stopped")
		return nil
	}
	return err
}

func newDispatcher(conf *Config) *dispatch.Dispatcher {
	d := &dispatch.Dispatcher{}
	if conf.ReportEvents {
		d.Notifiers = append(d.Notifiers, dispatch.NewEventReporter())
	}
	if conf.LEDPin != "" {
		led, err := dispatch.NewStatusLED(conf.LEDPin)
		if err != nil {
			log.Errorf("Status LED disabled: %v", err)
		} else {
			d.Notifiers = append(d.Notifiers, led)
		}
	}
	if conf.AutomationName != "" {
		d.Automation = &dispatch.HookRunner{
			Dir:     conf.HooksDir,
			Name:    conf.AutomationName,
			Timeout: conf.AutomationTimeout,
		}
	}
	return d
}

// watchConfig calls restart once the config file changes in a way that
// affects the daemon. Run then returns and systemd starts it again with the
// new config.
func watchConfig(ctx context.Context, conf *Config, configDir string, restart func()) {
	fsEvents := make(chan notify.EventInfo, 1)
	path := filepath.Join(configDir, goconfig.ConfigFileName)
	if err := notify.Watch(path, fsEvents, notify.InCloseWrite, notify.InMovedTo); err != nil {
		log.Errorf("Failed to watch %s: %v", path, err)
		return
	}
	defer notify.Stop(fsEvents)

	parse := func() (*Config, error) { return ParseConfig(configDir) }
	for {
		select {
		case <-ctx.Done():
			return
		case <-fsEvents:
		}
		changed, err := configChanged(conf, parse)
		if err != nil {
			log.Errorf("Ignoring config update: %v", err)
			continue
		}
		if changed {
			log.Info("Config changed, restarting link engine")
			restart()
			return
		}
	}
}

// configChanged reparses the config and reports whether it differs from conf.
func configChanged(conf *Config, parse func() (*Config, error)) (bool, error) {
	next, err := parse()
	if err != nil {
		return false, err
	}
	diff := cmp.Diff(conf, next)
	if diff == "" {
		log.Debug("Config rewritten without changes")
		return false, nil
	}
	log.Debugf("Config diff: %s", diff)
	return true, nil
}
