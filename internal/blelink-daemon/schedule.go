package daemon

import (
	"context"
	"time"

	"github.com/TheCacophonyProject/window"
)

type foregroundSwitch interface {
	EnterForeground() error
	EnterBackground() error
}

type activeWindow interface {
	Active() bool
	Until() time.Duration
	UntilEnd() time.Duration
}

func newForegroundWindow(conf *Config) (*window.Window, error) {
	return window.New(conf.ForegroundStart, conf.ForegroundEnd, float64(conf.Latitude), float64(conf.Longitude))
}

// runForegroundWindow keeps the engine in the foreground while the window is
// active and in the background outside it.
func runForegroundWindow(ctx context.Context, w activeWindow, engine foregroundSwitch) {
	for {
		wait := applyWindow(w, engine)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func applyWindow(w activeWindow, engine foregroundSwitch) time.Duration {
	if w.Active() {
		log.Info("Foreground window active")
		if err := engine.EnterForeground(); err != nil {
			log.Warnf("Failed to enter foreground: %v", err)
		}
		return nextCheck(w.UntilEnd())
	}
	log.Info("Outside foreground window")
	if err := engine.EnterBackground(); err != nil {
		log.Warnf("Failed to enter background: %v", err)
	}
	return nextCheck(w.Until())
}

// nextCheck pads the wait so the window edge has passed when it is checked.
func nextCheck(d time.Duration) time.Duration {
	if d < 0 {
		d = 0
	}
	return d + time.Second
}
