package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "weatherbot/pkg/logx"
)

// sdNotify is swapped in tests.
var sdNotify = daemon.SdNotify

// notifySystemd sends state to the service manager. Outside systemd
// (NOTIFY_SOCKET unset) it is a no-op.
func notifySystemd(log logx.Logger, state string) {
	sent, err := sdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// watchdogLoop pings the systemd watchdog at half its interval until ctx is
// done. It returns at once when WatchdogSec is not configured.
func watchdogLoop(ctx context.Context, log logx.Logger) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	every /= 2
	log.Info("systemd watchdog enabled", logx.Duration("interval", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notifySystemd(log, daemon.SdNotifyWatchdog)
		}
	}
}
