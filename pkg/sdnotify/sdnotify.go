// Package sdnotify reports service state to systemd (Type=notify units).
// Outside systemd every call is a no-op.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"postbot/pkg/logx"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

// Ready tells systemd startup finished.
func Ready(log logx.Logger) { send(log, daemon.SdNotifyReady) }

// Stopping tells systemd shutdown began.
func Stopping(log logx.Logger) { send(log, daemon.SdNotifyStopping) }

// Reloading marks a config reload in progress; call Ready when done.
func Reloading(log logx.Logger) { send(log, daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func Status(log logx.Logger, status string) { send(log, "STATUS="+status) }

func send(log logx.Logger, state string) {
	sent, err := notify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// Watchdog pings systemd at half the configured WatchdogSec until ctx is
// done. It returns immediately when the watchdog is not enabled.
func Watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	ping(ctx, log, interval/2)
}

func ping(ctx context.Context, log logx.Logger, every time.Duration) {
	log.Info("watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			send(log, daemon.SdNotifyWatchdog)
		}
	}
}
