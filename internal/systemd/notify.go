// Package systemd reports service state to systemd through sd_notify.
// Outside a systemd unit every call is a no-op.
package systemd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages. The zero value is usable.
type Notifier struct {
	// Send defaults to daemon.SdNotify.
	Send   func(unsetEnvironment bool, state string) (bool, error)
	Logger *slog.Logger

	// Interval returns the watchdog interval, zero when disabled. Defaults
	// to daemon.SdWatchdogEnabled.
	Interval func(unsetEnvironment bool) (time.Duration, error)
}

func (n *Notifier) send(state string) error {
	send := n.Send
	if send == nil {
		send = daemon.SdNotify
	}
	sent, err := send(false, state)
	if err != nil {
		return fmt.Errorf("sd_notify %q: %w", state, err)
	}
	if sent && n.Logger != nil {
		n.Logger.Debug("Notified systemd", "state", state)
	}
	return nil
}

// Ready reports that startup finished.
func (n *Notifier) Ready() error { return n.send(daemon.SdNotifyReady) }

// Stopping reports that shutdown began.
func (n *Notifier) Stopping() error { return n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl.
func (n *Notifier) Status(format string, args ...any) error {
	return n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog pings the service watchdog at half its interval until ctx is
// done. healthy is consulted before every ping; a false result skips the
// ping so systemd restarts a stuck service. It returns at once when the unit
// has no watchdog.
func (n *Notifier) Watchdog(ctx context.Context, healthy func() bool) error {
	interval := n.Interval
	if interval == nil {
		interval = daemon.SdWatchdogEnabled
	}
	d, err := interval(false)
	if err != nil {
		return fmt.Errorf("watchdog interval: %w", err)
	}
	if d <= 0 {
		return nil
	}

	t := time.NewTicker(d / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil && !healthy() {
				if n.Logger != nil {
					n.Logger.Warn("Skipping watchdog ping, service unhealthy")
				}
				continue
			}
			if err := n.send(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
