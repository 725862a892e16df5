//go:build !linux

package devices

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by NewMonitor on platforms without netlink.
var ErrUnsupported = errors.New("hotplug monitoring requires linux")

// Monitor is unavailable on this platform.
type Monitor struct{}

func NewMonitor() (*Monitor, error) {
	return nil, ErrUnsupported
}

func (m *Monitor) Run(_ context.Context, out chan<- Event) error {
	close(out)
	return ErrUnsupported
}

func (m *Monitor) Close() error { return nil }
