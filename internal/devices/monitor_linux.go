//go:build linux

package devices

import (
	"context"
	"errors"
	"syscall"
)

const netlinkKobjectUEvent = 15

// Monitor reads kernel uevents from a netlink socket.
type Monitor struct {
	fd int
}

// NewMonitor binds to the kernel uevent broadcast group.
func NewMonitor() (*Monitor, error) {
	fd, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_DGRAM|syscall.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}
	addr := &syscall.SockaddrNetlink{Family: syscall.AF_NETLINK, Groups: 1}
	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	// One second receive timeout so Run notices cancellation.
	tv := syscall.Timeval{Sec: 1}
	if err := syscall.SetsockoptTimeval(fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return &Monitor{fd: fd}, nil
}

// Run sends USB events to out until ctx is done. out is closed on return.
func (m *Monitor) Run(ctx context.Context, out chan<- Event) error {
	defer close(out)

	buf := make([]byte, 8192)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, _, err := syscall.Recvfrom(m.fd, buf, 0)
		switch {
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			continue
		case err != nil:
			return err
		case n == 0:
			continue
		}

		ev := ParseUEvent(buf[:n])
		if ev == nil || ev.Subsystem != "usb" {
			continue
		}
		select {
		case out <- *ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases the socket.
func (m *Monitor) Close() error {
	return syscall.Close(m.fd)
}
