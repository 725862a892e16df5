// Package devices watches the kernel for SVBony USB cameras being attached
// and removed.
package devices

import (
	"bytes"
	"strconv"
	"strings"
)

// SVBonyVendorID is the USB vendor ID of SVBony cameras.
const SVBonyVendorID = 0xf266

// Hotplug actions reported by the kernel.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionBind   = "bind"
	ActionUnbind = "unbind"
)

// Event is one kernel uevent.
type Event struct {
	Action    string
	KObj      string
	Subsystem string
	DevType   string
	DevPath   string
	Env       map[string]string
}

// USBID is the vendor and product of a USB device.
type USBID struct {
	Vendor  uint16
	Product uint16
}

// USB extracts the vendor and product from the PRODUCT variable, which the
// kernel formats as "vvvv/pppp/bcd" in hex without padding. It reports false
// for events without a usable PRODUCT.
func (e Event) USB() (USBID, bool) {
	parts := strings.Split(e.Env["PRODUCT"], "/")
	if len(parts) < 2 {
		return USBID{}, false
	}
	v, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return USBID{}, false
	}
	p, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return USBID{}, false
	}
	return USBID{Vendor: uint16(v), Product: uint16(p)}, true
}

// IsSVBonyCamera reports whether e concerns a whole SVBony USB device rather
// than one of its interfaces.
func (e Event) IsSVBonyCamera() bool {
	if e.Subsystem != "usb" || e.DevType != "usb_device" {
		return false
	}
	id, ok := e.USB()
	return ok && id.Vendor == SVBonyVendorID
}

// ParseUEvent decodes "ACTION@KOBJ\0KEY=VALUE\0...". Messages relayed by
// udev carry a binary "libudev" header which is skipped. It returns nil for
// anything that is not a uevent.
func ParseUEvent(data []byte) *Event {
	if bytes.HasPrefix(data, []byte("libudev")) {
		data = skipUdevHeader(data)
	}

	fields := bytes.Split(data, []byte{0})
	action, kobj, ok := strings.Cut(string(fields[0]), "@")
	if !ok || action == "" {
		return nil
	}

	ev := &Event{Action: action, KObj: kobj, Env: make(map[string]string)}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(string(f), "=")
		if !ok || key == "" {
			continue
		}
		ev.Env[key] = value
		switch key {
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVTYPE":
			ev.DevType = value
		case "DEVPATH":
			ev.DevPath = value
		}
	}
	return ev
}

func skipUdevHeader(data []byte) []byte {
	for i := 0; i < len(data)-1; i++ {
		if data[i] != 0 {
			continue
		}
		rest := data[i+1:]
		at := bytes.IndexByte(rest, '@')
		if at > 0 && at < 20 && bytes.IndexByte(rest[:at], 0) < 0 {
			return rest
		}
	}
	return nil
}
