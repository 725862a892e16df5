// Package nats publishes frame metadata and capture state over NATS and
// accepts capture commands from it. An embedded server is available for
// single-host setups.
//
// # Subject Hierarchy
//
//	svbcapture.cameras.{camera}.frames   # frame metadata (service → subscribers)
//	svbcapture.cameras.{camera}.state    # run state changes (service → subscribers)
//	svbcapture.control.{camera}          # commands, request/reply (client → service)
//
// {camera} is the camera label, normally its serial number. Publishing is
// fire-and-forget (core NATS, no JetStream); a disconnected publisher drops
// messages instead of blocking acquisition.
//
// # Debugging with nats CLI
//
// Follow every frame of every camera:
//
//	nats sub "svbcapture.cameras.*.frames"
//
// Start and stop a run:
//
//	nats req svbcapture.control.SIM0000001 '{"action":"start"}'
//	nats req svbcapture.control.SIM0000001 '{"action":"stop"}'
//
// # Message Formats
//
// Frame metadata (svbcapture.cameras.{camera}.frames):
//
//	{
//	  "camera": "SIM0000001",
//	  "run_id": "9b2f2c1e-4c1a-4d0f-9d7e-0f1b3c7a2e10",
//	  "seq": 42,
//	  "timestamp": "2026-03-01T12:00:00.123456789Z",
//	  "exposure_us": 100000,
//	  "width": 1920,
//	  "height": 1080,
//	  "bit_depth": 16,
//	  "image_type": "RAW16",
//	  "bytes": 4147200,
//	  "xxh64": "5f1e2d3c4b5a6978"
//	}
//
// StateMessage (svbcapture.cameras.{camera}.state):
//
//	{
//	  "camera": "SIM0000001",
//	  "run_id": "9b2f2c1e-4c1a-4d0f-9d7e-0f1b3c7a2e10",
//	  "state": "idle",
//	  "frames": 120,
//	  "error": "read frame 121 (wait 700 ms): camera removed",
//	  "timestamp": "2026-03-01T12:00:04Z"
//	}
//
// ControlMessage (svbcapture.control.{camera}) and its ControlReply:
//
//	{"action": "start", "reason": "scheduler"}
//	{"ok": true, "state": "capturing", "run_id": "..."}
package nats
