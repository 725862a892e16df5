// Package logging provides module-scoped slog loggers for svbcapture.
//
// Records are fanned out to every usable sink: stdout (text or json), the
// systemd journal when journald is reachable, and an in-memory history of
// recent entries that the HTTP API serves at /api/logs.
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"camera":   "debug",
//			"dispatch": "warn",
//		},
//	})
//
//	log := logging.GetLogger("camera")
//	log.Info("Capture started", "run_id", id, "exposure_us", 100000)
//
// Loggers handed out before Initialize keep working; their handlers are
// rebuilt in place once the configuration is known.
//
// Journal entries are tagged with SYSLOG_IDENTIFIER=svbcapture:
//
//	journalctl -t svbcapture MODULE=camera -f
package logging
