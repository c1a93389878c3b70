// Package app wires the polar components together.
//
// Core holds the conversion stack every entry point needs: resolved
// paths, telemetry, the ingest resolver, engine options, file discovery
// and input validation. CLI commands build a Core and use it directly.
//
// Application adds the HTTP service on top of a Core: the progress hub,
// upload storage, the session, batch and health services, and the chi
// router. Middleware runs in the order
//
//	RequestID → RealIP → OTel → Logger → Recoverer → Timeout
//
// with /ws and /metrics registered before the full chain so the websocket
// upgrade sees an unwrapped ResponseWriter.
//
// # Lifecycle
//
//	core, err := app.NewCore(cfg, logger)
//	application, err := app.New(core)
//	err = application.Run(ctx) // blocks until ctx is done
//
// Stop shuts the server down gracefully, stops the session janitor and the
// hub, removes every open session with its upload and flushes telemetry.
// Errors are returned to the caller; the package never exits the process.
package app
