// Package services holds the application layer between the transports
// (CLI, HTTP, drop folder) and the Stokes engine.
//
// BatchService converts many independent files in parallel, one
// stokes.Session per file, with at most Batch.Workers files in flight.
// Results come back in input order and an optional batch report CSV lists
// every outcome. SessionService keeps the sessions created from HTTP
// uploads, each backed by its own stored upload. HealthService answers the
// liveness, readiness and version endpoints.
//
// Progress is pushed to a websocket.ProgressBroadcaster when one is
// configured:
//
//	hub := websocket.NewHub(logger, metrics)
//	batch := services.NewBatchService(resolver, opts, logger,
//	    services.WithBroadcaster(hub))
//	report, err := batch.Run(ctx, inputs, services.BatchOptions{OutputDir: "out", Workers: 4})
package services
