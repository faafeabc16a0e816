// Package app wires the emprofiler server together and owns its lifecycle.
//
// # Initialization Flow
//
// NewApplication builds every component in dependency order:
//
//	1. Load configuration from defaults, the config file and EMP_* variables
//	2. Initialize logging and OpenTelemetry (traces, Prometheus metrics)
//	3. Build the operation catalog and its dispatcher
//	4. Open the run store (memory or PostgreSQL) and the optional MinIO archive
//	5. Create the websocket hub, status broadcaster and analysis service
//	6. Mount the HTTP handlers behind the middleware chain
//
// # Usage
//
//	application, err := app.NewApplication(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := application.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// Stop, triggered by SIGINT or SIGTERM under Run, shuts down in order:
//
//	- the HTTP server stops accepting requests
//	- running analyses get the remaining shutdown budget, then are cancelled
//	- the retention sweep and status broadcaster stop
//	- websocket clients are disconnected
//	- the run store is closed and telemetry is flushed
//
// Errors are returned to the caller; the package never calls os.Exit.
package app
