// Package http implements the HTTP request handlers for the emprofiler server.
// Handlers are a thin layer between HTTP transport and the analysis service:
// they parse and validate requests, call the service and format responses.
//
// # Endpoints
//
//	POST   /api/dispatch             run a target synchronously, respond with the sealed report
//	POST   /api/runs                 queue a target, respond 202 with the run ID
//	GET    /api/runs                 list runs (status, target, since, limit)
//	GET    /api/runs/{id}            run record, including the report once finished
//	POST   /api/runs/{id}/cancel     cancel a queued or running submission
//	DELETE /api/runs/{id}            same as cancel
//	GET    /api/runs/{id}/export     report as json, xlsx or csv
//	GET    /api/targets[/{name}]     dispatchable operations and pipelines
//	GET    /api/aliases              legacy alias table
//	POST   /api/{domain}             legacy per-domain entry point
//	GET    /api/stats                queue, websocket and runtime counters
//	GET    /healthz[/ready|/live]    health probes
//	GET    /metrics                  Prometheus scrape endpoint
//
// # Error Handling
//
// Every error response is an RFC 7807 problem document produced by
// errors.ErrorHandler:
//
//	{
//	    "type": "/errors/target/invalid-parameter",
//	    "title": "Invalid Parameter",
//	    "status": 422,
//	    "detail": "invalid parameter \"depth\" for stage rarefy: must be an integer",
//	    "instance": "/api/dispatch",
//	    "parameter": "depth",
//	    "stage": "rarefy",
//	    "trace_id": "..."
//	}
//
// # Testing
//
// Handlers depend on AnalysisServiceInterface and are tested with a testify
// mock behind a chi router.
package http
