// Package services implements the application layer between the HTTP handlers
// and the dispatcher. It owns run bookkeeping: every analysis request becomes
// a stored run whose sealed report is persisted and, when an archive is
// configured, exported to object storage.
//
// # Available Services
//
//	- AnalysisService: synchronous dispatch, asynchronous submission through
//	  the RunQueue, run lookup and report export
//	- RunQueue: fixed worker pool executing submitted runs
//	- HealthService: liveness, readiness and version information
//
// # Error Handling
//
// Request errors from the dispatcher (operations.UnknownTargetError and
// operations.InvalidParameterError) are returned unchanged so handlers can map
// them to status codes. Storage lookups return runstore.ErrNotFound.
package services
