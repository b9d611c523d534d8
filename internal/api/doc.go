// Package api implements the discoverd REST API.
//
// # Endpoints
//
//	POST /v1/introspection/{uuid}  start introspection (202)
//	GET  /v1/introspection/{uuid}  introspection status {finished, error}
//	POST /v1/continue              ramdisk callback with hardware facts
//	POST /v1/discover              start introspection of a UUID list (deprecated)
//	GET  /healthz                  liveness
//	GET  /metrics                  Prometheus metrics, when enabled
//
// Errors are returned as a plain-text body holding the message, with a
// status derived from the error (see [StatusFor]).
//
// # Authentication
//
// With authenticate = true the introspection endpoints require the
// headers set by an authenticating proxy: X-Identity-Status: Confirmed
// and an X-Roles list containing "admin". The ramdisk callback is never
// authenticated.
package api
