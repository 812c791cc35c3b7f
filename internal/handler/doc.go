// Package handler implements the HTTP API of `hearth serve`.
//
// # Routes
//
//	GET  /healthz                    liveness plus a short status summary
//	GET  /api/inventory              the inventory as JSON
//	GET  /api/inventory/{format}     yaml, ansible-inventory, dnsmasq or json
//	GET  /api/audit[?live=true]      audit report
//	GET  /api/replication/runs       replication history, newest first
//	POST /api/replication/run        start a replication (202, 409 if running, 429 over the per-IP limit)
//	GET  /api/alerts[?active=true]   alert history
//	GET  /events                     Server-Sent Events from the event bus
//	GET  /metrics                    Prometheus metrics
//
// Errors are returned as JSON with an {error, details} body. CORS is off
// unless RouterOptions lists allowed origins.
package handler
