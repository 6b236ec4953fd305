// Package server is the engine's status HTTP server, built on Gin. The
// pump command starts it when status.enabled is set.
//
// Endpoints (server/endpoint):
//
//   - /alive: liveness probe
//   - /health: source and component health; 503 when down
//   - /status: pump counters and the progress of running stages
//
// Middleware (server/middleware): panic recovery, request ids and request
// logging.
package server
