// Package process runs plugin executables. Run starts one subprocess in
// its own process group and stops it with SIGTERM, then SIGKILL, when the
// context ends. Runner adds a concurrency bulkhead and a circuit breaker
// shared by every stage instance that runs the same plugin.
package process
