// Package daemon wires the stratod process: it enforces single-instance
// execution with a lock file, runs the deploy pilot, and serves the
// metrics endpoint.
package daemon
