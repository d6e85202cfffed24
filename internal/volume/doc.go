// Package volume drives block volumes through their lifecycle against the
// provider: provision and wait for availability, attach with bounded
// retries, detach with a reclamation deadline, and release. Every state
// change is recorded through the store so the history never skips an edge.
package volume
