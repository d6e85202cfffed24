// Package ipc exposes daemon control over JSON-RPC on a Unix domain
// socket. The CLI is the only intended client; the wire types are flat
// DTOs so the CLI never imports store internals.
package ipc
