// Package store persists control-plane state in SQLite: volume lifecycle
// records with their transition history, submitted batch jobs, and the
// deployment history per target. It owns the record models and the volume
// state machine's legality rules so every writer goes through the same
// transition check.
package store
