// Package cloud defines the provider API boundary the orchestration core
// drives: block storage volumes, compute instances, batch jobs, the object
// store, and job log streams. The core relies on three provider behaviors
// only: idempotent delete, eventually-consistent read-after-write, and
// status polling rather than push notification. Concrete providers register
// by implementing these interfaces; the cloudfake subpackage ships an
// in-process implementation used for tests and local dry runs.
package cloud
