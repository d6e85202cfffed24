// Package batch submits jobs to the provider's batch service and follows
// them to completion. Submission stages the payload, provisions any
// requested volumes, and tolerates the role visibility window after role
// creation. Watching is pull based: each call to Next returns the following
// phase change, attaching volumes once the job lands on an instance and
// tearing them down at the terminal phase.
package batch
