// Package deploy runs the deployment pilot: a per-target queue of
// deployment requests where the newest request wins and at most one apply
// runs per target at a time. A failed apply for one target never blocks the
// others.
package deploy
