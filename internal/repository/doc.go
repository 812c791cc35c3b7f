// Package repository defines persistence for the history hearth keeps:
// replication runs, transcode jobs and alerts.
//
// The sqlite subpackage is the only implementation. Callers depend on
// the narrow interfaces declared next to them (replicate.RunStore,
// transcode.JobStore, alert.Store); Repository is what cmd wires.
package repository
