// Package domain defines the types hearth reasons about: the inventory of
// hosts and the third-party services they run, and the records produced
// while operating that deployment (audit findings, replication runs,
// transcode jobs, probe observations and alerts).
//
// # Inventory
//
// Inventory is the machine-readable form of the deployment plan. Each Host
// belongs to a Tier (router, ingest, serving, edge). Each Service is pinned
// to one host with its ports, its /srv/<app>-config or /srv/<app>-data
// directories and its name under the internal DNS domain (home.lan).
// MediaLayout and Ownership are the conventions every host shares.
//
// # Records
//
// Finding, ReplicationRun, TranscodeJob, Observation and Alert carry no
// behavior beyond small helpers; persistence lives in repository/sqlite.
//
// The package has no I/O and no dependencies outside the standard library.
package domain
