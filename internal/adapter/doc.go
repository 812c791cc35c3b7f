// Package adapter implements the health probes behind hearth's alerts.
//
// Adapters are pluggable components that look at one part of the deployment
// and report what they see as observations. Each adapter registers with the
// Registry, which polls it on its own interval and hands every batch of
// observations to a single callback (the alert engine in production).
//
// # Adapter Types
//
// AdapterTypePolling runs on an interval under the Registry.
// AdapterTypeOneShot runs on demand only (hearth check --live, hearth alert probe).
//
// # Core Adapters
//
// WANAdapter dials well-known anycast resolvers to decide whether the uplink
// is up. It reports healthy as long as one target answers.
//
// VerifierAdapter connects to every TCP port the inventory declares and
// reports each service reachable or not.
//
// SSHProbeAdapter runs a HostCheck over SSH on a set of hosts. SMARTCheck
// runs smartctl against each drive, ContainersCheck lists docker containers.
//
// NmapScanner is not polled. The audit uses it to find open ports that no
// service declares.
package adapter
