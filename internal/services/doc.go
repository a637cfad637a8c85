// Package services wires wavekeeper's core services from configuration.
//
// Use FromConfig to build a Registry whose coordinator, workflow machine,
// task graph validator and hook manager share one logger and one set of
// resolved paths; the CLI and the status API both read through it.
package services
