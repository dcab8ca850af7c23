// Package fronter defines the neutral protocol shared by the kernel, platform
// drivers, and modules: events, attachments, command syntax, capability
// negotiation, bus contracts, and outbound requests.
//
// Drivers translate platform traffic into Event values and implement
// SinkDispatcher. Modules never import driver packages.
package fronter
