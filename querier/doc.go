// Package querier implements an IGMPv1/v2/v3 querier for IPv4 multicast.
//
// # Overview
//
// The package elects itself querier on each attached LAN segment per RFC
// 2236 (IGMPv2) and RFC 3376 (IGMPv3), periodically solicits group
// membership from hosts, tracks learned memberships with the tiered timer
// hierarchy RFC 3376 §7 describes, and answers host leaves with
// group-specific queries before deleting a group.
//
// # Concurrency
//
// An Engine is single-threaded: every exported method that touches
// interface or group state must be called from the goroutine running
// Engine.Run. There is no internal locking — see Engine.Run for the event
// loop that serializes packet, timer, and link-event handling onto one
// goroutine, and Engine.Query for reading state from other goroutines.
//
// # Quick Start
//
//	eng := querier.NewEngine(querier.DefaultConfig(), transport, logger, metrics)
//	eng.Table().Add(2, "eth0")
//	eng.Table().AddAddress(2, netip.MustParseAddr("10.0.0.5"), 0)
//	eng.Run(ctx, packets, events, signals)
package querier
