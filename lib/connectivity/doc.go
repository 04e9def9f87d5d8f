// Package connectivity answers the question the data router asks before every remote call:
// can the remote service be reached right now, and how well.
//
// An IOracle reports the online state, a coarse link Quality and the device Conditions
// (wifi, charging) that file transfers may require. It also publishes the offline to online
// edge through OnReconnect, which the mutation queue uses to start draining.
//
// Two oracles are provided:
//
//   - Manual: state set by the embedding application or by tests.
//   - ProbeOracle: periodically runs a ProbeFunc (an rpc ping or a DNS lookup via DNSProbe)
//     and derives the quality from the median probe latency.
package connectivity
