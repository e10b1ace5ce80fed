// Package mesh implements the meshwork: the in-process fabric that
// connects named agents through direct sends, request/reply, topic
// publish/subscribe, and broadcast fan-out.
//
// Each registered agent owns a bounded inbox channel drained by a single
// delivery goroutine, which gives per-recipient FIFO ordering and
// at-most-once delivery. Direct sends block when an inbox is full
// (backpressure); broadcasts and topic publishes drop instead, so one
// slow agent cannot stall the fan-out. Drops are counted and logged.
//
// Agents may be connected into an explicit adjacency; a broadcast from
// an agent with recorded neighbors reaches only those neighbors, while
// an unconnected agent broadcasts mesh-wide.
//
// An optional NATS bridge (see Bridge) mirrors broadcasts and topic
// publishes to a NATS subject tree so multiple meshd processes can form
// one logical mesh.
package mesh
