// Package channel implements the five logical channels between a tagsync
// master and slave: trigger, command, heartbeat, file and status.
//
// Each channel is bound to its own TCP port and owned by exactly one task
// on each node. One-way traffic (trigger, heartbeat, file, status) uses
// Push/Pull endpoints; the bidirectional command channel uses the Command
// endpoint, a request/reply link over a single connection.
//
// Receives are deadline-polled: a quiet poll returns wire.ErrNoMessage so
// the owning task can observe its stop signal instead of blocking on a
// dead socket.
package channel
