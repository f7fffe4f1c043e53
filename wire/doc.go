// Package wire defines the messages exchanged between a tagsync master and
// slave, and their binary framing.
//
// Every message travels as a length-prefixed frame: a 4-byte big-endian
// payload length followed by the payload. The payload starts with a 1-byte
// message type and an 8-byte big-endian sequence number; the remainder is
// the type-specific body. Trigger, heartbeat, status and file bodies are
// fixed binary layouts. Command and reply bodies are JSON, since the
// command channel carries ad hoc control requests with structured
// parameters.
//
// Sequence numbers are per-channel and strictly increasing within a
// session. Receivers use them to discard duplicate or stale messages, never
// to reorder.
package wire
