package node

import (
	"sync/atomic"
	"time"
)

// heartbeatMonitor tracks the arrival times of peer heartbeats. The master
// consults it on an interval task to detect a silent slave.
type heartbeatMonitor struct {
	lastBeat atomic.Int64 // unix nanoseconds of the last beat, 0 before the first
}

func (m *heartbeatMonitor) observe() {
	m.lastBeat.Store(time.Now().UnixNano())
}

// seen reports whether at least one heartbeat arrived.
func (m *heartbeatMonitor) seen() bool {
	return m.lastBeat.Load() != 0
}

// silentFor returns the time since the last heartbeat, or 0 before the
// first one. Liveness accounting only starts once the peer showed up.
func (m *heartbeatMonitor) silentFor() time.Duration {
	last := m.lastBeat.Load()
	if last == 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() - last)
}

// reset forgets the peer, so a later reconnect starts a fresh liveness
// window.
func (m *heartbeatMonitor) reset() {
	m.lastBeat.Store(0)
}
