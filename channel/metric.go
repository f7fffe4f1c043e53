package channel

import "sync/atomic"

// Metrics contains atomic counters for one channel endpoint.
// Counters can be used as the value of a prometheus CounterFunc by the
// embedding application.
type Metrics struct {
	// SendCount indicates the number of messages sent.
	SendCount atomic.Uint64
	// RecvCount indicates the number of messages received.
	RecvCount atomic.Uint64
	// ErrCount indicates the number of send/receive errors.
	ErrCount atomic.Uint64
	// StaleCount indicates the number of messages discarded for stale or
	// duplicate sequence numbers.
	StaleCount atomic.Uint64
	// ReconnectCount indicates the number of times the endpoint re-dialed
	// or re-accepted its peer.
	ReconnectCount atomic.Uint64
}

func (m *Metrics) incSendCount() {
	m.SendCount.Add(1)
}

func (m *Metrics) incRecvCount() {
	m.RecvCount.Add(1)
}

func (m *Metrics) incErrCount() {
	m.ErrCount.Add(1)
}

// IncStaleCount counts one discarded stale message. It is exported because
// sequence validation happens in the owning node task, not in the endpoint.
func (m *Metrics) IncStaleCount() {
	m.StaleCount.Add(1)
}

func (m *Metrics) incReconnectCount() {
	m.ReconnectCount.Add(1)
}
