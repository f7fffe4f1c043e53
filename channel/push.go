package channel

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/wire"
)

// Default endpoint timing. These are transport-level bounds, not protocol
// timeouts; the protocol-level waits live in the node configuration.
const (
	defaultDialTimeout  = 3 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultBodyTimeout  = 5 * time.Second
	defaultPollTimeout  = 50 * time.Millisecond
)

// Push is the sending end of a one-way channel. It dials the peer lazily on
// the first Send and re-dials once when a send hits a dead connection.
//
// A Push endpoint is owned by exactly one task; Send is serialized with a
// mutex only to guard the lazy dial against a concurrent Close.
type Push struct {
	kind    Kind
	addr    string
	mu      sync.Mutex
	conn    net.Conn
	closed  bool
	logger  logger.Logger
	metrics Metrics

	dialTimeout  time.Duration
	writeTimeout time.Duration
}

// NewPush creates a Push endpoint for the given channel kind targeting addr.
func NewPush(kind Kind, addr string, l logger.Logger) *Push {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Push{
		kind:         kind,
		addr:         addr,
		logger:       l.With("channel", kind.String()),
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
	}
}

// Send delivers one message to the peer. On a send failure it drops the
// connection, re-dials once and retries once before reporting the error.
func (p *Push) Send(msg wire.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return wire.ErrChannelClosed
	}

	if err := p.sendLocked(msg); err == nil {
		p.metrics.incSendCount()
		return nil
	}

	// the peer may have re-accepted since the last send; retry on a fresh
	// connection exactly once
	p.dropConnLocked()
	p.metrics.incReconnectCount()

	if err := p.sendLocked(msg); err != nil {
		p.metrics.incErrCount()
		return err
	}

	p.metrics.incSendCount()

	return nil
}

func (p *Push) sendLocked(msg wire.Message) error {
	if p.conn == nil {
		conn, err := net.DialTimeout("tcp", p.addr, p.dialTimeout)
		if err != nil {
			return fmt.Errorf("dial %s channel: %w", p.kind, err)
		}
		p.conn = conn
		p.logger.Debug("push channel connected", "addr", p.addr)
	}

	return writeFrame(p.conn, msg, p.writeTimeout)
}

func (p *Push) dropConnLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Metrics returns the endpoint counters.
func (p *Push) Metrics() *Metrics {
	return &p.metrics
}

// Close releases the connection. Subsequent Sends fail with
// wire.ErrChannelClosed.
func (p *Push) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.dropConnLocked()

	return nil
}
