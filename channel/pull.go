package channel

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/wire"
)

// Pull is the receiving end of a one-way channel. It accepts a single peer
// connection at a time and re-accepts after a connection loss.
//
// Recv polls with a short deadline so the owning task can observe its stop
// signal between polls. A Pull endpoint is owned by exactly one task and is
// not goroutine-safe apart from Close.
type Pull struct {
	kind     Kind
	listener *net.TCPListener
	conn     net.Conn
	reader   frameReader
	lenBuf   [4]byte
	logger   logger.Logger
	metrics  Metrics

	pollTimeout time.Duration
}

// NewPull creates a Pull endpoint for the given channel kind.
func NewPull(kind Kind, l logger.Logger) *Pull {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Pull{
		kind:        kind,
		reader:      frameReader{bodyTimeout: defaultBodyTimeout},
		logger:      l.With("channel", kind.String()),
		pollTimeout: defaultPollTimeout,
	}
}

// Listen binds the endpoint to addr. Port 0 binds an ephemeral port; use
// Port to discover the bound one.
func (p *Pull) Listen(addr string) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s channel bind address: %w", p.kind, err)
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("bind %s channel: %w", p.kind, err)
	}

	p.listener = listener
	p.logger.Debug("pull channel bound", "addr", listener.Addr().String())

	return nil
}

// Port returns the bound TCP port, or 0 when the endpoint is not listening.
func (p *Pull) Port() int {
	if p.listener == nil {
		return 0
	}
	if addr, ok := p.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Recv returns the next message, or wire.ErrNoMessage when nothing arrived
// within one poll interval. A peer disconnect is absorbed: the connection
// is dropped, the next Recv re-accepts, and wire.ErrNoMessage is returned
// for this poll.
func (p *Pull) Recv() (wire.Message, error) {
	if p.listener == nil {
		return nil, wire.ErrChannelClosed
	}

	if p.conn == nil {
		if err := p.accept(); err != nil {
			return nil, err
		}
	}

	msg, err := p.reader.readFrame(p.conn, p.lenBuf[:], time.Now().Add(p.pollTimeout))
	if err != nil {
		if errors.Is(err, wire.ErrNoMessage) {
			return nil, wire.ErrNoMessage
		}

		// mid-frame stall, decode failure or peer loss: drop the
		// connection and let the next poll re-accept
		p.logger.Debug("pull channel connection dropped", "error", err)
		_ = p.conn.Close()
		p.conn = nil
		p.metrics.incErrCount()

		return nil, wire.ErrNoMessage
	}

	p.metrics.incRecvCount()

	return msg, nil
}

func (p *Pull) accept() error {
	if err := p.listener.SetDeadline(time.Now().Add(p.pollTimeout)); err != nil {
		return fmt.Errorf("set accept deadline: %w", err)
	}

	conn, err := p.listener.Accept()
	if err != nil {
		if isTimeout(err) {
			return wire.ErrNoMessage
		}
		return fmt.Errorf("accept on %s channel: %w", p.kind, err)
	}

	p.conn = conn
	p.metrics.incReconnectCount()
	p.logger.Debug("pull channel peer connected", "peer", conn.RemoteAddr().String())

	return nil
}

// Metrics returns the endpoint counters.
func (p *Pull) Metrics() *Metrics {
	return &p.metrics
}

// Close releases the listener and any live connection.
func (p *Pull) Close() error {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	if p.listener != nil {
		err := p.listener.Close()
		p.listener = nil
		return err
	}

	return nil
}
