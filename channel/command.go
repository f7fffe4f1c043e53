package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/tagsync/internal/pool"
	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/wire"
)

// CommandHandler processes one incoming command and returns the reply to
// send back. The sequence number of the returned reply is overwritten with
// the request sequence before it goes on the wire.
type CommandHandler func(cmd *wire.CommandMessage) *wire.ReplyMessage

// Command is the bidirectional request/reply channel. Both nodes can issue
// requests on it: the master sends readiness probes and control commands,
// the slave sends error reports and receives transfer acknowledgments.
//
// One side binds (Listen), the other dials. Incoming frames are consumed by
// the owning task through Poll; replies to in-flight requests are routed to
// their waiters through a pending map keyed by sequence number.
type Command struct {
	kind     Kind
	listener *net.TCPListener
	reader   frameReader
	lenBuf   [4]byte
	logger   logger.Logger
	metrics  Metrics

	connMu sync.Mutex // guards conn for writes and reconnects
	conn   net.Conn
	addr   string // dial target, empty on the listening side
	closed bool

	counter wire.Counter
	pending *xsync.MapOf[uint64, chan *wire.ReplyMessage]
	handler CommandHandler

	pollTimeout  time.Duration
	writeTimeout time.Duration
	dialTimeout  time.Duration
}

// NewCommand creates a command endpoint. The handler may be nil if the node
// never serves incoming commands on this endpoint.
func NewCommand(handler CommandHandler, l logger.Logger) *Command {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Command{
		kind:         CommandChannel,
		reader:       frameReader{bodyTimeout: defaultBodyTimeout},
		logger:       l.With("channel", CommandChannel.String()),
		pending:      xsync.NewMapOf[uint64, chan *wire.ReplyMessage](),
		handler:      handler,
		pollTimeout:  defaultPollTimeout,
		writeTimeout: defaultWriteTimeout,
		dialTimeout:  defaultDialTimeout,
	}
}

// Listen binds the endpoint to addr as the serving side.
func (c *Command) Listen(addr string) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("resolve command channel bind address: %w", err)
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("bind command channel: %w", err)
	}

	c.listener = listener
	c.logger.Debug("command channel bound", "addr", listener.Addr().String())

	return nil
}

// Dial sets addr as the remote endpoint. The connection itself is
// established lazily by Poll or Request, so the peer may come up later.
func (c *Command) Dial(addr string) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.addr = addr
}

// Port returns the bound TCP port on the listening side, or 0.
func (c *Command) Port() int {
	if c.listener == nil {
		return 0
	}
	if addr, ok := c.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Request sends a command with the given name and JSON-encodable params and
// waits for the matching reply within timeout. A reply that never arrives
// yields wire.ErrReplyTimeout. Requests are single-flight per caller task;
// concurrent callers are safe but serialize on the connection write.
func (c *Command) Request(name string, params any, timeout time.Duration) (*wire.ReplyMessage, error) {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %q params: %w", name, err)
		}
		raw = encoded
	}

	cmd := &wire.CommandMessage{
		Sequence: c.counter.Next(),
		Name:     name,
		Params:   raw,
	}

	replyChan := make(chan *wire.ReplyMessage, 1)
	c.pending.Store(cmd.Sequence, replyChan)
	defer c.pending.Delete(cmd.Sequence)

	if err := c.send(cmd); err != nil {
		c.metrics.incErrCount()
		return nil, err
	}
	c.metrics.incSendCount()

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case reply := <-replyChan:
		return reply, nil
	case <-timer.C:
		return nil, fmt.Errorf("command %q: %w", name, wire.ErrReplyTimeout)
	}
}

// Notify sends a command without waiting for a reply. It is used for
// one-way reports, like the slave surfacing a late trigger.
func (c *Command) Notify(name string, params any) error {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %q params: %w", name, err)
		}
		raw = encoded
	}

	err := c.send(&wire.CommandMessage{Sequence: c.counter.Next(), Name: name, Params: raw})
	if err != nil {
		c.metrics.incErrCount()
		return err
	}
	c.metrics.incSendCount()

	return nil
}

// Poll consumes at most one incoming frame. It returns wire.ErrNoMessage on
// a quiet poll so the owning task can check its stop signal. Incoming
// commands are dispatched to the handler and answered on the same
// connection; incoming replies are routed to their pending waiters.
func (c *Command) Poll() error {
	conn, err := c.ensureConn()
	if err != nil {
		return err
	}

	msg, err := c.reader.readFrame(conn, c.lenBuf[:], time.Now().Add(c.pollTimeout))
	if err != nil {
		if errors.Is(err, wire.ErrNoMessage) {
			return wire.ErrNoMessage
		}

		c.logger.Debug("command channel connection dropped", "error", err)
		c.dropConn(conn)
		c.metrics.incErrCount()

		return wire.ErrNoMessage
	}

	c.metrics.incRecvCount()

	switch m := msg.(type) {
	case *wire.CommandMessage:
		c.serve(m)
	case *wire.ReplyMessage:
		if replyChan, ok := c.pending.LoadAndDelete(m.Sequence); ok {
			replyChan <- m
		} else {
			c.logger.Warn("reply without pending request", "seq", m.Sequence)
			c.metrics.IncStaleCount()
		}
	default:
		c.logger.Warn("unexpected message on command channel", "type", msg.Type().String())
	}

	return nil
}

func (c *Command) serve(cmd *wire.CommandMessage) {
	var reply *wire.ReplyMessage
	if c.handler != nil {
		reply = c.handler(cmd)
	}
	if reply == nil {
		reply = &wire.ReplyMessage{OK: false, Error: fmt.Sprintf("unhandled command %q", cmd.Name)}
	}
	reply.Sequence = cmd.Sequence

	if err := c.send(reply); err != nil {
		c.logger.Error("failed to send command reply", "name", cmd.Name, "seq", cmd.Sequence, "error", err)
		c.metrics.incErrCount()
	}
}

// ensureConn returns the live connection, accepting or dialing one if
// needed. A quiet accept poll returns wire.ErrNoMessage.
func (c *Command) ensureConn() (net.Conn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.closed {
		return nil, wire.ErrChannelClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	if c.listener != nil {
		if err := c.listener.SetDeadline(time.Now().Add(c.pollTimeout)); err != nil {
			return nil, fmt.Errorf("set accept deadline: %w", err)
		}
		conn, err := c.listener.Accept()
		if err != nil {
			if isTimeout(err) {
				return nil, wire.ErrNoMessage
			}
			return nil, fmt.Errorf("accept on command channel: %w", err)
		}
		c.conn = conn
		c.metrics.incReconnectCount()
		c.logger.Debug("command channel peer connected", "peer", conn.RemoteAddr().String())

		return c.conn, nil
	}

	if c.addr == "" {
		return nil, errors.New("command channel has neither listener nor dial address")
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial command channel: %w", err)
	}
	c.conn = conn
	c.metrics.incReconnectCount()
	c.logger.Debug("command channel connected", "addr", c.addr)

	return c.conn, nil
}

func (c *Command) send(msg wire.Message) error {
	conn, err := c.ensureConn()
	if err != nil {
		if errors.Is(err, wire.ErrNoMessage) {
			return fmt.Errorf("command channel peer not connected: %w", wire.ErrReplyTimeout)
		}
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	return writeFrame(conn, msg, c.writeTimeout)
}

func (c *Command) dropConn(conn net.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	_ = conn.Close()
	if c.conn == conn {
		c.conn = nil
	}
}

// Metrics returns the endpoint counters.
func (c *Command) Metrics() *Metrics {
	return &c.metrics
}

// Close releases the listener and any live connection. In-flight Request
// calls time out on their own timers.
func (c *Command) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.listener != nil {
		err := c.listener.Close()
		c.listener = nil
		return err
	}

	return nil
}
