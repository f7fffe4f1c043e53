// Package device talks to the local hardware time tagger over its textual
// command interface, and provides the simulator used as its test stand-in.
//
// The command set is small: an identification query ("*IDN?"), recording
// control ("REC:"-prefixed) and raw-mode control ("RAW"-prefixed). The
// bridge is stateless; all state lives in the device.
package device

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/wire"
)

const defaultReplyTimeout = 3 * time.Second

// Bridge is a synchronous request/reply client for the device command
// channel. Exchanges are single-flight: one outstanding request at a time
// per connection, enforced with a mutex.
//
// A call either completes or times out; the bridge never retries silently.
// The caller decides whether to abort the session or re-issue the command.
type Bridge struct {
	addr    string
	timeout time.Duration
	logger  logger.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewBridge creates a bridge for the device at addr. replyTimeout bounds
// each exchange; zero selects the default.
func NewBridge(addr string, replyTimeout time.Duration, l logger.Logger) *Bridge {
	if replyTimeout <= 0 {
		replyTimeout = defaultReplyTimeout
	}
	if l == nil {
		l = logger.GetLogger()
	}

	return &Bridge{
		addr:    addr,
		timeout: replyTimeout,
		logger:  l.With("device", addr),
	}
}

// SendCommand sends one command line and returns the device's reply line.
// The trailing newline is stripped from the reply. A missing reply within
// the bounded wait fails with wire.ErrDeviceError wrapping the timeout.
func (b *Bridge) SendCommand(ctx context.Context, cmd string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if b.conn == nil {
		conn, err := net.DialTimeout("tcp", b.addr, b.timeout)
		if err != nil {
			return "", fmt.Errorf("dial device: %w: %v", wire.ErrDeviceError, err)
		}
		b.conn = conn
		b.reader = bufio.NewReader(conn)
	}

	deadline := time.Now().Add(b.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := b.conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("set device deadline: %w: %v", wire.ErrDeviceError, err)
	}

	b.logger.Debug("send device command", "cmd", cmd)

	if _, err := fmt.Fprintf(b.conn, "%s\n", cmd); err != nil {
		b.dropConn()
		return "", fmt.Errorf("send %q: %w: %v", cmd, wire.ErrDeviceError, err)
	}

	reply, err := b.reader.ReadString('\n')
	if err != nil {
		b.dropConn()
		return "", fmt.Errorf("reply to %q: %w: %v", cmd, wire.ErrDeviceError, err)
	}

	reply = strings.TrimRight(reply, "\r\n")
	b.logger.Debug("device reply", "cmd", cmd, "reply", reply)

	return reply, nil
}

// Identify queries the device identification string.
func (b *Bridge) Identify(ctx context.Context) (string, error) {
	return b.SendCommand(ctx, "*IDN?")
}

// BeginRecording arms the device for recording. The device acknowledges
// with "OK"; any other reply is a device error.
func (b *Bridge) BeginRecording(ctx context.Context) error {
	return b.expectOK(ctx, "REC:STArt")
}

// StopRecording halts an active recording.
func (b *Bridge) StopRecording(ctx context.Context) error {
	return b.expectOK(ctx, "REC:STOP")
}

// RawMode switches the device's raw timestamp streaming mode on or off.
func (b *Bridge) RawMode(ctx context.Context, on bool) error {
	if on {
		return b.expectOK(ctx, "RAW:MODE ON")
	}
	return b.expectOK(ctx, "RAW:MODE OFF")
}

func (b *Bridge) expectOK(ctx context.Context, cmd string) error {
	reply, err := b.SendCommand(ctx, cmd)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("%q replied %q: %w", cmd, reply, wire.ErrDeviceError)
	}

	return nil
}

// dropConn must be called with the mutex held.
func (b *Bridge) dropConn() {
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
		b.reader = nil
	}
}

// Close releases the device connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dropConn()

	return nil
}
