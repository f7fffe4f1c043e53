package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/arloliu/tagsync/wire"
)

// frameReader reads and decodes individual tagsync frames from a net.Conn.
//
// Framing:
//  1. Read the 4-byte big-endian payload length within the poll deadline
//  2. Validate the length (non-zero, ≤ wire.MaxFrameSize)
//  3. Read the payload within the body timeout
//  4. Decode into a wire.Message via wire.DecodeMessage
//
// frameReader is NOT goroutine-safe. Each channel endpoint owns one and
// calls it from its single receiving task.
type frameReader struct {
	bodyTimeout time.Duration
}

// readFrame reads one complete frame from conn.
//
// lenBuf must be a 4-byte scratch buffer reused across calls. A deadline
// expiry while waiting for the length header is reported as
// wire.ErrNoMessage: it is the quiet-poll condition, not a failure. A
// deadline expiry in the middle of a payload is a real error, since the
// peer stalled mid-frame.
func (fr *frameReader) readFrame(conn net.Conn, lenBuf []byte, pollDeadline time.Time) (wire.Message, error) {
	if err := conn.SetReadDeadline(pollDeadline); err != nil {
		return nil, fmt.Errorf("set poll deadline: %w", err)
	}

	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		if isTimeout(err) {
			return nil, wire.ErrNoMessage
		}
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	msgLen := binary.BigEndian.Uint32(lenBuf)

	if msgLen == 0 {
		return nil, errors.New("frame length is zero")
	}
	if msgLen > wire.MaxFrameSize {
		return nil, fmt.Errorf("frame length %d: %w", msgLen, wire.ErrFrameTooLarge)
	}

	if err := conn.SetReadDeadline(time.Now().Add(fr.bodyTimeout)); err != nil {
		return nil, fmt.Errorf("set body deadline: %w", err)
	}

	payload := make([]byte, msgLen)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	msg, err := wire.DecodeMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	return msg, nil
}

// writeFrame encodes msg and writes it as one length-prefixed frame within
// the write timeout.
func writeFrame(conn net.Conn, msg wire.Message, timeout time.Duration) error {
	payload, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type(), err)
	}
	if len(payload) > wire.MaxFrameSize {
		return fmt.Errorf("encoded %s message length %d: %w", msg.Type(), len(payload), wire.ErrFrameTooLarge)
	}

	frame := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", msg.Type(), err)
	}

	return nil
}

// isTimeout reports whether err is a network timeout error.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
