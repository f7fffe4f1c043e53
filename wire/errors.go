package wire

import "errors"

// Session-level error kinds. These are the conditions a node operator or
// peer can observe; they are carried in status and heartbeat messages as
// the session error string.
var (
	// ErrBusy indicates that an acquisition session is already active.
	ErrBusy = errors.New("acquisition session already active")

	// ErrPeerNotReady indicates that the readiness probe was unanswered or
	// answered negatively within the bounded wait.
	ErrPeerNotReady = errors.New("peer not ready")

	// ErrLateTrigger indicates that a trigger timestamp was already in the
	// past by more than the allowed margin when it arrived.
	ErrLateTrigger = errors.New("trigger timestamp already elapsed")

	// ErrPeerUnresponsive indicates that no heartbeat arrived within the
	// heartbeat timeout.
	ErrPeerUnresponsive = errors.New("peer heartbeat timeout")

	// ErrTransferFailed indicates that a file transfer was not acknowledged.
	ErrTransferFailed = errors.New("file transfer not acknowledged")

	// ErrDeviceError indicates a device command bridge failure or an
	// unexpected device reply.
	ErrDeviceError = errors.New("device command failed")

	// ErrInvalidInput indicates a malformed or empty timestamp file.
	ErrInvalidInput = errors.New("invalid timestamp input")

	// ErrInsufficientData indicates too few matched offset samples. It is
	// not fatal; the correlation result is reported with quality zero.
	ErrInsufficientData = errors.New("insufficient matched samples")
)

// Transport-level error kinds.
var (
	// ErrNoMessage indicates that a non-blocking receive poll found no
	// complete message. It is the only error that is dropped silently.
	ErrNoMessage = errors.New("no message available")

	// ErrChannelClosed indicates that the channel endpoint is closed.
	ErrChannelClosed = errors.New("channel closed")

	// ErrReplyTimeout indicates that a reply was not received within the
	// reply timeout period after sending a request.
	ErrReplyTimeout = errors.New("reply timeout")

	// ErrStaleSequence indicates a message whose sequence number is not
	// strictly greater than the last accepted one on its channel.
	ErrStaleSequence = errors.New("stale or duplicate sequence number")
)

// Codec error kinds.
var (
	// ErrUnknownMsgType indicates a payload with an unrecognized type byte.
	ErrUnknownMsgType = errors.New("unknown message type")

	// ErrTruncatedMessage indicates a payload shorter than its declared body.
	ErrTruncatedMessage = errors.New("truncated message payload")

	// ErrFrameTooLarge indicates a frame length above MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame length exceeds maximum")
)
