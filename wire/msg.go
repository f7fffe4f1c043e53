package wire

import (
	"encoding/json"
	"time"
)

// MsgType identifies the kind of message carried in a frame payload.
type MsgType byte

// Message type constants, one per logical traffic kind.
const (
	TriggerMsgType MsgType = iota + 1
	CommandMsgType
	ReplyMsgType
	HeartbeatMsgType
	StatusMsgType
	FileMsgType
)

var msgTypeNames = map[MsgType]string{
	TriggerMsgType:   "trigger",
	CommandMsgType:   "command",
	ReplyMsgType:     "reply",
	HeartbeatMsgType: "heartbeat",
	StatusMsgType:    "status",
	FileMsgType:      "file",
}

// String returns the readable name of the message type.
func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Message is the common interface of every tagsync wire message.
type Message interface {
	// Type returns the message type byte.
	Type() MsgType
	// Seq returns the channel sequence number of the message.
	Seq() uint64
	// MarshalBinary encodes the full frame payload: type, sequence, body.
	MarshalBinary() ([]byte, error)
}

// TriggerMessage arms the slave device against an absolute start timestamp.
// It is published once per acquisition (or once per streaming cycle) on the
// trigger channel.
type TriggerMessage struct {
	Sequence  uint64
	TriggerTS int64 // absolute start instant, nanoseconds since epoch
	Duration  time.Duration
	Channels  []uint16
}

func (m *TriggerMessage) Type() MsgType { return TriggerMsgType }
func (m *TriggerMessage) Seq() uint64   { return m.Sequence }

// CommandMessage is a request on the command channel. Params carries the
// command-specific JSON payload, which may be empty.
type CommandMessage struct {
	Sequence uint64          `json:"-"`
	Name     string          `json:"name"`
	Params   json.RawMessage `json:"params,omitempty"`
}

func (m *CommandMessage) Type() MsgType { return CommandMsgType }
func (m *CommandMessage) Seq() uint64   { return m.Sequence }

// ReplyMessage answers a CommandMessage. It echoes the request sequence so
// the sender can correlate it with the pending request.
type ReplyMessage struct {
	Sequence uint64          `json:"-"`
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

func (m *ReplyMessage) Type() MsgType { return ReplyMsgType }
func (m *ReplyMessage) Seq() uint64   { return m.Sequence }

// HeartbeatMessage is the periodic liveness signal emitted by the slave.
// It carries the current session snapshot so the master need not poll the
// status channel separately.
type HeartbeatMessage struct {
	Sequence  uint64
	SessionID string
	State     byte
	Progress  float64
	Error     string
}

func (m *HeartbeatMessage) Type() MsgType { return HeartbeatMsgType }
func (m *HeartbeatMessage) Seq() uint64   { return m.Sequence }

// StatusMessage reports a session snapshot on the status channel. Its body
// layout is identical to HeartbeatMessage; only the channel differs.
type StatusMessage struct {
	Sequence  uint64
	SessionID string
	State     byte
	Progress  float64
	Error     string
}

func (m *StatusMessage) Type() MsgType { return StatusMsgType }
func (m *StatusMessage) Seq() uint64   { return m.Sequence }

// FileMessage carries one part of an acquisition file. Part/Parts describe
// the multi-part split; a file that fits below the part-size threshold is
// sent as a single message with Part 0 of 1. Size is the byte length of the
// whole file, not of this part.
type FileMessage struct {
	Sequence uint64
	Name     string
	Part     uint32
	Parts    uint32
	Size     uint64
	Payload  []byte
}

func (m *FileMessage) Type() MsgType { return FileMsgType }
func (m *FileMessage) Seq() uint64   { return m.Sequence }
