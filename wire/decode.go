package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// DecodeMessage decodes a complete frame payload into its concrete message.
//
// The payload is the bytes after the 4-byte frame length: type byte,
// sequence, body. The returned message does not alias payload; callers may
// reuse the buffer, except for FileMessage whose Payload shares the input
// to avoid copying file parts twice.
func DecodeMessage(payload []byte) (Message, error) {
	if len(payload) < headerSize {
		return nil, fmt.Errorf("payload length %d below header size: %w", len(payload), ErrTruncatedMessage)
	}
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("payload length %d: %w", len(payload), ErrFrameTooLarge)
	}

	t := MsgType(payload[0])
	seq := binary.BigEndian.Uint64(payload[1:headerSize])
	body := payload[headerSize:]

	switch t {
	case TriggerMsgType:
		return decodeTrigger(seq, body)
	case CommandMsgType:
		msg := &CommandMessage{Sequence: seq}
		if err := json.Unmarshal(body, msg); err != nil {
			return nil, fmt.Errorf("decode command body: %w", err)
		}
		return msg, nil
	case ReplyMsgType:
		msg := &ReplyMessage{Sequence: seq}
		if err := json.Unmarshal(body, msg); err != nil {
			return nil, fmt.Errorf("decode reply body: %w", err)
		}
		return msg, nil
	case HeartbeatMsgType, StatusMsgType:
		return decodeSnapshot(t, seq, body)
	case FileMsgType:
		return decodeFile(seq, body)
	default:
		return nil, fmt.Errorf("type byte 0x%02x: %w", payload[0], ErrUnknownMsgType)
	}
}

func decodeTrigger(seq uint64, body []byte) (*TriggerMessage, error) {
	if len(body) < 18 {
		return nil, fmt.Errorf("trigger body length %d: %w", len(body), ErrTruncatedMessage)
	}

	msg := &TriggerMessage{
		Sequence:  seq,
		TriggerTS: int64(binary.BigEndian.Uint64(body[0:8])),
		Duration:  time.Duration(binary.BigEndian.Uint64(body[8:16])),
	}

	nchan := int(binary.BigEndian.Uint16(body[16:18]))
	if len(body) != 18+2*nchan {
		return nil, fmt.Errorf("trigger channel list length mismatch: %w", ErrTruncatedMessage)
	}

	msg.Channels = make([]uint16, nchan)
	for i := range msg.Channels {
		msg.Channels[i] = binary.BigEndian.Uint16(body[18+2*i:])
	}

	return msg, nil
}

func readString(body []byte) (string, []byte, error) {
	if len(body) < 2 {
		return "", nil, ErrTruncatedMessage
	}
	n := int(binary.BigEndian.Uint16(body))
	if len(body) < 2+n {
		return "", nil, ErrTruncatedMessage
	}
	return string(body[2 : 2+n]), body[2+n:], nil
}

func decodeSnapshot(t MsgType, seq uint64, body []byte) (Message, error) {
	if len(body) < 9 {
		return nil, fmt.Errorf("%s body length %d: %w", t, len(body), ErrTruncatedMessage)
	}

	state := body[0]
	progress := math.Float64frombits(binary.BigEndian.Uint64(body[1:9]))

	session, rest, err := readString(body[9:])
	if err != nil {
		return nil, fmt.Errorf("%s session id: %w", t, err)
	}
	errStr, rest, err := readString(rest)
	if err != nil {
		return nil, fmt.Errorf("%s error string: %w", t, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%s trailing %d bytes: %w", t, len(rest), ErrTruncatedMessage)
	}

	if t == HeartbeatMsgType {
		return &HeartbeatMessage{Sequence: seq, SessionID: session, State: state, Progress: progress, Error: errStr}, nil
	}

	return &StatusMessage{Sequence: seq, SessionID: session, State: state, Progress: progress, Error: errStr}, nil
}

func decodeFile(seq uint64, body []byte) (*FileMessage, error) {
	name, rest, err := readString(body)
	if err != nil {
		return nil, fmt.Errorf("file name: %w", err)
	}
	if len(rest) < 16 {
		return nil, fmt.Errorf("file header length %d: %w", len(rest), ErrTruncatedMessage)
	}

	return &FileMessage{
		Sequence: seq,
		Name:     name,
		Part:     binary.BigEndian.Uint32(rest[0:4]),
		Parts:    binary.BigEndian.Uint32(rest[4:8]),
		Size:     binary.BigEndian.Uint64(rest[8:16]),
		Payload:  rest[16:],
	}, nil
}
