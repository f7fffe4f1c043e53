package wire

import (
	"encoding/binary"
	"encoding/json"
	"math"
)

// MaxFrameSize is the maximum allowed frame payload length. A file part is
// the largest message; the part-size threshold in the transfer layer keeps
// payloads well under this bound.
const MaxFrameSize = 16 << 20

// headerSize is the fixed prefix of every payload: type byte plus sequence.
const headerSize = 1 + 8

func encodeHeader(buf []byte, t MsgType, seq uint64) {
	buf[0] = byte(t)
	binary.BigEndian.PutUint64(buf[1:headerSize], seq)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// MarshalBinary encodes the trigger payload.
func (m *TriggerMessage) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize, headerSize+18+2*len(m.Channels))
	encodeHeader(buf, TriggerMsgType, m.Sequence)

	buf = binary.BigEndian.AppendUint64(buf, uint64(m.TriggerTS))
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.Duration.Nanoseconds()))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Channels)))
	for _, ch := range m.Channels {
		buf = binary.BigEndian.AppendUint16(buf, ch)
	}

	return buf, nil
}

// MarshalBinary encodes the command payload with a JSON body.
func (m *CommandMessage) MarshalBinary() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, headerSize, headerSize+len(body))
	encodeHeader(buf, CommandMsgType, m.Sequence)

	return append(buf, body...), nil
}

// MarshalBinary encodes the reply payload with a JSON body.
func (m *ReplyMessage) MarshalBinary() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, headerSize, headerSize+len(body))
	encodeHeader(buf, ReplyMsgType, m.Sequence)

	return append(buf, body...), nil
}

func marshalSnapshot(t MsgType, seq uint64, session string, state byte, progress float64, errStr string) []byte {
	buf := make([]byte, headerSize, headerSize+9+4+len(session)+len(errStr))
	encodeHeader(buf, t, seq)

	buf = append(buf, state)
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(progress))
	buf = appendString(buf, session)
	buf = appendString(buf, errStr)

	return buf
}

// MarshalBinary encodes the heartbeat payload.
func (m *HeartbeatMessage) MarshalBinary() ([]byte, error) {
	return marshalSnapshot(HeartbeatMsgType, m.Sequence, m.SessionID, m.State, m.Progress, m.Error), nil
}

// MarshalBinary encodes the status payload.
func (m *StatusMessage) MarshalBinary() ([]byte, error) {
	return marshalSnapshot(StatusMsgType, m.Sequence, m.SessionID, m.State, m.Progress, m.Error), nil
}

// MarshalBinary encodes one file part payload.
func (m *FileMessage) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize, headerSize+2+len(m.Name)+16+len(m.Payload))
	encodeHeader(buf, FileMsgType, m.Sequence)

	buf = appendString(buf, m.Name)
	buf = binary.BigEndian.AppendUint32(buf, m.Part)
	buf = binary.BigEndian.AppendUint32(buf, m.Parts)
	buf = binary.BigEndian.AppendUint64(buf, m.Size)
	buf = append(buf, m.Payload...)

	return buf, nil
}
