package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeTrigger(t *testing.T) {
	require := require.New(t)

	msg := &TriggerMessage{
		Sequence:  7,
		TriggerTS: 1_700_000_123_456_789,
		Duration:  1200 * time.Millisecond,
		Channels:  []uint16{1, 2, 4},
	}

	payload, err := msg.MarshalBinary()
	require.NoError(err)

	decoded, err := DecodeMessage(payload)
	require.NoError(err)
	require.Equal(TriggerMsgType, decoded.Type())
	require.Equal(uint64(7), decoded.Seq())

	trigger, ok := decoded.(*TriggerMessage)
	require.True(ok)
	require.Equal(msg.TriggerTS, trigger.TriggerTS)
	require.Equal(msg.Duration, trigger.Duration)
	require.Equal(msg.Channels, trigger.Channels)

	t.Run("empty channel list", func(t *testing.T) {
		payload, err := (&TriggerMessage{Sequence: 8, TriggerTS: 1}).MarshalBinary()
		require.NoError(err)

		decoded, err := DecodeMessage(payload)
		require.NoError(err)
		require.Empty(decoded.(*TriggerMessage).Channels)
	})

	t.Run("channel list truncated", func(t *testing.T) {
		_, err := DecodeMessage(payload[:len(payload)-2])
		require.ErrorIs(err, ErrTruncatedMessage)
	})
}

func TestDecodeCommandReply(t *testing.T) {
	require := require.New(t)

	cmd := &CommandMessage{
		Sequence: 3,
		Name:     "ready",
		Params:   json.RawMessage(`{"channels":[1,2]}`),
	}

	payload, err := cmd.MarshalBinary()
	require.NoError(err)

	decoded, err := DecodeMessage(payload)
	require.NoError(err)

	gotCmd, ok := decoded.(*CommandMessage)
	require.True(ok)
	require.Equal(uint64(3), gotCmd.Sequence)
	require.Equal("ready", gotCmd.Name)
	require.JSONEq(`{"channels":[1,2]}`, string(gotCmd.Params))

	reply := &ReplyMessage{Sequence: 3, OK: false, Error: "trigger timestamp already elapsed"}
	payload, err = reply.MarshalBinary()
	require.NoError(err)

	decoded, err = DecodeMessage(payload)
	require.NoError(err)

	gotReply, ok := decoded.(*ReplyMessage)
	require.True(ok)
	require.Equal(uint64(3), gotReply.Sequence)
	require.False(gotReply.OK)
	require.Equal("trigger timestamp already elapsed", gotReply.Error)
}

func TestDecodeSnapshot(t *testing.T) {
	require := require.New(t)

	hb := &HeartbeatMessage{
		Sequence:  42,
		SessionID: "2b1f3c9e-0000-4000-8000-000000000001",
		State:     2,
		Progress:  0.75,
		Error:     "",
	}

	payload, err := hb.MarshalBinary()
	require.NoError(err)

	decoded, err := DecodeMessage(payload)
	require.NoError(err)
	require.Equal(HeartbeatMsgType, decoded.Type())

	got := decoded.(*HeartbeatMessage)
	require.Equal(hb.SessionID, got.SessionID)
	require.Equal(byte(2), got.State)
	require.InDelta(0.75, got.Progress, 1e-12)
	require.Empty(got.Error)

	t.Run("status carries error string", func(t *testing.T) {
		st := &StatusMessage{Sequence: 43, State: 4, Progress: 0.5, Error: "device command failed"}
		payload, err := st.MarshalBinary()
		require.NoError(err)

		decoded, err := DecodeMessage(payload)
		require.NoError(err)
		require.Equal("device command failed", decoded.(*StatusMessage).Error)
	})

	t.Run("truncated body", func(t *testing.T) {
		_, err := DecodeMessage(payload[:headerSize+4])
		require.ErrorIs(err, ErrTruncatedMessage)
	})
}

func TestDecodeFile(t *testing.T) {
	require := require.New(t)

	msg := &FileMessage{
		Sequence: 11,
		Name:     "slave_20260829T120000Z_003.bin",
		Part:     2,
		Parts:    5,
		Size:     1 << 20,
		Payload:  []byte{0xde, 0xad, 0xbe, 0xef},
	}

	payload, err := msg.MarshalBinary()
	require.NoError(err)

	decoded, err := DecodeMessage(payload)
	require.NoError(err)

	got := decoded.(*FileMessage)
	require.Equal(msg.Name, got.Name)
	require.Equal(uint32(2), got.Part)
	require.Equal(uint32(5), got.Parts)
	require.Equal(uint64(1<<20), got.Size)
	require.Equal(msg.Payload, got.Payload)
}

func TestDecodeErrors(t *testing.T) {
	require := require.New(t)

	t.Run("payload below header size", func(t *testing.T) {
		_, err := DecodeMessage([]byte{byte(TriggerMsgType), 0, 0})
		require.ErrorIs(err, ErrTruncatedMessage)
	})

	t.Run("unknown type byte", func(t *testing.T) {
		payload := make([]byte, headerSize)
		payload[0] = 0x7f
		_, err := DecodeMessage(payload)
		require.ErrorIs(err, ErrUnknownMsgType)
	})
}
