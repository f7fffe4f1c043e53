package channel

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/wire"
)

// recvWait polls pull until a message arrives or the deadline passes.
func recvWait(t *testing.T, pull *Pull, deadline time.Duration) wire.Message {
	t.Helper()

	limit := time.Now().Add(deadline)
	for time.Now().Before(limit) {
		msg, err := pull.Recv()
		if err == nil {
			return msg
		}
		if !errors.Is(err, wire.ErrNoMessage) {
			t.Fatalf("recv failed: %v", err)
		}
	}
	t.Fatal("no message within deadline")

	return nil
}

func TestPushPullDelivery(t *testing.T) {
	require := require.New(t)

	log := logger.GetLogger()

	pull := NewPull(HeartbeatChannel, log)
	require.NoError(pull.Listen(":0"))
	defer pull.Close()

	push := NewPush(HeartbeatChannel, fmt.Sprintf("127.0.0.1:%d", pull.Port()), log)
	defer push.Close()

	for seq := uint64(1); seq <= 3; seq++ {
		err := push.Send(&wire.HeartbeatMessage{Sequence: seq, State: 1, Progress: float64(seq) / 10})
		require.NoError(err)
	}

	for seq := uint64(1); seq <= 3; seq++ {
		msg := recvWait(t, pull, 2*time.Second)
		require.Equal(seq, msg.Seq())
	}

	require.Equal(uint64(3), push.Metrics().SendCount.Load())
	require.Equal(uint64(3), pull.Metrics().RecvCount.Load())
}

func TestPullQuietPoll(t *testing.T) {
	require := require.New(t)

	pull := NewPull(StatusChannel, logger.GetLogger())
	require.NoError(pull.Listen(":0"))
	defer pull.Close()

	_, err := pull.Recv()
	require.ErrorIs(err, wire.ErrNoMessage)
}

func TestPushReconnect(t *testing.T) {
	require := require.New(t)

	log := logger.GetLogger()

	pull := NewPull(FileChannel, log)
	require.NoError(pull.Listen(":0"))
	defer pull.Close()

	push := NewPush(FileChannel, fmt.Sprintf("127.0.0.1:%d", pull.Port()), log)
	defer push.Close()

	require.NoError(push.Send(&wire.FileMessage{Sequence: 1, Name: "a.bin", Parts: 1, Payload: []byte{1}}))
	msg := recvWait(t, pull, 2*time.Second)
	require.Equal(uint64(1), msg.Seq())

	// sever the accepted connection behind the push endpoint's back
	pull.conn.Close()
	pull.conn = nil

	// the send either survives in the OS buffer or triggers the one-shot
	// redial; either way the second message must arrive
	require.NoError(push.Send(&wire.FileMessage{Sequence: 2, Name: "b.bin", Parts: 1, Payload: []byte{2}}))
	require.NoError(push.Send(&wire.FileMessage{Sequence: 3, Name: "c.bin", Parts: 1, Payload: []byte{3}}))

	msg = recvWait(t, pull, 2*time.Second)
	require.GreaterOrEqual(msg.Seq(), uint64(2))
}

func TestPullClosed(t *testing.T) {
	require := require.New(t)

	pull := NewPull(HeartbeatChannel, logger.GetLogger())
	require.NoError(pull.Listen(":0"))
	require.NoError(pull.Close())

	_, err := pull.Recv()
	require.ErrorIs(err, wire.ErrChannelClosed)
}
