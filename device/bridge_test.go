package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/wire"
)

func TestBridgeCommands(t *testing.T) {
	require := require.New(t)

	sim, err := StartSimulator(":0", logger.GetLogger())
	require.NoError(err)
	defer sim.Close()

	bridge := NewBridge(sim.Addr(), time.Second, logger.GetLogger())
	defer bridge.Close()

	ctx := context.Background()

	ident, err := bridge.Identify(ctx)
	require.NoError(err)
	require.Equal(Identification, ident)

	require.NoError(bridge.BeginRecording(ctx))
	require.NoError(bridge.StopRecording(ctx))
	require.NoError(bridge.RawMode(ctx, true))
	require.NoError(bridge.RawMode(ctx, false))

	t.Run("unknown command gets error reply", func(t *testing.T) {
		reply, err := bridge.SendCommand(ctx, "BOGUS?")
		require.NoError(err)
		require.Contains(reply, "ERR")
	})
}

func TestBridgeTimeout(t *testing.T) {
	require := require.New(t)

	sim, err := StartSimulator(":0", logger.GetLogger())
	require.NoError(err)
	defer sim.Close()

	sim.ReplyDelay = 500 * time.Millisecond

	bridge := NewBridge(sim.Addr(), 100*time.Millisecond, logger.GetLogger())
	defer bridge.Close()

	_, err = bridge.SendCommand(context.Background(), "*IDN?")
	require.ErrorIs(err, wire.ErrDeviceError)
}

func TestBridgeContextCancelled(t *testing.T) {
	require := require.New(t)

	bridge := NewBridge("127.0.0.1:1", time.Second, logger.GetLogger())
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bridge.SendCommand(ctx, "*IDN?")
	require.ErrorIs(err, context.Canceled)
}

func TestBridgeDialFailure(t *testing.T) {
	require := require.New(t)

	// nothing listens on a closed simulator's port
	sim, err := StartSimulator(":0", logger.GetLogger())
	require.NoError(err)
	addr := sim.Addr()
	require.NoError(sim.Close())

	bridge := NewBridge(addr, 200*time.Millisecond, logger.GetLogger())
	defer bridge.Close()

	_, err = bridge.SendCommand(context.Background(), "*IDN?")
	require.ErrorIs(err, wire.ErrDeviceError)
}
