package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/tagsync/channel"
)

func TestNewConfigDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig(channel.MasterRole, "127.0.0.1:5025", "peer-host")
	require.NoError(err)

	require.Equal(channel.MasterRole, cfg.Role())
	require.Equal(10*time.Second, cfg.Duration())
	require.Equal([]uint16{1, 2}, cfg.Channels())
	require.Equal(".", cfg.OutputDir())
	require.Equal(3*time.Second, cfg.heartbeatTimeout())
}

func TestNewConfigValidation(t *testing.T) {
	require := require.New(t)

	_, err := NewConfig(channel.MasterRole, "", "peer")
	require.Error(err)

	_, err = NewConfig(channel.MasterRole, "dev:1", "peer", WithDuration(0))
	require.Error(err)

	_, err = NewConfig(channel.MasterRole, "dev:1", "peer", WithChannels(nil))
	require.Error(err)

	_, err = NewConfig(channel.MasterRole, "dev:1", "peer", WithSyncFraction(1.5))
	require.Error(err)

	_, err = NewConfig(channel.MasterRole, "dev:1", "peer", WithHeartbeatInterval(time.Second, 0))
	require.Error(err)

	// streaming chunks longer than the whole window make no sense
	_, err = NewConfig(channel.MasterRole, "dev:1", "peer",
		WithDuration(time.Second),
		WithStreaming(2*time.Second, 0),
	)
	require.Error(err)
}

func TestChunkPlan(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig(channel.MasterRole, "dev:1", "peer", WithDuration(10*time.Second))
	require.NoError(err)

	dur, n := cfg.chunkPlan(cfg.Duration())
	require.Equal(10*time.Second, dur)
	require.Equal(1, n)

	cfg, err = NewConfig(channel.MasterRole, "dev:1", "peer",
		WithDuration(10*time.Second),
		WithStreaming(3*time.Second, 0),
	)
	require.NoError(err)

	dur, n = cfg.chunkPlan(cfg.Duration())
	require.Equal(3*time.Second, dur)
	require.Equal(4, n)

	// the file cap truncates the plan
	cfg, err = NewConfig(channel.MasterRole, "dev:1", "peer",
		WithDuration(10*time.Second),
		WithStreaming(time.Second, 5),
	)
	require.NoError(err)

	_, n = cfg.chunkPlan(cfg.Duration())
	require.Equal(5, n)
}

func TestConfigOptions(t *testing.T) {
	require := require.New(t)

	ports := channel.Ports{Trigger: 1, Command: 2, Heartbeat: 3, File: 4, Status: 5}
	cfg, err := NewConfig(channel.SlaveRole, "dev:1", "peer",
		WithPorts(ports),
		WithDuration(time.Minute),
		WithChannels([]uint16{3, 4, 5}),
		WithSyncFraction(0.25),
		WithMatchTolerance(2*time.Millisecond),
		WithOutputDir("/tmp/acq"),
		WithTextOutput(),
		WithHeartbeatInterval(500*time.Millisecond, 4),
		WithTriggerLookahead(time.Second),
		WithLateMargin(10*time.Millisecond),
		WithReplyTimeout(time.Second),
		WithTransferTimeout(30*time.Second),
		WithPartSize(1024),
		WithDeviceTimeout(time.Second),
	)
	require.NoError(err)

	require.Equal(ports, cfg.ports)
	require.Equal(time.Minute, cfg.Duration())
	require.Equal([]uint16{3, 4, 5}, cfg.Channels())
	require.InDelta(0.25, cfg.syncFraction, 1e-12)
	require.Equal("/tmp/acq", cfg.OutputDir())
	require.True(cfg.textOutput)
	require.Equal(2*time.Second, cfg.heartbeatTimeout())
	require.Equal(1024, cfg.partSize)
}
