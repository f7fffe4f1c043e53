package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolverAddresses(t *testing.T) {
	require := require.New(t)

	ports := Ports{Trigger: 5551, Command: 5552, Heartbeat: 5553, File: 5554, Status: 5555}
	master := NewResolver(MasterRole, "10.0.0.2", ports)
	slave := NewResolver(SlaveRole, "10.0.0.1", ports)

	t.Run("master binds receive channels", func(t *testing.T) {
		addr, err := master.BindAddr(HeartbeatChannel)
		require.NoError(err)
		require.Equal(":5553", addr)

		addr, err = master.BindAddr(FileChannel)
		require.NoError(err)
		require.Equal(":5554", addr)

		addr, err = master.BindAddr(StatusChannel)
		require.NoError(err)
		require.Equal(":5555", addr)

		_, err = master.BindAddr(TriggerChannel)
		require.Error(err)
	})

	t.Run("master connects send channels", func(t *testing.T) {
		addr, err := master.ConnectAddr(TriggerChannel)
		require.NoError(err)
		require.Equal("10.0.0.2:5551", addr)

		addr, err = master.ConnectAddr(CommandChannel)
		require.NoError(err)
		require.Equal("10.0.0.2:5552", addr)

		_, err = master.ConnectAddr(FileChannel)
		require.Error(err)
	})

	t.Run("slave binds trigger and command", func(t *testing.T) {
		addr, err := slave.BindAddr(TriggerChannel)
		require.NoError(err)
		require.Equal(":5551", addr)

		addr, err = slave.BindAddr(CommandChannel)
		require.NoError(err)
		require.Equal(":5552", addr)

		_, err = slave.BindAddr(HeartbeatChannel)
		require.Error(err)

		addr, err = slave.ConnectAddr(StatusChannel)
		require.NoError(err)
		require.Equal("10.0.0.1:5555", addr)
	})

	t.Run("empty peer host rejected", func(t *testing.T) {
		r := NewResolver(MasterRole, "", ports)
		_, err := r.ConnectAddr(TriggerChannel)
		require.Error(err)
	})
}
