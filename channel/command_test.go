package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/wire"
)

// pollLoop drives a command endpoint until stop is closed.
func pollLoop(c *Command, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			if err := c.Poll(); err != nil && !errors.Is(err, wire.ErrNoMessage) {
				return
			}
		}
	}
}

func TestCommandRequestReply(t *testing.T) {
	require := require.New(t)

	log := logger.GetLogger()

	server := NewCommand(func(cmd *wire.CommandMessage) *wire.ReplyMessage {
		switch cmd.Name {
		case "ready":
			return &wire.ReplyMessage{OK: true, Result: json.RawMessage(`{"state":"idle"}`)}
		default:
			return &wire.ReplyMessage{OK: false, Error: "unknown command"}
		}
	}, log)
	require.NoError(server.Listen(":0"))
	defer server.Close()

	client := NewCommand(nil, log)
	client.Dial(fmt.Sprintf("127.0.0.1:%d", server.Port()))
	defer client.Close()

	stop := make(chan struct{})
	defer close(stop)
	go pollLoop(server, stop)
	go pollLoop(client, stop)

	reply, err := client.Request("ready", nil, 2*time.Second)
	require.NoError(err)
	require.True(reply.OK)
	require.JSONEq(`{"state":"idle"}`, string(reply.Result))

	reply, err = client.Request("bogus", map[string]int{"x": 1}, 2*time.Second)
	require.NoError(err)
	require.False(reply.OK)
	require.Equal("unknown command", reply.Error)
}

func TestCommandBidirectional(t *testing.T) {
	require := require.New(t)

	log := logger.GetLogger()

	server := NewCommand(func(cmd *wire.CommandMessage) *wire.ReplyMessage {
		return &wire.ReplyMessage{OK: true}
	}, log)
	require.NoError(server.Listen(":0"))
	defer server.Close()

	client := NewCommand(func(cmd *wire.CommandMessage) *wire.ReplyMessage {
		if cmd.Name == "transfer_ack" {
			return &wire.ReplyMessage{OK: true}
		}
		return &wire.ReplyMessage{OK: false, Error: "unexpected"}
	}, log)
	client.Dial(fmt.Sprintf("127.0.0.1:%d", server.Port()))
	defer client.Close()

	stop := make(chan struct{})
	defer close(stop)
	go pollLoop(server, stop)
	go pollLoop(client, stop)

	// establish the connection from the dialing side first
	reply, err := client.Request("ready", nil, 2*time.Second)
	require.NoError(err)
	require.True(reply.OK)

	// then the listening side issues its own request over the same link
	reply, err = server.Request("transfer_ack", map[string]uint64{"seq": 4}, 2*time.Second)
	require.NoError(err)
	require.True(reply.OK)
}

func TestCommandReplyTimeout(t *testing.T) {
	require := require.New(t)

	// server accepts but never polls, so no reply ever comes back
	server := NewCommand(nil, logger.GetLogger())
	require.NoError(server.Listen(":0"))
	defer server.Close()

	client := NewCommand(nil, logger.GetLogger())
	client.Dial(fmt.Sprintf("127.0.0.1:%d", server.Port()))
	defer client.Close()

	_, err := client.Request("ready", nil, 200*time.Millisecond)
	require.ErrorIs(err, wire.ErrReplyTimeout)
}

func TestCommandClosed(t *testing.T) {
	require := require.New(t)

	c := NewCommand(nil, logger.GetLogger())
	require.NoError(c.Close())

	err := c.Poll()
	require.ErrorIs(err, wire.ErrChannelClosed)
}
