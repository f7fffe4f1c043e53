package node

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/tagsync/channel"
	"github.com/arloliu/tagsync/device"
	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/timetag"
	"github.com/arloliu/tagsync/wire"
)

func TestAcquisitionFileName(t *testing.T) {
	require := require.New(t)

	start := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

	require.Equal("master_20260829T103000_0000.bin", acquisitionFileName(channel.MasterRole, start, 0))
	require.Equal("slave_20260829T103000_0007.bin", acquisitionFileName(channel.SlaveRole, start, 7))

	// the name only depends on role, session start and index
	again := acquisitionFileName(channel.MasterRole, start, 0)
	require.Equal("master_20260829T103000_0000.bin", again)
}

func TestWriteAcquisitionWithMirror(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	recs := []timetag.Record{{Channel: 1, Time: 100}, {Channel: 2, Time: 200}}

	path, err := writeAcquisition(dir, "slave_x_0000.bin", recs, true)
	require.NoError(err)

	loaded, err := timetag.ReadBinaryFile(path)
	require.NoError(err)
	require.Equal(recs, loaded)

	mirror, err := timetag.ReadTextFile(filepath.Join(dir, "slave_x_0000.txt"))
	require.NoError(err)
	require.Equal(recs, mirror)
}

func TestAssemblerSinglePart(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	a := newFileAssembler(dir)

	payload := []byte("0123456789")
	path, err := a.feed(&wire.FileMessage{
		Sequence: 1, Name: "chunk.bin", Part: 0, Parts: 1,
		Size: uint64(len(payload)), Payload: payload,
	})
	require.NoError(err)
	require.Equal(filepath.Join(dir, "chunk.bin"), path)

	data, err := os.ReadFile(path)
	require.NoError(err)
	require.Equal(payload, data)

	got, ok := a.pathOf("chunk.bin")
	require.True(ok)
	require.Equal(path, got)
}

func TestAssemblerOutOfOrderParts(t *testing.T) {
	require := require.New(t)

	a := newFileAssembler(t.TempDir())
	payload := []byte("abcdefghij")

	part := func(i uint32, body []byte) *wire.FileMessage {
		return &wire.FileMessage{
			Sequence: uint64(i + 1), Name: "f.bin", Part: i, Parts: 3,
			Size: uint64(len(payload)), Payload: body,
		}
	}

	path, err := a.feed(part(2, payload[8:]))
	require.NoError(err)
	require.Empty(path)

	path, err = a.feed(part(0, payload[:4]))
	require.NoError(err)
	require.Empty(path)

	path, err = a.feed(part(1, payload[4:8]))
	require.NoError(err)
	require.NotEmpty(path)

	data, err := os.ReadFile(path)
	require.NoError(err)
	require.True(bytes.Equal(payload, data))
}

func TestAssemblerResendAfterComplete(t *testing.T) {
	require := require.New(t)

	a := newFileAssembler(t.TempDir())
	msg := &wire.FileMessage{
		Sequence: 1, Name: "f.bin", Part: 0, Parts: 1,
		Size: 3, Payload: []byte("abc"),
	}

	path, err := a.feed(msg)
	require.NoError(err)
	require.NotEmpty(path)

	// a retried part of a completed file is absorbed without rewriting
	path, err = a.feed(msg)
	require.NoError(err)
	require.Empty(path)
}

func TestAssemblerSizeMismatch(t *testing.T) {
	require := require.New(t)

	a := newFileAssembler(t.TempDir())
	_, err := a.feed(&wire.FileMessage{
		Sequence: 1, Name: "f.bin", Part: 0, Parts: 1,
		Size: 99, Payload: []byte("abc"),
	})
	require.ErrorIs(err, wire.ErrTransferFailed)
}

func TestAssemblerRejectsBadPart(t *testing.T) {
	require := require.New(t)

	a := newFileAssembler(t.TempDir())

	_, err := a.feed(&wire.FileMessage{Sequence: 1, Name: "f.bin", Part: 0, Parts: 0})
	require.ErrorIs(err, wire.ErrInvalidInput)

	_, err = a.feed(&wire.FileMessage{Sequence: 2, Name: "f.bin", Part: 5, Parts: 2})
	require.ErrorIs(err, wire.ErrInvalidInput)
}

func TestRearmDevice(t *testing.T) {
	require := require.New(t)

	sim, err := device.StartSimulator("127.0.0.1:0", nil)
	require.NoError(err)
	defer func() { _ = sim.Close() }()

	bridge := device.NewBridge(sim.Addr(), time.Second, nil)
	defer func() { _ = bridge.Close() }()

	require.NoError(rearmDevice(context.Background(), bridge, logger.GetLogger()))
	require.EqualValues(1, sim.RecStartCount())
}

func TestRearmDeviceUnreachable(t *testing.T) {
	require := require.New(t)

	// grab a port nothing listens on
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	addr := l.Addr().String()
	require.NoError(l.Close())

	bridge := device.NewBridge(addr, 200*time.Millisecond, nil)
	defer func() { _ = bridge.Close() }()

	err = rearmDevice(context.Background(), bridge, logger.GetLogger())
	require.ErrorIs(err, wire.ErrDeviceError)
}

func TestAssemblerSanitizesName(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	a := newFileAssembler(dir)

	path, err := a.feed(&wire.FileMessage{
		Sequence: 1, Name: "../../etc/evil.bin", Part: 0, Parts: 1,
		Size: 3, Payload: []byte("abc"),
	})
	require.NoError(err)
	require.Equal(filepath.Join(dir, "evil.bin"), path)
}
