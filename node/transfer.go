package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/tagsync/channel"
	"github.com/arloliu/tagsync/device"
	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/timetag"
	"github.com/arloliu/tagsync/wire"
)

// rearmDevice re-issues the begin-recording command between streaming
// cycles. The device must acknowledge before the session may move back to
// acquiring; transient failures are retried twice before the session
// escalates to error.
func rearmDevice(ctx context.Context, bridge *device.Bridge, l logger.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := bridge.BeginRecording(ctx); err != nil {
			lastErr = err
			l.Warn("device re-arm failed", "attempt", attempt+1, "error", err)
			continue
		}

		return nil
	}

	return lastErr
}

// acquisitionFileName builds the deterministic name of one acquisition
// chunk: role, session start and chunk index, nothing runtime-dependent.
// Both nodes derive the same name for the same chunk.
func acquisitionFileName(role channel.Role, startedAt time.Time, index int) string {
	return fmt.Sprintf("%s_%s_%04d.bin", role, startedAt.UTC().Format("20060102T150405"), index)
}

// writeAcquisition serializes one chunk under the output directory,
// optionally with a text mirror next to it, and returns the binary path.
func writeAcquisition(outDir, name string, recs []timetag.Record, textMirror bool) (string, error) {
	path := filepath.Join(outDir, name)
	if err := timetag.WriteBinaryFile(path, recs); err != nil {
		return "", err
	}

	if textMirror {
		textPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".txt"
		if err := timetag.WriteTextFile(textPath, recs); err != nil {
			return "", err
		}
	}

	return path, nil
}

// transferAck is the payload of the "transfer_done" command the sender
// issues after pushing all parts of one file.
type transferAck struct {
	Name  string `json:"name"`
	Parts uint32 `json:"parts"`
	Size  uint64 `json:"size"`
}

// sendFile pushes one file over the file channel in partSize chunks and
// waits for the receiver's acknowledgment over the command channel. A
// missing or negative acknowledgment is retried once before the transfer
// counts as failed.
func sendFile(push *channel.Push, cmd *channel.Command, seq *wire.Counter, name string, data []byte, partSize int, ackTimeout time.Duration) error {
	parts := uint32(1)
	if len(data) > partSize {
		parts = uint32((len(data) + partSize - 1) / partSize)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		lastErr = sendParts(push, seq, name, data, partSize, parts)
		if lastErr == nil {
			lastErr = awaitAck(cmd, name, parts, uint64(len(data)), ackTimeout)
		}
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("transfer of %q: %v: %w", name, lastErr, wire.ErrTransferFailed)
}

func sendParts(push *channel.Push, seq *wire.Counter, name string, data []byte, partSize int, parts uint32) error {
	for i := uint32(0); i < parts; i++ {
		lo := int(i) * partSize
		hi := lo + partSize
		if hi > len(data) {
			hi = len(data)
		}

		msg := &wire.FileMessage{
			Sequence: seq.Next(),
			Name:     name,
			Part:     i,
			Parts:    parts,
			Size:     uint64(len(data)),
			Payload:  data[lo:hi],
		}
		if err := push.Send(msg); err != nil {
			return err
		}
	}

	return nil
}

func awaitAck(cmd *channel.Command, name string, parts uint32, size uint64, timeout time.Duration) error {
	reply, err := cmd.Request("transfer_done", transferAck{Name: name, Parts: parts, Size: size}, timeout)
	if err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("receiver rejected transfer: %s", reply.Error)
	}

	return nil
}

// fileAssembler reassembles incoming file parts and persists completed
// files under the output directory. It is shared between the file listener
// task, which feeds it, and the command handler, which answers
// "transfer_done" acknowledgments from it.
type fileAssembler struct {
	outDir string

	mu        sync.Mutex
	pending   map[string]*incomingFile
	completed map[string]string // file name to persisted path
}

type incomingFile struct {
	parts    [][]byte
	received uint32
	size     uint64
}

func newFileAssembler(outDir string) *fileAssembler {
	return &fileAssembler{
		outDir:    outDir,
		pending:   make(map[string]*incomingFile),
		completed: make(map[string]string),
	}
}

// feed consumes one part. When the part completes its file, the file is
// written to the output directory and its path is returned. A re-sent part
// of an already completed file is absorbed silently so sender retries stay
// idempotent.
func (a *fileAssembler) feed(msg *wire.FileMessage) (string, error) {
	if msg.Parts == 0 || msg.Part >= msg.Parts {
		return "", fmt.Errorf("file part %d/%d out of range: %w", msg.Part, msg.Parts, wire.ErrInvalidInput)
	}

	name := filepath.Base(msg.Name)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, done := a.completed[name]; done {
		return "", nil
	}

	in, ok := a.pending[name]
	if !ok || uint32(len(in.parts)) != msg.Parts {
		in = &incomingFile{parts: make([][]byte, msg.Parts), size: msg.Size}
		a.pending[name] = in
	}

	if in.parts[msg.Part] == nil {
		in.received++
	}
	in.parts[msg.Part] = msg.Payload

	if in.received < msg.Parts {
		return "", nil
	}

	data := make([]byte, 0, in.size)
	for _, part := range in.parts {
		data = append(data, part...)
	}
	if uint64(len(data)) != in.size {
		delete(a.pending, name)
		return "", fmt.Errorf("reassembled %q to %d bytes, expected %d: %w",
			name, len(data), in.size, wire.ErrTransferFailed)
	}

	path := filepath.Join(a.outDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		delete(a.pending, name)
		return "", fmt.Errorf("persist %q: %w", name, err)
	}

	delete(a.pending, name)
	a.completed[name] = path

	return path, nil
}

// pathOf returns the persisted path of a completed file.
func (a *fileAssembler) pathOf(name string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	path, ok := a.completed[filepath.Base(name)]

	return path, ok
}
