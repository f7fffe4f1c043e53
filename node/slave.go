package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/tagsync/channel"
	"github.com/arloliu/tagsync/device"
	"github.com/arloliu/tagsync/internal/pool"
	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/timetag"
	"github.com/arloliu/tagsync/wire"
)

// errPeerAborted marks a session torn down on the master's abort command.
// It suppresses the error report that normal failures send back, since the
// master already knows.
var errPeerAborted = errors.New("session aborted by peer")

// Slave executes acquisitions on the master's trigger. It arms its local
// device against the shared trigger timestamp, serializes each chunk and
// pushes it back over the file channel, while emitting heartbeats and
// status snapshots the whole time.
type Slave struct {
	cfg     *Config
	logger  logger.Logger
	session *Session
	taskMgr *TaskManager

	bridge   *device.Bridge
	recorder device.Recorder

	trigger       *channel.Pull
	command       *channel.Command
	heartbeatPush *channel.Push
	filePush      *channel.Push
	statusPush    *channel.Push

	// hbSeq numbers heartbeats for the life of the node, independent of
	// sessions, so liveness accounting survives session turnover.
	hbSeq wire.Counter

	pending chan *wire.TriggerMessage
	abort   abortGate
}

// NewSlave creates a slave node from the configuration.
func NewSlave(cfg *Config, recorder device.Recorder) (*Slave, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if cfg.role != channel.SlaveRole {
		return nil, fmt.Errorf("config role is %s, not slave", cfg.role)
	}
	if recorder == nil {
		return nil, errors.New("recorder is nil")
	}

	l := cfg.logger.With("role", "slave")

	s := &Slave{
		cfg:      cfg,
		logger:   l,
		session:  NewSession(),
		bridge:   device.NewBridge(cfg.deviceAddr, cfg.deviceTimeout, l),
		recorder: recorder,
		trigger:  channel.NewPull(channel.TriggerChannel, l),
		pending:  make(chan *wire.TriggerMessage, 1),
	}
	s.command = channel.NewCommand(s.handleCommand, l)

	return s, nil
}

// Open binds the slave's receiving channels, connects the sending ones and
// starts the listener, executor and heartbeat tasks.
func (s *Slave) Open(ctx context.Context) error {
	resolver := s.cfg.resolver()

	triggerAddr, err := resolver.BindAddr(channel.TriggerChannel)
	if err != nil {
		return err
	}
	if err := s.trigger.Listen(triggerAddr); err != nil {
		return err
	}

	commandAddr, err := resolver.BindAddr(channel.CommandChannel)
	if err != nil {
		return err
	}
	if err := s.command.Listen(commandAddr); err != nil {
		return err
	}

	for _, push := range []struct {
		kind   channel.Kind
		target **channel.Push
	}{
		{channel.HeartbeatChannel, &s.heartbeatPush},
		{channel.FileChannel, &s.filePush},
		{channel.StatusChannel, &s.statusPush},
	} {
		addr, err := resolver.ConnectAddr(push.kind)
		if err != nil {
			return err
		}
		*push.target = channel.NewPush(push.kind, addr, s.logger)
	}

	ident, err := s.bridge.Identify(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("device attached", "ident", ident)

	s.taskMgr = NewTaskManager(ctx, s.logger)
	s.taskMgr.Start("slave-trigger-listener", s.triggerTask)
	s.taskMgr.Start("slave-command-poller", s.commandTask)
	s.taskMgr.Start("slave-executor", s.executorTask)
	s.taskMgr.StartInterval("slave-heartbeat", s.heartbeatTask, s.cfg.heartbeatInterval, true)

	s.logger.Info("slave node open", "peer", s.cfg.peerHost)

	return nil
}

// Close stops the tasks and releases all channels and the device bridge.
func (s *Slave) Close() error {
	if s.taskMgr != nil {
		s.taskMgr.Stop()
	}

	_ = s.trigger.Close()
	_ = s.command.Close()
	if s.heartbeatPush != nil {
		_ = s.heartbeatPush.Close()
	}
	if s.filePush != nil {
		_ = s.filePush.Close()
	}
	if s.statusPush != nil {
		_ = s.statusPush.Close()
	}
	err := s.bridge.Close()

	if s.taskMgr != nil {
		s.taskMgr.Wait()
	}
	s.logger.Info("slave node closed")

	return err
}

// Session exposes the acquisition session, mainly for status inspection.
func (s *Slave) Session() *Session {
	return s.session
}

// triggerTask consumes the trigger channel. A trigger must carry a fresh
// sequence number, arrive while the slave is idle, and still lie in the
// future by the late margin; anything else is rejected without touching
// the session.
func (s *Slave) triggerTask() bool {
	msg, err := s.trigger.Recv()
	if err != nil {
		if errors.Is(err, wire.ErrChannelClosed) {
			return false
		}
		return true
	}

	tr, ok := msg.(*wire.TriggerMessage)
	if !ok {
		s.logger.Warn("unexpected message on trigger channel", "type", msg.Type().String())
		return true
	}
	if !s.session.TriggerVal.Accept(tr.Sequence) {
		s.logger.Warn("stale trigger discarded", "seq", tr.Sequence, "last", s.session.TriggerVal.Last())
		s.trigger.Metrics().IncStaleCount()
		return true
	}

	margin := time.Until(time.Unix(0, tr.TriggerTS))
	if margin < s.cfg.lateMargin {
		s.logger.Error("trigger arrived too late to act on",
			"seq", tr.Sequence,
			"margin", margin,
			"required", s.cfg.lateMargin,
		)
		s.report("late_trigger", map[string]any{"seq": tr.Sequence, "margin_ns": margin.Nanoseconds()})

		return true
	}

	if err := s.session.Begin(tr.TriggerTS, tr.Channels); err != nil {
		s.logger.Error("trigger rejected", "seq", tr.Sequence, "error", err)
		s.report("error_report", map[string]any{
			"session": s.session.ID(),
			"error":   wire.ErrBusy.Error(),
		})

		return true
	}
	s.abort.arm()
	s.emitStatus()

	select {
	case s.pending <- tr:
	default:
		// the executor still holds the previous trigger; this cannot
		// happen with the idle check above, but never block the listener
		s.session.Fail(wire.ErrBusy)
	}

	return true
}

// executorTask runs one acquisition per accepted trigger.
func (s *Slave) executorTask() bool {
	select {
	case <-s.taskMgr.Context().Done():
		return false
	case tr := <-s.pending:
		s.runAcquisition(s.taskMgr.Context(), tr)
	}

	return true
}

func (s *Slave) runAcquisition(ctx context.Context, tr *wire.TriggerMessage) {
	triggerTS := time.Unix(0, tr.TriggerTS)
	chunkDur, chunks := s.cfg.chunkPlan(tr.Duration)

	s.logger.Info("acquisition started",
		"session", s.session.ID(),
		"trigger_ts", tr.TriggerTS,
		"duration", tr.Duration,
		"chunks", chunks,
	)

	if err := s.acquire(ctx, tr, triggerTS, chunkDur, chunks); err != nil {
		s.failSession(err)
		return
	}

	s.emitStatus()
	s.logger.Info("acquisition finished", "session", s.session.ID())
}

func (s *Slave) acquire(ctx context.Context, tr *wire.TriggerMessage, triggerTS time.Time, chunkDur time.Duration, chunks int) error {
	if err := s.bridge.BeginRecording(ctx); err != nil {
		return err
	}
	if err := s.session.ToAcquiring(); err != nil {
		return err
	}
	s.emitStatus()

	for i := 0; i < chunks; i++ {
		chunkStart := triggerTS.Add(time.Duration(i) * chunkDur)
		if err := s.waitUntil(ctx, chunkStart.Add(chunkDur)); err != nil {
			return err
		}

		recs, err := s.recordChunk(ctx, chunkStart, chunkDur, tr.Channels)
		if err != nil {
			return err
		}

		if err := s.session.ToFinishing(); err != nil {
			return err
		}

		name := acquisitionFileName(channel.SlaveRole, triggerTS, i)
		if _, err := writeAcquisition(s.cfg.outputDir, name, recs, s.cfg.textOutput); err != nil {
			return err
		}

		data := timetag.EncodeBinary(recs)
		if err := sendFile(s.filePush, s.command, &s.session.FileSeq, name, data, s.cfg.partSize, s.cfg.replyTimeout); err != nil {
			return err
		}
		s.logger.Debug("chunk transferred", "file", name, "events", len(recs))

		s.session.SetProgress(float64(i+1) / float64(chunks))
		s.emitStatus()

		if i+1 < chunks {
			if err := s.session.Rearm(); err != nil {
				return err
			}
			if err := rearmDevice(ctx, s.bridge, s.logger); err != nil {
				return err
			}
			if err := s.session.ToAcquiring(); err != nil {
				return err
			}
		}
	}

	if err := s.bridge.StopRecording(ctx); err != nil {
		return err
	}

	return s.session.Finish()
}

// recordChunk reads one chunk from the recorder, retrying transient device
// failures twice before the session fails.
func (s *Slave) recordChunk(ctx context.Context, start time.Time, dur time.Duration, channels []uint16) ([]timetag.Record, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		recs, err := s.recorder.Record(ctx, start, dur, channels)
		if err == nil {
			return recs, nil
		}
		lastErr = err
		s.logger.Warn("device readout failed", "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("device readout: %v: %w", lastErr, wire.ErrDeviceError)
}

// failSession moves the session to error and reports the failure to the
// master. A positive reply is the master's acknowledgment and returns the
// session to idle; otherwise it stays in error until a reset command.
func (s *Slave) failSession(cause error) {
	if errors.Is(cause, errPeerAborted) {
		s.session.Fail(cause)
		s.emitStatus()
		_ = s.session.Reset()

		return
	}

	s.session.Fail(cause)
	s.emitStatus()
	s.logger.Error("session failed", "session", s.session.ID(), "error", cause)

	reply, err := s.command.Request("error_report", map[string]any{
		"session": s.session.ID(),
		"error":   cause.Error(),
	}, s.cfg.replyTimeout)
	if err != nil {
		s.logger.Warn("error report not acknowledged", "error", err)
		return
	}
	if reply.OK {
		_ = s.session.Reset()
		s.emitStatus()
	}
}

// report sends a one-way notification and waits for the master's reply so
// the command channel stays request/reply symmetric.
func (s *Slave) report(name string, params any) {
	if _, err := s.command.Request(name, params, s.cfg.replyTimeout); err != nil {
		s.logger.Warn("report not delivered", "name", name, "error", err)
	}
}

// waitUntil blocks until t, the context is done or the session aborts.
func (s *Slave) waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}

	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.abort.c():
		return s.abort.reason()
	case <-timer.C:
		return nil
	}
}

// heartbeatTask emits one liveness beat with the current session snapshot.
func (s *Slave) heartbeatTask() bool {
	snap := s.session.Snapshot()
	beat := &wire.HeartbeatMessage{
		Sequence:  s.hbSeq.Next(),
		SessionID: snap.ID,
		State:     byte(snap.State),
		Progress:  snap.Progress,
		Error:     snap.Error,
	}

	if err := s.heartbeatPush.Send(beat); err != nil {
		s.logger.Debug("heartbeat not delivered", "error", err)
	}

	return true
}

// emitStatus pushes a status snapshot after a session transition.
func (s *Slave) emitStatus() {
	snap := s.session.Snapshot()
	msg := &wire.StatusMessage{
		Sequence:  s.session.StatusSeq.Next(),
		SessionID: snap.ID,
		State:     byte(snap.State),
		Progress:  snap.Progress,
		Error:     snap.Error,
	}

	if err := s.statusPush.Send(msg); err != nil {
		s.logger.Debug("status snapshot not delivered", "error", err)
	}
}

// commandTask pumps the command channel.
func (s *Slave) commandTask() bool {
	err := s.command.Poll()
	if errors.Is(err, wire.ErrChannelClosed) {
		return false
	}

	return true
}

// handleCommand serves commands initiated by the master.
func (s *Slave) handleCommand(cmd *wire.CommandMessage) *wire.ReplyMessage {
	switch cmd.Name {
	case "ready":
		state := s.session.State()
		if state != IdleState {
			return &wire.ReplyMessage{OK: false, Error: state.String()}
		}
		return &wire.ReplyMessage{OK: true, Result: []byte(`{"state":"idle"}`)}

	case "abort":
		s.abort.fire(errPeerAborted)
		if s.session.State() == IdleState {
			return &wire.ReplyMessage{OK: true}
		}
		s.logger.Warn("session aborted by peer", "session", s.session.ID())
		return &wire.ReplyMessage{OK: true}

	case "reset":
		if err := s.session.Reset(); err != nil {
			return &wire.ReplyMessage{OK: false, Error: err.Error()}
		}
		s.emitStatus()
		return &wire.ReplyMessage{OK: true}

	default:
		return nil
	}
}
