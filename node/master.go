package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/arloliu/tagsync/channel"
	"github.com/arloliu/tagsync/correlate"
	"github.com/arloliu/tagsync/device"
	"github.com/arloliu/tagsync/internal/pool"
	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/timetag"
	"github.com/arloliu/tagsync/wire"
)

// Master coordinates synchronized acquisitions. It probes the slave's
// readiness, publishes the shared trigger, arms its own device, collects
// the slave's acquisition files and runs the offset correlation.
//
// A Master serves one acquisition at a time; a second StartAcquisition
// while one is in flight fails with wire.ErrBusy.
type Master struct {
	cfg     *Config
	logger  logger.Logger
	session *Session
	taskMgr *TaskManager

	bridge   *device.Bridge
	recorder device.Recorder
	engine   *correlate.Engine

	trigger   *channel.Push
	command   *channel.Command
	heartbeat *channel.Pull
	file      *channel.Pull
	status    *channel.Pull

	monitor   heartbeatMonitor
	hbVal     wire.Validator
	assembler *fileAssembler
	received  chan string
	abort     abortGate
}

// NewMaster creates a master node from the configuration. The recorder
// produces the master's own timestamp stream; pass a device-backed
// implementation in production or a SimRecorder in simulation.
func NewMaster(cfg *Config, recorder device.Recorder) (*Master, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if cfg.role != channel.MasterRole {
		return nil, fmt.Errorf("config role is %s, not master", cfg.role)
	}
	if recorder == nil {
		return nil, errors.New("recorder is nil")
	}

	l := cfg.logger.With("role", "master")

	m := &Master{
		cfg:       cfg,
		logger:    l,
		session:   NewSession(),
		bridge:    device.NewBridge(cfg.deviceAddr, cfg.deviceTimeout, l),
		recorder:  recorder,
		engine:    correlate.New(correlate.Config{SyncFraction: cfg.syncFraction, Tolerance: cfg.matchTolerance}, l),
		trigger:   channel.NewPush(channel.TriggerChannel, "", l),
		heartbeat: channel.NewPull(channel.HeartbeatChannel, l),
		file:      channel.NewPull(channel.FileChannel, l),
		status:    channel.NewPull(channel.StatusChannel, l),
		assembler: newFileAssembler(cfg.outputDir),
		received:  make(chan string, 64),
	}
	m.command = channel.NewCommand(m.handleCommand, l)

	return m, nil
}

// Open binds the master's receiving channels, connects the sending ones
// and starts the listener tasks. It returns once the node is serving;
// Close tears it down.
func (m *Master) Open(ctx context.Context) error {
	resolver := m.cfg.resolver()

	for _, bind := range []struct {
		kind channel.Kind
		pull *channel.Pull
	}{
		{channel.HeartbeatChannel, m.heartbeat},
		{channel.FileChannel, m.file},
		{channel.StatusChannel, m.status},
	} {
		addr, err := resolver.BindAddr(bind.kind)
		if err != nil {
			return err
		}
		if err := bind.pull.Listen(addr); err != nil {
			return err
		}
	}

	triggerAddr, err := resolver.ConnectAddr(channel.TriggerChannel)
	if err != nil {
		return err
	}
	m.trigger = channel.NewPush(channel.TriggerChannel, triggerAddr, m.logger)

	commandAddr, err := resolver.ConnectAddr(channel.CommandChannel)
	if err != nil {
		return err
	}
	m.command.Dial(commandAddr)

	ident, err := m.bridge.Identify(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("device attached", "ident", ident)

	m.taskMgr = NewTaskManager(ctx, m.logger)
	m.taskMgr.Start("master-heartbeat-listener", m.heartbeatTask)
	m.taskMgr.Start("master-status-listener", m.statusTask)
	m.taskMgr.Start("master-file-listener", m.fileTask)
	m.taskMgr.Start("master-command-poller", m.commandTask)
	m.taskMgr.StartInterval("master-heartbeat-watchdog", m.watchdogTask, m.cfg.heartbeatInterval, false)

	m.logger.Info("master node open", "peer", m.cfg.peerHost)

	return nil
}

// Close stops the tasks and releases all channels and the device bridge.
func (m *Master) Close() error {
	if m.taskMgr != nil {
		m.taskMgr.Stop()
	}

	_ = m.trigger.Close()
	_ = m.command.Close()
	_ = m.heartbeat.Close()
	_ = m.file.Close()
	_ = m.status.Close()
	err := m.bridge.Close()

	if m.taskMgr != nil {
		m.taskMgr.Wait()
	}
	m.logger.Info("master node closed")

	return err
}

// Session exposes the acquisition session, mainly for status inspection.
func (m *Master) Session() *Session {
	return m.session
}

// StartAcquisition runs one synchronized acquisition end to end: readiness
// probe, shared trigger, local acquisition, slave file collection and
// offset correlation. A zero duration or empty channel mask falls back to
// the configured defaults. It blocks until the offset report is written or
// the session failed.
func (m *Master) StartAcquisition(ctx context.Context, duration time.Duration, channels []uint16) (*correlate.Report, error) {
	if duration <= 0 {
		duration = m.cfg.duration
	}
	if len(channels) == 0 {
		channels = m.cfg.channels
	}

	if m.session.State() != IdleState {
		return nil, fmt.Errorf("acquisition already in flight: %w", wire.ErrBusy)
	}

	if err := m.probeReady(); err != nil {
		return nil, err
	}

	triggerTS := time.Now().Add(m.cfg.triggerLookahead)
	chunkDur, chunks := m.cfg.chunkPlan(duration)

	if err := m.session.Begin(triggerTS.UnixNano(), channels); err != nil {
		return nil, err
	}
	m.abort.arm()

	report, err := m.runAcquisition(ctx, triggerTS, duration, chunkDur, chunks)
	if err != nil {
		m.session.Fail(err)
		m.notifyAbort()

		return nil, err
	}

	return report, nil
}

// Recover returns a failed master session to idle.
func (m *Master) Recover() error {
	return m.session.Reset()
}

func (m *Master) probeReady() error {
	reply, err := m.command.Request("ready", nil, m.cfg.replyTimeout)
	if err != nil {
		return fmt.Errorf("readiness probe: %v: %w", err, wire.ErrPeerNotReady)
	}
	if !reply.OK {
		return fmt.Errorf("peer is %s: %w", reply.Error, wire.ErrPeerNotReady)
	}

	return nil
}

func (m *Master) runAcquisition(ctx context.Context, triggerTS time.Time, duration, chunkDur time.Duration, chunks int) (*correlate.Report, error) {
	trigger := &wire.TriggerMessage{
		Sequence:  m.session.ControlSeq.Next(),
		TriggerTS: triggerTS.UnixNano(),
		Duration:  duration,
		Channels:  m.session.Channels(),
	}
	if err := m.trigger.Send(trigger); err != nil {
		return nil, fmt.Errorf("publish trigger: %w", err)
	}
	m.logger.Info("trigger published",
		"seq", trigger.Sequence,
		"trigger_ts", trigger.TriggerTS,
		"duration", duration,
		"chunks", chunks,
	)

	if err := m.bridge.BeginRecording(ctx); err != nil {
		return nil, err
	}
	if err := m.session.ToAcquiring(); err != nil {
		return nil, err
	}

	var masterRecs []timetag.Record
	for i := 0; i < chunks; i++ {
		chunkStart := triggerTS.Add(time.Duration(i) * chunkDur)
		if err := m.waitUntil(ctx, chunkStart.Add(chunkDur)); err != nil {
			return nil, err
		}

		recs, err := m.recordChunk(ctx, chunkStart, chunkDur)
		if err != nil {
			return nil, err
		}
		masterRecs = append(masterRecs, recs...)

		if err := m.session.ToFinishing(); err != nil {
			return nil, err
		}

		name := acquisitionFileName(channel.MasterRole, triggerTS, i)
		if _, err := writeAcquisition(m.cfg.outputDir, name, recs, m.cfg.textOutput); err != nil {
			return nil, err
		}
		m.session.SetProgress(float64(i+1) / float64(chunks))
		m.logger.Debug("acquisition chunk serialized", "file", name, "events", len(recs))

		if i+1 < chunks {
			if err := m.session.Rearm(); err != nil {
				return nil, err
			}
			if err := rearmDevice(ctx, m.bridge, m.logger); err != nil {
				return nil, err
			}
			if err := m.session.ToAcquiring(); err != nil {
				return nil, err
			}
		}
	}

	if err := m.bridge.StopRecording(ctx); err != nil {
		return nil, err
	}

	slaveRecs, err := m.collectSlaveFiles(ctx, triggerTS, chunks)
	if err != nil {
		return nil, err
	}

	report, err := m.correlateSession(masterRecs, slaveRecs)
	if err != nil {
		return nil, err
	}

	if err := m.session.Finish(); err != nil {
		return nil, err
	}
	m.logger.Info("acquisition finished",
		"session", report.SessionID,
		"samples", report.Samples,
		"mean_ns", report.MeanNs,
		"quality", report.Quality,
	)

	return report, nil
}

// recordChunk reads one chunk from the recorder, retrying transient device
// failures twice before the session fails.
func (m *Master) recordChunk(ctx context.Context, start time.Time, dur time.Duration) ([]timetag.Record, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		recs, err := m.recorder.Record(ctx, start, dur, m.session.Channels())
		if err == nil {
			return recs, nil
		}
		lastErr = err
		m.logger.Warn("device readout failed", "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("device readout: %v: %w", lastErr, wire.ErrDeviceError)
}

// collectSlaveFiles waits for every expected slave chunk to arrive over
// the file channel and returns the concatenated records.
func (m *Master) collectSlaveFiles(ctx context.Context, triggerTS time.Time, chunks int) ([]timetag.Record, error) {
	expected := make([]string, chunks)
	for i := range expected {
		expected[i] = acquisitionFileName(channel.SlaveRole, triggerTS, i)
	}

	deadline := pool.GetTimer(m.cfg.transferTimeout)
	defer pool.PutTimer(deadline)

	for {
		missing := 0
		for _, name := range expected {
			if _, ok := m.assembler.pathOf(name); !ok {
				missing++
			}
		}
		if missing == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.abort.c():
			return nil, m.abort.reason()
		case <-deadline.C:
			return nil, fmt.Errorf("%d of %d slave files missing after %s: %w",
				missing, chunks, m.cfg.transferTimeout, wire.ErrTransferFailed)
		case <-m.received:
		}
	}

	var recs []timetag.Record
	for _, name := range expected {
		path, _ := m.assembler.pathOf(name)
		chunk, err := timetag.ReadBinaryFile(path)
		if err != nil {
			return nil, fmt.Errorf("read slave file %q: %w", name, err)
		}
		recs = append(recs, chunk...)
	}

	return recs, nil
}

func (m *Master) correlateSession(master, slave []timetag.Record) (*correlate.Report, error) {
	report, err := m.engine.Correlate(master, slave)
	if err != nil {
		return nil, err
	}
	report.SessionID = m.session.ID()

	if err := report.Write(filepath.Join(m.cfg.outputDir, correlate.ReportFileName)); err != nil {
		return nil, err
	}

	shift := int64(0)
	if !report.InsufficientData {
		shift = int64(report.MeanNs + 0.5)
		if report.MeanNs < 0 {
			shift = -int64(-report.MeanNs + 0.5)
		}
	}
	corrected := timetag.Shift(master, shift)
	if err := timetag.WriteBinaryFile(filepath.Join(m.cfg.outputDir, correlate.CorrectedFileName), corrected); err != nil {
		return nil, fmt.Errorf("write corrected master file: %w", err)
	}

	return report, nil
}

// waitUntil blocks until t, the context is done or the session aborts.
func (m *Master) waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}

	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.abort.c():
		return m.abort.reason()
	case <-timer.C:
		return nil
	}
}

// notifyAbort tells the slave to tear down its side of the failed session.
// Best effort: a slave that is already gone simply misses it.
func (m *Master) notifyAbort() {
	if err := m.command.Notify("abort", nil); err != nil {
		m.logger.Debug("abort notification not delivered", "error", err)
	}
}

// heartbeatTask consumes the heartbeat channel and feeds the liveness
// monitor. Stale sequence numbers are discarded.
func (m *Master) heartbeatTask() bool {
	msg, err := m.heartbeat.Recv()
	if err != nil {
		if errors.Is(err, wire.ErrChannelClosed) {
			return false
		}
		return true
	}

	hb, ok := msg.(*wire.HeartbeatMessage)
	if !ok {
		m.logger.Warn("unexpected message on heartbeat channel", "type", msg.Type().String())
		return true
	}
	if !m.hbVal.Accept(hb.Sequence) {
		m.logger.Warn("stale heartbeat discarded", "seq", hb.Sequence, "last", m.hbVal.Last())
		m.heartbeat.Metrics().IncStaleCount()
		return true
	}

	m.monitor.observe()
	m.logger.Debug("heartbeat",
		"seq", hb.Sequence,
		"peer_state", State(hb.State).String(),
		"progress", hb.Progress,
	)

	return true
}

// watchdogTask declares the peer unresponsive after the configured silent
// span and aborts any in-flight acquisition.
func (m *Master) watchdogTask() bool {
	if !m.monitor.seen() {
		return true
	}

	silent := m.monitor.silentFor()
	if silent <= m.cfg.heartbeatTimeout() {
		return true
	}

	m.logger.Error("peer heartbeat lost", "silent", silent)
	m.abort.fire(fmt.Errorf("no heartbeat for %s: %w", silent.Round(time.Millisecond), wire.ErrPeerUnresponsive))
	m.monitor.reset()

	return true
}

// statusTask consumes the status channel. Status snapshots mirror the
// slave session for observability; an error snapshot is surfaced in the
// master log.
func (m *Master) statusTask() bool {
	msg, err := m.status.Recv()
	if err != nil {
		if errors.Is(err, wire.ErrChannelClosed) {
			return false
		}
		return true
	}

	st, ok := msg.(*wire.StatusMessage)
	if !ok {
		m.logger.Warn("unexpected message on status channel", "type", msg.Type().String())
		return true
	}
	if !m.session.StatusVal.Accept(st.Sequence) {
		m.status.Metrics().IncStaleCount()
		return true
	}

	if State(st.State) == ErrorState {
		m.logger.Error("peer session failed", "session", st.SessionID, "error", st.Error)
	} else {
		m.logger.Debug("peer status",
			"session", st.SessionID,
			"state", State(st.State).String(),
			"progress", st.Progress,
		)
	}

	return true
}

// fileTask consumes the file channel and feeds the assembler. Completed
// files wake the collector.
func (m *Master) fileTask() bool {
	msg, err := m.file.Recv()
	if err != nil {
		if errors.Is(err, wire.ErrChannelClosed) {
			return false
		}
		return true
	}

	part, ok := msg.(*wire.FileMessage)
	if !ok {
		m.logger.Warn("unexpected message on file channel", "type", msg.Type().String())
		return true
	}
	if !m.session.FileVal.Accept(part.Sequence) {
		m.logger.Warn("stale file part discarded", "seq", part.Sequence, "name", part.Name)
		m.file.Metrics().IncStaleCount()
		return true
	}

	path, err := m.assembler.feed(part)
	if err != nil {
		m.logger.Error("file part rejected", "name", part.Name, "part", part.Part, "error", err)
		return true
	}
	if path == "" {
		return true
	}

	m.logger.Info("slave file received", "path", path)
	select {
	case m.received <- path:
	default:
	}

	return true
}

// commandTask pumps the command channel: replies to in-flight requests and
// incoming slave commands.
func (m *Master) commandTask() bool {
	err := m.command.Poll()
	if errors.Is(err, wire.ErrChannelClosed) {
		return false
	}

	return true
}

// handleCommand serves commands initiated by the slave.
func (m *Master) handleCommand(cmd *wire.CommandMessage) *wire.ReplyMessage {
	switch cmd.Name {
	case "transfer_done":
		var ack transferAck
		if err := json.Unmarshal(cmd.Params, &ack); err != nil {
			return &wire.ReplyMessage{OK: false, Error: "malformed transfer_done params"}
		}
		// the last parts may still sit in the file listener's queue when
		// the acknowledgment request overtakes them; give them a moment
		deadline := time.Now().Add(m.cfg.replyTimeout / 2)
		for {
			if _, ok := m.assembler.pathOf(ack.Name); ok {
				return &wire.ReplyMessage{OK: true}
			}
			if time.Now().After(deadline) {
				return &wire.ReplyMessage{OK: false, Error: fmt.Sprintf("file %q incomplete", ack.Name)}
			}
			time.Sleep(10 * time.Millisecond)
		}

	case "late_trigger":
		m.logger.Error("peer rejected trigger as late")
		m.abort.fire(fmt.Errorf("peer rejected trigger: %w", wire.ErrLateTrigger))
		return &wire.ReplyMessage{OK: true}

	case "error_report":
		var report struct {
			Session string `json:"session"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(cmd.Params, &report); err != nil {
			m.logger.Warn("malformed error report params", "seq", cmd.Sequence, "error", err)
		}
		m.logger.Error("peer error report", "session", report.Session, "error", report.Error)
		m.abort.fire(fmt.Errorf("peer failed: %s", report.Error))
		// the positive reply doubles as the acknowledgment that lets the
		// peer auto-recover to idle
		return &wire.ReplyMessage{OK: true}

	default:
		return nil
	}
}
