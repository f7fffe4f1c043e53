package node

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/tagsync/wire"
)

// State represents the stages of an acquisition session.
type State byte

// Acquisition session states.
const (
	// IdleState indicates that no session is active.
	IdleState State = iota
	// ArmedState indicates that a trigger was accepted and the device is
	// being armed against it.
	ArmedState
	// AcquiringState indicates that the device is recording.
	AcquiringState
	// FinishingState indicates that the acquisition window elapsed and the
	// data is being serialized and handed off.
	FinishingState
	// ErrorState indicates a failed session awaiting acknowledgment or
	// reset.
	ErrorState
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case IdleState:
		return "idle"
	case ArmedState:
		return "armed"
	case AcquiringState:
		return "acquiring"
	case FinishingState:
		return "finishing"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned when an attempt is made to transition
// the session to a state not reachable from the current one.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Snapshot is a torn-read-free copy of the observable session fields, as
// carried in heartbeat and status messages.
type Snapshot struct {
	ID       string
	State    State
	Progress float64
	Error    string
}

// Session is the single mutable acquisition record of one node. Every
// listener task reads it and the acquisition task transitions it; all
// access is serialized through one mutex.
//
// The sequence counters and receive validators are safe on their own
// atomics. They are not reset per session: numbers keep increasing for
// the life of the link, which keeps every stream strictly increasing
// within a session as well.
type Session struct {
	mu        sync.Mutex
	id        string
	state     State
	progress  float64
	lastErr   string
	channels  []uint16
	triggerTS int64
	startedAt time.Time

	// ControlSeq numbers outgoing trigger messages.
	ControlSeq wire.Counter
	// FileSeq numbers outgoing file part messages.
	FileSeq wire.Counter
	// StatusSeq numbers outgoing status messages.
	StatusSeq wire.Counter
	// TriggerVal validates incoming trigger sequence numbers.
	TriggerVal wire.Validator
	// FileVal validates incoming file part sequence numbers.
	FileVal wire.Validator
	// StatusVal validates incoming heartbeat/status sequence numbers.
	StatusVal wire.Validator
}

// NewSession creates an idle session.
func NewSession() *Session {
	return &Session{state: IdleState}
}

// Begin starts a new session for the given trigger: idle → armed. It
// assigns a fresh session ID, records the trigger timestamp and the active
// channels. A non-idle session returns wire.ErrBusy.
func (s *Session) Begin(triggerTS int64, channels []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != IdleState {
		return wire.ErrBusy
	}

	s.id = uuid.NewString()
	s.state = ArmedState
	s.progress = 0
	s.lastErr = ""
	s.channels = append([]uint16(nil), channels...)
	s.triggerTS = triggerTS
	s.startedAt = time.Now()

	return nil
}

// ToAcquiring transitions armed → acquiring, after the local device
// acknowledged the begin-recording command.
func (s *Session) ToAcquiring() error {
	return s.transition(ArmedState, AcquiringState)
}

// ToFinishing transitions acquiring → finishing, once the acquisition
// window elapsed.
func (s *Session) ToFinishing() error {
	return s.transition(AcquiringState, FinishingState)
}

// Rearm transitions finishing → armed for the next streaming chunk.
func (s *Session) Rearm() error {
	return s.transition(FinishingState, ArmedState)
}

// Finish transitions finishing → idle and clears the active channel set.
func (s *Session) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != FinishingState {
		return ErrInvalidTransition
	}

	s.state = IdleState
	s.progress = 1
	s.channels = nil

	return nil
}

// Fail transitions any state to error, recording the error string. The
// active channel set is cleared; progress is left as a failure marker.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = ErrorState
	if err != nil {
		s.lastErr = err.Error()
	}
	s.channels = nil
}

// Reset returns an error (or idle) session to idle, clearing the error
// string. It is invoked on the master's acknowledgment or a local reset.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ErrorState && s.state != IdleState {
		return ErrInvalidTransition
	}

	s.state = IdleState
	s.progress = 0
	s.lastErr = ""
	s.channels = nil

	return nil
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != from {
		return ErrInvalidTransition
	}
	s.state = to

	return nil
}

// SetProgress updates the session progress, clamped to [0, 1].
func (s *Session) SetProgress(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	s.progress = p
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// ID returns the current session ID, empty before the first Begin.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.id
}

// TriggerTS returns the session's trigger timestamp in nanoseconds.
func (s *Session) TriggerTS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.triggerTS
}

// StartedAt returns the wall-clock marker of the session start.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.startedAt
}

// Channels returns a copy of the active channel set. It is non-empty only
// while the state is armed, acquiring or finishing.
func (s *Session) Channels() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]uint16(nil), s.channels...)
}

// Snapshot returns a consistent copy of the observable fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:       s.id,
		State:    s.state,
		Progress: s.progress,
		Error:    s.lastErr,
	}
}
