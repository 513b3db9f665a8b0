package learn

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/padgrid/midicore/internal/pkg/logger"
	"github.com/padgrid/midicore/internal/pkg/mapping"
	"github.com/padgrid/midicore/internal/pkg/midi"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

type State int

const (
	Inactive State = iota
	Active
	Completed
	TimedOut
	Cancelled
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result classifies what ProcessMessage did with a message.
type Result int

const (
	NotActive Result = iota
	MessageTypeNotAllowed
	InvalidMessage
	MessageCaptured
	SessionCompleted
)

// session is ephemeral, it exists only while learn mode runs and is never
// persisted.
type session struct {
	target    mapping.TargetType
	targetID  string
	allowed   map[midi.Type]struct{}
	startedAt time.Time
	captured  []midi.Message
	result    *mapping.Mapping

	timeout *time.Timer
	grace   *time.Timer
}

// Manager runs one timeout-bounded capture session at a time, turning a
// live midi gesture into a parameter mapping.
type Manager struct {
	mutex   sync.Mutex
	state   State
	current *session

	// OnComplete, when set, receives the synthesized mapping as soon as a
	// session completes, from whatever goroutine completed it.
	OnComplete func(mapping.Mapping)

	// grace period keeping the terminal state visible before reverting to
	// Inactive
	graceDelay time.Duration
}

func NewManager() *Manager {
	return &Manager{graceDelay: 2 * time.Second}
}

// SetGraceDelay overrides the terminal-state grace period (tests).
func (m *Manager) SetGraceDelay(d time.Duration) {
	m.mutex.Lock()
	m.graceDelay = d
	m.mutex.Unlock()
}

func (m *Manager) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// StartLearn opens a new capture session, cancelling any prior one.
func (m *Manager) StartLearn(target mapping.TargetType, targetID string, timeout time.Duration, allowedTypes []midi.Type) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.discardLocked()

	allowed := make(map[midi.Type]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = struct{}{}
	}

	s := &session{
		target:    target,
		targetID:  targetID,
		allowed:   allowed,
		startedAt: time.Now(),
	}
	s.timeout = time.AfterFunc(timeout, func() { m.timedOut(s) })
	m.current = s
	m.state = Active

	log.Info(fmt.Sprintf("learn session started (%s/%s)", target, targetID), logger.Info)
}

// ProcessMessage feeds one live message into the active session.
func (m *Manager) ProcessMessage(msg midi.Message) Result {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state != Active || m.current == nil {
		return NotActive
	}
	s := m.current

	if _, ok := s.allowed[msg.Type]; !ok {
		return MessageTypeNotAllowed
	}
	if !plausibleGesture(msg) {
		return InvalidMessage
	}

	s.captured = append(s.captured, msg)

	if !strongGesture(msg) {
		return MessageCaptured
	}

	m.completeLocked(s, msg)
	return SessionCompleted
}

// StopLearn ends the session without waiting for the timeout. An Active
// session with captures synthesizes from the first captured message; a
// Completed session returns the mapping it already produced.
func (m *Manager) StopLearn() (mapping.Mapping, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	switch m.state {
	case Active:
		s := m.current
		if len(s.captured) == 0 {
			m.discardLocked()
			m.state = Inactive
			return mapping.Mapping{}, false
		}
		m.completeLocked(s, s.captured[0])
		result := *s.result
		m.discardLocked()
		m.state = Inactive
		return result, true
	case Completed:
		result := *m.current.result
		m.discardLocked()
		m.state = Inactive
		return result, true
	default:
		m.discardLocked()
		m.state = Inactive
		return mapping.Mapping{}, false
	}
}

// CancelLearn discards the session without producing a mapping.
func (m *Manager) CancelLearn() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state != Active {
		return
	}
	m.discardLocked()
	m.state = Cancelled
	m.armGraceLocked()
	log.Info("learn session cancelled", logger.Info)
}

func (m *Manager) timedOut(s *session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// a newer session may already run
	if m.current != s || m.state != Active {
		return
	}

	if len(s.captured) > 0 {
		m.completeLocked(s, s.captured[0])
		return
	}

	m.state = TimedOut
	m.armGraceLocked()
	log.Info("learn session timed out with nothing captured", logger.Warning)
}

// completeLocked synthesizes the mapping and transitions to Completed.
// Requires m.mutex to be held.
func (m *Manager) completeLocked(s *session, from midi.Message) {
	s.timeout.Stop()
	result := synthesize(s.target, s.targetID, from)
	s.result = &result
	m.state = Completed
	m.armGraceLocked()

	log.Info("learn session completed",
		zap.String("target", fmt.Sprintf("%s/%s", s.target, s.targetID)),
		zap.Int("controller", int(result.Controller)),
		logger.Info,
	)

	if m.OnComplete != nil {
		go m.OnComplete(result)
	}
}

// armGraceLocked reverts a terminal state back to Inactive after the grace
// delay so the UI can show the outcome. Requires m.mutex to be held.
func (m *Manager) armGraceLocked() {
	state := m.state
	var grace *time.Timer
	grace = time.AfterFunc(m.graceDelay, func() {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		if m.state == state && (m.current == nil || m.current.grace == grace) {
			m.discardLocked()
			m.state = Inactive
		}
	})
	if m.current != nil {
		m.current.grace = grace
	}
}

// discardLocked drops the current session and stops its timers.
// Requires m.mutex to be held.
func (m *Manager) discardLocked() {
	if m.current == nil {
		return
	}
	if m.current.timeout != nil {
		m.current.timeout.Stop()
	}
	if m.current.grace != nil {
		m.current.grace.Stop()
	}
	m.current = nil
}

// plausibleGesture is the weak validity check: could this message be a
// deliberate user gesture at all.
func plausibleGesture(msg midi.Message) bool {
	switch msg.Type {
	case midi.NoteOn:
		return msg.Data2 > 0
	case midi.ControlChange:
		return msg.Data1 <= 127 && msg.Data2 <= 127
	case midi.PitchBend:
		return true
	default:
		return true
	}
}

// strongGesture is the auto-finish threshold: unambiguous enough to end
// the session immediately.
func strongGesture(msg midi.Message) bool {
	switch msg.Type {
	case midi.NoteOn:
		return msg.Data2 > 20
	case midi.ControlChange:
		return msg.Data2 > 10
	case midi.PitchBend:
		deviation := msg.PitchBendValue() - 8192
		if deviation < 0 {
			deviation = -deviation
		}
		return deviation > 1000
	default:
		return false
	}
}

// synthesize builds a mapping from the captured gesture, with range and
// curve defaults per target type.
func synthesize(target mapping.TargetType, targetID string, msg midi.Message) mapping.Mapping {
	m := mapping.Mapping{
		ID:          uuid.NewString(),
		MessageType: msg.Type,
		Channel:     int(msg.Channel),
		Controller:  msg.Data1,
		Target:      target,
		TargetID:    targetID,
	}

	switch target {
	case mapping.PadVolume, mapping.MasterVolume:
		m.Min, m.Max, m.Curve = 0, 1, mapping.Exponential
	case mapping.PadPan:
		m.Min, m.Max, m.Curve = -1, 1, mapping.Linear
	case mapping.SequencerTempo:
		m.Min, m.Max, m.Curve = 60, 200, mapping.Linear
	default:
		m.Min, m.Max, m.Curve = 0, 1, mapping.Linear
	}
	return m
}
