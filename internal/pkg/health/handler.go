package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/padgrid/midicore/internal/pkg/logger"
	"github.com/padgrid/midicore/internal/pkg/midierr"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Strategy is the fixed recovery response per error kind.
type Strategy int

const (
	Retry Strategy = iota
	FallbackToInternal
	NotifyUser
	Ignore
	RestartDevice
)

func (s Strategy) String() string {
	switch s {
	case Retry:
		return "retry"
	case FallbackToInternal:
		return "fallback to internal"
	case NotifyUser:
		return "notify user"
	case Ignore:
		return "ignore"
	case RestartDevice:
		return "restart device"
	default:
		return "unknown"
	}
}

// strategyFor is the fixed error/strategy table. RestartDevice stays
// reserved for hardware-level failures no current kind maps to.
func strategyFor(kind midierr.Kind) Strategy {
	switch kind {
	case midierr.ConnectionFailed, midierr.DeviceBusy, midierr.Timeout, midierr.DeviceNotFound:
		return Retry
	case midierr.BufferOverflow, midierr.ClockSyncLost:
		return FallbackToInternal
	case midierr.PermissionDenied, midierr.MappingConflict, midierr.MidiNotSupported:
		return NotifyUser
	case midierr.InvalidMessage:
		return Ignore
	default:
		return NotifyUser
	}
}

type Level int

const (
	Healthy Level = iota
	Degraded
	Critical
)

func (l Level) String() string {
	switch l {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Record is one handled error kept in the diagnostics ring.
type Record struct {
	Kind       midierr.Kind
	Context    string
	Timestamp  time.Time
	Strategy   Strategy
	Recovered  bool
	RecoveryIn time.Duration
}

const historyLimit = 100

// RecoveryFunc attempts recovery for one error kind. It reports whether
// the condition is resolved.
type RecoveryFunc func(err error) bool

// Notifier is the user notification sink. Rendering is not this
// package's business.
type Notifier interface {
	Notify(kind midierr.Kind, message string, suggestedAction Strategy)
}

// RecoveryOutcome tells the caller what HandleError did.
type RecoveryOutcome int

const (
	Recovered RecoveryOutcome = iota
	RecoveryFailed
	NotImplemented
	Ignored
	UserNotified
)

// Handler classifies failures, executes the per-kind recovery strategy
// and maintains the system health signal.
type Handler struct {
	notifier Notifier

	mutex      sync.Mutex
	history    []Record
	level      Level
	recoveries map[midierr.Kind]RecoveryFunc

	degradation *Degradation
}

func NewHandler(notifier Notifier) *Handler {
	return &Handler{
		notifier:    notifier,
		recoveries:  make(map[midierr.Kind]RecoveryFunc),
		degradation: NewDegradation(),
	}
}

// Degradation exposes the feature degradation controller.
func (h *Handler) Degradation() *Degradation {
	return h.degradation
}

// RegisterRecovery installs the recovery callback for one error kind.
func (h *Handler) RegisterRecovery(kind midierr.Kind, f RecoveryFunc) {
	h.mutex.Lock()
	h.recoveries[kind] = f
	h.mutex.Unlock()
}

// HandleError records the error, runs its strategy and updates the
// health signal. Unknown (non-taxonomy) errors are treated as
// ConnectionFailed, the closest transient class.
func (h *Handler) HandleError(err error, context string) RecoveryOutcome {
	kind, ok := midierr.KindOf(err)
	if !ok {
		kind = midierr.ConnectionFailed
	}
	strategy := strategyFor(kind)

	log.Info(fmt.Sprintf("handling error: %v", err),
		zap.String("context", context), zap.String("strategy", strategy.String()), logger.Warning)

	h.degradation.ApplyError(kind)

	started := time.Now()
	outcome := h.execute(kind, strategy, err, context)

	record := Record{
		Kind:       kind,
		Context:    context,
		Timestamp:  started,
		Strategy:   strategy,
		Recovered:  outcome == Recovered || outcome == Ignored,
		RecoveryIn: time.Since(started),
	}

	h.mutex.Lock()
	h.history = append(h.history, record)
	if len(h.history) > historyLimit {
		h.history = h.history[len(h.history)-historyLimit:]
	}
	h.updateLevelLocked(record.Recovered, strategy)
	h.mutex.Unlock()

	return outcome
}

func (h *Handler) execute(kind midierr.Kind, strategy Strategy, err error, context string) RecoveryOutcome {
	switch strategy {
	case Ignore:
		// malformed wire data is dropped and counted upstream, nothing to do
		return Ignored
	case NotifyUser:
		if h.notifier != nil {
			h.notifier.Notify(kind, userMessage(kind, context), strategy)
		}
		return UserNotified
	default:
		h.mutex.Lock()
		recovery := h.recoveries[kind]
		h.mutex.Unlock()

		if recovery == nil {
			return NotImplemented
		}
		if recovery(err) {
			h.degradation.RestoreFunctionality(kind)
			return Recovered
		}
		return RecoveryFailed
	}
}

// updateLevelLocked drives the 3-level health signal. Recovery failures
// push the level down, successes pull it back up one step at a time.
// Requires h.mutex to be held.
func (h *Handler) updateLevelLocked(recovered bool, strategy Strategy) {
	if recovered {
		if h.level == Critical {
			h.level = Degraded
		} else {
			h.level = Healthy
		}
		return
	}
	switch strategy {
	case NotifyUser:
		// user-actionable conditions degrade but are not critical
		if h.level == Healthy {
			h.level = Degraded
		}
	default:
		if h.level == Healthy {
			h.level = Degraded
		} else {
			h.level = Critical
		}
	}
}

func (h *Handler) Level() Level {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.level
}

// History returns a copy of the diagnostics ring, newest last.
func (h *Handler) History() []Record {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]Record{}, h.history...)
}

// Resolve marks an error kind recovered out-of-band (a device came back,
// permissions were granted) and restores the features it had disabled.
func (h *Handler) Resolve(kind midierr.Kind) {
	h.degradation.RestoreFunctionality(kind)

	h.mutex.Lock()
	h.updateLevelLocked(true, strategyFor(kind))
	h.mutex.Unlock()
}

func userMessage(kind midierr.Kind, context string) string {
	switch kind {
	case midierr.PermissionDenied:
		return "MIDI access denied. Grant the permission in system settings to use external controllers."
	case midierr.MappingConflict:
		return fmt.Sprintf("Conflicting MIDI mapping: %s", context)
	case midierr.MidiNotSupported:
		return "This device does not support MIDI. Touch input remains fully available."
	default:
		return fmt.Sprintf("%s: %s", kind, context)
	}
}
