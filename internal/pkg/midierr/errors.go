package midierr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure classes the midi subsystem can report.
// Every handling site is expected to switch over all of them.
type Kind int

const (
	DeviceNotFound Kind = iota
	ConnectionFailed
	PermissionDenied
	BufferOverflow
	ClockSyncLost
	MidiNotSupported
	MappingConflict
	DeviceBusy
	Timeout
	InvalidMessage
)

func (k Kind) String() string {
	switch k {
	case DeviceNotFound:
		return "device not found"
	case ConnectionFailed:
		return "connection failed"
	case PermissionDenied:
		return "permission denied"
	case BufferOverflow:
		return "buffer overflow"
	case ClockSyncLost:
		return "clock sync lost"
	case MidiNotSupported:
		return "midi not supported"
	case MappingConflict:
		return "mapping conflict"
	case DeviceBusy:
		return "device busy"
	case Timeout:
		return "timeout"
	case InvalidMessage:
		return "invalid message"
	default:
		return fmt.Sprintf("unknown kind (%d)", int(k))
	}
}

// Error carries a Kind together with enough context to tell which device
// and operation produced it.
type Error struct {
	Kind    Kind
	Device  string
	Op      string
	Context string

	wrapped error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Device != "" {
		msg += fmt.Sprintf(" (device: %s)", e.Device)
	}
	if e.Context != "" {
		msg += ": " + e.Context
	}
	if e.wrapped != nil {
		msg += ": " + e.wrapped.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, context string) *Error {
	return &Error{Kind: kind, Context: context}
}

func Newf(kind Kind, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Context: fmt.Sprintf(format, a...)}
}

func Device(kind Kind, deviceID, op, context string) *Error {
	return &Error{Kind: kind, Device: deviceID, Op: op, Context: context}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, wrapped: err}
}

// KindOf extracts the Kind from any error in err's chain.
// The second value reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
