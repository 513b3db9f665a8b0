package midi

import (
	"fmt"
	"time"

	"github.com/padgrid/midicore/internal/pkg/midierr"
)

// status byte layout
const (
	statusNoteOff       uint8 = 0b1000 << 4
	statusNoteOn        uint8 = 0b1001 << 4
	statusAftertouch    uint8 = 0b1010 << 4
	statusControlChange uint8 = 0b1011 << 4
	statusProgramChange uint8 = 0b1100 << 4
	statusPitchBend     uint8 = 0b1110 << 4

	statusSysEx    uint8 = 0xF0
	statusSysExEnd uint8 = 0xF7
	statusClock    uint8 = 0xF8
	statusStart    uint8 = 0xFA
	statusContinue uint8 = 0xFB
	statusStop     uint8 = 0xFC
)

type Type int

const (
	NoteOn Type = iota
	NoteOff
	ControlChange
	ProgramChange
	PitchBend
	Aftertouch
	SystemExclusive
	Clock
	Start
	Stop
	Continue
)

func (t Type) String() string {
	switch t {
	case NoteOn:
		return "Note On"
	case NoteOff:
		return "Note Off"
	case ControlChange:
		return "Control Change"
	case ProgramChange:
		return "Program Change"
	case PitchBend:
		return "Pitch Bend"
	case Aftertouch:
		return "Aftertouch"
	case SystemExclusive:
		return "SysEx"
	case Clock:
		return "Clock"
	case Start:
		return "Start"
	case Stop:
		return "Stop"
	case Continue:
		return "Continue"
	default:
		return fmt.Sprintf("Unknown (%d)", int(t))
	}
}

// IsRealTime reports whether the type is a single-byte system real-time message.
func (t Type) IsRealTime() bool {
	switch t {
	case Clock, Start, Stop, Continue:
		return true
	}
	return false
}

// Message is an immutable midi message value. Channel is 0-15, Data1/Data2
// are 0-127 with type-dependent meaning, Timestamp is monotonic nanoseconds.
// For PitchBend the 14-bit value is packed as Data1 (LSB) and Data2 (MSB),
// for SystemExclusive Data1 holds the payload length (framing only).
type Message struct {
	Type      Type
	Channel   uint8
	Data1     uint8
	Data2     uint8
	Timestamp int64
}

// NewMessage range-checks every field and fails with an InvalidMessage error
// otherwise. Real-time types have channel and data forced to zero.
func NewMessage(t Type, channel, data1, data2 uint8, timestamp int64) (Message, error) {
	if t.IsRealTime() {
		return Message{Type: t, Timestamp: timestamp}, nil
	}
	if channel > 15 {
		return Message{}, midierr.Newf(midierr.InvalidMessage, "channel out of range: %d", channel)
	}
	if data1 > 127 {
		return Message{}, midierr.Newf(midierr.InvalidMessage, "data1 out of range: %d", data1)
	}
	if data2 > 127 {
		return Message{}, midierr.Newf(midierr.InvalidMessage, "data2 out of range: %d", data2)
	}
	return Message{Type: t, Channel: channel, Data1: data1, Data2: data2, Timestamp: timestamp}, nil
}

// PitchBendValue unpacks the 14-bit pitch bend value (0-16383, center 8192).
func (m Message) PitchBendValue() int {
	return (int(m.Data2) << 7) | int(m.Data1)
}

// RawValue is the value a mapping operates on: the 14-bit pitch bend value
// for PitchBend messages, Data2 for everything that carries one, Data1 for
// ProgramChange and Aftertouch-like single-value types.
func (m Message) RawValue() int {
	switch m.Type {
	case PitchBend:
		return m.PitchBendValue()
	case ProgramChange:
		return int(m.Data1)
	default:
		return int(m.Data2)
	}
}

func (m Message) String() string {
	channel := m.Channel + 1
	switch m.Type {
	case NoteOn:
		return fmt.Sprintf("Note On : %3d (channel: %2d, velocity: %3d)", m.Data1, channel, m.Data2)
	case NoteOff:
		return fmt.Sprintf("Note Off: %3d (channel: %2d, velocity: %3d)", m.Data1, channel, m.Data2)
	case ControlChange:
		return fmt.Sprintf("Control Change: %3d, value: %3d (channel: %2d)", m.Data1, m.Data2, channel)
	case ProgramChange:
		return fmt.Sprintf("Program Change: %3d (channel: %2d)", m.Data1, channel)
	case Aftertouch:
		return fmt.Sprintf("Aftertouch: %3d (channel: %2d, pressure: %3d)", m.Data1, channel, m.Data2)
	case PitchBend:
		val := float64(m.PitchBendValue()-8192) / 8192 // max value: 16383, middle value (no pitch change): 8192
		return fmt.Sprintf("Pitch Bend: %4.0f%% (channel: %2d)", val*100, channel)
	case SystemExclusive:
		return fmt.Sprintf("SysEx (payload: %d bytes)", m.Data1)
	default:
		return m.Type.String()
	}
}

// NewPitchBend packs value (0-16383) into a PitchBend message.
func NewPitchBend(channel uint8, value int, timestamp int64) (Message, error) {
	if value < 0 || value > 1<<14-1 {
		return Message{}, midierr.Newf(midierr.InvalidMessage, "pitch bend value out of range: %d", value)
	}
	return NewMessage(PitchBend, channel, uint8(value&0x7F), uint8((value>>7)&0x7F), timestamp)
}

func NewNoteOn(channel, note, velocity uint8) (Message, error) {
	return NewMessage(NoteOn, channel, note, velocity, time.Now().UnixNano())
}

func NewNoteOff(channel, note uint8) (Message, error) {
	return NewMessage(NoteOff, channel, note, 0, time.Now().UnixNano())
}

func NewControlChange(channel, controller, value uint8) (Message, error) {
	return NewMessage(ControlChange, channel, controller, value, time.Now().UnixNano())
}

func NewProgramChange(channel, program uint8) (Message, error) {
	return NewMessage(ProgramChange, channel, program, 0, time.Now().UnixNano())
}
