package midi

import (
	"github.com/padgrid/midicore/internal/pkg/midierr"
)

var statusToType = map[uint8]Type{
	statusNoteOff:       NoteOff,
	statusNoteOn:        NoteOn,
	statusAftertouch:    Aftertouch,
	statusControlChange: ControlChange,
	statusProgramChange: ProgramChange,
	statusPitchBend:     PitchBend,
}

var realTimeStatus = map[uint8]Type{
	statusClock:    Clock,
	statusStart:    Start,
	statusStop:     Stop,
	statusContinue: Continue,
}

// Parse converts one raw midi message into a Message. The status byte's high
// nibble selects the type, the low nibble is the channel (ignored for system
// real-time and SysEx). Messages that carry two data bytes require exactly
// that many bytes to be present, short reads fail with InvalidMessage.
func Parse(data []byte, timestamp int64) (Message, error) {
	if len(data) == 0 {
		return Message{}, midierr.New(midierr.InvalidMessage, "empty message")
	}

	status := data[0]
	if status < 0x80 {
		return Message{}, midierr.Newf(midierr.InvalidMessage, "not a status byte: 0x%02x", status)
	}

	if t, ok := realTimeStatus[status]; ok {
		if len(data) != 1 {
			return Message{}, midierr.Newf(midierr.InvalidMessage, "%s must be exactly 1 byte, got %d", t, len(data))
		}
		return NewMessage(t, 0, 0, 0, timestamp)
	}

	if status == statusSysEx {
		// framing only, payload content is opaque
		if len(data) < 2 || data[len(data)-1] != statusSysExEnd {
			return Message{}, midierr.New(midierr.InvalidMessage, "unterminated sysex")
		}
		payload := len(data) - 2
		if payload > 127 {
			payload = 127
		}
		return NewMessage(SystemExclusive, 0, uint8(payload), 0, timestamp)
	}

	t, ok := statusToType[status&0xF0]
	if !ok {
		return Message{}, midierr.Newf(midierr.InvalidMessage, "unsupported status byte: 0x%02x", status)
	}
	channel := status & 0x0F

	switch t {
	case ProgramChange:
		if len(data) < 2 {
			return Message{}, midierr.Newf(midierr.InvalidMessage, "%s requires 2 bytes, got %d", t, len(data))
		}
		return NewMessage(t, channel, data[1], 0, timestamp)
	default:
		if len(data) < 3 {
			return Message{}, midierr.Newf(midierr.InvalidMessage, "%s requires 3 bytes, got %d", t, len(data))
		}
		return NewMessage(t, channel, data[1], data[2], timestamp)
	}
}

// Serialize is the inverse of Parse. SysEx framing is reconstructed with a
// zero-filled payload of the recorded length.
func Serialize(m Message) ([]byte, error) {
	if !Validate(m) {
		return nil, midierr.Newf(midierr.InvalidMessage, "cannot serialize: %s", m)
	}

	switch m.Type {
	case NoteOff:
		return []byte{statusNoteOff | m.Channel, m.Data1, m.Data2}, nil
	case NoteOn:
		return []byte{statusNoteOn | m.Channel, m.Data1, m.Data2}, nil
	case Aftertouch:
		return []byte{statusAftertouch | m.Channel, m.Data1, m.Data2}, nil
	case ControlChange:
		return []byte{statusControlChange | m.Channel, m.Data1, m.Data2}, nil
	case ProgramChange:
		return []byte{statusProgramChange | m.Channel, m.Data1}, nil
	case PitchBend:
		return []byte{statusPitchBend | m.Channel, m.Data1, m.Data2}, nil
	case SystemExclusive:
		data := make([]byte, int(m.Data1)+2)
		data[0] = statusSysEx
		data[len(data)-1] = statusSysExEnd
		return data, nil
	case Clock:
		return []byte{statusClock}, nil
	case Start:
		return []byte{statusStart}, nil
	case Stop:
		return []byte{statusStop}, nil
	case Continue:
		return []byte{statusContinue}, nil
	default:
		return nil, midierr.Newf(midierr.InvalidMessage, "unsupported type: %s", m.Type)
	}
}

// Validate re-checks field ranges per type. Used defensively at ingestion
// and right before transmission.
func Validate(m Message) bool {
	if m.Channel > 15 {
		return false
	}
	switch m.Type {
	case NoteOn, NoteOff, ControlChange, Aftertouch, PitchBend:
		return m.Data1 <= 127 && m.Data2 <= 127
	case ProgramChange:
		return m.Data1 <= 127
	case SystemExclusive:
		return m.Data1 <= 127
	case Clock, Start, Stop, Continue:
		return m.Channel == 0 && m.Data1 == 0 && m.Data2 == 0
	default:
		return false
	}
}

// Sanitize clamps data bytes that leaked into the 0x80-0xFF range back into
// 0-127, malformed transports happen and must not take the stream down.
// The leading status byte and SysEx terminators are left alone.
func Sanitize(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	out := make([]byte, len(data))
	copy(out, data)
	for i := 1; i < len(out); i++ {
		if out[i] < 0x80 {
			continue
		}
		if out[i] == statusSysExEnd && i == len(out)-1 {
			continue
		}
		out[i] &= 0x7F
	}
	return out
}
