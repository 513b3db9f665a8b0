package midi

import (
	"fmt"
	"testing"

	"github.com/padgrid/midicore/internal/pkg/midierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		data     []byte
		expected Message
	}{
		{data: []byte{0x90, 60, 100}, expected: Message{Type: NoteOn, Channel: 0, Data1: 60, Data2: 100}},
		{data: []byte{0x9F, 0, 127}, expected: Message{Type: NoteOn, Channel: 15, Data1: 0, Data2: 127}},
		{data: []byte{0x80, 60, 0}, expected: Message{Type: NoteOff, Channel: 0, Data1: 60, Data2: 0}},
		{data: []byte{0xB2, 7, 99}, expected: Message{Type: ControlChange, Channel: 2, Data1: 7, Data2: 99}},
		{data: []byte{0xC5, 12}, expected: Message{Type: ProgramChange, Channel: 5, Data1: 12}},
		{data: []byte{0xA1, 64, 50}, expected: Message{Type: Aftertouch, Channel: 1, Data1: 64, Data2: 50}},
		{data: []byte{0xE0, 0x00, 0x40}, expected: Message{Type: PitchBend, Channel: 0, Data1: 0x00, Data2: 0x40}},
		{data: []byte{0xF8}, expected: Message{Type: Clock}},
		{data: []byte{0xFA}, expected: Message{Type: Start}},
		{data: []byte{0xFC}, expected: Message{Type: Stop}},
		{data: []byte{0xFB}, expected: Message{Type: Continue}},
		{data: []byte{0xF0, 0x01, 0x02, 0x03, 0xF7}, expected: Message{Type: SystemExclusive, Data1: 3}},
		{data: []byte{0xF0, 0xF7}, expected: Message{Type: SystemExclusive, Data1: 0}},
	} {
		t.Run(fmt.Sprintf("% 02x", tc.data), func(t *testing.T) {
			msg, err := Parse(tc.data, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, msg)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "data byte first", data: []byte{0x40, 60, 100}},
		{name: "note on too short", data: []byte{0x90, 60}},
		{name: "cc too short", data: []byte{0xB0}},
		{name: "pitch bend too short", data: []byte{0xE0, 0x40}},
		{name: "program change too short", data: []byte{0xC0}},
		{name: "unterminated sysex", data: []byte{0xF0, 0x01, 0x02}},
		{name: "lone sysex status", data: []byte{0xF0}},
		{name: "unsupported status", data: []byte{0xF1, 0x00}},
		{name: "oversized clock", data: []byte{0xF8, 0x00}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.data, 0)
			require.Error(t, err)
			kind, ok := midierr.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, midierr.InvalidMessage, kind)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	messages := []Message{
		{Type: NoteOn, Channel: 0, Data1: 60, Data2: 100},
		{Type: NoteOn, Channel: 15, Data1: 127, Data2: 1},
		{Type: NoteOff, Channel: 3, Data1: 61, Data2: 0},
		{Type: ControlChange, Channel: 9, Data1: 74, Data2: 127},
		{Type: ProgramChange, Channel: 1, Data1: 42},
		{Type: Aftertouch, Channel: 7, Data1: 60, Data2: 33},
		{Type: PitchBend, Channel: 2, Data1: 0x7F, Data2: 0x7F},
		{Type: PitchBend, Channel: 0, Data1: 0x00, Data2: 0x40},
		{Type: SystemExclusive, Data1: 16},
		{Type: Clock},
		{Type: Start},
		{Type: Stop},
		{Type: Continue},
	}

	for _, m := range messages {
		t.Run(m.String(), func(t *testing.T) {
			data, err := Serialize(m)
			require.NoError(t, err)
			back, err := Parse(data, m.Timestamp)
			require.NoError(t, err)
			assert.Equal(t, m, back)
		})
	}
}

func TestNewMessageValidation(t *testing.T) {
	for _, tc := range []struct {
		name    string
		t       Type
		channel uint8
		data1   uint8
		data2   uint8
		wantErr bool
	}{
		{name: "valid note on", t: NoteOn, channel: 0, data1: 60, data2: 100},
		{name: "channel too big", t: NoteOn, channel: 16, data1: 60, data2: 100, wantErr: true},
		{name: "data1 too big", t: ControlChange, channel: 0, data1: 128, wantErr: true},
		{name: "data2 too big", t: ControlChange, channel: 0, data1: 7, data2: 200, wantErr: true},
		{name: "real time ignores fields", t: Clock, channel: 200, data1: 200, data2: 200},
		{name: "sysex payload length in range", t: SystemExclusive, channel: 0, data1: 127},
		{name: "sysex payload length too big", t: SystemExclusive, channel: 0, data1: 200, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewMessage(tc.t, tc.channel, tc.data1, tc.data2, 0)
			if tc.wantErr {
				require.Error(t, err)
				kind, ok := midierr.KindOf(err)
				require.True(t, ok)
				assert.Equal(t, midierr.InvalidMessage, kind)
				return
			}
			require.NoError(t, err)
			assert.True(t, Validate(m))
		})
	}
}

func TestPitchBendPacking(t *testing.T) {
	m, err := NewPitchBend(0, 8192, 0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x00), m.Data1)
	assert.Equal(t, uint8(0x40), m.Data2)
	assert.Equal(t, 8192, m.PitchBendValue())

	m, err = NewPitchBend(0, 16383, 0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x7F), m.Data1)
	assert.Equal(t, uint8(0x7F), m.Data2)
	assert.Equal(t, 16383, m.PitchBendValue())

	_, err = NewPitchBend(0, 16384, 0)
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	for _, tc := range []struct {
		name     string
		data     []byte
		expected []byte
	}{
		{name: "clean passthrough", data: []byte{0x90, 60, 100}, expected: []byte{0x90, 60, 100}},
		{name: "clamped data bytes", data: []byte{0x90, 0xBC, 0xE4}, expected: []byte{0x90, 0x3C, 0x64}},
		{name: "sysex terminator kept", data: []byte{0xF0, 0x99, 0xF7}, expected: []byte{0xF0, 0x19, 0xF7}},
		{name: "empty", data: []byte{}, expected: []byte{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Sanitize(tc.data))
		})
	}
}
