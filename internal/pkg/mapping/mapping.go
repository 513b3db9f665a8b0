package mapping

import (
	"fmt"

	"github.com/padgrid/midicore/internal/pkg/midi"
)

type TargetType int

const (
	PadTrigger TargetType = iota
	PadVolume
	PadPan
	MasterVolume
	EffectParameter
	SequencerTempo
	TransportControl
)

func (t TargetType) String() string {
	switch t {
	case PadTrigger:
		return "pad trigger"
	case PadVolume:
		return "pad volume"
	case PadPan:
		return "pad pan"
	case MasterVolume:
		return "master volume"
	case EffectParameter:
		return "effect parameter"
	case SequencerTempo:
		return "sequencer tempo"
	case TransportControl:
		return "transport control"
	default:
		return fmt.Sprintf("unknown (%d)", int(t))
	}
}

// ChannelAny in a rule matches every incoming channel. Explicit channels
// 0-15 match exactly, channel 0 is channel 0 only.
const ChannelAny = -1

// Mapping is one rule: which midi messages it matches and which application
// parameter receives the curved value.
type Mapping struct {
	ID          string     `json:"id"`
	MessageType midi.Type  `json:"message_type"`
	Channel     int        `json:"channel"`
	Controller  uint8      `json:"controller"` // controller or note number
	Target      TargetType `json:"target"`
	TargetID    string     `json:"target_id"`
	Min         float64    `json:"min"`
	Max         float64    `json:"max"`
	Curve       Curve      `json:"curve"`
}

func (m Mapping) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("mapping id must not be blank")
	}
	if m.Channel != ChannelAny && (m.Channel < 0 || m.Channel > 15) {
		return fmt.Errorf("mapping %s: channel out of range: %d", m.ID, m.Channel)
	}
	if m.Controller > 127 {
		return fmt.Errorf("mapping %s: controller out of range: %d", m.ID, m.Controller)
	}
	if m.TargetID == "" {
		return fmt.Errorf("mapping %s: target id must not be blank", m.ID)
	}
	if m.Min > m.Max {
		return fmt.Errorf("mapping %s: min %f greater than max %f", m.ID, m.Min, m.Max)
	}
	return nil
}

// Matches reports whether the rule applies to the message.
func (m Mapping) Matches(msg midi.Message) bool {
	if m.MessageType != msg.Type {
		return false
	}
	if m.Channel != ChannelAny && uint8(m.Channel) != msg.Channel {
		return false
	}
	switch msg.Type {
	case midi.PitchBend:
		// pitch bend has no controller number
		return true
	default:
		return m.Controller == msg.Data1
	}
}

// Profile is a named, optionally device-scoped, ordered set of rules.
// Built-in template profiles are read-only.
type Profile struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	DeviceID string    `json:"device_id,omitempty"`
	Mappings []Mapping `json:"mappings"`
	Active   bool      `json:"active"`
	BuiltIn  bool      `json:"built_in,omitempty"`
}

func (p Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile id must not be blank")
	}
	if p.Name == "" {
		return fmt.Errorf("profile %s: name must not be blank", p.ID)
	}
	for _, m := range p.Mappings {
		err := m.Validate()
		if err != nil {
			return fmt.Errorf("profile %s: %w", p.ID, err)
		}
	}
	return nil
}

// clone returns a deep copy so callers can never mutate stored state.
func (p Profile) clone() Profile {
	out := p
	out.Mappings = make([]Mapping, len(p.Mappings))
	copy(out.Mappings, p.Mappings)
	return out
}
