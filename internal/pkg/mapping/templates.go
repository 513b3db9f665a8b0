package mapping

import (
	"fmt"

	"github.com/padgrid/midicore/internal/pkg/midi"
)

// Built-in read-only templates, materialized into storage on first load
// when absent. Their ids are stable so re-materialization never duplicates
// them.
const (
	TemplateKeyboardID  = "template-generic-keyboard"
	TemplateDrumPadID   = "template-drum-controller"
	TemplateTransportID = "template-transport-controller"
)

func builtinTemplates() []Profile {
	return []Profile{
		genericKeyboard(),
		drumController(),
		transportController(),
	}
}

func genericKeyboard() Profile {
	mappings := []Mapping{
		{ID: "kbd-mod-wheel", MessageType: midi.ControlChange, Channel: ChannelAny, Controller: 1,
			Target: EffectParameter, TargetID: "effect_0", Min: 0, Max: 1, Curve: Linear},
		{ID: "kbd-volume", MessageType: midi.ControlChange, Channel: ChannelAny, Controller: 7,
			Target: MasterVolume, TargetID: "master", Min: 0, Max: 1, Curve: Exponential},
		{ID: "kbd-pan", MessageType: midi.ControlChange, Channel: ChannelAny, Controller: 10,
			Target: PadPan, TargetID: "pad_0", Min: -1, Max: 1, Curve: Linear},
		{ID: "kbd-expression", MessageType: midi.ControlChange, Channel: ChannelAny, Controller: 11,
			Target: EffectParameter, TargetID: "effect_1", Min: 0, Max: 1, Curve: Logarithmic},
	}
	return Profile{ID: TemplateKeyboardID, Name: "Generic Keyboard", Mappings: mappings, BuiltIn: true}
}

// drumController targets the standard General MIDI drum notes at the
// first eight pads.
func drumController() Profile {
	notes := []uint8{36, 38, 42, 46, 41, 45, 49, 51}
	var mappings []Mapping
	for i, note := range notes {
		mappings = append(mappings, Mapping{
			ID:          padMappingID(i),
			MessageType: midi.NoteOn,
			Channel:     ChannelAny,
			Controller:  note,
			Target:      PadTrigger,
			TargetID:    padTargetID(i),
			Min:         0,
			Max:         1,
			Curve:       Linear,
		})
	}
	return Profile{ID: TemplateDrumPadID, Name: "Drum Controller", Mappings: mappings, BuiltIn: true}
}

func transportController() Profile {
	mappings := []Mapping{
		{ID: "transport-play", MessageType: midi.ControlChange, Channel: ChannelAny, Controller: 115,
			Target: TransportControl, TargetID: "play", Min: 0, Max: 1, Curve: Linear},
		{ID: "transport-stop", MessageType: midi.ControlChange, Channel: ChannelAny, Controller: 116,
			Target: TransportControl, TargetID: "stop", Min: 0, Max: 1, Curve: Linear},
		{ID: "transport-record", MessageType: midi.ControlChange, Channel: ChannelAny, Controller: 117,
			Target: TransportControl, TargetID: "record", Min: 0, Max: 1, Curve: Linear},
		{ID: "transport-tempo", MessageType: midi.ControlChange, Channel: ChannelAny, Controller: 14,
			Target: SequencerTempo, TargetID: "tempo", Min: 60, Max: 200, Curve: Linear},
	}
	return Profile{ID: TemplateTransportID, Name: "Transport Controller", Mappings: mappings, BuiltIn: true}
}

func padMappingID(i int) string {
	return fmt.Sprintf("drum-pad-%d", i)
}

func padTargetID(i int) string {
	return fmt.Sprintf("pad_%d", i)
}
