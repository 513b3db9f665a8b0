package health

import (
	"sort"
	"sync"

	"github.com/padgrid/midicore/internal/pkg/midierr"
)

// Feature is one degradable capability. Touch input is deliberately not
// on this list, it can never be taken away.
type Feature int

const (
	ExternalInput Feature = iota
	MidiOutput
	DeviceControl
	MidiLearn
	CustomMapping
	ExternalClock
	ClockSync
	HighSpeedInput
	VirtualKeyboard
	GestureControl
)

func (f Feature) String() string {
	switch f {
	case ExternalInput:
		return "external input"
	case MidiOutput:
		return "midi output"
	case DeviceControl:
		return "device control"
	case MidiLearn:
		return "midi learn"
	case CustomMapping:
		return "custom mapping"
	case ExternalClock:
		return "external clock"
	case ClockSync:
		return "clock sync"
	case HighSpeedInput:
		return "high speed input"
	case VirtualKeyboard:
		return "virtual keyboard"
	case GestureControl:
		return "gesture control"
	default:
		return "unknown"
	}
}

var allFeatures = []Feature{
	ExternalInput, MidiOutput, DeviceControl, MidiLearn, CustomMapping,
	ExternalClock, ClockSync, HighSpeedInput, VirtualKeyboard, GestureControl,
}

// Mode is the coarse operating mode derived from how many features are
// currently disabled.
type Mode int

const (
	FullFunctionality Mode = iota
	PartialFunctionality
	TouchOnly
	EmergencyMode
)

func (m Mode) String() string {
	switch m {
	case FullFunctionality:
		return "full functionality"
	case PartialFunctionality:
		return "partial functionality"
	case TouchOnly:
		return "touch only"
	case EmergencyMode:
		return "emergency mode"
	default:
		return "unknown"
	}
}

// featuresFor maps an error kind to the features it takes down.
func featuresFor(kind midierr.Kind) []Feature {
	switch kind {
	case midierr.PermissionDenied:
		return []Feature{ExternalInput, DeviceControl, MidiOutput}
	case midierr.MidiNotSupported:
		return []Feature{ExternalInput, MidiOutput, DeviceControl, MidiLearn, ExternalClock, ClockSync}
	case midierr.ClockSyncLost:
		return []Feature{ExternalClock, ClockSync}
	case midierr.BufferOverflow:
		return []Feature{HighSpeedInput}
	case midierr.DeviceNotFound, midierr.ConnectionFailed:
		return []Feature{DeviceControl}
	default:
		return nil
	}
}

// restoredBy is the inverse of featuresFor: which features come back
// when an error kind is resolved.
func restoredBy(kind midierr.Kind) []Feature {
	return featuresFor(kind)
}

// Degradation tracks which features are disabled and which caused it.
// The core sound engine and touch input are never represented here, the
// app always keeps playing.
type Degradation struct {
	mutex    sync.Mutex
	disabled map[Feature]midierr.Kind
}

func NewDegradation() *Degradation {
	return &Degradation{disabled: make(map[Feature]midierr.Kind)}
}

// ApplyError disables the features affected by the given error kind.
func (d *Degradation) ApplyError(kind midierr.Kind) {
	features := featuresFor(kind)
	if len(features) == 0 {
		return
	}

	d.mutex.Lock()
	for _, f := range features {
		if _, taken := d.disabled[f]; !taken {
			d.disabled[f] = kind
		}
	}
	d.mutex.Unlock()
}

// RestoreFunctionality re-enables the features a resolved error kind
// had disabled. Features disabled by a different, still unresolved kind
// stay down.
func (d *Degradation) RestoreFunctionality(kind midierr.Kind) {
	d.mutex.Lock()
	for _, f := range restoredBy(kind) {
		if cause, taken := d.disabled[f]; taken && cause == kind {
			delete(d.disabled, f)
		}
	}
	d.mutex.Unlock()
}

// Available reports whether a feature is currently usable.
func (d *Degradation) Available(f Feature) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	_, taken := d.disabled[f]
	return !taken
}

// Disabled returns the currently disabled features in stable order.
func (d *Degradation) Disabled() []Feature {
	d.mutex.Lock()
	features := make([]Feature, 0, len(d.disabled))
	for f := range d.disabled {
		features = append(features, f)
	}
	d.mutex.Unlock()

	sort.Slice(features, func(i, j int) bool { return features[i] < features[j] })
	return features
}

// Mode derives the operating mode from the number of disabled features.
func (d *Degradation) Mode() Mode {
	d.mutex.Lock()
	n := len(d.disabled)
	d.mutex.Unlock()

	switch {
	case n == 0:
		return FullFunctionality
	case n <= 2:
		return PartialFunctionality
	case n <= 6:
		return TouchOnly
	default:
		return EmergencyMode
	}
}

// AvailableFeatures lists what still works, in stable order.
func (d *Degradation) AvailableFeatures() []Feature {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	features := make([]Feature, 0, len(allFeatures))
	for _, f := range allFeatures {
		if _, taken := d.disabled[f]; !taken {
			features = append(features, f)
		}
	}
	return features
}
