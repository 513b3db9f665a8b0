package device

import (
	"fmt"
	"strings"

	"github.com/padgrid/midicore/internal/pkg/midi/driver"
)

type Type int

const (
	Keyboard Type = iota
	Controller
	Interface
	Synthesizer
	DrumMachine
	Other
)

func (t Type) String() string {
	switch t {
	case Keyboard:
		return "Keyboard"
	case Controller:
		return "Controller"
	case Interface:
		return "Interface"
	case Synthesizer:
		return "Synthesizer"
	case DrumMachine:
		return "Drum Machine"
	default:
		return "Other"
	}
}

// Info describes one discovered device. Instances are created on discovery,
// updated on transport status callbacks and removed on device loss, never
// mutated by application code directly.
type Info struct {
	ID           string
	Name         string
	Manufacturer string
	Type         Type
	InputPorts   int
	OutputPorts  int
	Connected    bool
}

func (i Info) String() string {
	return fmt.Sprintf("%s [%s] (in: %d, out: %d)", i.Name, i.Type, i.InputPorts, i.OutputPorts)
}

// Capabilities are derived once per discovery and cached per device id.
type Capabilities struct {
	HasInput         bool
	HasOutput        bool
	SupportsRealTime bool
}

func newInfo(p driver.PortInfo) Info {
	return Info{
		ID:           p.DeviceID,
		Name:         p.Name,
		Manufacturer: p.Manufacturer,
		Type:         classify(p.Name),
		InputPorts:   p.InputPorts,
		OutputPorts:  p.OutputPorts,
	}
}

func capabilitiesOf(p driver.PortInfo) Capabilities {
	return Capabilities{
		HasInput:         p.InputPorts > 0,
		HasOutput:        p.OutputPorts > 0,
		SupportsRealTime: p.RealTime,
	}
}

// classify guesses the device class from its reported name. Platform midi
// APIs rarely report anything more structured than that.
func classify(name string) Type {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "drum") || strings.Contains(n, "pad"):
		return DrumMachine
	case strings.Contains(n, "keyboard") || strings.Contains(n, "keys") || strings.Contains(n, "piano"):
		return Keyboard
	case strings.Contains(n, "synth"):
		return Synthesizer
	case strings.Contains(n, "interface") || strings.Contains(n, "usb midi"):
		return Interface
	case strings.Contains(n, "control") || strings.Contains(n, "launchpad") || strings.Contains(n, "nano"):
		return Controller
	default:
		return Other
	}
}
