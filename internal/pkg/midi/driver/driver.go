package driver

import "fmt"

// PortDirection tells which way a port moves data.
type PortDirection int

const (
	DirectionInput PortDirection = iota
	DirectionOutput
)

// PortInfo describes one device as reported by the platform transport.
type PortInfo struct {
	DeviceID     string
	Name         string
	Manufacturer string
	InputPorts   int
	OutputPorts  int
	RealTime     bool
}

func (p PortInfo) String() string {
	switch {
	case p.InputPorts == 0 && p.OutputPorts > 0:
		return fmt.Sprintf("%s (Output only)", p.Name)
	case p.OutputPorts == 0 && p.InputPorts > 0:
		return fmt.Sprintf("%s (Input only)", p.Name)
	default:
		return fmt.Sprintf("%s (Input/Output)", p.Name)
	}
}

// DeviceEventKind is the callback class a transport reports.
type DeviceEventKind int

const (
	DeviceAdded DeviceEventKind = iota
	DeviceRemoved
	DeviceStatusChanged
)

// DeviceCallback receives hotplug and status notifications.
type DeviceCallback func(kind DeviceEventKind, info PortInfo)

// InputPort is an open byte-stream source. Received slices are whole midi
// messages as delivered by the platform.
type InputPort interface {
	Name() string
	Receive() <-chan []byte
	Close() error
}

// OutputPort is an open byte-stream sink.
type OutputPort interface {
	Name() string
	Send(data []byte) error
	Close() error
}

// Transport is the capability surface the core consumes from a platform
// midi API. Implementations own the underlying handles, the core never
// touches platform types directly.
type Transport interface {
	Enumerate() ([]PortInfo, error)
	OpenInput(deviceID string) (InputPort, error)
	OpenOutput(deviceID string) (OutputPort, error)
	Subscribe(cb DeviceCallback)
	Close() error
}
