package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/padgrid/midicore/internal/pkg/logger"
	"github.com/padgrid/midicore/internal/pkg/midi/driver"
	"github.com/padgrid/midicore/internal/pkg/midierr"
	"github.com/padgrid/midicore/internal/pkg/utils"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

type EventKind int

const (
	Discovered EventKind = iota
	ValidationFailed
	Lost
	Reconnected
	ReconnectFailed
	StatusChanged
)

func (k EventKind) String() string {
	switch k {
	case Discovered:
		return "discovered"
	case ValidationFailed:
		return "validation failed"
	case Lost:
		return "lost"
	case Reconnected:
		return "reconnected"
	case ReconnectFailed:
		return "reconnection failed"
	case StatusChanged:
		return "status changed"
	default:
		return "unknown"
	}
}

// Event is published for every device lifecycle transition.
type Event struct {
	Kind   EventKind
	Device Info
	Reason string
}

// RawMessage carries raw bytes read from a device input port, stamped on
// arrival with monotonic nanoseconds.
type RawMessage struct {
	DeviceID  string
	Data      []byte
	Timestamp int64
}

// Manager discovers devices through the transport, validates their
// capabilities and keeps input ports of connected devices pumping into the
// raw message channel. Lost devices are brought back with exponential
// backoff when auto-reconnect is enabled for them.
type Manager struct {
	transport driver.Transport

	backoffBase      time.Duration
	maxAttempts      int
	reconnectTimeout time.Duration

	mutex    sync.Mutex
	scanning bool
	devices  map[string]Info
	caps     map[string]Capabilities
	inputs   map[string]driver.InputPort
	pumps    map[string]chan struct{}

	autoReconnect map[string]bool
	jobs          map[string]*reconnectJob

	events *utils.Broadcast[Event]
	raw    chan RawMessage

	wg sync.WaitGroup
}

func NewManager(transport driver.Transport) *Manager {
	return &Manager{
		transport:        transport,
		backoffBase:      time.Second,
		maxAttempts:      5,
		reconnectTimeout: 30 * time.Second,
		devices:          make(map[string]Info),
		caps:             make(map[string]Capabilities),
		inputs:           make(map[string]driver.InputPort),
		pumps:            make(map[string]chan struct{}),
		autoReconnect:    make(map[string]bool),
		jobs:             make(map[string]*reconnectJob),
		events:           utils.NewBroadcast[Event](16),
		raw:              make(chan RawMessage, 128),
	}
}

// SetReconnectPolicy overrides the default backoff policy (1s base, 5
// attempts, 30s overall timeout per device).
func (m *Manager) SetReconnectPolicy(base time.Duration, maxAttempts int, timeout time.Duration) {
	m.mutex.Lock()
	m.backoffBase = base
	m.maxAttempts = maxAttempts
	m.reconnectTimeout = timeout
	m.mutex.Unlock()
}

// RawMessages exposes the stream of bytes read from every connected input
// port. The channel is never closed while the manager lives.
func (m *Manager) RawMessages() <-chan RawMessage {
	return m.raw
}

// Subscribe returns a stream of device lifecycle events.
func (m *Manager) Subscribe() (int64, <-chan Event, error) {
	return m.events.Subscribe()
}

func (m *Manager) Unsubscribe(id int64) error {
	return m.events.Unsubscribe(id)
}

// StartScanning registers transport callbacks and performs the initial
// enumeration. Calling it while scanning already runs is a no-op.
func (m *Manager) StartScanning() error {
	m.mutex.Lock()
	if m.scanning {
		m.mutex.Unlock()
		return nil
	}
	m.scanning = true
	m.mutex.Unlock()

	m.transport.Subscribe(func(kind driver.DeviceEventKind, info driver.PortInfo) {
		switch kind {
		case driver.DeviceAdded:
			m.deviceAdded(info)
		case driver.DeviceRemoved:
			m.deviceRemoved(info.DeviceID)
		case driver.DeviceStatusChanged:
			m.deviceStatusChanged(info)
		}
	})

	infos, err := m.transport.Enumerate()
	if err != nil {
		return midierr.Wrap(midierr.ConnectionFailed, "enumerate", err)
	}
	for _, info := range infos {
		m.deviceAdded(info)
	}
	log.Info(fmt.Sprintf("scanning started, %d devices present", len(infos)), logger.Info)
	return nil
}

// StopScanning cancels every pending reconnection job and closes all
// input ports.
func (m *Manager) StopScanning() {
	m.mutex.Lock()
	if !m.scanning {
		m.mutex.Unlock()
		return
	}
	m.scanning = false
	for id, job := range m.jobs {
		job.cancel()
		delete(m.jobs, id)
	}
	for id := range m.inputs {
		m.closeInputLocked(id)
	}
	m.mutex.Unlock()

	m.wg.Wait()
	log.Info("scanning stopped", logger.Info)
}

// Devices returns a snapshot of currently known devices.
func (m *Manager) Devices() []Info {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var out = make([]Info, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// ValidateDevice answers cache-first, querying the transport on a miss.
// Only successful results are cached.
func (m *Manager) ValidateDevice(deviceID string) (Capabilities, error) {
	m.mutex.Lock()
	caps, ok := m.caps[deviceID]
	m.mutex.Unlock()
	if ok {
		return caps, nil
	}

	infos, err := m.transport.Enumerate()
	if err != nil {
		return Capabilities{}, midierr.Wrap(midierr.ConnectionFailed, "validate", err)
	}
	for _, info := range infos {
		if info.DeviceID != deviceID {
			continue
		}
		caps = capabilitiesOf(info)
		err = validateCapabilities(deviceID, caps)
		if err != nil {
			return Capabilities{}, err
		}
		m.mutex.Lock()
		m.caps[deviceID] = caps
		m.mutex.Unlock()
		return caps, nil
	}
	return Capabilities{}, midierr.Device(midierr.DeviceNotFound, deviceID, "validate", "")
}

// RescanDevices drops the capability cache and re-enumerates. Used after a
// suspected transport-level inconsistency.
func (m *Manager) RescanDevices() error {
	m.mutex.Lock()
	m.caps = make(map[string]Capabilities)
	m.mutex.Unlock()

	infos, err := m.transport.Enumerate()
	if err != nil {
		return midierr.Wrap(midierr.ConnectionFailed, "rescan", err)
	}
	present := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		present[info.DeviceID] = struct{}{}
		m.deviceAdded(info)
	}

	m.mutex.Lock()
	var gone []string
	for id := range m.devices {
		if _, ok := present[id]; !ok {
			gone = append(gone, id)
		}
	}
	m.mutex.Unlock()
	for _, id := range gone {
		m.deviceRemoved(id)
	}
	return nil
}

// SetAutoReconnect enables or disables automatic reconnection for a device.
// Disabling also cancels an in-flight reconnection job.
func (m *Manager) SetAutoReconnect(deviceID string, enabled bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.autoReconnect[deviceID] = enabled
	if !enabled {
		if job, ok := m.jobs[deviceID]; ok {
			job.cancel()
			delete(m.jobs, deviceID)
		}
	}
}

func validateCapabilities(deviceID string, caps Capabilities) error {
	if !caps.HasInput && !caps.HasOutput {
		return midierr.Device(midierr.MidiNotSupported, deviceID, "validate", "device has no midi ports")
	}
	if !caps.SupportsRealTime {
		return midierr.Device(midierr.MidiNotSupported, deviceID, "validate", "device does not support real-time messages")
	}
	return nil
}

func (m *Manager) deviceAdded(p driver.PortInfo) {
	info := newInfo(p)
	caps := capabilitiesOf(p)

	err := validateCapabilities(info.ID, caps)
	if err != nil {
		log.Info(fmt.Sprintf("device rejected: %v", err), zap.String("device_name", info.Name), logger.Warning)
		m.events.Publish(Event{Kind: ValidationFailed, Device: info, Reason: err.Error()})
		return
	}

	m.mutex.Lock()
	_, known := m.devices[info.ID]
	m.caps[info.ID] = caps
	info.Connected = true
	m.devices[info.ID] = info
	m.mutex.Unlock()

	if !known {
		log.Info("device discovered", zap.String("device_name", info.Name), zap.String("device_type", info.Type.String()), logger.Info)
		m.events.Publish(Event{Kind: Discovered, Device: info})
	}

	if caps.HasInput {
		err = m.connectInput(info)
		if err != nil {
			log.Info(fmt.Sprintf("failed to open input port: %v", err), zap.String("device_name", info.Name), logger.Warning)
		}
	}
}

func (m *Manager) deviceRemoved(deviceID string) {
	m.mutex.Lock()
	info, ok := m.devices[deviceID]
	if !ok {
		m.mutex.Unlock()
		return
	}
	delete(m.devices, deviceID)
	delete(m.caps, deviceID)
	m.closeInputLocked(deviceID)
	reconnect := m.autoReconnect[deviceID]
	m.mutex.Unlock()

	info.Connected = false
	log.Info("device lost", zap.String("device_name", info.Name), logger.Info)
	m.events.Publish(Event{Kind: Lost, Device: info})

	if reconnect {
		m.scheduleReconnect(info)
	}
}

func (m *Manager) deviceStatusChanged(p driver.PortInfo) {
	info := newInfo(p)

	m.mutex.Lock()
	old, ok := m.devices[info.ID]
	if ok {
		info.Connected = old.Connected
		m.devices[info.ID] = info
	}
	m.mutex.Unlock()

	if ok {
		m.events.Publish(Event{Kind: StatusChanged, Device: info})
	}
}

func (m *Manager) connectInput(info Info) error {
	m.mutex.Lock()
	_, open := m.inputs[info.ID]
	m.mutex.Unlock()
	if open {
		return nil
	}

	port, err := m.transport.OpenInput(info.ID)
	if err != nil {
		return midierr.Wrap(midierr.ConnectionFailed, "open input", err)
	}

	stop := make(chan struct{})
	m.mutex.Lock()
	m.inputs[info.ID] = port
	m.pumps[info.ID] = stop
	m.mutex.Unlock()

	m.wg.Add(1)
	go m.pump(info.ID, port, stop)
	return nil
}

func (m *Manager) pump(deviceID string, port driver.InputPort, stop chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			return
		case data, ok := <-port.Receive():
			if !ok {
				return
			}
			select {
			case m.raw <- RawMessage{DeviceID: deviceID, Data: data, Timestamp: time.Now().UnixNano()}:
			default:
				// consumer too slow, drop instead of stalling the port reader
			}
		}
	}
}

// closeInputLocked requires m.mutex to be held.
func (m *Manager) closeInputLocked(deviceID string) {
	port, ok := m.inputs[deviceID]
	if !ok {
		return
	}
	close(m.pumps[deviceID])
	delete(m.pumps, deviceID)
	delete(m.inputs, deviceID)
	err := port.Close()
	if err != nil {
		log.Info(fmt.Sprintf("failed to close input port: %v", err), logger.Debug)
	}
}
