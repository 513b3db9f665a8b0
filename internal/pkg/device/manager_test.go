package device

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/padgrid/midicore/internal/pkg/midi/driver"
	"github.com/padgrid/midicore/internal/pkg/midierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockInput struct {
	name string
	c    chan []byte

	closeOnce sync.Once
}

func (m *mockInput) Name() string           { return m.name }
func (m *mockInput) Receive() <-chan []byte { return m.c }
func (m *mockInput) Close() error           { m.closeOnce.Do(func() { close(m.c) }); return nil }
func (m *mockInput) feed(data []byte)       { m.c <- data }

type mockTransport struct {
	mutex     sync.Mutex
	ports     map[string]driver.PortInfo
	callbacks []driver.DeviceCallback
	inputs    map[string]*mockInput

	failOpen     bool
	openAttempts []time.Time
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		ports:  make(map[string]driver.PortInfo),
		inputs: make(map[string]*mockInput),
	}
}

func (t *mockTransport) Enumerate() ([]driver.PortInfo, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	var out []driver.PortInfo
	for _, p := range t.ports {
		out = append(out, p)
	}
	return out, nil
}

func (t *mockTransport) OpenInput(deviceID string) (driver.InputPort, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.openAttempts = append(t.openAttempts, time.Now())
	if t.failOpen {
		return nil, fmt.Errorf("device unplugged")
	}
	if _, ok := t.ports[deviceID]; !ok {
		return nil, fmt.Errorf("no such device: %s", deviceID)
	}
	in := &mockInput{name: deviceID, c: make(chan []byte, 16)}
	t.inputs[deviceID] = in
	return in, nil
}

func (t *mockTransport) OpenOutput(deviceID string) (driver.OutputPort, error) {
	return nil, fmt.Errorf("not supported")
}

func (t *mockTransport) Subscribe(cb driver.DeviceCallback) {
	t.mutex.Lock()
	t.callbacks = append(t.callbacks, cb)
	t.mutex.Unlock()
}

func (t *mockTransport) Close() error { return nil }

func (t *mockTransport) plug(p driver.PortInfo) {
	t.mutex.Lock()
	t.ports[p.DeviceID] = p
	cbs := append([]driver.DeviceCallback{}, t.callbacks...)
	t.mutex.Unlock()
	for _, cb := range cbs {
		cb(driver.DeviceAdded, p)
	}
}

func (t *mockTransport) unplug(deviceID string) {
	t.mutex.Lock()
	p := t.ports[deviceID]
	delete(t.ports, deviceID)
	cbs := append([]driver.DeviceCallback{}, t.callbacks...)
	t.mutex.Unlock()
	for _, cb := range cbs {
		cb(driver.DeviceRemoved, p)
	}
}

func padPort(id string) driver.PortInfo {
	return driver.PortInfo{DeviceID: id, Name: id + " pad controller", InputPorts: 1, OutputPorts: 1, RealTime: true}
}

func collect(events <-chan Event, kind EventKind, timeout time.Duration) (Event, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev, true
			}
		case <-deadline:
			return Event{}, false
		}
	}
}

func TestStartScanningIdempotent(t *testing.T) {
	tr := newMockTransport()
	m := NewManager(tr)

	require.NoError(t, m.StartScanning())
	require.NoError(t, m.StartScanning())

	// callbacks registered only once
	assert.Len(t, tr.callbacks, 1)
	m.StopScanning()
}

func TestDiscoveryAndValidation(t *testing.T) {
	tr := newMockTransport()
	m := NewManager(tr)

	_, events, err := m.Subscribe()
	require.NoError(t, err)
	require.NoError(t, m.StartScanning())
	defer m.StopScanning()

	tr.plug(padPort("pad-1"))
	ev, ok := collect(events, Discovered, time.Second)
	require.True(t, ok)
	assert.Equal(t, "pad-1", ev.Device.ID)
	assert.Equal(t, DrumMachine, ev.Device.Type)
	assert.True(t, ev.Device.Connected)

	// no ports at all fails validation
	tr.plug(driver.PortInfo{DeviceID: "dead", Name: "dead", RealTime: true})
	ev, ok = collect(events, ValidationFailed, time.Second)
	require.True(t, ok)
	assert.Equal(t, "dead", ev.Device.ID)

	// real-time unsupported fails validation
	tr.plug(driver.PortInfo{DeviceID: "slow", Name: "slow", InputPorts: 1})
	ev, ok = collect(events, ValidationFailed, time.Second)
	require.True(t, ok)
	assert.Equal(t, "slow", ev.Device.ID)
}

func TestValidateDeviceCacheFirst(t *testing.T) {
	tr := newMockTransport()
	m := NewManager(tr)
	tr.plug(padPort("pad-1"))

	caps, err := m.ValidateDevice("pad-1")
	require.NoError(t, err)
	assert.True(t, caps.HasInput)
	assert.True(t, caps.SupportsRealTime)

	// cached result survives the device disappearing from the transport
	tr.unplug("pad-1")
	caps, err = m.ValidateDevice("pad-1")
	require.NoError(t, err)
	assert.True(t, caps.HasInput)

	// rescan clears the cache
	require.NoError(t, m.RescanDevices())
	_, err = m.ValidateDevice("pad-1")
	require.Error(t, err)
	kind, ok := midierr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, midierr.DeviceNotFound, kind)
}

func TestRawInputForwarding(t *testing.T) {
	tr := newMockTransport()
	m := NewManager(tr)
	require.NoError(t, m.StartScanning())
	defer m.StopScanning()

	tr.plug(padPort("pad-1"))

	var in *mockInput
	require.Eventually(t, func() bool {
		tr.mutex.Lock()
		defer tr.mutex.Unlock()
		in = tr.inputs["pad-1"]
		return in != nil
	}, time.Second, 10*time.Millisecond)

	in.feed([]byte{0x90, 60, 100})

	select {
	case raw := <-m.RawMessages():
		assert.Equal(t, "pad-1", raw.DeviceID)
		assert.Equal(t, []byte{0x90, 60, 100}, raw.Data)
		assert.NotZero(t, raw.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no raw message forwarded")
	}
}

func TestPolicyChangeDoesNotAffectRunningReconnect(t *testing.T) {
	tr := newMockTransport()
	m := NewManager(tr)
	m.SetReconnectPolicy(10*time.Millisecond, 2, time.Second)

	_, events, err := m.Subscribe()
	require.NoError(t, err)
	require.NoError(t, m.StartScanning())
	defer m.StopScanning()

	tr.plug(padPort("pad-1"))
	_, ok := collect(events, Discovered, time.Second)
	require.True(t, ok)

	m.SetAutoReconnect("pad-1", true)

	tr.mutex.Lock()
	tr.failOpen = true
	tr.openAttempts = nil
	tr.mutex.Unlock()

	tr.unplug("pad-1")

	// the in-flight sequence keeps its snapshot of the policy
	m.SetReconnectPolicy(time.Hour, 99, time.Hour)

	_, ok = collect(events, ReconnectFailed, time.Second)
	require.True(t, ok)

	tr.mutex.Lock()
	assert.Len(t, tr.openAttempts, 2)
	tr.mutex.Unlock()
}

func TestReconnectionBackoff(t *testing.T) {
	tr := newMockTransport()
	m := NewManager(tr)
	base := 20 * time.Millisecond
	m.SetReconnectPolicy(base, 5, 5*time.Second)

	_, events, err := m.Subscribe()
	require.NoError(t, err)
	require.NoError(t, m.StartScanning())
	defer m.StopScanning()

	tr.plug(padPort("pad-1"))
	_, ok := collect(events, Discovered, time.Second)
	require.True(t, ok)

	m.SetAutoReconnect("pad-1", true)

	tr.mutex.Lock()
	tr.failOpen = true
	tr.openAttempts = nil
	tr.mutex.Unlock()

	start := time.Now()
	tr.unplug("pad-1")

	_, ok = collect(events, ReconnectFailed, 5*time.Second)
	require.True(t, ok)

	tr.mutex.Lock()
	attempts := append([]time.Time{}, tr.openAttempts...)
	tr.mutex.Unlock()

	require.Len(t, attempts, 5)
	// attempt k fires after base * (2^(k+1) - 1) accumulated delay
	var expected time.Duration
	for k, at := range attempts {
		expected += base * (1 << k)
		elapsed := at.Sub(start)
		assert.InDelta(t, float64(expected), float64(elapsed), float64(base),
			"attempt %d fired at %s, expected ~%s", k, elapsed, expected)
	}

	// tracking dropped, another unplug must not spawn a 6th attempt
	time.Sleep(2 * base)
	tr.mutex.Lock()
	assert.Len(t, tr.openAttempts, 5)
	tr.mutex.Unlock()
}

func TestReconnectionSuccessClearsCounter(t *testing.T) {
	tr := newMockTransport()
	m := NewManager(tr)
	m.SetReconnectPolicy(10*time.Millisecond, 5, 5*time.Second)

	_, events, err := m.Subscribe()
	require.NoError(t, err)
	require.NoError(t, m.StartScanning())
	defer m.StopScanning()

	tr.plug(padPort("pad-1"))
	_, ok := collect(events, Discovered, time.Second)
	require.True(t, ok)

	m.SetAutoReconnect("pad-1", true)
	tr.unplug("pad-1")
	_, ok = collect(events, Lost, time.Second)
	require.True(t, ok)

	// device comes back before the first retry gives up
	tr.mutex.Lock()
	tr.ports["pad-1"] = padPort("pad-1")
	tr.mutex.Unlock()

	ev, ok := collect(events, Reconnected, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "pad-1", ev.Device.ID)
	assert.True(t, ev.Device.Connected)
}

func TestReconnectTimeoutCancelsJob(t *testing.T) {
	tr := newMockTransport()
	m := NewManager(tr)
	// timeout fires before the five attempts can complete
	m.SetReconnectPolicy(50*time.Millisecond, 5, 120*time.Millisecond)

	_, events, err := m.Subscribe()
	require.NoError(t, err)
	require.NoError(t, m.StartScanning())
	defer m.StopScanning()

	tr.plug(padPort("pad-1"))
	_, ok := collect(events, Discovered, time.Second)
	require.True(t, ok)

	m.SetAutoReconnect("pad-1", true)
	tr.mutex.Lock()
	tr.failOpen = true
	tr.mutex.Unlock()
	tr.unplug("pad-1")

	_, ok = collect(events, ReconnectFailed, time.Second)
	require.True(t, ok)

	tr.mutex.Lock()
	got := len(tr.openAttempts)
	tr.mutex.Unlock()
	assert.Less(t, got, 5)
}
