package rtmidi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/padgrid/midicore/internal/pkg/midi/driver"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver
)

type inPort struct {
	c        chan []byte
	port     drivers.In
	stopFunc func()
}

func (in *inPort) Name() string {
	return in.port.String()
}

func (in *inPort) open() error {
	err := in.port.Open()
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}

	stopFn, err := in.port.Listen(func(msg []byte, milliseconds int32) {
		in.c <- msg
	}, drivers.ListenConfig{
		TimeCode:    true,
		ActiveSense: false,
		SysEx:       true,
		OnErr:       func(err error) {},
	})
	if err != nil {
		return fmt.Errorf("failed to listen on device: %w", err)
	}
	in.stopFunc = stopFn
	return nil
}

func (in *inPort) Receive() <-chan []byte {
	return in.c
}

func (in *inPort) Close() error {
	if in.stopFunc != nil {
		in.stopFunc()
	}
	close(in.c)
	return in.port.Close()
}

type outPort struct {
	port drivers.Out
}

func (out *outPort) Name() string {
	return out.port.String()
}

func (out *outPort) Send(data []byte) error {
	return out.port.Send(data)
}

func (out *outPort) Close() error {
	return out.port.Close()
}

// Transport adapts the rtmidi backend of gomidi to the driver capability
// interface. The backend has no hotplug notifications, a polling loop
// compares consecutive enumerations and synthesizes add/remove callbacks.
type Transport struct {
	pollRate time.Duration

	mutex     sync.Mutex
	callbacks []driver.DeviceCallback
	known     map[string]driver.PortInfo
	cancel    context.CancelFunc
}

func New(pollRate time.Duration) *Transport {
	if pollRate <= 0 {
		pollRate = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		pollRate: pollRate,
		known:    make(map[string]driver.PortInfo),
		cancel:   cancel,
	}
	go t.poll(ctx)
	return t
}

func (t *Transport) Enumerate() ([]driver.PortInfo, error) {
	inPorts := gomidi.GetInPorts()
	outPorts := gomidi.GetOutPorts()

	var infos = make(map[string]driver.PortInfo)

	for _, p := range inPorts {
		info := infos[p.String()]
		info.DeviceID = p.String()
		info.Name = p.String()
		info.InputPorts++
		info.RealTime = true
		infos[p.String()] = info
	}
	for _, p := range outPorts {
		info := infos[p.String()]
		info.DeviceID = p.String()
		info.Name = p.String()
		info.OutputPorts++
		info.RealTime = true
		infos[p.String()] = info
	}

	var out = make([]driver.PortInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, info)
	}
	return out, nil
}

func (t *Transport) OpenInput(deviceID string) (driver.InputPort, error) {
	for _, p := range gomidi.GetInPorts() {
		if p.String() != deviceID {
			continue
		}
		port := &inPort{c: make(chan []byte, 16), port: p}
		err := port.open()
		if err != nil {
			return nil, err
		}
		return port, nil
	}
	return nil, fmt.Errorf("input port not found: %s", deviceID)
}

func (t *Transport) OpenOutput(deviceID string) (driver.OutputPort, error) {
	for _, p := range gomidi.GetOutPorts() {
		if p.String() != deviceID {
			continue
		}
		err := p.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open output: %w", err)
		}
		return &outPort{port: p}, nil
	}
	return nil, fmt.Errorf("output port not found: %s", deviceID)
}

func (t *Transport) Subscribe(cb driver.DeviceCallback) {
	t.mutex.Lock()
	t.callbacks = append(t.callbacks, cb)
	t.mutex.Unlock()
}

func (t *Transport) Close() error {
	t.cancel()
	gomidi.CloseDriver()
	return nil
}

func (t *Transport) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.pollRate):
		}

		current, err := t.Enumerate()
		if err != nil {
			continue
		}

		seen := make(map[string]struct{}, len(current))

		t.mutex.Lock()
		for _, info := range current {
			seen[info.DeviceID] = struct{}{}
			_, ok := t.known[info.DeviceID]
			if !ok {
				t.known[info.DeviceID] = info
				t.emit(driver.DeviceAdded, info)
			}
		}
		for id, info := range t.known {
			_, ok := seen[id]
			if !ok {
				delete(t.known, id)
				t.emit(driver.DeviceRemoved, info)
			}
		}
		t.mutex.Unlock()
	}
}

// emit requires t.mutex to be held.
func (t *Transport) emit(kind driver.DeviceEventKind, info driver.PortInfo) {
	for _, cb := range t.callbacks {
		cb(kind, info)
	}
}
