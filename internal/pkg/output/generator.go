package output

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/padgrid/midicore/internal/pkg/logger"
	"github.com/padgrid/midicore/internal/pkg/midi"
	"github.com/padgrid/midicore/internal/pkg/midi/driver"
	"github.com/padgrid/midicore/internal/pkg/midierr"
	"github.com/padgrid/midicore/internal/pkg/utils"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// scheduled is one queued transmission. An empty deviceID broadcasts to
// every attached port.
type scheduled struct {
	message  midi.Message
	deviceID string
	sendAt   int64 // unix nanoseconds, zero means immediately
	seq      uint64
}

// schedule is a min-heap ordered by send time. Arrival order breaks ties
// so immediate sends keep their relative order. A far-future send must not
// delay near-term ones, which rules out a plain FIFO.
type schedule []*scheduled

func (s schedule) Len() int { return len(s) }
func (s schedule) Less(i, j int) bool {
	if s[i].sendAt != s[j].sendAt {
		return s[i].sendAt < s[j].sendAt
	}
	return s[i].seq < s[j].seq
}
func (s schedule) Swap(i, j int)       { s[i], s[j] = s[j], s[i] }
func (s *schedule) Push(x interface{}) { *s = append(*s, x.(*scheduled)) }
func (s *schedule) Pop() interface{} {
	old := *s
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*s = old[:n-1]
	return item
}

// Stats is a snapshot of output counters.
type Stats struct {
	Sent      uint64
	Dropped   uint64
	LastError string
}

// Generator schedules and transmits outbound midi messages across the
// output ports of connected devices. A single sender goroutine sleeps
// until the earliest due message, everything else waits its turn.
type Generator struct {
	transport driver.Transport

	mutex sync.Mutex
	ports map[string]driver.OutputPort
	queue schedule
	seq   uint64
	wake  chan struct{}

	sent      atomic.Uint64
	dropped   atomic.Uint64
	lastError atomic.Value // string

	stream *utils.Broadcast[midi.Message]

	runMutex sync.Mutex
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

func NewGenerator(transport driver.Transport) *Generator {
	g := &Generator{
		transport: transport,
		ports:     make(map[string]driver.OutputPort),
		wake:      make(chan struct{}, 1),
		stream:    utils.NewBroadcast[midi.Message](64),
	}
	g.lastError.Store("")
	return g
}

// Attach opens the output port of a device. Called when the device
// manager reports a connected device with output capability.
func (g *Generator) Attach(deviceID string) error {
	g.mutex.Lock()
	_, open := g.ports[deviceID]
	g.mutex.Unlock()
	if open {
		return nil
	}

	port, err := g.transport.OpenOutput(deviceID)
	if err != nil {
		return midierr.Wrap(midierr.ConnectionFailed, "open output", err)
	}

	g.mutex.Lock()
	g.ports[deviceID] = port
	g.mutex.Unlock()

	log.Info("output port attached", zap.String("device_name", port.Name()), logger.Debug)
	return nil
}

// Detach closes a device's output port.
func (g *Generator) Detach(deviceID string) {
	g.mutex.Lock()
	port, ok := g.ports[deviceID]
	delete(g.ports, deviceID)
	g.mutex.Unlock()

	if ok {
		err := port.Close()
		if err != nil {
			log.Info(fmt.Sprintf("failed to close output port: %v", err), logger.Debug)
		}
	}
}

// Send broadcasts a message to every attached device as soon as possible.
func (g *Generator) Send(m midi.Message) {
	g.enqueue(m, "", 0)
}

// SendToDevice targets one device.
func (g *Generator) SendToDevice(m midi.Message, deviceID string) {
	g.enqueue(m, deviceID, 0)
}

// SendAt transmits at the given unix-nanosecond time. An empty deviceID
// broadcasts.
func (g *Generator) SendAt(m midi.Message, sendAt int64, deviceID string) {
	g.enqueue(m, deviceID, sendAt)
}

// SendNoteOn and friends are shorthands stamping the message with now.
func (g *Generator) SendNoteOn(channel, note, velocity uint8) error {
	m, err := midi.NewNoteOn(channel, note, velocity)
	if err != nil {
		return err
	}
	g.Send(m)
	return nil
}

func (g *Generator) SendNoteOff(channel, note uint8) error {
	m, err := midi.NewNoteOff(channel, note)
	if err != nil {
		return err
	}
	g.Send(m)
	return nil
}

func (g *Generator) SendControlChange(channel, controller, value uint8) error {
	m, err := midi.NewControlChange(channel, controller, value)
	if err != nil {
		return err
	}
	g.Send(m)
	return nil
}

func (g *Generator) SendProgramChange(channel, program uint8) error {
	m, err := midi.NewProgramChange(channel, program)
	if err != nil {
		return err
	}
	g.Send(m)
	return nil
}

func (g *Generator) enqueue(m midi.Message, deviceID string, sendAt int64) {
	g.mutex.Lock()
	g.seq++
	heap.Push(&g.queue, &scheduled{message: m, deviceID: deviceID, sendAt: sendAt, seq: g.seq})
	g.mutex.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// Subscribe exposes the replay-free stream of successfully sent messages.
func (g *Generator) Subscribe() (int64, <-chan midi.Message, error) {
	return g.stream.Subscribe()
}

func (g *Generator) Unsubscribe(id int64) error {
	return g.stream.Unsubscribe(id)
}

func (g *Generator) Stats() Stats {
	return Stats{
		Sent:      g.sent.Load(),
		Dropped:   g.dropped.Load(),
		LastError: g.lastError.Load().(string),
	}
}

// Start launches the sender worker. No-op when already running.
func (g *Generator) Start() {
	g.runMutex.Lock()
	defer g.runMutex.Unlock()

	if g.running {
		return
	}
	g.running = true
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	go g.run(g.stop, g.done)
	log.Info("output generator started", logger.Debug)
}

// Shutdown stops the worker and closes every open port. Queued messages
// that were not due yet are discarded.
func (g *Generator) Shutdown() {
	g.runMutex.Lock()
	defer g.runMutex.Unlock()

	if !g.running {
		return
	}
	g.running = false
	close(g.stop)
	<-g.done

	g.mutex.Lock()
	for id, port := range g.ports {
		err := port.Close()
		if err != nil {
			log.Info(fmt.Sprintf("failed to close output port: %v", err), logger.Debug)
		}
		delete(g.ports, id)
	}
	g.queue = nil
	g.mutex.Unlock()

	log.Info("output generator stopped", logger.Debug)
}

func (g *Generator) run(stop, done chan struct{}) {
	defer close(done)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		g.mutex.Lock()
		var next *scheduled
		if len(g.queue) > 0 {
			next = g.queue[0]
		}
		g.mutex.Unlock()

		if next == nil {
			select {
			case <-stop:
				return
			case <-g.wake:
			}
			continue
		}

		wait := time.Duration(next.sendAt - time.Now().UnixNano())
		if wait > 0 {
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			select {
			case <-stop:
				return
			case <-g.wake:
				// something with an earlier deadline may have arrived
				if !timer.Stop() {
					<-timer.C
				}
				continue
			case <-timer.C:
			}
		}

		g.mutex.Lock()
		if len(g.queue) == 0 || g.queue[0] != next {
			// queue changed while sleeping, re-evaluate
			g.mutex.Unlock()
			continue
		}
		heap.Pop(&g.queue)
		g.mutex.Unlock()

		g.transmit(next)

		select {
		case <-stop:
			return
		default:
		}
	}
}

func (g *Generator) transmit(s *scheduled) {
	data, err := midi.Serialize(s.message)
	if err != nil {
		g.dropped.Add(1)
		g.lastError.Store(err.Error())
		return
	}

	g.mutex.Lock()
	var targets []driver.OutputPort
	if s.deviceID == "" {
		for _, port := range g.ports {
			targets = append(targets, port)
		}
	} else if port, ok := g.ports[s.deviceID]; ok {
		targets = append(targets, port)
	}
	g.mutex.Unlock()

	if len(targets) == 0 {
		g.dropped.Add(1)
		g.lastError.Store(fmt.Sprintf("no output port for device %q", s.deviceID))
		return
	}

	var delivered bool
	for _, port := range targets {
		err = port.Send(data)
		if err != nil {
			// one failing port must not abort delivery to the others
			g.dropped.Add(1)
			g.lastError.Store(err.Error())
			continue
		}
		delivered = true
	}

	if delivered {
		g.sent.Add(1)
		g.stream.Publish(s.message)
	}
}
