package processor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/padgrid/midicore/internal/pkg/logger"
	"github.com/padgrid/midicore/internal/pkg/midi"
	"github.com/padgrid/midicore/internal/pkg/utils"
)

var log = logger.GetLogger()

type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// TargetClass is the coarse routing key inferred from the message type.
type TargetClass int

const (
	ClassPadTrigger TargetClass = iota
	ClassEffectParameter
	ClassTransportControl
)

// Processed wraps a dequeued message with processing metadata.
type Processed struct {
	Message     midi.Message
	ProcessedAt int64
	Compensated bool
	Priority    Priority
}

// Handler consumes processed messages routed to its target class.
type Handler func(Processed)

// Stats is a snapshot of processor throughput counters.
type Stats struct {
	Processed      uint64
	Dropped        uint64
	AvgProcessNano float64
}

// Processor priority-queues incoming messages and drains them with one
// consumer goroutine, strictly High before Normal before Low on every
// iteration. Normal and Low can starve under sustained note traffic, that
// is the accepted trade-off for tight note timing.
type Processor struct {
	high   chan midi.Message
	normal chan midi.Message
	low    chan midi.Message

	latency      atomic.Int64 // input latency compensation, nanoseconds
	compensation atomic.Bool

	processed atomic.Uint64
	dropped   atomic.Uint64

	emaMutex sync.Mutex
	emaNanos float64 // rolling average of per-message processing time, alpha 0.1

	handlerMutex sync.RWMutex
	handlers     map[TargetClass]Handler

	stream *utils.Broadcast[Processed]

	runMutex sync.Mutex
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

const emaAlpha = 0.1

func New(queueSize int) *Processor {
	if queueSize < 1 {
		queueSize = 256
	}
	return &Processor{
		high:     make(chan midi.Message, queueSize),
		normal:   make(chan midi.Message, queueSize),
		low:      make(chan midi.Message, queueSize),
		handlers: make(map[TargetClass]Handler),
		stream:   utils.NewBroadcast[Processed](64),
	}
}

// SetLatencyCompensation enables subtracting the given input latency from
// message timestamps, floored at zero.
func (p *Processor) SetLatencyCompensation(enabled bool, inputLatency time.Duration) {
	p.compensation.Store(enabled)
	p.latency.Store(inputLatency.Nanoseconds())
}

// RegisterHandler installs the handler for a target class, replacing any
// previous one.
func (p *Processor) RegisterHandler(class TargetClass, h Handler) {
	p.handlerMutex.Lock()
	p.handlers[class] = h
	p.handlerMutex.Unlock()
}

func (p *Processor) UnregisterHandler(class TargetClass) {
	p.handlerMutex.Lock()
	delete(p.handlers, class)
	p.handlerMutex.Unlock()
}

// Subscribe exposes the monitoring stream of processed messages.
// Slow subscribers lose their oldest entries.
func (p *Processor) Subscribe() (int64, <-chan Processed, error) {
	return p.stream.Subscribe()
}

func (p *Processor) Unsubscribe(id int64) error {
	return p.stream.Unsubscribe(id)
}

func classifyPriority(t midi.Type) Priority {
	switch t {
	case midi.NoteOn, midi.NoteOff, midi.Clock, midi.Start, midi.Stop, midi.Continue:
		return PriorityHigh
	case midi.SystemExclusive:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

func classifyTarget(t midi.Type) (TargetClass, bool) {
	switch t {
	case midi.NoteOn, midi.NoteOff:
		return ClassPadTrigger, true
	case midi.ControlChange:
		return ClassEffectParameter, true
	case midi.Start, midi.Stop, midi.Continue:
		return ClassTransportControl, true
	default:
		return 0, false
	}
}

// ProcessMessage applies latency compensation and enqueues the message by
// priority. A full queue drops the message and bumps the counter instead of
// blocking the producer.
func (p *Processor) ProcessMessage(m midi.Message) {
	if p.compensation.Load() {
		ts := m.Timestamp - p.latency.Load()
		if ts < 0 {
			ts = 0
		}
		m.Timestamp = ts
	}

	var queue chan midi.Message
	switch classifyPriority(m.Type) {
	case PriorityHigh:
		queue = p.high
	case PriorityLow:
		queue = p.low
	default:
		queue = p.normal
	}

	select {
	case queue <- m:
	default:
		p.dropped.Add(1)
	}
}

// StartProcessing launches the consumer loop. Calling it while running is
// a no-op.
func (p *Processor) StartProcessing() {
	p.runMutex.Lock()
	defer p.runMutex.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.consume(p.stop, p.done)
	log.Info("input processing started", logger.Debug)
}

// StopProcessing halts the consumer and discards everything still queued.
func (p *Processor) StopProcessing() {
	p.runMutex.Lock()
	defer p.runMutex.Unlock()

	if !p.running {
		return
	}
	p.running = false
	close(p.stop)
	<-p.done

	for _, queue := range []chan midi.Message{p.high, p.normal, p.low} {
	drain:
		for {
			select {
			case <-queue:
			default:
				break drain
			}
		}
	}
	log.Info("input processing stopped", logger.Debug)
}

func (p *Processor) consume(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		m, priority, ok := p.dequeue()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		p.dispatch(m, priority)
	}
}

// dequeue enforces strict priority: High is checked first on every
// iteration, Low is only reached when both other tiers are empty.
func (p *Processor) dequeue() (midi.Message, Priority, bool) {
	select {
	case m := <-p.high:
		return m, PriorityHigh, true
	default:
	}
	select {
	case m := <-p.high:
		return m, PriorityHigh, true
	case m := <-p.normal:
		return m, PriorityNormal, true
	default:
	}
	select {
	case m := <-p.high:
		return m, PriorityHigh, true
	case m := <-p.normal:
		return m, PriorityNormal, true
	case m := <-p.low:
		return m, PriorityLow, true
	default:
	}
	return midi.Message{}, 0, false
}

func (p *Processor) dispatch(m midi.Message, priority Priority) {
	started := time.Now()

	processed := Processed{
		Message:     m,
		ProcessedAt: started.UnixNano(),
		Compensated: p.compensation.Load(),
		Priority:    priority,
	}

	p.stream.Publish(processed)

	class, routable := classifyTarget(m.Type)
	if routable {
		p.handlerMutex.RLock()
		h := p.handlers[class]
		p.handlerMutex.RUnlock()
		if h != nil {
			h(processed)
		}
	}

	p.processed.Add(1)

	elapsed := float64(time.Since(started).Nanoseconds())
	p.emaMutex.Lock()
	if p.emaNanos == 0 {
		p.emaNanos = elapsed
	} else {
		p.emaNanos = emaAlpha*elapsed + (1-emaAlpha)*p.emaNanos
	}
	p.emaMutex.Unlock()
}

func (p *Processor) Stats() Stats {
	p.emaMutex.Lock()
	ema := p.emaNanos
	p.emaMutex.Unlock()

	return Stats{
		Processed:      p.processed.Load(),
		Dropped:        p.dropped.Load(),
		AvgProcessNano: ema,
	}
}
