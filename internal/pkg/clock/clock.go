package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/padgrid/midicore/internal/pkg/logger"
	"github.com/padgrid/midicore/internal/pkg/midierr"
)

var log = logger.GetLogger()

// pulses per quarter note, fixed by the midi spec
const ppqn = 24

const (
	minBPM = 20.0
	maxBPM = 400.0
)

// TransportCommand is the subset of real-time messages the sequencer
// collaborator cares about.
type TransportCommand int

const (
	TransportStart TransportCommand = iota
	TransportStop
	TransportContinue
)

func (c TransportCommand) String() string {
	switch c {
	case TransportStart:
		return "start"
	case TransportStop:
		return "stop"
	case TransportContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// Sequencer is the timing engine collaborator. The intake only feeds it,
// pattern playback lives elsewhere.
type Sequencer interface {
	SetTempo(bpm float64)
	Transport(cmd TransportCommand)
}

// ErrorSink receives clock-loss failures.
type ErrorSink func(err error)

// Intake turns external midi clock pulses into tempo for the sequencer.
// BPM is estimated over a short window of pulse intervals; a watchdog
// reports ClockSyncLost and falls back to the internal tempo when pulses
// stop arriving while the external clock was driving.
type Intake struct {
	sequencer Sequencer
	errors    ErrorSink

	mutex         sync.Mutex
	lastPulse     int64
	intervals     []int64
	running       bool
	external      bool
	internalTempo float64

	watchdogStop chan struct{}
}

func NewIntake(sequencer Sequencer, errors ErrorSink) *Intake {
	return &Intake{
		sequencer:     sequencer,
		errors:        errors,
		internalTempo: 120,
		intervals:     make([]int64, 0, ppqn),
	}
}

// ProcessClockPulse ingests one external clock pulse stamped with monotonic
// nanoseconds.
func (i *Intake) ProcessClockPulse(timestamp int64) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.lastPulse != 0 && timestamp > i.lastPulse {
		i.intervals = append(i.intervals, timestamp-i.lastPulse)
		if len(i.intervals) > ppqn {
			i.intervals = i.intervals[1:]
		}
	}
	i.lastPulse = timestamp
	i.external = true

	if len(i.intervals) < 4 {
		return
	}

	var sum int64
	for _, iv := range i.intervals {
		sum += iv
	}
	avg := float64(sum) / float64(len(i.intervals))
	bpm := 60e9 / (avg * ppqn)
	if bpm < minBPM || bpm > maxBPM {
		return
	}
	i.sequencer.SetTempo(bpm)
}

// ProcessTransportMessage forwards Start/Stop/Continue to the sequencer and
// arms or disarms the clock-loss watchdog.
func (i *Intake) ProcessTransportMessage(cmd TransportCommand) {
	i.mutex.Lock()
	switch cmd {
	case TransportStart, TransportContinue:
		i.running = true
		if i.watchdogStop == nil {
			i.watchdogStop = make(chan struct{})
			go i.watchdog(i.watchdogStop)
		}
	case TransportStop:
		i.running = false
		if i.watchdogStop != nil {
			close(i.watchdogStop)
			i.watchdogStop = nil
		}
	}
	i.mutex.Unlock()

	log.Info(fmt.Sprintf("transport: %s", cmd), logger.Debug)
	i.sequencer.Transport(cmd)
}

// SetTempo sets the internal tempo, used directly by the host application
// and as the fallback when the external clock disappears.
func (i *Intake) SetTempo(bpm float64) error {
	if bpm < minBPM || bpm > maxBPM {
		return midierr.Newf(midierr.InvalidMessage, "tempo out of range: %.1f", bpm)
	}
	i.mutex.Lock()
	i.internalTempo = bpm
	i.external = false
	i.mutex.Unlock()
	i.sequencer.SetTempo(bpm)
	return nil
}

// watchdogTimeout is how long the external clock may stay silent while the
// transport is running before sync is declared lost.
const watchdogTimeout = 2 * time.Second

func (i *Intake) watchdog(stop chan struct{}) {
	ticker := time.NewTicker(watchdogTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		i.mutex.Lock()
		silent := i.running && i.external && i.lastPulse != 0 &&
			time.Now().UnixNano()-i.lastPulse > watchdogTimeout.Nanoseconds()
		var fallback float64
		if silent {
			i.external = false
			i.lastPulse = 0
			i.intervals = i.intervals[:0]
			fallback = i.internalTempo
		}
		i.mutex.Unlock()

		if silent {
			log.Info("external clock lost, falling back to internal tempo", logger.Warning)
			if i.errors != nil {
				i.errors(midierr.New(midierr.ClockSyncLost, "no clock pulse received"))
			}
			i.sequencer.SetTempo(fallback)
		}
	}
}
