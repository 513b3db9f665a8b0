package main

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/padgrid/midicore/internal/pkg/clock"
	"github.com/padgrid/midicore/internal/pkg/device"
	"github.com/padgrid/midicore/internal/pkg/health"
	"github.com/padgrid/midicore/internal/pkg/learn"
	"github.com/padgrid/midicore/internal/pkg/logger"
	"github.com/padgrid/midicore/internal/pkg/mapping"
	"github.com/padgrid/midicore/internal/pkg/midi"
	"github.com/padgrid/midicore/internal/pkg/midi/driver"
	"github.com/padgrid/midicore/internal/pkg/midierr"
	"github.com/padgrid/midicore/internal/pkg/output"
	"github.com/padgrid/midicore/internal/pkg/processor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// sequencerBridge is the clock and mapping consumer. The sound engine
// proper lives outside this process, the bridge keeps the current tempo,
// transport state and resolved target values for it to read.
type sequencerBridge struct {
	tempo   atomic.Uint64 // math.Float64bits
	playing atomic.Bool

	mutex  sync.Mutex
	params map[string]float64
}

func newSequencerBridge() *sequencerBridge {
	return &sequencerBridge{params: make(map[string]float64)}
}

func (b *sequencerBridge) Apply(targetID string, value float64) {
	b.mutex.Lock()
	b.params[targetID] = value
	b.mutex.Unlock()
}

func (b *sequencerBridge) Param(targetID string) (float64, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	v, ok := b.params[targetID]
	return v, ok
}

func (b *sequencerBridge) SetTempo(bpm float64) {
	b.tempo.Store(math.Float64bits(bpm))
	log.Info(fmt.Sprintf("tempo: %.1f BPM", bpm), logger.Message)
}

func (b *sequencerBridge) Tempo() float64 {
	return math.Float64frombits(b.tempo.Load())
}

func (b *sequencerBridge) Transport(cmd clock.TransportCommand) {
	switch cmd {
	case clock.TransportStart:
		b.playing.Store(true)
	case clock.TransportStop:
		b.playing.Store(false)
	case clock.TransportContinue:
		b.playing.Store(true)
	}
	log.Info(fmt.Sprintf("transport: %s", cmd), logger.Info)
}

// notifierFunc adapts a plain function to the health notification sink.
type notifierFunc func(kind midierr.Kind, message string, action health.Strategy)

func (f notifierFunc) Notify(kind midierr.Kind, message string, action health.Strategy) {
	f(kind, message, action)
}

// App owns every subsystem and the pumps between them.
type App struct {
	cfg       Config
	transport driver.Transport

	devices   *device.Manager
	proc      *processor.Processor
	bridge    *sequencerBridge
	intake    *clock.Intake
	store     *mapping.FileStore
	engine    *mapping.Engine
	learner   *learn.Manager
	generator *output.Generator
	handler   *health.Handler
}

func NewApp(cfg Config, transport driver.Transport) (*App, error) {
	a := &App{
		cfg:       cfg,
		transport: transport,
		bridge:    newSequencerBridge(),
	}

	a.handler = health.NewHandler(notifierFunc(func(kind midierr.Kind, message string, action health.Strategy) {
		log.Info(message, zap.String("strategy", action.String()), logger.Warning)
	}))

	a.devices = device.NewManager(transport)
	a.devices.SetReconnectPolicy(cfg.ReconnectBase, cfg.ReconnectAttempts, cfg.ReconnectTimeout)

	a.intake = clock.NewIntake(a.bridge, func(err error) {
		a.handler.HandleError(err, "external clock")
	})
	if err := a.intake.SetTempo(cfg.InternalTempo); err != nil {
		return nil, err
	}

	store, err := mapping.NewFileStore(cfg.ProfileDirectory)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.engine = mapping.NewEngine(store, a.applyTarget)
	if err := a.engine.Load(); err != nil {
		return nil, err
	}

	a.learner = learn.NewManager()

	a.generator = output.NewGenerator(transport)

	a.proc = processor.New(cfg.QueueSize)
	a.proc.SetLatencyCompensation(cfg.LatencyCompensation > 0, cfg.LatencyCompensation)
	a.proc.RegisterHandler(processor.ClassPadTrigger, a.handleRouted)
	a.proc.RegisterHandler(processor.ClassEffectParameter, a.handleRouted)
	a.proc.RegisterHandler(processor.ClassTransportControl, a.handleTransport)

	return a, nil
}

// applyTarget is where resolved mapping values land. Tempo targets feed
// the clock, everything else goes to the sound engine bridge.
func (a *App) applyTarget(target mapping.TargetType, targetID string, value float64) {
	if target == mapping.SequencerTempo {
		if err := a.intake.SetTempo(value); err != nil {
			log.Info(fmt.Sprintf("rejected tempo: %v", err), logger.Warning)
		}
		return
	}
	a.bridge.Apply(targetID, value)
	log.Info(fmt.Sprintf("%s = %.3f", targetID, value),
		zap.String("target", target.String()), logger.Message)
}

// handleRouted feeds notes and controllers through learn first. An
// active learn session consumes the gesture instead of triggering pads.
func (a *App) handleRouted(p processor.Processed) {
	if a.learner.State() == learn.Active {
		a.learner.ProcessMessage(p.Message)
		return
	}
	a.engine.Apply(p.Message)
}

func (a *App) handleTransport(p processor.Processed) {
	switch p.Message.Type {
	case midi.Start:
		a.intake.ProcessTransportMessage(clock.TransportStart)
	case midi.Stop:
		a.intake.ProcessTransportMessage(clock.TransportStop)
	case midi.Continue:
		a.intake.ProcessTransportMessage(clock.TransportContinue)
	}
}

// Run wires the pumps together and blocks until the context ends.
func (a *App) Run(ctx context.Context) error {
	a.proc.StartProcessing()
	defer a.proc.StopProcessing()

	a.generator.Start()
	defer a.generator.Shutdown()

	if err := a.devices.StartScanning(); err != nil {
		return err
	}
	defer a.devices.StopScanning()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return a.inputPump(ctx) })
	group.Go(func() error { return a.deviceEventPump(ctx) })
	group.Go(func() error { return a.profileWatchPump(ctx) })
	return group.Wait()
}

// inputPump decodes raw device bytes. Clock pulses bypass the priority
// queues, their timestamps drive tempo estimation directly.
func (a *App) inputPump(ctx context.Context) error {
	raw := a.devices.RawMessages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-raw:
			if !ok {
				return nil
			}
			msg, err := midi.Parse(r.Data, r.Timestamp)
			if err != nil {
				a.handler.HandleError(err, fmt.Sprintf("input from %s", r.DeviceID))
				continue
			}
			if msg.Type == midi.Clock {
				a.intake.ProcessClockPulse(msg.Timestamp)
				continue
			}
			a.proc.ProcessMessage(msg)
		}
	}
}

// deviceEventPump attaches output ports as devices come and go and
// routes connectivity failures into the health handler.
func (a *App) deviceEventPump(ctx context.Context) error {
	id, events, err := a.devices.Subscribe()
	if err != nil {
		return err
	}
	defer a.devices.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.handleDeviceEvent(ev)
		}
	}
}

func (a *App) handleDeviceEvent(ev device.Event) {
	switch ev.Kind {
	case device.Discovered, device.Reconnected:
		a.handler.Resolve(midierr.ConnectionFailed)
		if ev.Device.OutputPorts == 0 {
			return
		}
		if err := a.generator.Attach(ev.Device.ID); err != nil {
			a.handler.HandleError(err, fmt.Sprintf("attach output %s", ev.Device.ID))
		}
	case device.Lost:
		a.generator.Detach(ev.Device.ID)
	case device.ReconnectFailed:
		err := midierr.Device(midierr.ConnectionFailed, ev.Device.ID, "reconnect", ev.Reason)
		a.handler.HandleError(err, fmt.Sprintf("reconnect %s", ev.Device.ID))
	case device.ValidationFailed:
		err := midierr.Device(midierr.MidiNotSupported, ev.Device.ID, "validate", ev.Reason)
		a.handler.HandleError(err, fmt.Sprintf("validate %s", ev.Device.ID))
	}
}

// profileWatchPump reloads profiles edited on disk while running.
func (a *App) profileWatchPump(ctx context.Context) error {
	for id := range a.store.Watch(ctx) {
		a.engine.Reload(id)
	}
	return nil
}
