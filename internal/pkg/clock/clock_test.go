package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSequencer struct {
	mutex      sync.Mutex
	tempos     []float64
	transports []TransportCommand
}

func (f *fakeSequencer) SetTempo(bpm float64) {
	f.mutex.Lock()
	f.tempos = append(f.tempos, bpm)
	f.mutex.Unlock()
}

func (f *fakeSequencer) Transport(cmd TransportCommand) {
	f.mutex.Lock()
	f.transports = append(f.transports, cmd)
	f.mutex.Unlock()
}

func (f *fakeSequencer) lastTempo() (float64, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.tempos) == 0 {
		return 0, false
	}
	return f.tempos[len(f.tempos)-1], true
}

func TestBPMEstimation(t *testing.T) {
	seq := &fakeSequencer{}
	intake := NewIntake(seq, nil)

	// 120 BPM: quarter note every 500ms, pulse every 500ms/24
	interval := int64(500 * time.Millisecond / ppqn)
	ts := int64(1e9)
	for i := 0; i < 25; i++ {
		intake.ProcessClockPulse(ts)
		ts += interval
	}

	bpm, ok := seq.lastTempo()
	require.True(t, ok)
	assert.InDelta(t, 120.0, bpm, 0.5)
}

func TestTransportForwarding(t *testing.T) {
	seq := &fakeSequencer{}
	intake := NewIntake(seq, nil)

	intake.ProcessTransportMessage(TransportStart)
	intake.ProcessTransportMessage(TransportStop)
	intake.ProcessTransportMessage(TransportContinue)
	intake.ProcessTransportMessage(TransportStop)

	seq.mutex.Lock()
	defer seq.mutex.Unlock()
	assert.Equal(t, []TransportCommand{TransportStart, TransportStop, TransportContinue, TransportStop}, seq.transports)
}

func TestSetTempoValidation(t *testing.T) {
	seq := &fakeSequencer{}
	intake := NewIntake(seq, nil)

	require.NoError(t, intake.SetTempo(140))
	bpm, ok := seq.lastTempo()
	require.True(t, ok)
	assert.Equal(t, 140.0, bpm)

	assert.Error(t, intake.SetTempo(10))
	assert.Error(t, intake.SetTempo(1000))
}

func TestImplausibleIntervalsIgnored(t *testing.T) {
	seq := &fakeSequencer{}
	intake := NewIntake(seq, nil)

	// pulses a full second apart would be 2.5 BPM, out of range
	ts := int64(1e9)
	for i := 0; i < 10; i++ {
		intake.ProcessClockPulse(ts)
		ts += int64(time.Second)
	}

	_, ok := seq.lastTempo()
	assert.False(t, ok)
}
