package health

import (
	"testing"

	"github.com/padgrid/midicore/internal/pkg/midierr"
	"github.com/stretchr/testify/assert"
)

type notification struct {
	kind    midierr.Kind
	message string
	action  Strategy
}

type mockNotifier struct {
	notifications []notification
}

func (n *mockNotifier) Notify(kind midierr.Kind, message string, action Strategy) {
	n.notifications = append(n.notifications, notification{kind, message, action})
}

func TestStrategyTable(t *testing.T) {
	cases := []struct {
		kind     midierr.Kind
		expected Strategy
	}{
		{midierr.ConnectionFailed, Retry},
		{midierr.DeviceBusy, Retry},
		{midierr.Timeout, Retry},
		{midierr.DeviceNotFound, Retry},
		{midierr.BufferOverflow, FallbackToInternal},
		{midierr.ClockSyncLost, FallbackToInternal},
		{midierr.PermissionDenied, NotifyUser},
		{midierr.MappingConflict, NotifyUser},
		{midierr.MidiNotSupported, NotifyUser},
		{midierr.InvalidMessage, Ignore},
	}

	for _, c := range cases {
		t.Run(c.kind.String(), func(t *testing.T) {
			assert.Equal(t, c.expected, strategyFor(c.kind))
		})
	}
}

func TestRecoveryCallbackRuns(t *testing.T) {
	handler := NewHandler(nil)

	var attempts int
	handler.RegisterRecovery(midierr.ConnectionFailed, func(err error) bool {
		attempts++
		return true
	})

	err := midierr.Device(midierr.ConnectionFailed, "pad-1", "open", "usb reset")
	outcome := handler.HandleError(err, "device open")

	assert.Equal(t, Recovered, outcome)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, Healthy, handler.Level())
}

func TestUnregisteredRecoveryIsNotImplemented(t *testing.T) {
	handler := NewHandler(nil)

	err := midierr.New(midierr.Timeout, "device took too long")
	outcome := handler.HandleError(err, "validation")

	assert.Equal(t, NotImplemented, outcome)
	assert.Equal(t, Degraded, handler.Level())
}

func TestRepeatedFailuresGoCritical(t *testing.T) {
	handler := NewHandler(nil)
	handler.RegisterRecovery(midierr.ConnectionFailed, func(err error) bool {
		return false
	})

	err := midierr.New(midierr.ConnectionFailed, "no response")
	handler.HandleError(err, "device open")
	assert.Equal(t, Degraded, handler.Level())

	handler.HandleError(err, "device open")
	assert.Equal(t, Critical, handler.Level())
}

func TestRecoverySteppingUpFromCritical(t *testing.T) {
	handler := NewHandler(nil)
	recover := false
	handler.RegisterRecovery(midierr.ConnectionFailed, func(err error) bool {
		return recover
	})

	err := midierr.New(midierr.ConnectionFailed, "no response")
	handler.HandleError(err, "device open")
	handler.HandleError(err, "device open")
	assert.Equal(t, Critical, handler.Level())

	recover = true
	handler.HandleError(err, "device open")
	assert.Equal(t, Degraded, handler.Level())
	handler.HandleError(err, "device open")
	assert.Equal(t, Healthy, handler.Level())
}

func TestNotifyUserStrategy(t *testing.T) {
	notifier := &mockNotifier{}
	handler := NewHandler(notifier)

	err := midierr.New(midierr.PermissionDenied, "midi access denied")
	outcome := handler.HandleError(err, "startup")

	assert.Equal(t, UserNotified, outcome)
	assert.Len(t, notifier.notifications, 1)
	assert.Equal(t, midierr.PermissionDenied, notifier.notifications[0].kind)
	assert.Equal(t, NotifyUser, notifier.notifications[0].action)
	assert.Equal(t, Degraded, handler.Level())
}

func TestInvalidMessageIgnored(t *testing.T) {
	notifier := &mockNotifier{}
	handler := NewHandler(notifier)

	err := midierr.New(midierr.InvalidMessage, "status byte in data")
	outcome := handler.HandleError(err, "input")

	assert.Equal(t, Ignored, outcome)
	assert.Empty(t, notifier.notifications)
	assert.Equal(t, Healthy, handler.Level())
}

func TestUnknownErrorTreatedAsConnectionFailed(t *testing.T) {
	handler := NewHandler(nil)

	outcome := handler.HandleError(assert.AnError, "somewhere")
	assert.Equal(t, NotImplemented, outcome)

	history := handler.History()
	assert.Len(t, history, 1)
	assert.Equal(t, midierr.ConnectionFailed, history[0].Kind)
}

func TestHistoryRingLimit(t *testing.T) {
	handler := NewHandler(nil)
	err := midierr.New(midierr.InvalidMessage, "garbage")

	for i := 0; i < historyLimit+20; i++ {
		handler.HandleError(err, "input")
	}

	assert.Len(t, handler.History(), historyLimit)
}

func TestPermissionDeniedDisablesFeatures(t *testing.T) {
	handler := NewHandler(&mockNotifier{})

	err := midierr.New(midierr.PermissionDenied, "denied")
	handler.HandleError(err, "startup")

	degradation := handler.Degradation()
	assert.False(t, degradation.Available(ExternalInput))
	assert.False(t, degradation.Available(DeviceControl))
	assert.False(t, degradation.Available(MidiOutput))
	assert.True(t, degradation.Available(VirtualKeyboard))
	assert.True(t, degradation.Available(CustomMapping))
	assert.Equal(t, TouchOnly, degradation.Mode())
}

func TestResolveRestoresFeatures(t *testing.T) {
	handler := NewHandler(&mockNotifier{})

	err := midierr.New(midierr.PermissionDenied, "denied")
	handler.HandleError(err, "startup")
	assert.Equal(t, TouchOnly, handler.Degradation().Mode())

	handler.Resolve(midierr.PermissionDenied)
	assert.Equal(t, FullFunctionality, handler.Degradation().Mode())
	assert.True(t, handler.Degradation().Available(ExternalInput))
}

func TestRestoreKeepsOtherCausesDisabled(t *testing.T) {
	degradation := NewDegradation()

	degradation.ApplyError(midierr.ClockSyncLost)
	degradation.ApplyError(midierr.ConnectionFailed)
	assert.False(t, degradation.Available(ExternalClock))
	assert.False(t, degradation.Available(DeviceControl))

	degradation.RestoreFunctionality(midierr.ClockSyncLost)
	assert.True(t, degradation.Available(ExternalClock))
	assert.True(t, degradation.Available(ClockSync))
	assert.False(t, degradation.Available(DeviceControl))
}

func TestFirstCauseOwnsTheFeature(t *testing.T) {
	degradation := NewDegradation()

	degradation.ApplyError(midierr.PermissionDenied)
	degradation.ApplyError(midierr.ConnectionFailed)

	// resolving the later cause must not re-enable a feature the
	// earlier cause still holds down
	degradation.RestoreFunctionality(midierr.ConnectionFailed)
	assert.False(t, degradation.Available(DeviceControl))

	degradation.RestoreFunctionality(midierr.PermissionDenied)
	assert.True(t, degradation.Available(DeviceControl))
}

func TestModeThresholds(t *testing.T) {
	degradation := NewDegradation()
	assert.Equal(t, FullFunctionality, degradation.Mode())

	degradation.ApplyError(midierr.BufferOverflow)
	assert.Equal(t, PartialFunctionality, degradation.Mode())

	degradation.ApplyError(midierr.ClockSyncLost)
	assert.Equal(t, TouchOnly, degradation.Mode())

	degradation.ApplyError(midierr.MidiNotSupported)
	assert.Equal(t, EmergencyMode, degradation.Mode())
}

func TestSuccessfulRecoveryRestoresFeatures(t *testing.T) {
	handler := NewHandler(nil)
	handler.RegisterRecovery(midierr.ClockSyncLost, func(err error) bool {
		return true
	})

	err := midierr.New(midierr.ClockSyncLost, "pulses stopped")
	outcome := handler.HandleError(err, "external clock")

	assert.Equal(t, Recovered, outcome)
	assert.True(t, handler.Degradation().Available(ExternalClock))
	assert.Equal(t, FullFunctionality, handler.Degradation().Mode())
}

func TestDisabledListIsStable(t *testing.T) {
	degradation := NewDegradation()
	degradation.ApplyError(midierr.PermissionDenied)

	expected := []Feature{ExternalInput, MidiOutput, DeviceControl}
	assert.ElementsMatch(t, expected, degradation.Disabled())
	assert.Equal(t, degradation.Disabled(), degradation.Disabled())
}
