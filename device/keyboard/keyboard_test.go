package keyboard_test

import (
	"testing"

	"github.com/Alia5/kbdfw/critical"
	"github.com/Alia5/kbdfw/device/keyboard"
	"github.com/Alia5/kbdfw/keycode"
	"github.com/Alia5/kbdfw/usbdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	cs      *critical.Section
	reports [][]byte
}

func (f *fakeSender) Send(ep uint8, build func() []byte) error {
	defer f.cs.Enter().Exit()
	f.reports = append(f.reports, build())
	return nil
}

type fakeWriter struct {
	busy    bool
	written [][]byte
}

func (f *fakeWriter) CanWriteLocked(ep uint8) bool { return !f.busy }

func (f *fakeWriter) TryWriteLocked(ep uint8, data []byte) bool {
	if f.busy {
		return false
	}
	f.written = append(f.written, data)
	return true
}

func newKeyboard(opts keyboard.Options) (*keyboard.Keyboard, *critical.Section, *fakeSender) {
	cs := &critical.Section{}
	tx := &fakeSender{cs: cs}
	return keyboard.New(cs, tx, opts, nil), cs, tx
}

func classSetup(in bool, req uint8, value uint16) usbdev.Setup {
	rt := uint8(0x21)
	if in {
		rt = 0xA1
	}
	return usbdev.Setup{RequestType: rt, Request: req, Value: value}
}

func TestSendIfNeeded(t *testing.T) {
	kb, _, tx := newKeyboard(keyboard.Options{IdleRate: keyboard.DefaultIdleRate})

	require.NoError(t, kb.SendIfNeeded())
	assert.Empty(t, tx.reports)

	kb.PressKey(keycode.KeyA)
	require.NoError(t, kb.SendIfNeeded())
	require.NoError(t, kb.SendIfNeeded())
	require.Len(t, tx.reports, 1)
	assert.Equal(t, []byte{0, 0, keycode.KeyA, 0, 0, 0, 0, 0}, tx.reports[0])
	assert.Equal(t, tx.reports[0], kb.Snapshot().LastReport)
}

func TestHIDClassRequests(t *testing.T) {
	var leds []keyboard.LEDState
	kb, cs, _ := newKeyboard(keyboard.Options{IdleRate: keyboard.DefaultIdleRate})
	kb.OnLEDChange(func(st keyboard.LEDState) { leds = append(leds, st) })

	cs.Lock()
	defer cs.Unlock()

	got, err := kb.HandleSetupLocked(classSetup(true, usbdev.HIDGetIdle, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{keyboard.DefaultIdleRate}, got)

	_, err = kb.HandleSetupLocked(classSetup(false, usbdev.HIDSetIdle, 0x0A00), nil)
	require.NoError(t, err)
	got, _ = kb.HandleSetupLocked(classSetup(true, usbdev.HIDGetIdle, 0), nil)
	assert.Equal(t, []byte{0x0A}, got)

	got, _ = kb.HandleSetupLocked(classSetup(true, usbdev.HIDGetProtocol, 0), nil)
	assert.Equal(t, []byte{1}, got)
	_, err = kb.HandleSetupLocked(classSetup(false, usbdev.HIDSetProtocol, 0), nil)
	require.NoError(t, err)
	got, _ = kb.HandleSetupLocked(classSetup(true, usbdev.HIDGetProtocol, 0), nil)
	assert.Equal(t, []byte{0}, got)

	_, err = kb.HandleSetupLocked(classSetup(false, usbdev.HIDSetReport, usbdev.HIDReportOutput<<8), []byte{keyboard.LEDCapsLock})
	require.NoError(t, err)
	_, err = kb.HandleSetupLocked(classSetup(false, usbdev.HIDSetReport, usbdev.HIDReportOutput<<8), []byte{keyboard.LEDCapsLock})
	require.NoError(t, err)
	assert.Equal(t, []keyboard.LEDState{{CapsLock: true}}, leds)

	got, err = kb.HandleSetupLocked(classSetup(true, usbdev.HIDGetReport, usbdev.HIDReportInput<<8), nil)
	require.NoError(t, err)
	assert.Len(t, got, 8)

	_, err = kb.HandleSetupLocked(classSetup(true, 0x42, 0), nil)
	assert.ErrorIs(t, err, usbdev.ErrStalled)
	_, err = kb.HandleSetupLocked(usbdev.Setup{RequestType: 0x81, Request: usbdev.ReqGetDescriptor}, nil)
	assert.ErrorIs(t, err, usbdev.ErrStalled)
}

func TestLEDOverrideNotifies(t *testing.T) {
	var leds []keyboard.LEDState
	kb, cs, _ := newKeyboard(keyboard.Options{})
	kb.OnLEDChange(func(st keyboard.LEDState) { leds = append(leds, st) })

	kb.SetLEDOverride(keyboard.LEDScrollLock, 0)
	cs.Lock()
	kb.HandleOutLocked(keyboard.EndpointOut, []byte{keyboard.LEDNumLock})
	cs.Unlock()

	assert.Equal(t, []keyboard.LEDState{{ScrollLock: true}, {ScrollLock: true, NumLock: true}}, leds)
	assert.Equal(t, uint8(keyboard.LEDNumLock), kb.Snapshot().HostLEDs)
}

func TestFrameIdleResend(t *testing.T) {
	kb, cs, tx := newKeyboard(keyboard.Options{IdleRate: 3})
	kb.PressKey(keycode.KeyB)
	require.NoError(t, kb.SendIfNeeded())
	require.Len(t, tx.reports, 1)

	w := &fakeWriter{}
	cs.Lock()
	kb.FrameLocked(w)
	kb.FrameLocked(w)
	assert.Empty(t, w.written)
	kb.FrameLocked(w)
	require.Len(t, w.written, 1)
	assert.Equal(t, tx.reports[0], w.written[0])

	w.busy = true
	for i := 0; i < 5; i++ {
		kb.FrameLocked(w)
	}
	w.busy = false
	kb.FrameLocked(w)
	cs.Unlock()
	assert.Len(t, w.written, 2)
}

func TestSetProtocolKeepsHeldKeysInIdleReport(t *testing.T) {
	kb, cs, tx := newKeyboard(keyboard.Options{IdleRate: 1})
	kb.PressKey(keycode.KeyB)
	require.NoError(t, kb.SendIfNeeded())
	require.Len(t, tx.reports, 1)

	w := &fakeWriter{}
	cs.Lock()
	_, err := kb.HandleSetupLocked(classSetup(false, usbdev.HIDSetProtocol, uint16(keyboard.ProtocolBoot)), nil)
	require.NoError(t, err)
	kb.FrameLocked(w)
	cs.Unlock()

	require.Len(t, w.written, 1)
	assert.Equal(t, []byte{0, 0, keycode.KeyB, 0, 0, 0, 0, 0}, w.written[0])
	assert.True(t, kb.IsPressed(keycode.KeyB))
}

func TestSendWithoutHidesModifiers(t *testing.T) {
	kb, _, tx := newKeyboard(keyboard.Options{})
	kb.PressKey(keycode.KeyA)
	kb.AddStrong(keycode.ModLeftCtrl | keycode.ModLeftShift)

	require.NoError(t, kb.SendWithout(keycode.ModLeftCtrl, false))
	require.NoError(t, kb.SendWithout(keycode.ModLeftCtrl, false))
	require.NoError(t, kb.SendIfNeeded())
	require.NoError(t, kb.SendIfNeeded())
	assert.Equal(t, [][]byte{
		{keycode.ModLeftShift, 0, keycode.KeyA, 0, 0, 0, 0, 0},
		{keycode.ModLeftCtrl | keycode.ModLeftShift, 0, keycode.KeyA, 0, 0, 0, 0, 0},
	}, tx.reports)
}

func TestSendWithoutSkipsUnchangedReport(t *testing.T) {
	kb, _, tx := newKeyboard(keyboard.Options{})
	kb.SetExactModifiers(keycode.ModLeftAlt)
	require.NoError(t, kb.SendWithout(0, true))
	assert.Empty(t, tx.reports, "hiding the override leaves the idle report")

	kb.ClearExactModifiers()
	require.NoError(t, kb.SendIfNeeded())
	assert.Empty(t, tx.reports)
}

func TestModifierAccessors(t *testing.T) {
	kb, _, _ := newKeyboard(keyboard.Options{})
	kb.AddStrong(keycode.ModLeftCtrl)
	kb.AddWeak(keycode.ModLeftShift)
	assert.Equal(t, uint8(keycode.ModLeftCtrl), kb.Strong())
	assert.Equal(t, uint8(keycode.ModLeftShift), kb.Weak())

	kb.ClearWeak()
	kb.RemoveStrong(keycode.ModLeftCtrl)
	assert.Zero(t, kb.Strong())
	assert.Zero(t, kb.Weak())
}

func TestFrameIdleDisabled(t *testing.T) {
	kb, cs, _ := newKeyboard(keyboard.Options{IdleRate: 0})
	w := &fakeWriter{}
	cs.Lock()
	for i := 0; i < 300; i++ {
		kb.FrameLocked(w)
	}
	cs.Unlock()
	assert.Empty(t, w.written)
}

func TestFramePendingErrorReport(t *testing.T) {
	kb, cs, _ := newKeyboard(keyboard.Options{})
	kb.PressKey(keycode.KeyC)
	kb.SetError(keyboard.ErrorKeySource)

	w := &fakeWriter{busy: true}
	cs.Lock()
	kb.FrameLocked(w)
	assert.Empty(t, w.written)
	w.busy = false
	kb.FrameLocked(w)
	kb.FrameLocked(w)
	cs.Unlock()

	require.Len(t, w.written, 1)
	assert.Equal(t, []byte{0, 1, 1, 1, 1, 1, 1, 1}, w.written[0])
	assert.Equal(t, keyboard.ErrorKeySource, kb.Error())
}

func TestToggleProtocolAndReset(t *testing.T) {
	kb, _, tx := newKeyboard(keyboard.Options{Config: keyboard.Config{ReportID: 2}})
	assert.Equal(t, keyboard.ProtocolBoot, kb.ToggleProtocol())
	kb.PressKey(keycode.KeyD)
	kb.AddWeak(keycode.ModLeftShift)
	require.NoError(t, kb.SendIfNeeded())
	assert.Equal(t, []byte{0x02, 0, keycode.KeyD, 0, 0, 0, 0, 0}, tx.reports[0])

	kb.Reset()
	assert.True(t, kb.Idle())
	require.NoError(t, kb.SendIfNeeded())
	assert.Equal(t, make([]byte, 8), tx.reports[1])

	assert.Equal(t, keyboard.ProtocolReport, kb.ToggleProtocol())
	require.NoError(t, kb.SendReport())
	assert.Equal(t, []byte{2, 0, 0, 0, 0, 0, 0, 0, 0}, tx.reports[2])
}

func TestInterfaceDescriptor(t *testing.T) {
	kb, _, _ := newKeyboard(keyboard.Options{})
	kb.SetInterfaceNumber(0)
	ic := kb.Interface()
	assert.Equal(t, uint8(0x03), ic.Descriptor.BInterfaceClass)
	assert.Equal(t, uint8(0x01), ic.Descriptor.BInterfaceProtocol)
	require.Len(t, ic.Endpoints, 2)
	assert.Equal(t, uint8(keyboard.EndpointIn), ic.Endpoints[0].BEndpointAddress)
	assert.NotEmpty(t, ic.HIDReport)
	assert.Equal(t, []byte{0x05, 0x01, 0x09, 0x06, 0xA1, 0x01}, ic.HIDReport[:6])
}
