package firmware_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/kbdfw/device/generic"
	"github.com/Alia5/kbdfw/device/keyboard"
	"github.com/Alia5/kbdfw/firmware"
	"github.com/Alia5/kbdfw/keycode"
	"github.com/Alia5/kbdfw/keymap"
	"github.com/Alia5/kbdfw/resolver"
	"github.com/Alia5/kbdfw/usbdev"
)

const testKeymap = `{
  "name": "test",
  "base": 1,
  "layers": [{"number": 1, "keys": ["A", "BOOTLOADER", "LAYER_OR_KEY(2,B)"]},
             {"number": 2, "keys": ["C"]}]
}`

type fakeBoard struct {
	bootloader chan struct{}
	resets     chan struct{}
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{bootloader: make(chan struct{}, 4), resets: make(chan struct{}, 4)}
}

func (b *fakeBoard) JumpToBootloader() { b.bootloader <- struct{}{} }
func (b *fakeBoard) Reset()            { b.resets <- struct{}{} }

type fixture struct {
	fw    *firmware.Firmware
	board *fakeBoard
	ctx   context.Context
}

func parseKeymap(t *testing.T, doc string) *keymap.Keymap {
	t.Helper()
	km, err := keymap.Parse([]byte(doc), keymap.FormatJSON)
	require.NoError(t, err)
	return km
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	board := newFakeBoard()
	cfg := firmware.Config{
		Keyboard:     keyboard.Options{Config: keyboard.Config{Rollover: 7}},
		TickInterval: time.Millisecond,
	}
	fw, err := firmware.New(parseKeymap(t, testKeymap), cfg, board, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fw.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f := &fixture{fw: fw, board: board, ctx: ctx}
	f.control(t, 0x00, usbdev.ReqSetAddress, 3, 0, 0, nil)
	f.control(t, 0x00, usbdev.ReqSetConfiguration, 1, 0, 0, nil)
	return f
}

func (f *fixture) control(t *testing.T, rt, req uint8, value, index, length uint16, out []byte) []byte {
	t.Helper()
	s := usbdev.Setup{RequestType: rt, Request: req, Value: value, Index: index, Length: length}
	data, err := f.fw.Device().Control(s.Bytes(), out)
	require.NoError(t, err)
	return data
}

func (f *fixture) readReport(t *testing.T) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(f.ctx, 2*time.Second)
	defer cancel()
	pkt, err := f.fw.Device().ReadIn(ctx, keyboard.EndpointIn&0x0F)
	require.NoError(t, err)
	return pkt
}

// sync waits until everything posted before it has run.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, f.fw.Do(f.ctx, func(*resolver.Resolver) {}))
}

func (f *fixture) key(t *testing.T, phys uint8, release bool) {
	t.Helper()
	require.NoError(t, f.fw.ProcessKey(f.ctx, phys, release))
}

func report(keys ...uint8) []byte {
	b := make([]byte, 8)
	copy(b[2:], keys)
	return b
}

func TestKeyEdgesReachHost(t *testing.T) {
	f := newFixture(t)
	f.key(t, 0, false)
	assert.Equal(t, report(keycode.KeyA), f.readReport(t))
	f.key(t, 0, true)
	assert.Equal(t, report(), f.readReport(t))
}

func TestStateSnapshot(t *testing.T) {
	f := newFixture(t)
	st := f.fw.State()
	assert.Equal(t, uint8(1), st.Base)
	assert.Equal(t, []uint8{1}, st.Enabled)
	assert.Equal(t, uint8(1), st.USB.Configuration)

	f.key(t, 2, false)
	f.key(t, 0, false)
	f.sync(t)
	st = f.fw.State()
	assert.Equal(t, []uint8{keycode.KeyC}, st.Keyboard.Keys)
	assert.Equal(t, []uint8{1, 2}, st.Enabled)
	assert.Len(t, st.Sources, 2)
	assert.Equal(t, "off", st.Keylock)
}

func TestGenericStatusReport(t *testing.T) {
	f := newFixture(t)
	f.key(t, 0, false)
	f.sync(t)

	rt := uint8(0xA1)
	data := f.control(t, rt, usbdev.HIDGetReport, uint16(usbdev.HIDReportInput)<<8|generic.ReportStatus, 1, generic.ReportSize, nil)
	require.Len(t, data, generic.ReportSize)
	assert.Equal(t, uint8(generic.ReportStatus), data[0])

	var st generic.Status
	require.NoError(t, st.UnmarshalBinary(data[1:]))
	assert.Equal(t, firmware.Version, st.Version)
	assert.Equal(t, uint8(1), st.Base)
	assert.Equal(t, uint8(keyboard.ProtocolReport), st.Protocol)
	assert.Equal(t, uint8(1), st.Keys)
}

func TestBusSideChangesAreVisibleImmediately(t *testing.T) {
	f := newFixture(t)
	led := []byte{keyboard.LEDCapsLock}
	f.control(t, 0x21, usbdev.HIDSetReport, uint16(usbdev.HIDReportOutput)<<8, 0, 1, led)

	st := f.fw.State()
	assert.Equal(t, uint8(3), st.USB.Address)
	assert.Equal(t, uint8(1), st.USB.Configuration)
	assert.Equal(t, uint8(keyboard.LEDCapsLock), st.Keyboard.HostLEDs)

	data := f.control(t, 0xA1, usbdev.HIDGetReport, uint16(usbdev.HIDReportInput)<<8|generic.ReportStatus, 1, generic.ReportSize, nil)
	var gs generic.Status
	require.NoError(t, gs.UnmarshalBinary(data[1:]))
	assert.Equal(t, uint8(keyboard.LEDCapsLock), gs.LEDs)
}

func TestGenericLayerMaskCommand(t *testing.T) {
	f := newFixture(t)
	cmd := []byte{generic.ReportCommand, generic.CmdLayerMask, 0x04, 0, 0, 0}
	f.control(t, 0x21, usbdev.HIDSetReport, uint16(usbdev.HIDReportOutput)<<8|generic.ReportCommand, 1, uint16(len(cmd)), cmd)
	f.sync(t)
	assert.Equal(t, uint32(0x04), f.fw.State().Mask)

	f.key(t, 0, false)
	assert.Equal(t, report(keycode.KeyC), f.readReport(t))
}

func TestDFUDetachJumpsToBootloader(t *testing.T) {
	f := newFixture(t)
	f.control(t, 0x21, usbdev.DFUDetach, 1000, 2, 0, nil)
	select {
	case <-f.board.bootloader:
	case <-time.After(2 * time.Second):
		t.Fatal("bootloader not entered")
	}
}

func TestBootloaderKeycode(t *testing.T) {
	f := newFixture(t)
	f.key(t, 1, false)
	select {
	case <-f.board.bootloader:
	case <-time.After(2 * time.Second):
		t.Fatal("bootloader not entered")
	}
}

func TestBusResetResetsKeyboard(t *testing.T) {
	f := newFixture(t)
	f.key(t, 0, false)
	f.sync(t)
	require.NotEmpty(t, f.fw.State().Keyboard.Keys)

	f.fw.Device().BusReset()
	f.sync(t)
	select {
	case <-f.board.resets:
	case <-time.After(2 * time.Second):
		t.Fatal("board reset not called")
	}
	st := f.fw.State()
	assert.Empty(t, st.Keyboard.Keys)
	assert.Equal(t, uint8(0), st.USB.Configuration)
}

func TestReplaceKeymapKeepsTrackedPress(t *testing.T) {
	f := newFixture(t)
	f.key(t, 0, false)
	assert.Equal(t, report(keycode.KeyA), f.readReport(t))

	next := parseKeymap(t, `{"base": 1, "layers": [{"number": 1, "keys": ["C"]}]}`)
	require.NoError(t, f.fw.ReplaceKeymap(f.ctx, next))

	f.key(t, 0, true)
	assert.Equal(t, report(), f.readReport(t))
	f.key(t, 0, false)
	assert.Equal(t, report(keycode.KeyC), f.readReport(t))
}

func TestLEDSubscription(t *testing.T) {
	f := newFixture(t)
	leds, cancel := f.fw.SubscribeLEDs(4)
	defer cancel()

	require.NoError(t, f.fw.Device().WriteOut(keyboard.EndpointOut, []byte{keyboard.LEDCapsLock}))
	select {
	case st := <-leds:
		assert.True(t, st.CapsLock)
		assert.False(t, st.NumLock)
	case <-time.After(2 * time.Second):
		t.Fatal("no LED change")
	}

	f.fw.SetLEDOverride(keyboard.LEDNumLock, 0)
	select {
	case st := <-leds:
		assert.True(t, st.CapsLock)
		assert.True(t, st.NumLock)
	case <-time.After(2 * time.Second):
		t.Fatal("no LED change")
	}

	cancel()
	_, open := <-leds
	assert.False(t, open)
}

func TestRemoteWakeupRequiresSuspend(t *testing.T) {
	f := newFixture(t)
	// SET_FEATURE(DEVICE_REMOTE_WAKEUP)
	f.control(t, 0x00, usbdev.ReqSetFeature, 1, 0, 0, nil)
	assert.ErrorIs(t, f.fw.RemoteWakeup(), usbdev.ErrNotSuspended)

	f.fw.Suspend()
	f.sync(t)
	assert.True(t, f.fw.State().USB.Suspended)
	require.NoError(t, f.fw.RemoteWakeup())
	f.sync(t)
	assert.False(t, f.fw.State().USB.Suspended)
}

func TestStopped(t *testing.T) {
	fw, err := firmware.New(parseKeymap(t, testKeymap), firmware.Config{}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- fw.Run(ctx) }()
	require.NoError(t, fw.Do(ctx, func(*resolver.Resolver) {}))
	assert.Error(t, fw.Run(ctx))

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.ErrorIs(t, fw.ProcessKey(context.Background(), 0, false), firmware.ErrStopped)
}

func TestNewRejectsBadKeymap(t *testing.T) {
	km := &keymap.Keymap{Base: 40}
	_, err := firmware.New(km, firmware.Config{}, nil, nil)
	assert.Error(t, err)
}
