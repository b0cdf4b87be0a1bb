package firmware

import (
	"github.com/Alia5/kbdfw/device/generic"
	"github.com/Alia5/kbdfw/device/keyboard"
	"github.com/Alia5/kbdfw/layer"
	"github.com/Alia5/kbdfw/resolver"
	"github.com/Alia5/kbdfw/usbdev"
)

// State is a snapshot taken by the main loop after each event. The keyboard
// and USB parts are read live, since the bus side changes them between
// events.
type State struct {
	Base       uint8
	Mask       uint32
	Enabled    []uint8
	Highest    uint8
	Keyboard   keyboard.Snapshot
	USB        usbdev.Status
	Pending    bool
	PendingKey uint8
	Sources    []resolver.Source
	Keylock    string
	DFUState   uint8
	Tick       uint8
}

// State returns the latest snapshot with current keyboard and USB state.
// It does not wait for the main loop.
func (f *Firmware) State() State {
	st := *f.state.Load()
	st.Keyboard = f.keyboard.Snapshot()
	st.USB = f.engine.Status()
	return st
}

func (f *Firmware) publish() {
	layers := f.resolver.Layers()
	st := &State{
		Base:     layers.Base(),
		Mask:     layers.Mask(),
		Highest:  layers.HighestActive(),
		Sources:  f.resolver.Sources(),
		Keylock:  f.resolver.KeylockState(),
		DFUState: f.dfu.State(),
		Tick:     f.tick,
	}
	st.PendingKey, st.Pending = f.resolver.Pending()
	for n := uint8(0); n <= layer.MaxLayers; n++ {
		if layers.Enabled(n) {
			st.Enabled = append(st.Enabled, n)
		}
	}
	f.state.Store(st)
}

// target adapts the firmware to the generic HID command handler. Its
// methods run inside the critical section.
type target struct{ f *Firmware }

func (t target) Status() generic.Status {
	st := t.f.state.Load()
	kb := t.f.keyboard.SnapshotLocked()
	return generic.Status{
		Version:      Version,
		Base:         st.Base,
		Mask:         st.Mask,
		Modifiers:    kb.Effective,
		Protocol:     uint8(kb.Protocol),
		Error:        kb.Error,
		LastUSBError: t.f.engine.StatusLocked().LastError,
		LEDs:         kb.LEDs,
		Keys:         uint8(len(kb.Keys)),
	}
}

func (t target) Reset() {
	if err := t.f.tryPost(t.f.resolver.Reset); err != nil {
		t.f.logger.Warn("Dropped reset command", "error", err)
	}
}

func (t target) SetLayerMask(mask uint32) {
	err := t.f.tryPost(func() {
		t.f.resolver.Layers().SetActiveMask(mask)
	})
	if err != nil {
		t.f.logger.Warn("Dropped layer mask command", "error", err)
	}
}
