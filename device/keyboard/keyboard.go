// Package keyboard implements the HID keyboard function: modifier and LED
// state, the pressed-key report state and the USB interface serving it.
package keyboard

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/Alia5/kbdfw/critical"
	"github.com/Alia5/kbdfw/usb"
	"github.com/Alia5/kbdfw/usbdev"
)

// DefaultIdleRate is 500 ms in the 4 ms units of SET_IDLE.
const DefaultIdleRate = 125

// Sender queues an IN report, waiting for a free endpoint bank. build runs
// inside the critical section once a bank is available.
type Sender interface {
	Send(ep uint8, build func() []byte) error
}

// Options configures a Keyboard.
type Options struct {
	Config   `embed:""`
	IdleRate uint8 `help:"Default HID idle rate in 4 ms units (0 = only on change)" default:"125" env:"KBDFW_IDLE_RATE"`
}

// Keyboard is the HID keyboard interface. Methods without the Locked
// suffix enter the critical section themselves and are meant for the main
// loop; the usbdev.Function methods run inside it.
type Keyboard struct {
	cs     *critical.Section
	tx     Sender
	logger *slog.Logger

	state    *State
	leds     LEDs
	ifaceNum uint8

	lastReport []byte
	idleRate   uint8
	idleCount  uint16

	ledCallbacks []func(LEDState)
}

// New returns a keyboard sharing cs with the USB engine. tx may be set
// later with SetSender, before the first report is sent.
func New(cs *critical.Section, tx Sender, opts Options, logger *slog.Logger) *Keyboard {
	if logger == nil {
		logger = slog.Default()
	}
	st := NewState(opts.Config)
	return &Keyboard{
		cs:         cs,
		tx:         tx,
		logger:     logger,
		state:      st,
		idleRate:   opts.IdleRate,
		lastReport: make([]byte, st.ReportLen()),
	}
}

func (k *Keyboard) SetSender(tx Sender) { k.tx = tx }

// OnLEDChange registers a callback for effective LED changes. Callbacks run
// inside the critical section and must not block.
func (k *Keyboard) OnLEDChange(f func(LEDState)) {
	defer k.cs.Enter().Exit()
	k.ledCallbacks = append(k.ledCallbacks, f)
}

// Main loop side.

func (k *Keyboard) PressKey(usage uint8) {
	defer k.cs.Enter().Exit()
	k.state.Press(usage)
}

func (k *Keyboard) ReleaseKey(usage uint8) {
	defer k.cs.Enter().Exit()
	k.state.Release(usage)
}

func (k *Keyboard) IsPressed(usage uint8) bool {
	defer k.cs.Enter().Exit()
	return k.state.IsPressed(usage)
}

func (k *Keyboard) AddStrong(bits uint8) uint8 {
	defer k.cs.Enter().Exit()
	return k.state.AddStrong(bits)
}

func (k *Keyboard) RemoveStrong(bits uint8) {
	defer k.cs.Enter().Exit()
	k.state.RemoveStrong(bits)
}

func (k *Keyboard) AddWeak(bits uint8) uint8 {
	defer k.cs.Enter().Exit()
	return k.state.AddWeak(bits)
}

func (k *Keyboard) RemoveWeak(bits uint8) {
	defer k.cs.Enter().Exit()
	k.state.RemoveWeak(bits)
}

func (k *Keyboard) ClearWeak() {
	defer k.cs.Enter().Exit()
	k.state.ClearWeak()
}

func (k *Keyboard) Strong() uint8 {
	defer k.cs.Enter().Exit()
	return k.state.Modifiers().Strong()
}

func (k *Keyboard) Weak() uint8 {
	defer k.cs.Enter().Exit()
	return k.state.Modifiers().Weak()
}

func (k *Keyboard) SetExactModifiers(mask uint8) bool {
	defer k.cs.Enter().Exit()
	return k.state.SetExact(mask)
}

func (k *Keyboard) ClearExactModifiers() {
	defer k.cs.Enter().Exit()
	k.state.ClearExact()
}

func (k *Keyboard) SetError(code uint8) {
	defer k.cs.Enter().Exit()
	k.state.SetError(code)
}

func (k *Keyboard) Error() uint8 {
	defer k.cs.Enter().Exit()
	return k.state.Error()
}

func (k *Keyboard) ClearError() {
	defer k.cs.Enter().Exit()
	k.state.ClearError()
}

func (k *Keyboard) Idle() bool {
	defer k.cs.Enter().Exit()
	return k.state.Idle()
}

// ToggleProtocol flips between boot and report protocol.
func (k *Keyboard) ToggleProtocol() Protocol {
	defer k.cs.Enter().Exit()
	p := ProtocolBoot
	if k.state.Protocol() == ProtocolBoot {
		p = ProtocolReport
	}
	k.setProtocolLocked(p)
	return p
}

// Reset clears the report state; the next SendIfNeeded reports it.
func (k *Keyboard) Reset() {
	defer k.cs.Enter().Exit()
	k.state.Reset()
}

// SetLEDOverride replaces the force-on and force-off masks.
func (k *Keyboard) SetLEDOverride(on, off uint8) {
	defer k.cs.Enter().Exit()
	before := k.leds.Effective()
	k.leds.SetOverride(on, off)
	k.notifyLEDsLocked(before)
}

// Snapshot is a copy of the keyboard state for status queries.
type Snapshot struct {
	Keys        []uint8
	Strong      uint8
	Weak        uint8
	Exact       uint8
	ExactActive bool
	Effective   uint8
	Extended    uint8
	Protocol    Protocol
	Rollover    int
	Error       uint8
	LEDs        uint8
	HostLEDs    uint8
	OverrideOn  uint8
	OverrideOff uint8
	IdleRate    uint8
	LastReport  []byte
}

func (k *Keyboard) Snapshot() Snapshot {
	defer k.cs.Enter().Exit()
	return k.SnapshotLocked()
}

// SnapshotLocked is Snapshot for callers already inside the critical
// section.
func (k *Keyboard) SnapshotLocked() Snapshot {
	m := k.state.Modifiers()
	exact, active := m.Exact()
	on, off := k.leds.Override()
	return Snapshot{
		Keys:        k.state.Keys(),
		Strong:      m.Strong(),
		Weak:        m.Weak(),
		Exact:       exact,
		ExactActive: active,
		Effective:   m.Effective(),
		Extended:    k.state.Extended(),
		Protocol:    k.state.Protocol(),
		Rollover:    k.state.Rollover(),
		Error:       k.state.Error(),
		LEDs:        k.leds.Effective(),
		HostLEDs:    k.leds.Host(),
		OverrideOn:  on,
		OverrideOff: off,
		IdleRate:    k.idleRate,
		LastReport:  slices.Clone(k.lastReport),
	}
}

// SendIfNeeded sends a report if the state changed since the last one.
func (k *Keyboard) SendIfNeeded() error {
	k.cs.Lock()
	dirty := k.state.Updated() || k.state.Withheld()
	if k.state.Withheld() && slices.Equal(k.state.Render(), k.lastReport) {
		// The hidden bits went away again and the host already has this.
		k.state.Report()
		dirty = false
	}
	k.cs.Unlock()
	if !dirty {
		return nil
	}
	return k.SendReport()
}

// SendWithout sends the state with the strong bits in strong, and the exact
// override when exact is set, left out of the modifier byte. When that
// report matches the last one sent it only counts as sent. Hidden bits keep
// the state dirty, so the next SendIfNeeded reports them.
func (k *Keyboard) SendWithout(strong uint8, exact bool) error {
	k.cs.Lock()
	if !k.state.Updated() {
		k.cs.Unlock()
		return nil
	}
	if slices.Equal(k.state.RenderWithout(strong, exact), k.lastReport) {
		k.state.ReportWithout(strong, exact)
		k.cs.Unlock()
		return nil
	}
	k.cs.Unlock()
	if k.tx == nil {
		return fmt.Errorf("keyboard: no sender")
	}
	return k.tx.Send(EndpointIn, func() []byte {
		r := k.state.ReportWithout(strong, exact)
		k.lastReport = r
		k.idleCount = 0
		return r
	})
}

// SendReport sends the current state unconditionally.
func (k *Keyboard) SendReport() error {
	if k.tx == nil {
		return fmt.Errorf("keyboard: no sender")
	}
	return k.tx.Send(EndpointIn, k.buildReportLocked)
}

func (k *Keyboard) buildReportLocked() []byte {
	r := k.state.Report()
	k.lastReport = r
	k.idleCount = 0
	return r
}

// usbdev.Function

func (k *Keyboard) SetInterfaceNumber(n uint8) { k.ifaceNum = n }

func (k *Keyboard) Interface() usb.InterfaceConfig {
	return interfaceConfig(k.state.Config(), k.ifaceNum)
}

func (k *Keyboard) HandleSetupLocked(s usbdev.Setup, data []byte) ([]byte, error) {
	if s.Kind() != usbdev.KindClass {
		return nil, usbdev.ErrStalled
	}
	switch s.Request {
	case usbdev.HIDGetReport:
		switch s.DescriptorType() {
		case usbdev.HIDReportInput:
			return k.state.Report(), nil
		case usbdev.HIDReportOutput:
			return []byte{k.leds.Host()}, nil
		}
		return nil, usbdev.ErrStalled
	case usbdev.HIDSetReport:
		if s.DescriptorType() != usbdev.HIDReportOutput || len(data) < 1 {
			return nil, usbdev.ErrStalled
		}
		// With a report id the host prefixes it to the LED byte.
		b := data[0]
		if k.state.Config().ReportID != 0 && k.state.Protocol() == ProtocolReport && len(data) >= 2 {
			b = data[1]
		}
		k.setHostLEDsLocked(b)
		return nil, nil
	case usbdev.HIDGetIdle:
		return []byte{k.idleRate}, nil
	case usbdev.HIDSetIdle:
		k.idleRate = uint8(s.Value >> 8)
		k.idleCount = 0
		k.logger.Debug("SET_IDLE", "rate", k.idleRate)
		return nil, nil
	case usbdev.HIDGetProtocol:
		return []byte{uint8(k.state.Protocol())}, nil
	case usbdev.HIDSetProtocol:
		k.setProtocolLocked(Protocol(s.Value & 0xFF))
		return nil, nil
	}
	return nil, usbdev.ErrStalled
}

func (k *Keyboard) setProtocolLocked(p Protocol) {
	if k.state.SetProtocol(p) {
		// The idle heartbeat keeps repeating held keys in the new layout.
		k.lastReport = k.state.Render()
		k.logger.Debug("protocol changed", "protocol", k.state.Protocol())
	}
}

// HandleOutLocked takes LED output reports on the OUT endpoint.
func (k *Keyboard) HandleOutLocked(ep uint8, data []byte) {
	if ep != EndpointOut&0x0F || len(data) == 0 {
		return
	}
	b := data[0]
	if k.state.Config().ReportID != 0 && k.state.Protocol() == ProtocolReport && len(data) >= 2 {
		b = data[1]
	}
	k.setHostLEDsLocked(b)
}

func (k *Keyboard) setHostLEDsLocked(b uint8) {
	before := k.leds.Effective()
	k.leds.SetHost(b)
	k.notifyLEDsLocked(before)
}

func (k *Keyboard) notifyLEDsLocked(before uint8) {
	after := k.leds.Effective()
	if after == before {
		return
	}
	st := LEDStateFromByte(after)
	for _, f := range k.ledCallbacks {
		f(st)
	}
}

// ConfigureLocked resets idle accounting when the host (re)configures.
func (k *Keyboard) ConfigureLocked(configured bool) {
	k.idleCount = 0
	if configured {
		k.state.MarkUpdated()
	}
}

// FrameLocked runs every idle tick (4 ms). A pending error report goes out
// first; otherwise the last report is repeated once the idle rate expires.
func (k *Keyboard) FrameLocked(w usbdev.EndpointWriter) {
	if k.state.ErrorPending() && w.CanWriteLocked(EndpointIn) {
		w.TryWriteLocked(EndpointIn, k.buildReportLocked())
		return
	}
	if k.idleRate == 0 {
		return
	}
	if k.idleCount < 0xFFFF {
		k.idleCount++
	}
	if k.idleCount < uint16(k.idleRate) {
		return
	}
	if w.TryWriteLocked(EndpointIn, slices.Clone(k.lastReport)) {
		k.idleCount = 0
	}
}
