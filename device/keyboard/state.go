package keyboard

import (
	"slices"

	"github.com/Alia5/kbdfw/keycode"
)

// Protocol is the HID protocol selected by the host.
type Protocol uint8

const (
	ProtocolBoot   Protocol = 0
	ProtocolReport Protocol = 1
)

func (p Protocol) String() string {
	if p == ProtocolBoot {
		return "boot"
	}
	return "report"
}

const (
	// BootRollover is fixed by the boot protocol report layout.
	BootRollover = 6
	// DefaultRollover applies in report protocol unless configured.
	DefaultRollover = 7
	// MaxRollover bounds the configurable report protocol rollover.
	MaxRollover = 30
)

// Report error codes. The low bit marks an error not yet sent to the host.
const (
	ErrorNone       uint8 = 0x00
	ErrorRollover   uint8 = 0x02
	ErrorKeySource  uint8 = 0x04
	errorUnreported uint8 = 0x01
)

// Config shapes the report protocol layout.
type Config struct {
	Rollover           int   `help:"Key slots in report protocol" default:"7" env:"KBDFW_ROLLOVER"`
	BootCompatReserved bool  `help:"Keep the boot reserved byte in report protocol (carries vendor keys)" env:"KBDFW_BOOT_COMPAT_RESERVED"`
	ReportID           uint8 `help:"Report id prefix in report protocol (0 = none)" default:"0" env:"KBDFW_REPORT_ID"`
}

func (c Config) normalized() Config {
	if c.Rollover < BootRollover {
		c.Rollover = DefaultRollover
	}
	if c.Rollover > MaxRollover {
		c.Rollover = MaxRollover
	}
	return c
}

// State is the pressed-key set, modifier and error state the keyboard
// report is assembled from. It is not safe for concurrent use.
type State struct {
	cfg      Config
	keys     []uint8
	mods     Modifiers
	extended uint8
	protocol Protocol
	updated  bool
	withheld bool
	err      uint8
}

// NewState returns an empty state in report protocol.
func NewState(cfg Config) *State {
	cfg = cfg.normalized()
	return &State{
		cfg:      cfg,
		keys:     make([]uint8, 0, max(BootRollover, cfg.Rollover)+1),
		protocol: ProtocolReport,
	}
}

func (s *State) Config() Config { return s.cfg }

// Rollover is the number of reportable keys under the current protocol.
func (s *State) Rollover() int {
	if s.protocol == ProtocolBoot {
		return BootRollover
	}
	return s.cfg.Rollover
}

// Press registers a key usage. Modifier usages set strong modifier bits,
// vendor virtual usages set extended flags. A key beyond the rollover limit
// raises ErrorRollover; once the buffer is full further keys are dropped.
func (s *State) Press(usage uint8) {
	switch {
	case usage == keycode.KeyNone:
		return
	case keycode.IsModifierUsage(usage):
		s.AddStrong(keycode.ModifierBit(usage))
		return
	case keycode.IsVirtualUsage(usage):
		s.setExtended(s.extended | keycode.VirtualBit(usage))
		return
	}
	if slices.Contains(s.keys, usage) {
		return
	}
	if len(s.keys) == cap(s.keys) {
		s.SetError(ErrorRollover)
		return
	}
	s.keys = append(s.keys, usage)
	s.updated = true
	if len(s.keys) > s.Rollover() {
		s.SetError(ErrorRollover)
	}
}

// Release removes a key usage, keeping the press order of the rest.
func (s *State) Release(usage uint8) {
	switch {
	case usage == keycode.KeyNone:
		return
	case keycode.IsModifierUsage(usage):
		s.RemoveStrong(keycode.ModifierBit(usage))
		return
	case keycode.IsVirtualUsage(usage):
		s.setExtended(s.extended &^ keycode.VirtualBit(usage))
		return
	}
	i := slices.Index(s.keys, usage)
	if i < 0 {
		return
	}
	s.keys = slices.Delete(s.keys, i, i+1)
	s.updated = true
	s.checkRollover()
}

func (s *State) checkRollover() {
	if s.Error() == ErrorRollover && len(s.keys) <= s.Rollover() {
		s.ClearError()
	}
}

// IsPressed reports whether usage is currently held.
func (s *State) IsPressed(usage uint8) bool {
	switch {
	case keycode.IsModifierUsage(usage):
		return s.mods.Strong()&keycode.ModifierBit(usage) != 0
	case keycode.IsVirtualUsage(usage):
		return s.extended&keycode.VirtualBit(usage) != 0
	}
	return slices.Contains(s.keys, usage)
}

// Keys returns the pressed keys in press order.
func (s *State) Keys() []uint8 { return slices.Clone(s.keys) }

func (s *State) Extended() uint8 { return s.extended }

func (s *State) setExtended(v uint8) {
	if v != s.extended {
		s.extended = v
		s.updated = true
	}
}

// Modifier operations. Each returns the bits that were newly set, where
// that is meaningful, and marks the state dirty when the effective byte
// changes.

func (s *State) AddStrong(bits uint8) uint8 {
	return s.modOp(func(m *Modifiers) uint8 { return m.AddStrong(bits) })
}

func (s *State) RemoveStrong(bits uint8) {
	s.modOp(func(m *Modifiers) uint8 { m.RemoveStrong(bits); return 0 })
}

func (s *State) AddWeak(bits uint8) uint8 {
	return s.modOp(func(m *Modifiers) uint8 { return m.AddWeak(bits) })
}

func (s *State) RemoveWeak(bits uint8) {
	s.modOp(func(m *Modifiers) uint8 { m.RemoveWeak(bits); return 0 })
}

func (s *State) ClearWeak() {
	s.modOp(func(m *Modifiers) uint8 { m.ClearWeak(); return 0 })
}

func (s *State) SetExact(mask uint8) bool {
	var set bool
	s.modOp(func(m *Modifiers) uint8 { set = m.SetExact(mask); return 0 })
	return set
}

func (s *State) ClearExact() {
	s.modOp(func(m *Modifiers) uint8 { m.ClearExact(); return 0 })
}

func (s *State) modOp(fn func(m *Modifiers) uint8) uint8 {
	before := s.mods.Effective()
	r := fn(&s.mods)
	if s.mods.Effective() != before {
		s.updated = true
	}
	return r
}

func (s *State) Modifiers() Modifiers { return s.mods }

// SetError records an error code to be sent in place of the keys.
func (s *State) SetError(code uint8) {
	if s.err == code|errorUnreported {
		return
	}
	s.err = code | errorUnreported
	s.updated = true
}

// Error returns the active error code, or ErrorNone.
func (s *State) Error() uint8 { return s.err &^ errorUnreported }

// ErrorPending reports an error that has not been sent yet.
func (s *State) ErrorPending() bool { return s.err&errorUnreported != 0 }

func (s *State) ClearError() {
	if s.err == ErrorNone {
		return
	}
	s.err = ErrorNone
	s.updated = true
	s.withheld = false
}

// Idle reports no keys, no effective modifiers and no extended flags.
func (s *State) Idle() bool {
	return len(s.keys) == 0 && s.mods.Effective() == 0 && s.extended == 0
}

func (s *State) Protocol() Protocol { return s.protocol }

// SetProtocol switches the report layout. The rollover error is
// re-evaluated against the new limit. It reports whether anything changed.
func (s *State) SetProtocol(p Protocol) bool {
	if p != ProtocolBoot {
		p = ProtocolReport
	}
	if p == s.protocol {
		return false
	}
	s.protocol = p
	s.updated = true
	if len(s.keys) > s.Rollover() {
		s.SetError(ErrorRollover)
	} else {
		s.checkRollover()
	}
	return true
}

// Updated reports unsent changes.
func (s *State) Updated() bool { return s.updated }

// Withheld reports that the last report left out active modifier bits.
func (s *State) Withheld() bool { return s.withheld }

// MarkUpdated forces the next send.
func (s *State) MarkUpdated() { s.updated = true }

// Reset clears keys, modifiers, flags and errors. The protocol is kept.
func (s *State) Reset() {
	s.keys = s.keys[:0]
	s.mods.Reset()
	s.extended = 0
	s.err = ErrorNone
	s.updated = true
	s.withheld = false
}

// ReportLen is the length of reports under the current protocol.
func (s *State) ReportLen() int {
	if s.protocol == ProtocolBoot {
		return 2 + BootRollover
	}
	n := 1 + s.cfg.Rollover
	if s.cfg.BootCompatReserved {
		n++
	}
	if s.cfg.ReportID != 0 {
		n++
	}
	return n
}

// Report serializes the current state and clears the dirty flag and the
// unreported error bit.
//
// Boot protocol:   [mods][0][6 keys]
// Report protocol: [id][mods][extended][rollover keys] with the reserved
// byte, or [id][mods][rollover slots] without it. In the second form the
// first slot is empty until the last slot is needed, then holds the most
// recent key, so up to six keys look exactly like boot protocol.
func (s *State) Report() []byte {
	b := s.Render()
	s.updated = false
	s.withheld = false
	s.err &^= errorUnreported
	return b
}

// ReportWithout is Report with the modifier byte taken from
// Modifiers.Without. The state stays withheld while that hides active bits.
func (s *State) ReportWithout(strong uint8, exact bool) []byte {
	b := s.RenderWithout(strong, exact)
	s.updated = false
	s.withheld = s.mods.Without(strong, exact) != s.mods.Effective()
	s.err &^= errorUnreported
	return b
}

// Render serializes the current state like Report without touching any
// flags.
func (s *State) Render() []byte { return s.render(s.mods.Effective()) }

// RenderWithout is Render with the modifier byte taken from
// Modifiers.Without.
func (s *State) RenderWithout(strong uint8, exact bool) []byte {
	return s.render(s.mods.Without(strong, exact))
}

func (s *State) render(mods uint8) []byte {
	b := make([]byte, s.ReportLen())
	i := 0
	if s.protocol == ProtocolReport && s.cfg.ReportID != 0 {
		b[i] = s.cfg.ReportID
		i++
	}
	b[i] = mods
	i++
	slots := b[i:]
	switch {
	case s.protocol == ProtocolBoot:
		slots = slots[1:]
	case s.cfg.BootCompatReserved:
		slots[0] = s.extended
		slots = slots[1:]
	}

	if s.err != ErrorNone {
		for j := range slots {
			slots[j] = keycode.KeyErrorRollOver
		}
		return b
	}

	keys := s.keys
	if len(keys) > len(slots) {
		keys = keys[:len(slots)]
	}
	if s.protocol == ProtocolReport && !s.cfg.BootCompatReserved && len(keys) == len(slots) {
		slots[0] = keys[len(keys)-1]
		copy(slots[1:], keys[:len(keys)-1])
		return b
	}
	if s.protocol == ProtocolReport && !s.cfg.BootCompatReserved {
		copy(slots[1:], keys)
		return b
	}
	copy(slots, keys)
	return b
}
