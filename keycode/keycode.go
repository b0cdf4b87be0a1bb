// Package keycode implements the 16-bit keycode used in layer tables.
//
// Layout (high byte first):
//
//	0x0000             Pass: defer to the next lower layer
//	0x00FF             None: explicit no-op
//	0x00kk             Plain HID usage kk
//	0x01..0x1F kk      Modified: bits 0-3 ctrl/shift/alt/gui, bit 4 selects the right-hand side
//	0x20..0x3F kk      LayerOrKey: low 5 bits of the high byte are a layer number
//	0x40..0x5F kk      ModOrKey: same modifier field as Modified
//	0x80 cc            Extended built-in command cc (6 bits)
//	0x81 mm            ExactModifiers with modifier byte mm
//	0x82 ii            Macro ii (7 bits)
//	0xE000..0xFFFF     LayerCommand: op in bits 12-10, activation in bits 9-7, layer in bits 4-0
//
// Every other bit pattern decodes as Plain(low byte).
package keycode

// Keycode is a packed layer table entry.
type Keycode uint16

const (
	Pass Keycode = 0x0000
	None Keycode = 0x00FF
)

// Kind tags a decoded Keycode.
type Kind uint8

const (
	KindPass Kind = iota
	KindNone
	KindPlain
	KindModified
	KindModOrKey
	KindLayerOrKey
	KindExtended
	KindExactModifiers
	KindMacro
	KindLayerCommand
)

func (k Kind) String() string {
	switch k {
	case KindPass:
		return "pass"
	case KindNone:
		return "none"
	case KindPlain:
		return "plain"
	case KindModified:
		return "modified"
	case KindModOrKey:
		return "mod-or-key"
	case KindLayerOrKey:
		return "layer-or-key"
	case KindExtended:
		return "extended"
	case KindExactModifiers:
		return "exact-modifiers"
	case KindMacro:
		return "macro"
	case KindLayerCommand:
		return "layer-command"
	default:
		return "unknown"
	}
}

// Extended is a built-in command code.
type Extended uint8

const (
	ExtReset Extended = iota + 1
	ExtBootloader
	ExtResetLayers
	ExtHyper
	ExtMeh
	ExtToggleBoot
	ExtKeylock
	ExtDebugPrint

	extLast = ExtDebugPrint
)

// Built-in keycodes.
const (
	Reset       = Keycode(0x8000) | Keycode(ExtReset)
	Bootloader  = Keycode(0x8000) | Keycode(ExtBootloader)
	ResetLayers = Keycode(0x8000) | Keycode(ExtResetLayers)
	Hyper       = Keycode(0x8000) | Keycode(ExtHyper)
	Meh         = Keycode(0x8000) | Keycode(ExtMeh)
	ToggleBoot  = Keycode(0x8000) | Keycode(ExtToggleBoot)
	Keylock     = Keycode(0x8000) | Keycode(ExtKeylock)
	DebugPrint  = Keycode(0x8000) | Keycode(ExtDebugPrint)
)

// LayerOp is the operation of a layer command.
type LayerOp uint8

const (
	OpToggle LayerOp = iota
	OpEnable
	OpDisable
	OpSetMask
	OpSetBase
)

// Activation selects how the press/release edges of a layer command map to
// activate/deactivate actions.
type Activation uint8

const (
	OnHold Activation = iota
	OnRelease
	OnPress
	IfNoKeypress
	OnHoldKeepIfNoKeypress
)

const (
	hiModifiedFirst   = 0x01
	hiModifiedLast    = 0x1F
	hiLayerOrKeyFirst = 0x20
	hiLayerOrKeyLast  = 0x3F
	hiModOrKeyFirst   = 0x40
	hiModOrKeyLast    = 0x5F
	hiExtended        = 0x80
	hiExactModifiers  = 0x81
	hiMacro           = 0x82

	modFieldRight = 0x10
	commandBits   = 0xE000

	MaxMacro = 0x7F
	MaxLayer = 31
)

// View is the decoded form of a Keycode. Only the fields relevant to Kind
// are set.
type View struct {
	Kind       Kind
	Key        uint8 // Plain, Modified, ModOrKey, LayerOrKey
	Mods       uint8 // modifier byte for Modified, ModOrKey, ExactModifiers
	Layer      uint8 // LayerOrKey, LayerCommand
	Op         LayerOp
	Activation Activation
	Extended   Extended
	Macro      uint8
}

// Decode unpacks c. It never fails: unassigned patterns decode as Plain.
func Decode(c Keycode) View {
	hi, lo := uint8(c>>8), uint8(c)
	plain := View{Kind: KindPlain, Key: lo}
	if lo == 0 && hi == 0 {
		return View{Kind: KindPass}
	}
	if c == None {
		return View{Kind: KindNone}
	}
	if IsCommand(c) {
		op := LayerOp((c >> 10) & 0x07)
		act := Activation((c >> 7) & 0x07)
		if op > OpSetBase || act > OnHoldKeepIfNoKeypress {
			return plain
		}
		return View{Kind: KindLayerCommand, Op: op, Activation: act, Layer: uint8(c & 0x1F)}
	}
	switch {
	case hi == 0:
		return plain
	case hi >= hiModifiedFirst && hi <= hiModifiedLast:
		if m := unpackMods(hi); m != 0 {
			return View{Kind: KindModified, Key: lo, Mods: m}
		}
	case hi >= hiLayerOrKeyFirst && hi <= hiLayerOrKeyLast:
		if l := hi & 0x1F; l != 0 {
			return View{Kind: KindLayerOrKey, Key: lo, Layer: l}
		}
	case hi >= hiModOrKeyFirst && hi <= hiModOrKeyLast:
		if m := unpackMods(hi & 0x1F); m != 0 {
			return View{Kind: KindModOrKey, Key: lo, Mods: m}
		}
	case hi == hiExtended:
		if e := Extended(lo); e >= ExtReset && e <= extLast {
			return View{Kind: KindExtended, Extended: e}
		}
	case hi == hiExactModifiers:
		return View{Kind: KindExactModifiers, Mods: lo}
	case hi == hiMacro:
		if lo <= MaxMacro {
			return View{Kind: KindMacro, Macro: lo}
		}
	}
	return plain
}

// IsExtended reports whether c lies in the extended space (bit 15 set).
func IsExtended(c Keycode) bool { return c&0x8000 != 0 }

// IsCommand reports whether the top three bits are set, marking a layer command.
func IsCommand(c Keycode) bool { return c&commandBits == commandBits }

// Mods extracts the modifier byte carried by c, honoring left/right placement.
// It returns 0 for kinds that carry none.
func Mods(c Keycode) uint8 {
	return Decode(c).Mods
}

// Layer extracts the layer number of a LayerOrKey or LayerCommand keycode.
// The two forms store it differently: LayerOrKey reuses the modifier field
// of the high byte, LayerCommand has a dedicated low field.
func Layer(c Keycode) uint8 {
	return Decode(c).Layer
}

func unpackMods(field uint8) uint8 {
	m := field & 0x0F
	if field&modFieldRight != 0 {
		return m << 4
	}
	return m
}

// packMods folds a modifier byte into the 5-bit field. A mask that uses
// both sides cannot be represented; right-hand bits win and the left-hand
// bits are merged into them.
func packMods(mods uint8) uint8 {
	if mods&ModRightMask != 0 {
		return modFieldRight | (mods>>4 | mods&ModLeftMask)
	}
	return mods & ModLeftMask
}

// Plain returns the keycode for a bare HID usage.
func Plain(usage uint8) Keycode { return Keycode(usage) }

// Modified returns usage with mods attached. See packMods for mixed sides.
func Modified(mods, usage uint8) Keycode {
	f := packMods(mods)
	if f&0x0F == 0 {
		return Plain(usage)
	}
	return Keycode(f)<<8 | Keycode(usage)
}

// ModOrKey is held as mods, tapped as usage.
func ModOrKey(mods, usage uint8) Keycode {
	f := packMods(mods)
	if f&0x0F == 0 {
		return Plain(usage)
	}
	return Keycode(hiModOrKeyFirst|f)<<8 | Keycode(usage)
}

// LayerOrKey is held as layer, tapped as usage. Layer must be 1..31; since
// the layer occupies the modifier field the key cannot carry modifiers.
func LayerOrKey(layer, usage uint8) Keycode {
	return Keycode(hiLayerOrKeyFirst|(layer&0x1F))<<8 | Keycode(usage)
}

// ExactModifiers replaces the modifier state while held.
func ExactModifiers(mods uint8) Keycode {
	return Keycode(hiExactModifiers)<<8 | Keycode(mods)
}

// Macro references user macro id (0..127).
func Macro(id uint8) Keycode {
	return Keycode(hiMacro)<<8 | Keycode(id&MaxMacro)
}

// Builtin returns the keycode of a built-in command.
func Builtin(e Extended) Keycode {
	return Keycode(hiExtended)<<8 | Keycode(e)
}

// LayerCommand encodes a layer operation on layer (0..31).
func LayerCommand(op LayerOp, act Activation, layer uint8) Keycode {
	return commandBits | Keycode(op&0x07)<<10 | Keycode(act&0x07)<<7 | Keycode(layer&0x1F)
}
