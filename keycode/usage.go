package keycode

// Modifier byte bits, in HID report order.
const (
	ModLeftCtrl   = 0x01
	ModLeftShift  = 0x02
	ModLeftAlt    = 0x04
	ModLeftGUI    = 0x08 // Windows/Command key
	ModRightCtrl  = 0x10
	ModRightShift = 0x20
	ModRightAlt   = 0x40
	ModRightGUI   = 0x80

	ModLeftMask  = 0x0F
	ModRightMask = 0xF0

	ModHyper = ModLeftCtrl | ModLeftShift | ModLeftAlt | ModLeftGUI
	ModMeh   = ModLeftCtrl | ModLeftShift | ModLeftAlt
)

// HID usage ids on the Keyboard/Keypad page (0x07).
const (
	KeyNone          = 0x00
	KeyErrorRollOver = 0x01
	KeyPostFail      = 0x02
	KeyErrorUndef    = 0x03

	KeyA = 0x04
	KeyB = 0x05
	KeyC = 0x06
	KeyD = 0x07
	KeyE = 0x08
	KeyF = 0x09
	KeyG = 0x0A
	KeyH = 0x0B
	KeyI = 0x0C
	KeyJ = 0x0D
	KeyK = 0x0E
	KeyL = 0x0F
	KeyM = 0x10
	KeyN = 0x11
	KeyO = 0x12
	KeyP = 0x13
	KeyQ = 0x14
	KeyR = 0x15
	KeyS = 0x16
	KeyT = 0x17
	KeyU = 0x18
	KeyV = 0x19
	KeyW = 0x1A
	KeyX = 0x1B
	KeyY = 0x1C
	KeyZ = 0x1D

	Key1 = 0x1E
	Key2 = 0x1F
	Key3 = 0x20
	Key4 = 0x21
	Key5 = 0x22
	Key6 = 0x23
	Key7 = 0x24
	Key8 = 0x25
	Key9 = 0x26
	Key0 = 0x27

	KeyEnter      = 0x28
	KeyEscape     = 0x29
	KeyBackspace  = 0x2A
	KeyTab        = 0x2B
	KeySpace      = 0x2C
	KeyMinus      = 0x2D
	KeyEqual      = 0x2E
	KeyLeftBrace  = 0x2F
	KeyRightBrace = 0x30
	KeyBackslash  = 0x31
	KeyNonUSHash  = 0x32
	KeySemicolon  = 0x33
	KeyApostrophe = 0x34
	KeyGrave      = 0x35
	KeyComma      = 0x36
	KeyPeriod     = 0x37
	KeySlash      = 0x38
	KeyCapsLock   = 0x39

	KeyF1  = 0x3A
	KeyF2  = 0x3B
	KeyF3  = 0x3C
	KeyF4  = 0x3D
	KeyF5  = 0x3E
	KeyF6  = 0x3F
	KeyF7  = 0x40
	KeyF8  = 0x41
	KeyF9  = 0x42
	KeyF10 = 0x43
	KeyF11 = 0x44
	KeyF12 = 0x45

	KeyPrintScreen = 0x46
	KeyScrollLock  = 0x47
	KeyPause       = 0x48
	KeyInsert      = 0x49
	KeyHome        = 0x4A
	KeyPageUp      = 0x4B
	KeyDelete      = 0x4C
	KeyEnd         = 0x4D
	KeyPageDown    = 0x4E
	KeyRight       = 0x4F
	KeyLeft        = 0x50
	KeyDown        = 0x51
	KeyUp          = 0x52

	KeyNumLock    = 0x53
	KeyKpSlash    = 0x54
	KeyKpAsterisk = 0x55
	KeyKpMinus    = 0x56
	KeyKpPlus     = 0x57
	KeyKpEnter    = 0x58
	KeyKp1        = 0x59
	KeyKp0        = 0x62
	KeyKpDot      = 0x63

	KeyNonUSBackslash = 0x64
	KeyApplication    = 0x65
	KeyPower          = 0x66
	KeyKpEqual        = 0x67
	KeyF13            = 0x68
	KeyF24            = 0x73
	KeyMute           = 0x7F
	KeyVolumeUp       = 0x80
	KeyVolumeDown     = 0x81

	KeyLeftCtrl   = 0xE0
	KeyLeftShift  = 0xE1
	KeyLeftAlt    = 0xE2
	KeyLeftGUI    = 0xE3
	KeyRightCtrl  = 0xE4
	KeyRightShift = 0xE5
	KeyRightAlt   = 0xE6
	KeyRightGUI   = 0xE7

	// Virtual keys reported through the vendor byte instead of the key
	// array. Bit n of the vendor byte is usage KeyVirtualFirst+n.
	KeyVirtualFirst = 0xF0
	KeyAppleFn      = 0xF0
	KeyAppleEject   = 0xF1
	KeyVirtualLast  = 0xF7
)

// IsModifierUsage reports whether usage is one of the eight modifier keys.
func IsModifierUsage(usage uint8) bool {
	return usage >= KeyLeftCtrl && usage <= KeyRightGUI
}

// ModifierBit returns the modifier byte bit for a modifier usage, or 0.
func ModifierBit(usage uint8) uint8 {
	if !IsModifierUsage(usage) {
		return 0
	}
	return 1 << (usage - KeyLeftCtrl)
}

// IsVirtualUsage reports whether usage is a vendor virtual key.
func IsVirtualUsage(usage uint8) bool {
	return usage >= KeyVirtualFirst && usage <= KeyVirtualLast
}

// VirtualBit returns the vendor byte bit for a virtual usage, or 0.
func VirtualBit(usage uint8) uint8 {
	if !IsVirtualUsage(usage) {
		return 0
	}
	return 1 << (usage - KeyVirtualFirst)
}

type usageName struct {
	usage uint8
	names []string // first entry is canonical
}

var usageNames = buildUsageNames()

func buildUsageNames() []usageName {
	out := []usageName{
		{KeyErrorRollOver, []string{"ERR_ROLLOVER"}},
		{KeyPostFail, []string{"ERR_POST"}},
		{KeyErrorUndef, []string{"ERR_UNDEF"}},
		{KeyEnter, []string{"ENTER", "RETURN"}},
		{KeyEscape, []string{"ESC", "ESCAPE"}},
		{KeyBackspace, []string{"BSPC", "BACKSPACE"}},
		{KeyTab, []string{"TAB"}},
		{KeySpace, []string{"SPACE", "SPC"}},
		{KeyMinus, []string{"MINUS"}},
		{KeyEqual, []string{"EQUAL"}},
		{KeyLeftBrace, []string{"LBRC", "LEFTBRACE"}},
		{KeyRightBrace, []string{"RBRC", "RIGHTBRACE"}},
		{KeyBackslash, []string{"BSLS", "BACKSLASH"}},
		{KeyNonUSHash, []string{"NUHS"}},
		{KeySemicolon, []string{"SCLN", "SEMICOLON"}},
		{KeyApostrophe, []string{"QUOT", "APOSTROPHE"}},
		{KeyGrave, []string{"GRV", "GRAVE"}},
		{KeyComma, []string{"COMM", "COMMA"}},
		{KeyPeriod, []string{"DOT", "PERIOD"}},
		{KeySlash, []string{"SLSH", "SLASH"}},
		{KeyCapsLock, []string{"CAPS", "CAPSLOCK"}},
		{KeyPrintScreen, []string{"PSCR", "PRINTSCREEN"}},
		{KeyScrollLock, []string{"SLCK", "SCROLLLOCK"}},
		{KeyPause, []string{"PAUS", "PAUSE"}},
		{KeyInsert, []string{"INS", "INSERT"}},
		{KeyHome, []string{"HOME"}},
		{KeyPageUp, []string{"PGUP", "PAGEUP"}},
		{KeyDelete, []string{"DEL", "DELETE"}},
		{KeyEnd, []string{"END"}},
		{KeyPageDown, []string{"PGDN", "PAGEDOWN"}},
		{KeyRight, []string{"RIGHT"}},
		{KeyLeft, []string{"LEFT"}},
		{KeyDown, []string{"DOWN"}},
		{KeyUp, []string{"UP"}},
		{KeyNumLock, []string{"NLCK", "NUMLOCK"}},
		{KeyKpSlash, []string{"KP_SLASH"}},
		{KeyKpAsterisk, []string{"KP_ASTERISK"}},
		{KeyKpMinus, []string{"KP_MINUS"}},
		{KeyKpPlus, []string{"KP_PLUS"}},
		{KeyKpEnter, []string{"KP_ENTER"}},
		{KeyKpDot, []string{"KP_DOT"}},
		{KeyNonUSBackslash, []string{"NUBS"}},
		{KeyApplication, []string{"APP", "MENU"}},
		{KeyPower, []string{"POWER"}},
		{KeyKpEqual, []string{"KP_EQUAL"}},
		{KeyMute, []string{"MUTE"}},
		{KeyVolumeUp, []string{"VOLU"}},
		{KeyVolumeDown, []string{"VOLD"}},
		{KeyLeftCtrl, []string{"LCTRL"}},
		{KeyLeftShift, []string{"LSHIFT"}},
		{KeyLeftAlt, []string{"LALT"}},
		{KeyLeftGUI, []string{"LGUI"}},
		{KeyRightCtrl, []string{"RCTRL"}},
		{KeyRightShift, []string{"RSHIFT"}},
		{KeyRightAlt, []string{"RALT"}},
		{KeyRightGUI, []string{"RGUI"}},
		{KeyAppleFn, []string{"FN", "APPLE_FN"}},
		{KeyAppleEject, []string{"EJECT"}},
	}
	for i := 0; i < 26; i++ {
		out = append(out, usageName{uint8(KeyA + i), []string{string(rune('A' + i))}})
	}
	for i := 0; i < 9; i++ {
		out = append(out, usageName{uint8(Key1 + i), []string{string(rune('1' + i))}})
		out = append(out, usageName{uint8(KeyKp1 + i), []string{"KP_" + string(rune('1'+i))}})
	}
	out = append(out, usageName{Key0, []string{"0"}}, usageName{KeyKp0, []string{"KP_0"}})
	for i := 0; i < 12; i++ {
		out = append(out, usageName{uint8(KeyF1 + i), []string{fName(1 + i)}})
		out = append(out, usageName{uint8(KeyF13 + i), []string{fName(13 + i)}})
	}
	return out
}

func fName(n int) string {
	if n < 10 {
		return "F" + string(rune('0'+n))
	}
	return "F" + string(rune('0'+n/10)) + string(rune('0'+n%10))
}

var (
	nameByUsage = map[uint8]string{}
	usageByName = map[string]uint8{}
)

func init() {
	for _, u := range usageNames {
		nameByUsage[u.usage] = u.names[0]
		for _, n := range u.names {
			usageByName[n] = u.usage
		}
	}
}

// UsageName returns the canonical name of a HID usage, or "" if it has none.
func UsageName(usage uint8) string {
	return nameByUsage[usage]
}

// LookupUsage returns the usage for a key name. Names are upper case.
func LookupUsage(name string) (uint8, bool) {
	u, ok := usageByName[name]
	return u, ok
}
