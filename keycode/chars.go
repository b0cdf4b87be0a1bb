package keycode

type charKey struct {
	usage uint8
	shift bool
}

var charKeys = map[byte]charKey{
	' ':  {KeySpace, false},
	'\n': {KeyEnter, false},
	'\r': {KeyEnter, false},
	'\t': {KeyTab, false},
	'\b': {KeyBackspace, false},
	0x1B: {KeyEscape, false},

	'-': {KeyMinus, false}, '_': {KeyMinus, true},
	'=': {KeyEqual, false}, '+': {KeyEqual, true},
	'[': {KeyLeftBrace, false}, '{': {KeyLeftBrace, true},
	']': {KeyRightBrace, false}, '}': {KeyRightBrace, true},
	'\\': {KeyBackslash, false}, '|': {KeyBackslash, true},
	';': {KeySemicolon, false}, ':': {KeySemicolon, true},
	'\'': {KeyApostrophe, false}, '"': {KeyApostrophe, true},
	'`': {KeyGrave, false}, '~': {KeyGrave, true},
	',': {KeyComma, false}, '<': {KeyComma, true},
	'.': {KeyPeriod, false}, '>': {KeyPeriod, true},
	'/': {KeySlash, false}, '?': {KeySlash, true},

	'0': {Key0, false}, ')': {Key0, true},
	'!': {Key1, true}, '@': {Key2, true}, '#': {Key3, true}, '$': {Key4, true},
	'%': {Key5, true}, '^': {Key6, true}, '&': {Key7, true}, '*': {Key8, true},
	'(': {Key9, true},
}

func init() {
	for i := byte(0); i < 26; i++ {
		charKeys['a'+i] = charKey{KeyA + i, false}
		charKeys['A'+i] = charKey{KeyA + i, true}
	}
	for i := byte(0); i < 9; i++ {
		charKeys['1'+i] = charKey{Key1 + i, false}
	}
}

// FromChar maps an ASCII character to the US-layout usage producing it and
// whether Shift must be held.
func FromChar(c byte) (usage uint8, shift bool, ok bool) {
	k, ok := charKeys[c]
	return k.usage, k.shift, ok
}

// CharKeycode returns the keycode that types c on a US layout.
func CharKeycode(c byte) (Keycode, bool) {
	u, shift, ok := FromChar(c)
	if !ok {
		return None, false
	}
	if shift {
		return Modified(ModLeftShift, u), true
	}
	return Plain(u), true
}
