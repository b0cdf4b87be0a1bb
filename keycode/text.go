package keycode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax is returned (wrapped) by Parse for malformed keycode text.
var ErrSyntax = errors.New("keycode: invalid syntax")

var modNames = []struct {
	bit  uint8
	name string
}{
	{ModLeftCtrl, "LCTRL"},
	{ModLeftShift, "LSHIFT"},
	{ModLeftAlt, "LALT"},
	{ModLeftGUI, "LGUI"},
	{ModRightCtrl, "RCTRL"},
	{ModRightShift, "RSHIFT"},
	{ModRightAlt, "RALT"},
	{ModRightGUI, "RGUI"},
}

var modAliases = map[string]uint8{
	"CTRL":  ModLeftCtrl,
	"SHIFT": ModLeftShift,
	"ALT":   ModLeftAlt,
	"GUI":   ModLeftGUI,
	"CMD":   ModLeftGUI,
	"WIN":   ModLeftGUI,
}

var builtinNames = map[Extended]string{
	ExtReset:       "RESET",
	ExtBootloader:  "BOOTLOADER",
	ExtResetLayers: "RESET_LAYERS",
	ExtHyper:       "HYPER",
	ExtMeh:         "MEH",
	ExtToggleBoot:  "TOGGLE_BOOT",
	ExtKeylock:     "KEYLOCK",
	ExtDebugPrint:  "DEBUG_PRINT",
}

var opNames = []string{"TOGGLE", "ENABLE", "DISABLE", "SET_MASK", "SET_BASE"}

var activationNames = []string{"ON_HOLD", "ON_RELEASE", "ON_PRESS", "IF_NO_KEYPRESS", "ON_HOLD_KEEP_IF_NO_KEYPRESS"}

func (o LayerOp) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("OP(%d)", uint8(o))
}

func (a Activation) String() string {
	if int(a) < len(activationNames) {
		return activationNames[a]
	}
	return fmt.Sprintf("ACT(%d)", uint8(a))
}

func (e Extended) String() string {
	if n, ok := builtinNames[e]; ok {
		return n
	}
	return fmt.Sprintf("EXT(%d)", uint8(e))
}

// FormatMods renders a modifier byte as "LCTRL|LSHIFT". Zero renders as "0".
func FormatMods(mods uint8) string {
	if mods == 0 {
		return "0"
	}
	var parts []string
	for _, m := range modNames {
		if mods&m.bit != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseMods parses "LCTRL|LSHIFT" (or "0") into a modifier byte.
func ParseMods(s string) (uint8, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "0" || s == "" {
		return 0, nil
	}
	var out uint8
	for _, p := range strings.Split(s, "|") {
		p = strings.TrimSpace(p)
		if b, ok := modAliases[p]; ok {
			out |= b
			continue
		}
		found := false
		for _, m := range modNames {
			if m.name == p {
				out |= m.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown modifier %q", ErrSyntax, p)
		}
	}
	return out, nil
}

func formatUsage(u uint8) string {
	if n := UsageName(u); n != "" {
		return n
	}
	return fmt.Sprintf("0x%02X", u)
}

// ParseUsage parses a key name or a 0x-prefixed / decimal usage number.
func ParseUsage(s string) (uint8, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if u, ok := LookupUsage(s); ok {
		return u, nil
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown key %q", ErrSyntax, s)
	}
	return uint8(n), nil
}

// String renders c in the form accepted by Parse.
func (c Keycode) String() string {
	v := Decode(c)
	switch v.Kind {
	case KindPass:
		return "_"
	case KindNone:
		return "NONE"
	case KindPlain:
		return formatUsage(v.Key)
	case KindModified:
		return fmt.Sprintf("%s(%s)", FormatMods(v.Mods), formatUsage(v.Key))
	case KindModOrKey:
		return fmt.Sprintf("MOD_OR_KEY(%s,%s)", FormatMods(v.Mods), formatUsage(v.Key))
	case KindLayerOrKey:
		return fmt.Sprintf("LAYER_OR_KEY(%d,%s)", v.Layer, formatUsage(v.Key))
	case KindExtended:
		return v.Extended.String()
	case KindExactModifiers:
		return fmt.Sprintf("EXACT_MODS(%s)", FormatMods(v.Mods))
	case KindMacro:
		return fmt.Sprintf("MACRO(%d)", v.Macro)
	case KindLayerCommand:
		return fmt.Sprintf("LAYER(%s,%s,%d)", v.Op, v.Activation, v.Layer)
	}
	return fmt.Sprintf("0x%04X", uint16(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Keycode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Keycode) UnmarshalText(b []byte) error {
	k, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = k
	return nil
}

// Parse reads the textual keycode form. It accepts key names ("A", "ESC"),
// raw 0x-prefixed values, "_"/"PASS", "NONE"/"XXX", built-in names and the
// call forms MOD(KEY), MOD_OR_KEY(MODS,KEY), LAYER_OR_KEY(N,KEY), MACRO(N),
// EXACT_MODS(MODS) and LAYER(OP,ACTIVATION,N). Matching is case-insensitive.
func Parse(s string) (Keycode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "":
		return Pass, fmt.Errorf("%w: empty keycode", ErrSyntax)
	case "_", "PASS", "TRNS":
		return Pass, nil
	case "NONE", "XXX", "NO":
		return None, nil
	}
	for e, n := range builtinNames {
		if n == s {
			return Builtin(e), nil
		}
	}
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if strings.HasPrefix(s, "0X") && len(s) > 4 {
			n, err := strconv.ParseUint(s[2:], 16, 16)
			if err != nil {
				return Pass, fmt.Errorf("%w: %q", ErrSyntax, s)
			}
			return Keycode(n), nil
		}
		u, err := ParseUsage(s)
		if err != nil {
			return Pass, err
		}
		return Plain(u), nil
	}
	if !strings.HasSuffix(s, ")") {
		return Pass, fmt.Errorf("%w: missing ')' in %q", ErrSyntax, s)
	}
	fn := strings.TrimSpace(s[:open])
	args := splitArgs(s[open+1 : len(s)-1])

	switch fn {
	case "MOD_OR_KEY":
		if len(args) != 2 {
			return Pass, fmt.Errorf("%w: MOD_OR_KEY takes 2 arguments", ErrSyntax)
		}
		mods, err := parseOneSide(args[0])
		if err != nil {
			return Pass, err
		}
		u, err := ParseUsage(args[1])
		if err != nil {
			return Pass, err
		}
		return ModOrKey(mods, u), nil
	case "LAYER_OR_KEY":
		if len(args) != 2 {
			return Pass, fmt.Errorf("%w: LAYER_OR_KEY takes 2 arguments", ErrSyntax)
		}
		l, err := parseLayer(args[0], 1)
		if err != nil {
			return Pass, err
		}
		u, err := ParseUsage(args[1])
		if err != nil {
			return Pass, err
		}
		return LayerOrKey(l, u), nil
	case "MACRO":
		if len(args) != 1 {
			return Pass, fmt.Errorf("%w: MACRO takes 1 argument", ErrSyntax)
		}
		n, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil || n > MaxMacro {
			return Pass, fmt.Errorf("%w: macro id %q out of range", ErrSyntax, args[0])
		}
		return Macro(uint8(n)), nil
	case "EXACT_MODS":
		if len(args) != 1 {
			return Pass, fmt.Errorf("%w: EXACT_MODS takes 1 argument", ErrSyntax)
		}
		mods, err := ParseMods(args[0])
		if err != nil {
			return Pass, err
		}
		return ExactModifiers(mods), nil
	case "LAYER":
		if len(args) != 3 {
			return Pass, fmt.Errorf("%w: LAYER takes 3 arguments", ErrSyntax)
		}
		op, ok := indexOf(opNames, args[0])
		if !ok {
			return Pass, fmt.Errorf("%w: unknown layer op %q", ErrSyntax, args[0])
		}
		act, ok := indexOf(activationNames, args[1])
		if !ok {
			return Pass, fmt.Errorf("%w: unknown activation %q", ErrSyntax, args[1])
		}
		l, err := parseLayer(args[2], 0)
		if err != nil {
			return Pass, err
		}
		return LayerCommand(LayerOp(op), Activation(act), l), nil
	}

	// MODS(KEY), e.g. LSHIFT(3) or LCTRL|LALT(DEL).
	if len(args) != 1 {
		return Pass, fmt.Errorf("%w: %s takes 1 argument", ErrSyntax, fn)
	}
	mods, err := parseOneSide(fn)
	if err != nil {
		return Pass, err
	}
	u, err := ParseUsage(args[0])
	if err != nil {
		return Pass, err
	}
	return Modified(mods, u), nil
}

// parseOneSide rejects masks mixing left and right modifiers, which the
// packed encoding cannot hold.
func parseOneSide(s string) (uint8, error) {
	mods, err := ParseMods(s)
	if err != nil {
		return 0, err
	}
	if mods&ModLeftMask != 0 && mods&ModRightMask != 0 {
		return 0, fmt.Errorf("%w: %q mixes left and right modifiers", ErrSyntax, s)
	}
	if mods == 0 {
		return 0, fmt.Errorf("%w: no modifiers in %q", ErrSyntax, s)
	}
	return mods, nil
}

func parseLayer(s string, min uint64) (uint8, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil || n < min || n > MaxLayer {
		return 0, fmt.Errorf("%w: layer %q out of range", ErrSyntax, s)
	}
	return uint8(n), nil
}

func splitArgs(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func indexOf(list []string, s string) (int, bool) {
	for i, v := range list {
		if v == s {
			return i, true
		}
	}
	return 0, false
}
