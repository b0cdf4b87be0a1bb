package keycode_test

import (
	"errors"
	"testing"

	"github.com/Alia5/kbdfw/keycode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	type testCase struct {
		name     string
		code     keycode.Keycode
		expected keycode.View
	}

	cases := []testCase{
		{
			name:     "pass",
			code:     keycode.Pass,
			expected: keycode.View{Kind: keycode.KindPass},
		},
		{
			name:     "none",
			code:     keycode.None,
			expected: keycode.View{Kind: keycode.KindNone},
		},
		{
			name:     "plain letter",
			code:     keycode.Plain(keycode.KeyA),
			expected: keycode.View{Kind: keycode.KindPlain, Key: keycode.KeyA},
		},
		{
			name:     "left shift modified",
			code:     keycode.Modified(keycode.ModLeftShift, keycode.Key3),
			expected: keycode.View{Kind: keycode.KindModified, Key: keycode.Key3, Mods: keycode.ModLeftShift},
		},
		{
			name:     "right alt modified",
			code:     keycode.Modified(keycode.ModRightAlt, keycode.KeyE),
			expected: keycode.View{Kind: keycode.KindModified, Key: keycode.KeyE, Mods: keycode.ModRightAlt},
		},
		{
			name:     "mod or key",
			code:     keycode.ModOrKey(keycode.ModLeftCtrl, keycode.KeyEscape),
			expected: keycode.View{Kind: keycode.KindModOrKey, Key: keycode.KeyEscape, Mods: keycode.ModLeftCtrl},
		},
		{
			name:     "layer or key",
			code:     keycode.LayerOrKey(3, keycode.KeySpace),
			expected: keycode.View{Kind: keycode.KindLayerOrKey, Key: keycode.KeySpace, Layer: 3},
		},
		{
			name:     "layer or key without layer is plain",
			code:     keycode.Keycode(0x2000 | keycode.KeySpace),
			expected: keycode.View{Kind: keycode.KindPlain, Key: keycode.KeySpace},
		},
		{
			name:     "builtin reset",
			code:     keycode.Reset,
			expected: keycode.View{Kind: keycode.KindExtended, Extended: keycode.ExtReset},
		},
		{
			name:     "unknown builtin is plain",
			code:     keycode.Keycode(0x803F),
			expected: keycode.View{Kind: keycode.KindPlain, Key: 0x3F},
		},
		{
			name:     "exact modifiers",
			code:     keycode.ExactModifiers(keycode.ModLeftCtrl | keycode.ModRightShift),
			expected: keycode.View{Kind: keycode.KindExactModifiers, Mods: keycode.ModLeftCtrl | keycode.ModRightShift},
		},
		{
			name:     "macro",
			code:     keycode.Macro(42),
			expected: keycode.View{Kind: keycode.KindMacro, Macro: 42},
		},
		{
			name:     "macro id out of range is plain",
			code:     keycode.Keycode(0x8290),
			expected: keycode.View{Kind: keycode.KindPlain, Key: 0x90},
		},
		{
			name: "layer command",
			code: keycode.LayerCommand(keycode.OpSetBase, keycode.OnPress, 7),
			expected: keycode.View{
				Kind:       keycode.KindLayerCommand,
				Op:         keycode.OpSetBase,
				Activation: keycode.OnPress,
				Layer:      7,
			},
		},
		{
			name:     "layer command with invalid op is plain",
			code:     keycode.Keycode(0xE000 | 7<<10 | 0x05),
			expected: keycode.View{Kind: keycode.KindPlain, Key: 0x05},
		},
		{
			name:     "unassigned range is plain",
			code:     keycode.Keycode(0x6A04),
			expected: keycode.View{Kind: keycode.KindPlain, Key: 0x04},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, keycode.Decode(tc.code))
		})
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, keycode.IsExtended(keycode.Reset))
	assert.True(t, keycode.IsExtended(keycode.LayerCommand(keycode.OpToggle, keycode.OnHold, 1)))
	assert.False(t, keycode.IsExtended(keycode.Plain(keycode.KeyA)))
	assert.True(t, keycode.IsCommand(keycode.LayerCommand(keycode.OpToggle, keycode.OnHold, 0)))
	assert.False(t, keycode.IsCommand(keycode.Macro(1)))

	assert.Equal(t, uint8(keycode.ModRightGUI), keycode.Mods(keycode.Modified(keycode.ModRightGUI, keycode.KeyL)))
	assert.Equal(t, uint8(0), keycode.Mods(keycode.Plain(keycode.KeyL)))
	assert.Equal(t, uint8(5), keycode.Layer(keycode.LayerOrKey(5, keycode.KeyA)))
	assert.Equal(t, uint8(31), keycode.Layer(keycode.LayerCommand(keycode.OpEnable, keycode.OnHold, 31)))
}

func TestModifiedMixedSidesFoldsRight(t *testing.T) {
	c := keycode.Modified(keycode.ModLeftCtrl|keycode.ModRightShift, keycode.KeyA)
	assert.Equal(t, uint8(keycode.ModRightCtrl|keycode.ModRightShift), keycode.Mods(c))
}

func TestModifiedWithoutModsIsPlain(t *testing.T) {
	assert.Equal(t, keycode.Plain(keycode.KeyB), keycode.Modified(0, keycode.KeyB))
	assert.Equal(t, keycode.Plain(keycode.KeyB), keycode.ModOrKey(0, keycode.KeyB))
}

func TestUsageHelpers(t *testing.T) {
	assert.True(t, keycode.IsModifierUsage(keycode.KeyLeftShift))
	assert.False(t, keycode.IsModifierUsage(keycode.KeyA))
	assert.Equal(t, uint8(keycode.ModRightAlt), keycode.ModifierBit(keycode.KeyRightAlt))
	assert.Equal(t, uint8(0), keycode.ModifierBit(keycode.KeyA))
	assert.True(t, keycode.IsVirtualUsage(keycode.KeyAppleFn))
	assert.Equal(t, uint8(0x02), keycode.VirtualBit(keycode.KeyAppleEject))
}

func TestParse(t *testing.T) {
	type testCase struct {
		name     string
		input    string
		expected keycode.Keycode
	}

	cases := []testCase{
		{name: "pass underscore", input: "_", expected: keycode.Pass},
		{name: "none", input: "xxx", expected: keycode.None},
		{name: "letter", input: "a", expected: keycode.Plain(keycode.KeyA)},
		{name: "digit", input: "1", expected: keycode.Plain(keycode.Key1)},
		{name: "alias", input: "Escape", expected: keycode.Plain(keycode.KeyEscape)},
		{name: "function key", input: "F13", expected: keycode.Plain(keycode.KeyF13)},
		{name: "middle function key", input: "f5", expected: keycode.Plain(keycode.KeyF5)},
		{name: "f11", input: "F11", expected: keycode.Plain(keycode.KeyF11)},
		{name: "modifier key", input: "LSHIFT", expected: keycode.Plain(keycode.KeyLeftShift)},
		{name: "raw usage", input: "0x87", expected: keycode.Plain(0x87)},
		{name: "raw keycode", input: "0x4104", expected: keycode.Keycode(0x4104)},
		{name: "shifted", input: "LSHIFT(3)", expected: keycode.Modified(keycode.ModLeftShift, keycode.Key3)},
		{name: "piped mods", input: "lctrl|lalt(del)", expected: keycode.Modified(keycode.ModLeftCtrl|keycode.ModLeftAlt, keycode.KeyDelete)},
		{name: "generic alias", input: "CTRL(C)", expected: keycode.Modified(keycode.ModLeftCtrl, keycode.KeyC)},
		{name: "mod or key", input: "MOD_OR_KEY(LCTRL, ESC)", expected: keycode.ModOrKey(keycode.ModLeftCtrl, keycode.KeyEscape)},
		{name: "layer or key", input: "LAYER_OR_KEY(2,SPACE)", expected: keycode.LayerOrKey(2, keycode.KeySpace)},
		{name: "exact mods", input: "EXACT_MODS(RSHIFT|LCTRL)", expected: keycode.ExactModifiers(keycode.ModRightShift | keycode.ModLeftCtrl)},
		{name: "macro", input: "MACRO(12)", expected: keycode.Macro(12)},
		{name: "layer command", input: "LAYER(TOGGLE,ON_PRESS,4)", expected: keycode.LayerCommand(keycode.OpToggle, keycode.OnPress, 4)},
		{name: "builtin", input: "bootloader", expected: keycode.Bootloader},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := keycode.Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"",
		"NOTAKEY",
		"LSHIFT(3",
		"LCTRL|RSHIFT(A)",
		"MACRO(200)",
		"LAYER_OR_KEY(0,A)",
		"LAYER_OR_KEY(32,A)",
		"LAYER(FLIP,ON_HOLD,1)",
		"MOD_OR_KEY(LCTRL)",
		"BOGUS(A)",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := keycode.Parse(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, keycode.ErrSyntax))
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	codes := []keycode.Keycode{
		keycode.Pass,
		keycode.None,
		keycode.Plain(keycode.KeyZ),
		keycode.Plain(0x87),
		keycode.Modified(keycode.ModRightCtrl|keycode.ModRightAlt, keycode.KeyF5),
		keycode.ModOrKey(keycode.ModLeftGUI, keycode.KeyTab),
		keycode.LayerOrKey(9, keycode.KeyEnter),
		keycode.ExactModifiers(0),
		keycode.ExactModifiers(0xFF),
		keycode.Macro(127),
		keycode.LayerCommand(keycode.OpSetMask, keycode.OnHoldKeepIfNoKeypress, 0),
		keycode.Hyper,
		keycode.DebugPrint,
	}
	for _, c := range codes {
		t.Run(c.String(), func(t *testing.T) {
			got, err := keycode.Parse(c.String())
			require.NoError(t, err)
			assert.Equal(t, c, got)
		})
	}
}

func TestFromChar(t *testing.T) {
	u, shift, ok := keycode.FromChar('a')
	assert.True(t, ok)
	assert.False(t, shift)
	assert.Equal(t, uint8(keycode.KeyA), u)

	u, shift, ok = keycode.FromChar('?')
	assert.True(t, ok)
	assert.True(t, shift)
	assert.Equal(t, uint8(keycode.KeySlash), u)

	_, _, ok = keycode.FromChar(0x7F)
	assert.False(t, ok)

	c, ok := keycode.CharKeycode('P')
	assert.True(t, ok)
	assert.Equal(t, keycode.Modified(keycode.ModLeftShift, keycode.KeyP), c)
}
