package keyboard_test

import (
	"testing"

	"github.com/Alia5/kbdfw/device/keyboard"
	"github.com/Alia5/kbdfw/keycode"
	"github.com/stretchr/testify/assert"
)

func TestReportLayout(t *testing.T) {
	type testCase struct {
		name     string
		cfg      keyboard.Config
		boot     bool
		mods     uint8
		keys     []uint8
		expected []byte
	}

	cases := []testCase{
		{
			name:     "boot empty",
			boot:     true,
			expected: []byte{0, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name:     "boot two keys keep press order",
			boot:     true,
			mods:     keycode.ModLeftShift,
			keys:     []uint8{keycode.KeyZ, keycode.KeyA},
			expected: []byte{0x02, 0, keycode.KeyZ, keycode.KeyA, 0, 0, 0, 0},
		},
		{
			name:     "report protocol three keys",
			cfg:      keyboard.Config{Rollover: 7},
			keys:     []uint8{keycode.KeyQ, keycode.KeyW, keycode.KeyE},
			expected: []byte{0, 0, keycode.KeyQ, keycode.KeyW, keycode.KeyE, 0, 0, 0},
		},
		{
			name: "report protocol seventh key takes the reserved slot",
			cfg:  keyboard.Config{Rollover: 7},
			keys: []uint8{keycode.KeyA, keycode.KeyB, keycode.KeyC, keycode.KeyD, keycode.KeyE, keycode.KeyF, keycode.KeyG},
			expected: []byte{0, keycode.KeyG,
				keycode.KeyA, keycode.KeyB, keycode.KeyC, keycode.KeyD, keycode.KeyE, keycode.KeyF},
		},
		{
			name:     "report protocol with reserved byte and report id",
			cfg:      keyboard.Config{Rollover: 7, BootCompatReserved: true, ReportID: 1},
			mods:     keycode.ModRightAlt,
			keys:     []uint8{keycode.KeyAppleFn, keycode.KeyX},
			expected: []byte{1, keycode.ModRightAlt, 0x01, keycode.KeyX, 0, 0, 0, 0, 0, 0},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := keyboard.NewState(tc.cfg)
			if tc.boot {
				st.SetProtocol(keyboard.ProtocolBoot)
			}
			st.AddStrong(tc.mods)
			for _, k := range tc.keys {
				st.Press(k)
			}
			assert.Equal(t, tc.expected, st.Report())
			assert.False(t, st.Updated())
		})
	}
}

func TestBootReportEquivalence(t *testing.T) {
	sequences := [][]uint8{
		{},
		{keycode.KeyA},
		{keycode.KeyH, keycode.KeyE, keycode.KeyL},
		{keycode.Key1, keycode.Key2, keycode.Key3, keycode.Key4, keycode.Key5, keycode.Key6},
	}
	for _, seq := range sequences {
		boot := keyboard.NewState(keyboard.Config{})
		boot.SetProtocol(keyboard.ProtocolBoot)
		report := keyboard.NewState(keyboard.Config{ReportID: 3})
		for _, k := range seq {
			boot.Press(k)
			report.Press(k)
			boot.AddWeak(keycode.ModLeftCtrl)
			report.AddWeak(keycode.ModLeftCtrl)
			// Ignoring the report id byte, both layouts must match.
			assert.Equal(t, boot.Report(), report.Report()[1:])
		}
	}
}

func TestRolloverBoundary(t *testing.T) {
	st := keyboard.NewState(keyboard.Config{Rollover: 7})
	st.AddStrong(keycode.ModLeftShift)
	keys := []uint8{keycode.KeyA, keycode.KeyB, keycode.KeyC, keycode.KeyD, keycode.KeyE, keycode.KeyF, keycode.KeyG, keycode.KeyH}
	for _, k := range keys {
		st.Press(k)
	}
	assert.Equal(t, keyboard.ErrorRollover, st.Error())
	assert.True(t, st.ErrorPending())
	r := st.Report()
	assert.Equal(t, uint8(keycode.ModLeftShift), r[0])
	for _, b := range r[1:] {
		assert.Equal(t, uint8(keycode.KeyErrorRollOver), b)
	}
	assert.False(t, st.ErrorPending())

	st.Release(keycode.KeyB)
	assert.Equal(t, keyboard.ErrorNone, st.Error())
	assert.Equal(t, []byte{0x02, keycode.KeyH,
		keycode.KeyA, keycode.KeyC, keycode.KeyD, keycode.KeyE, keycode.KeyF, keycode.KeyG}, st.Report())
}

func TestBufferFullDropsKey(t *testing.T) {
	st := keyboard.NewState(keyboard.Config{Rollover: 6})
	for k := uint8(keycode.KeyA); k < keycode.KeyA+9; k++ {
		st.Press(k)
	}
	assert.Len(t, st.Keys(), 7)
	assert.False(t, st.IsPressed(keycode.KeyA+8))
	assert.Equal(t, keyboard.ErrorRollover, st.Error())
}

func TestProtocolSwitchRechecksRollover(t *testing.T) {
	st := keyboard.NewState(keyboard.Config{Rollover: 7})
	for k := uint8(keycode.KeyA); k < keycode.KeyA+7; k++ {
		st.Press(k)
	}
	assert.Equal(t, keyboard.ErrorNone, st.Error())
	assert.True(t, st.SetProtocol(keyboard.ProtocolBoot))
	assert.Equal(t, keyboard.ErrorRollover, st.Error())
	assert.False(t, st.SetProtocol(keyboard.ProtocolBoot))
	assert.True(t, st.SetProtocol(keyboard.ProtocolReport))
	assert.Equal(t, keyboard.ErrorNone, st.Error())
}

func TestModifierAndVirtualUsages(t *testing.T) {
	st := keyboard.NewState(keyboard.Config{})
	st.Press(keycode.KeyLeftCtrl)
	st.Press(keycode.KeyAppleEject)
	assert.True(t, st.IsPressed(keycode.KeyLeftCtrl))
	assert.Equal(t, uint8(keycode.ModLeftCtrl), st.Modifiers().Strong())
	assert.Equal(t, uint8(0x02), st.Extended())
	assert.Empty(t, st.Keys())
	assert.False(t, st.Idle())

	st.Release(keycode.KeyLeftCtrl)
	st.Release(keycode.KeyAppleEject)
	assert.True(t, st.Idle())
}

func TestDuplicatePressAndRelease(t *testing.T) {
	st := keyboard.NewState(keyboard.Config{})
	st.Press(keycode.KeyA)
	st.Press(keycode.KeyA)
	assert.Equal(t, []uint8{keycode.KeyA}, st.Keys())
	st.Report()
	st.Release(keycode.KeyB)
	assert.False(t, st.Updated())
	st.Release(keycode.KeyA)
	assert.True(t, st.Updated())
	assert.True(t, st.Idle())
}

func TestModifiers(t *testing.T) {
	var m keyboard.Modifiers
	assert.Equal(t, uint8(keycode.ModLeftCtrl), m.AddStrong(keycode.ModLeftCtrl))
	assert.Equal(t, uint8(keycode.ModLeftAlt), m.AddStrong(keycode.ModLeftCtrl|keycode.ModLeftAlt))
	m.AddWeak(keycode.ModLeftShift)
	assert.Equal(t, uint8(0x07), m.Effective())

	assert.True(t, m.SetExact(keycode.ModRightGUI))
	assert.False(t, m.SetExact(keycode.ModRightGUI))
	assert.Equal(t, uint8(keycode.ModRightGUI|keycode.ModLeftShift), m.Effective())
	m.ClearExact()
	m.ClearWeak()
	assert.Equal(t, uint8(0x05), m.Effective())
	m.RemoveStrong(keycode.ModLeftCtrl)
	assert.Equal(t, uint8(keycode.ModLeftAlt), m.Strong())
}

func TestLEDComposition(t *testing.T) {
	var l keyboard.LEDs
	l.SetHost(keyboard.LEDNumLock | keyboard.LEDCapsLock)
	l.SetOverride(keyboard.LEDScrollLock, keyboard.LEDCapsLock)
	assert.Equal(t, uint8(keyboard.LEDNumLock|keyboard.LEDScrollLock), l.Effective())

	// Force-on wins over force-off for the same bit.
	l.SetOverride(keyboard.LEDCapsLock, keyboard.LEDCapsLock)
	assert.Equal(t, uint8(keyboard.LEDNumLock|keyboard.LEDCapsLock), l.Effective())

	var st keyboard.LEDState
	assert.Error(t, st.UnmarshalBinary(nil))
	assert.NoError(t, st.UnmarshalBinary([]byte{keyboard.LEDCapsLock | keyboard.LEDKana}))
	assert.Equal(t, keyboard.LEDState{CapsLock: true, Kana: true}, st)
	b, _ := st.MarshalBinary()
	assert.Equal(t, []byte{0x12}, b)
}
