package keyboard

import "io"

// LED bitmasks (HID LED page usages 1..5).
const (
	LEDNumLock    = 0x01
	LEDCapsLock   = 0x02
	LEDScrollLock = 0x04
	LEDCompose    = 0x08
	LEDKana       = 0x10

	// LEDOverrideMask covers the LEDs that can be forced on or off.
	LEDOverrideMask = 0x0F
)

// LEDs composes the host-requested LED byte with local force masks.
type LEDs struct {
	host     uint8
	forceOn  uint8
	forceOff uint8
}

func (l *LEDs) SetHost(b uint8) { l.host = b }
func (l *LEDs) Host() uint8     { return l.host }

// SetOverride replaces both force masks. Bits outside LEDOverrideMask are
// dropped.
func (l *LEDs) SetOverride(on, off uint8) {
	l.forceOn = on & LEDOverrideMask
	l.forceOff = off & LEDOverrideMask
}

func (l *LEDs) Override() (on, off uint8) { return l.forceOn, l.forceOff }

// Effective applies force-off before force-on.
func (l *LEDs) Effective() uint8 {
	return (l.host &^ l.forceOff) | l.forceOn
}

// LEDState is the decoded LED byte.
type LEDState struct {
	NumLock    bool
	CapsLock   bool
	ScrollLock bool
	Compose    bool
	Kana       bool
}

// LEDStateFromByte decodes an LED byte.
func LEDStateFromByte(b uint8) LEDState {
	return LEDState{
		NumLock:    b&LEDNumLock != 0,
		CapsLock:   b&LEDCapsLock != 0,
		ScrollLock: b&LEDScrollLock != 0,
		Compose:    b&LEDCompose != 0,
		Kana:       b&LEDKana != 0,
	}
}

// Byte encodes the state back into the LED byte.
func (st LEDState) Byte() uint8 {
	var b uint8
	if st.NumLock {
		b |= LEDNumLock
	}
	if st.CapsLock {
		b |= LEDCapsLock
	}
	if st.ScrollLock {
		b |= LEDScrollLock
	}
	if st.Compose {
		b |= LEDCompose
	}
	if st.Kana {
		b |= LEDKana
	}
	return b
}

// UnmarshalBinary decodes a 1-byte LED bitmask into LEDState.
func (st *LEDState) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return io.ErrUnexpectedEOF
	}
	*st = LEDStateFromByte(data[0])
	return nil
}

// MarshalBinary encodes LEDState as one byte.
func (st LEDState) MarshalBinary() ([]byte, error) {
	return []byte{st.Byte()}, nil
}
