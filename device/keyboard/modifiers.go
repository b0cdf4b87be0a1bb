package keyboard

// Modifiers tracks the modifier byte sources. Strong bits follow held
// modifier keys, weak bits last for a single keypress, and an exact
// override, while active, replaces the strong bits.
type Modifiers struct {
	strong      uint8
	weak        uint8
	exact       uint8
	exactActive bool
}

// AddStrong sets bits and returns those that were not already set.
func (m *Modifiers) AddStrong(bits uint8) uint8 {
	added := bits &^ m.strong
	m.strong |= bits
	return added
}

func (m *Modifiers) RemoveStrong(bits uint8) { m.strong &^= bits }

// AddWeak sets bits and returns those that were not already set.
func (m *Modifiers) AddWeak(bits uint8) uint8 {
	added := bits &^ m.weak
	m.weak |= bits
	return added
}

func (m *Modifiers) RemoveWeak(bits uint8) { m.weak &^= bits }
func (m *Modifiers) ClearWeak()            { m.weak = 0 }

func (m Modifiers) Strong() uint8 { return m.strong }
func (m Modifiers) Weak() uint8   { return m.weak }

// SetExact activates the override. It reports false if one was already
// active, in which case the mask is still replaced.
func (m *Modifiers) SetExact(mask uint8) bool {
	was := m.exactActive
	m.exact = mask
	m.exactActive = true
	return !was
}

func (m *Modifiers) ClearExact() {
	m.exact = 0
	m.exactActive = false
}

func (m Modifiers) Exact() (uint8, bool) { return m.exact, m.exactActive }

// Effective is the byte written to reports.
func (m Modifiers) Effective() uint8 {
	if m.exactActive {
		return m.exact | m.weak
	}
	return m.strong | m.weak
}

// Without is Effective with the strong bits in strong left out and, when
// exact is set, the exact override ignored.
func (m Modifiers) Without(strong uint8, exact bool) uint8 {
	if m.exactActive && !exact {
		return m.exact | m.weak
	}
	return m.strong&^strong | m.weak
}

func (m *Modifiers) Reset() { *m = Modifiers{} }
