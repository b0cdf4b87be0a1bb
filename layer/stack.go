package layer

import (
	"fmt"
	"math/bits"

	"github.com/Alia5/kbdfw/keycode"
)

// ChangeFunc is called when a layer's effective enabled state changes.
type ChangeFunc func(layer uint8, enabled bool)

// Stack is the base layer boundary plus the mask of enabled layers above it.
// It is owned by the main loop and is not safe for concurrent use.
type Stack struct {
	tables   [MaxLayers + 1]Table
	present  uint32
	maxLayer uint8

	base        uint8
	prevBase    uint8
	defaultBase uint8
	mask        uint32
	prevMask    uint32

	// reported mirrors what OnChange listeners were last told.
	reported uint32
	onChange ChangeFunc
}

// NewStack builds a stack over layers with the given default base layer.
func NewStack(layers []Layer, defaultBase uint8) (*Stack, error) {
	if defaultBase > MaxLayers {
		return nil, fmt.Errorf("%w: base %d", ErrLayerNumber, defaultBase)
	}
	s := &Stack{defaultBase: defaultBase, base: defaultBase, prevBase: defaultBase}
	if err := s.Replace(layers); err != nil {
		return nil, err
	}
	if defaultBase > 0 {
		s.reported = 1 << defaultBase
	}
	return s, nil
}

// Replace swaps in a new set of tables. Base and mask are kept.
func (s *Stack) Replace(layers []Layer) error {
	if err := validate(layers); err != nil {
		return err
	}
	s.tables = [MaxLayers + 1]Table{}
	s.present = 0
	s.maxLayer = 0
	for _, l := range layers {
		s.tables[l.Number] = l.Keys
		s.present |= 1 << l.Number
		if l.Number > s.maxLayer {
			s.maxLayer = l.Number
		}
	}
	return nil
}

// OnChange installs the layer change listener.
func (s *Stack) OnChange(fn ChangeFunc) { s.onChange = fn }

func (s *Stack) Base() uint8          { return s.base }
func (s *Stack) PreviousBase() uint8  { return s.prevBase }
func (s *Stack) DefaultBase() uint8   { return s.defaultBase }
func (s *Stack) Mask() uint32         { return s.mask }
func (s *Stack) PreviousMask() uint32 { return s.prevMask }
func (s *Stack) MaxLayer() uint8      { return s.maxLayer }

// Has reports whether a table is configured for layer n.
func (s *Stack) Has(n uint8) bool {
	return n <= MaxLayers && s.present&(1<<n) != 0
}

// Enabled reports whether layer n takes part in resolution.
func (s *Stack) Enabled(n uint8) bool {
	if n > MaxLayers {
		return false
	}
	return n == s.base || (n > s.base && s.mask&(1<<n) != 0)
}

// HighestActive returns the number of the highest bit set in the mask, or 0.
func (s *Stack) HighestActive() uint8 {
	if s.mask == 0 {
		return 0
	}
	return uint8(bits.Len32(s.mask) - 1)
}

// Enable sets layer n in the mask.
func (s *Stack) Enable(n uint8) {
	if n == 0 || n > MaxLayers {
		return
	}
	s.mask |= 1 << n
	s.syncAbove()
}

// Disable clears layer n from the mask.
func (s *Stack) Disable(n uint8) {
	if n == 0 || n > MaxLayers {
		return
	}
	s.mask &^= 1 << n
	s.syncAbove()
}

// Toggle flips layer n in the mask.
func (s *Stack) Toggle(n uint8) {
	if n == 0 || n > MaxLayers {
		return
	}
	s.mask ^= 1 << n
	s.syncAbove()
}

// SetActiveMask replaces the whole mask, keeping the old one for
// RestorePreviousMask. Bit 0 is ignored.
func (s *Stack) SetActiveMask(mask uint32) {
	s.prevMask = s.mask
	s.mask = mask &^ 1
	s.syncAbove()
}

// RestorePreviousMask undoes the last SetActiveMask.
func (s *Stack) RestorePreviousMask() {
	s.mask, s.prevMask = s.prevMask, s.mask
	s.syncAbove()
}

// SetBase moves the base layer to n, keeping the old base for RestoreBase.
func (s *Stack) SetBase(n uint8) {
	if n > MaxLayers {
		return
	}
	s.prevBase = s.base
	s.moveBase(n)
}

// RestoreBase returns to the base layer in effect before the last SetBase.
func (s *Stack) RestoreBase() {
	prev := s.prevBase
	s.prevBase = s.base
	s.moveBase(prev)
}

func (s *Stack) moveBase(n uint8) {
	old := s.base
	if n == old {
		return
	}
	s.base = n
	lo, hi := old, n
	if lo > hi {
		lo, hi = hi, lo
	}
	s.sync(lo, hi)
}

// Reset restores the default base layer and clears both masks.
func (s *Stack) Reset() {
	s.base = s.defaultBase
	s.prevBase = s.defaultBase
	s.mask = 0
	s.prevMask = 0
	s.sync(1, MaxLayers)
}

// Resolve returns the keycode for physical key k: the first non-Pass entry
// of the highest enabled layer whose table covers k, or Plain(k).
func (s *Stack) Resolve(k uint8) keycode.Keycode {
	floor := s.base
	if floor < 1 {
		floor = 1
	}
	for n := s.maxLayer; n >= floor && n > 0; n-- {
		if !s.Enabled(n) || s.present&(1<<n) == 0 {
			continue
		}
		if c, ok := s.tables[n].Lookup(k); ok && c != keycode.Pass {
			return c
		}
	}
	return keycode.Plain(k)
}

func (s *Stack) syncAbove() {
	if s.base >= MaxLayers {
		return
	}
	s.sync(s.base+1, MaxLayers)
}

// sync fires listeners for layers in [lo, hi] whose effective state differs
// from what was last reported. Layers below the base that are still set in
// the mask are left as reported.
func (s *Stack) sync(lo, hi uint8) {
	if lo < 1 {
		lo = 1
	}
	for n := lo; n <= hi && n <= MaxLayers; n++ {
		bit := uint32(1) << n
		want := s.Enabled(n)
		if n < s.base && s.mask&bit != 0 {
			want = s.reported&bit != 0
		}
		if want == (s.reported&bit != 0) {
			continue
		}
		s.reported ^= bit
		if s.onChange != nil {
			s.onChange(n, want)
		}
	}
}
