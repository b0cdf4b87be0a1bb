// Package layer holds the remapping tables and the layer stack that selects
// which of them are consulted when a physical key is resolved.
package layer

import (
	"errors"
	"fmt"

	"github.com/Alia5/kbdfw/keycode"
)

// MaxLayers is the highest layer number.
const MaxLayers = keycode.MaxLayer

// MaxKeys bounds the size of a single table.
const MaxKeys = 255

var (
	ErrLayerNumber    = errors.New("layer number out of range")
	ErrDuplicateLayer = errors.New("duplicate layer number")
	ErrTableTooLarge  = errors.New("layer table too large")
)

// Table maps physical key ids to keycodes. Indexes past the end are
// undefined and fall through to the next lower layer, as does an explicit
// keycode.Pass. keycode.None is a defined entry that suppresses the key.
type Table []keycode.Keycode

// Lookup returns the entry for physical key k. The bool is false when k lies
// past the end of the table.
func (t Table) Lookup(k uint8) (keycode.Keycode, bool) {
	if int(k) >= len(t) {
		return keycode.Pass, false
	}
	return t[k], true
}

// Layer is a numbered table.
type Layer struct {
	Number uint8
	Name   string
	Keys   Table
}

func validate(layers []Layer) error {
	var seen uint32
	for _, l := range layers {
		if l.Number < 1 || l.Number > MaxLayers {
			return fmt.Errorf("%w: %d", ErrLayerNumber, l.Number)
		}
		if seen&(1<<l.Number) != 0 {
			return fmt.Errorf("%w: %d", ErrDuplicateLayer, l.Number)
		}
		if len(l.Keys) > MaxKeys {
			return fmt.Errorf("%w: layer %d has %d entries", ErrTableTooLarge, l.Number, len(l.Keys))
		}
		seen |= 1 << l.Number
	}
	return nil
}
