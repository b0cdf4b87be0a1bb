// Package keymap loads layer tables and firmware options from YAML, TOML
// or JSON files. Every file is checked against an embedded JSON schema
// before it is decoded.
package keymap

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Alia5/kbdfw/device/keyboard"
	"github.com/Alia5/kbdfw/keycode"
	"github.com/Alia5/kbdfw/layer"
	"github.com/Alia5/kbdfw/resolver"
	"github.com/Alia5/kbdfw/usbdev"
)

// ErrInvalid wraps every schema and semantic error of a keymap.
var ErrInvalid = errors.New("invalid keymap")

// Keymap is the decoded form of a keymap file.
type Keymap struct {
	Name    string   `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Base    uint8    `json:"base" yaml:"base" toml:"base"`
	Options *Options `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
	Layers  []Layer  `json:"layers" yaml:"layers" toml:"layers"`
}

// Layer is one numbered table. Keys lists entries by position; Map sets
// individual physical keys and wins over Keys.
type Layer struct {
	Number uint8                      `json:"number" yaml:"number" toml:"number"`
	Name   string                     `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Keys   []keycode.Keycode          `json:"keys,omitempty" yaml:"keys,omitempty" toml:"keys,omitempty"`
	Map    map[string]keycode.Keycode `json:"map,omitempty" yaml:"map,omitempty" toml:"map,omitempty"`
}

// Options override firmware tunables. Unset fields keep the command line
// value.
type Options struct {
	Rollover           *int    `json:"rollover,omitempty" yaml:"rollover,omitempty" toml:"rollover,omitempty"`
	BootCompatReserved *bool   `json:"bootCompatReserved,omitempty" yaml:"bootCompatReserved,omitempty" toml:"bootCompatReserved,omitempty"`
	ReportID           *uint8  `json:"reportId,omitempty" yaml:"reportId,omitempty" toml:"reportId,omitempty"`
	IdleRate           *uint8  `json:"idleRate,omitempty" yaml:"idleRate,omitempty" toml:"idleRate,omitempty"`
	TapReleaseDelay    *uint8  `json:"tapReleaseDelay,omitempty" yaml:"tapReleaseDelay,omitempty" toml:"tapReleaseDelay,omitempty"`
	DualActionTimeout  *uint8  `json:"dualActionTimeout,omitempty" yaml:"dualActionTimeout,omitempty" toml:"dualActionTimeout,omitempty"`
	IdleDivider        *uint32 `json:"idleDivider,omitempty" yaml:"idleDivider,omitempty" toml:"idleDivider,omitempty"`
	SendTimeoutFrames  *uint32 `json:"sendTimeoutFrames,omitempty" yaml:"sendTimeoutFrames,omitempty" toml:"sendTimeoutFrames,omitempty"`
	VendorID           *uint16 `json:"vendorId,omitempty" yaml:"vendorId,omitempty" toml:"vendorId,omitempty"`
	ProductID          *uint16 `json:"productId,omitempty" yaml:"productId,omitempty" toml:"productId,omitempty"`
}

// Apply copies the set options into the component configurations. Any
// pointer may be nil.
func (o *Options) Apply(kb *keyboard.Options, rc *resolver.Config, uc *usbdev.Config) {
	if o == nil {
		return
	}
	if kb != nil {
		set(&kb.Rollover, o.Rollover)
		set(&kb.BootCompatReserved, o.BootCompatReserved)
		set(&kb.ReportID, o.ReportID)
		set(&kb.IdleRate, o.IdleRate)
	}
	if rc != nil {
		set(&rc.TapReleaseDelay, o.TapReleaseDelay)
		set(&rc.DualActionTimeout, o.DualActionTimeout)
	}
	if uc != nil {
		set(&uc.IdleDivider, o.IdleDivider)
		set(&uc.SendTimeoutFrames, o.SendTimeoutFrames)
		set(&uc.VendorID, o.VendorID)
		set(&uc.ProductID, o.ProductID)
	}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Tables converts the keymap to layer tables. Positions past the end of
// Keys and not named in Map stay undefined.
func (km *Keymap) Tables() ([]layer.Layer, error) {
	out := make([]layer.Layer, 0, len(km.Layers))
	seen := map[uint8]bool{}
	for _, l := range km.Layers {
		if l.Number < 1 || l.Number > layer.MaxLayers {
			return nil, fmt.Errorf("%w: layer number %d out of range", ErrInvalid, l.Number)
		}
		if seen[l.Number] {
			return nil, fmt.Errorf("%w: layer %d defined twice", ErrInvalid, l.Number)
		}
		seen[l.Number] = true

		tbl := slices.Clone(layer.Table(l.Keys))
		for name, code := range l.Map {
			phys, err := ParsePhysical(name)
			if err != nil {
				return nil, fmt.Errorf("%w: layer %d: %w", ErrInvalid, l.Number, err)
			}
			if int(phys) >= len(tbl) {
				tbl = append(tbl, make(layer.Table, int(phys)+1-len(tbl))...)
			}
			tbl[phys] = code
		}
		if len(tbl) > layer.MaxKeys {
			return nil, fmt.Errorf("%w: layer %d has %d keys", ErrInvalid, l.Number, len(tbl))
		}
		out = append(out, layer.Layer{Number: l.Number, Name: l.Name, Keys: tbl})
	}
	return out, nil
}

// Stack builds a layer stack from the keymap.
func (km *Keymap) Stack() (*layer.Stack, error) {
	tables, err := km.Tables()
	if err != nil {
		return nil, err
	}
	s, err := layer.NewStack(tables, km.Base)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return s, nil
}

// ParsePhysical reads a physical key id: a number (decimal or 0x hex) or a
// key name, whose usage id is taken as the position.
func ParsePhysical(s string) (uint8, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 0, 8); err == nil {
		if n >= layer.MaxKeys {
			return 0, fmt.Errorf("physical key %q out of range", s)
		}
		return uint8(n), nil
	}
	u, err := keycode.ParseUsage(s)
	if err != nil {
		return 0, fmt.Errorf("physical key: %w", err)
	}
	return u, nil
}
