package resolver

import "github.com/Alia5/kbdfw/keycode"

// layerAction maps an edge of a layer command to +1 (activate), -1
// (deactivate) or 0.
func (r *Resolver) layerAction(act keycode.Activation, phys uint8, release bool) int {
	switch act {
	case keycode.OnHold:
		if release {
			return -1
		}
		return 1
	case keycode.OnRelease:
		if release {
			return 1
		}
	case keycode.OnPress:
		if !release {
			return 1
		}
	case keycode.IfNoKeypress:
		if !release {
			r.arm(phys)
			return 0
		}
		if r.tapped(phys) {
			return 1
		}
	case keycode.OnHoldKeepIfNoKeypress:
		if !release {
			r.arm(phys)
			return 1
		}
		if !r.tapped(phys) {
			return -1
		}
	}
	return 0
}

func (r *Resolver) layerCommand(v keycode.View, phys uint8, release bool) {
	a := r.layerAction(v.Activation, phys, release)
	if a == 0 {
		return
	}
	n := v.Layer
	switch v.Op {
	case keycode.OpToggle:
		r.layers.Toggle(n)
	case keycode.OpEnable, keycode.OpDisable:
		if (a > 0) == (v.Op == keycode.OpEnable) {
			r.layers.Enable(n)
		} else {
			r.layers.Disable(n)
		}
	case keycode.OpSetMask:
		if a > 0 {
			r.layers.SetActiveMask(1 << n)
		} else {
			r.layers.RestorePreviousMask()
		}
	case keycode.OpSetBase:
		if a > 0 {
			r.layers.SetBase(n)
		} else {
			r.layers.RestoreBase()
		}
	}
	r.logger.Debug("layer command", "op", v.Op, "activation", v.Activation, "layer", n, "action", a,
		"base", r.layers.Base(), "mask", r.layers.Mask())
}
