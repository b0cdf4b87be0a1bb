package resolver

import "github.com/Alia5/kbdfw/keycode"

type keylockState uint8

const (
	keylockOff keylockState = iota
	keylockArmed
	keylockHeld
)

func (s keylockState) String() string {
	switch s {
	case keylockArmed:
		return "armed"
	case keylockHeld:
		return "held"
	}
	return "off"
}

// keylock keeps the first key pressed after arming logically held past its
// physical release, until the keylock key is pressed again.
type keylock struct {
	state    keylockState
	phys     uint8
	released bool
	code     keycode.Keycode
	data     uint8
}

func (k *keylock) capture(phys uint8, code keycode.Keycode) {
	if k.state != keylockArmed || code == keycode.Keylock {
		return
	}
	*k = keylock{state: keylockHeld, phys: phys}
}

// holdRelease swallows the release of the locked key and keeps what it
// resolved to.
func (k *keylock) holdRelease(phys uint8, code keycode.Keycode, data uint8) bool {
	if k.state != keylockHeld || k.phys != phys || k.released {
		return false
	}
	k.released = true
	k.code = code
	k.data = data
	return true
}

// KeylockState returns "off", "armed" or "held".
func (r *Resolver) KeylockState() string { return r.keylock.state.String() }

func (r *Resolver) toggleKeylock(phys uint8) {
	k := r.keylock
	r.keylock = keylock{}
	switch k.state {
	case keylockOff:
		r.keylock.state = keylockArmed
		r.logger.Debug("keylock armed", "key", phys)
	case keylockArmed:
		r.logger.Debug("keylock cancelled")
	case keylockHeld:
		r.logger.Debug("keylock released", "key", k.phys)
		if !k.released {
			// Still physically down; its own release finishes it.
			return
		}
		data := r.dispatch(keycode.Decode(k.code), k.phys, true, k.data)
		if r.hooks.PostRelease != nil {
			r.hooks.PostRelease(k.code, k.phys, data)
		}
	}
}
