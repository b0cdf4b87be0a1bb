// Package resolver turns physical key edges into keyboard state. It owns
// the key-source buffer, the dual-action pending flag, the scheduled tap
// release and the keylock, and drives a layer stack and a keyboard output.
//
// A Resolver is not safe for concurrent use. It belongs to the main loop.
package resolver

import (
	"log/slog"
	"slices"

	"github.com/Alia5/kbdfw/device/keyboard"
	"github.com/Alia5/kbdfw/keycode"
	"github.com/Alia5/kbdfw/layer"
)

// MaxSources bounds the key-source buffer.
const MaxSources = 10

// Config holds the resolver timing, in ticks (about 10 ms each).
type Config struct {
	TapReleaseDelay   uint8 `help:"Ticks a synthesized tap stays pressed" default:"1" env:"KBDFW_TAP_RELEASE_DELAY"`
	DualActionTimeout uint8 `help:"Ticks after which a held dual-action key counts as held (0 = never)" default:"20" env:"KBDFW_DUAL_ACTION_TIMEOUT"`
}

// Output is the keyboard state the resolver drives. *keyboard.Keyboard
// implements it.
type Output interface {
	PressKey(usage uint8)
	ReleaseKey(usage uint8)
	AddStrong(bits uint8) uint8
	RemoveStrong(bits uint8)
	AddWeak(bits uint8) uint8
	RemoveWeak(bits uint8)
	ClearWeak()
	Strong() uint8
	SetExactModifiers(mask uint8) bool
	ClearExactModifiers()
	SetError(code uint8)
	ClearError()
	Idle() bool
	ToggleProtocol() keyboard.Protocol
	Reset()
	SendIfNeeded() error
	SendWithout(strong uint8, exact bool) error
}

// Board is the platform collaborator.
type Board interface {
	// JumpToBootloader hands the device to the bootloader.
	JumpToBootloader()
	// Reset is told about every keyboard reset, after the state is cleared.
	Reset()
}

// Hooks are optional user extensions.
type Hooks struct {
	// PrePress may substitute the resolved keycode of a press and attach
	// one byte of data, returned again on release.
	PrePress func(phys uint8, code keycode.Keycode) (keycode.Keycode, uint8)
	// PostRelease runs after every release with the keycode and data the
	// press was resolved to.
	PostRelease func(code keycode.Keycode, phys uint8, data uint8)
	// Macro handles MACRO(id) keycodes on both edges and returns the data
	// to keep for the release.
	Macro func(r *Resolver, id uint8, release bool, data uint8) uint8
}

// Source records how a press was resolved, so its release undoes exactly
// that.
type Source struct {
	Phys uint8
	Data uint8
	Code keycode.Keycode
}

type scheduledRelease struct {
	active bool
	usage  uint8
	weak   uint8
	at     uint8
}

// Resolver is the key-event state machine.
type Resolver struct {
	cfg    Config
	layers *layer.Stack
	out    Output
	board  Board
	hooks  Hooks
	logger *slog.Logger

	sources []Source
	down    [8]uint32

	pending      bool
	pendingKey   uint8
	pendingSince uint8

	release scheduledRelease
	keylock keylock
	now     uint8
}

func New(cfg Config, layers *layer.Stack, out Output, board Board, hooks Hooks, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cfg:     cfg,
		layers:  layers,
		out:     out,
		board:   board,
		hooks:   hooks,
		logger:  logger,
		sources: make([]Source, 0, MaxSources),
	}
}

func (r *Resolver) Layers() *layer.Stack { return r.layers }

func (r *Resolver) SetConfig(cfg Config) { r.cfg = cfg }

// Sources returns a copy of the key-source buffer.
func (r *Resolver) Sources() []Source { return slices.Clone(r.sources) }

// Pending reports an armed dual-action key and which physical key armed it.
func (r *Resolver) Pending() (uint8, bool) { return r.pendingKey, r.pending }

func (r *Resolver) isDown(phys uint8) bool { return r.down[phys>>5]&(1<<(phys&31)) != 0 }

func (r *Resolver) setDown(phys uint8, down bool) {
	if down {
		r.down[phys>>5] |= 1 << (phys & 31)
	} else {
		r.down[phys>>5] &^= 1 << (phys & 31)
	}
}

// ProcessKey handles one debounced edge of a physical key.
func (r *Resolver) ProcessKey(phys uint8, release bool) {
	if r.release.active {
		r.flushRelease()
	}

	var code keycode.Keycode
	var data uint8
	src := -1
	if release {
		if !r.isDown(phys) {
			r.logger.Warn("release of a key that was never pressed, resetting", "key", phys)
			r.Reset()
			return
		}
		r.setDown(phys, false)
		code = keycode.Plain(phys)
		if i := r.findSource(phys); i >= 0 {
			code, data = r.sources[i].Code, r.sources[i].Data
			r.sources = slices.Delete(r.sources, i, i+1)
		}
		if r.keylock.holdRelease(phys, code, data) {
			r.logger.Debug("keylock holding key", "key", phys, "code", code)
			r.finish()
			return
		}
	} else {
		dup := r.isDown(phys)
		r.setDown(phys, true)
		code = r.layers.Resolve(phys)
		if r.hooks.PrePress != nil {
			code, data = r.hooks.PrePress(phys, code)
		}
		if code != keycode.Plain(phys) || data != 0 {
			if dup || r.findSource(phys) >= 0 || len(r.sources) == MaxSources {
				r.logger.Warn("key source buffer overflow", "key", phys, "sources", len(r.sources))
				r.out.SetError(keyboard.ErrorKeySource)
				release = true
			} else {
				src = len(r.sources)
				r.sources = append(r.sources, Source{Phys: phys, Data: data, Code: code})
			}
		}
	}

	if !release {
		r.out.ClearWeak()
		r.pending = false
		r.keylock.capture(phys, code)
	}

	data = r.dispatch(keycode.Decode(code), phys, release, data)
	if src >= 0 && src < len(r.sources) && r.sources[src].Phys == phys {
		r.sources[src].Data = data
	}

	if release && r.hooks.PostRelease != nil {
		r.hooks.PostRelease(code, phys, data)
	}
	r.finish()
}

func (r *Resolver) findSource(phys uint8) int {
	return slices.IndexFunc(r.sources, func(s Source) bool { return s.Phys == phys })
}

// finish clears a key-source error once everything is up again and flushes
// the report.
func (r *Resolver) finish() {
	if len(r.sources) == 0 && r.out.Idle() && r.down == [8]uint32{} {
		r.out.ClearError()
	}
	r.flush()
}

func (r *Resolver) send() {
	if err := r.out.SendIfNeeded(); err != nil {
		r.logger.Debug("report not sent", "error", err)
	}
}

// flush sends the report. While a dual-action key is undecided, the
// modifiers it contributed stay out of it so a tap never shows them.
func (r *Resolver) flush() {
	if !r.pending {
		r.send()
		return
	}
	strong, exact := r.pendingContribution()
	if err := r.out.SendWithout(strong, exact); err != nil {
		r.logger.Debug("report not sent", "error", err)
	}
}

// pendingContribution returns the strong bits, or the exact override, that
// the armed dual-action key added on press.
func (r *Resolver) pendingContribution() (strong uint8, exact bool) {
	i := r.findSource(r.pendingKey)
	if i < 0 {
		return 0, false
	}
	src := r.sources[i]
	v := keycode.Decode(src.Code)
	switch {
	case v.Kind == keycode.KindModOrKey:
		return src.Data, false
	case v.Kind == keycode.KindExactModifiers:
		return 0, src.Data != 0
	case v.Kind == keycode.KindExtended && (v.Extended == keycode.ExtHyper || v.Extended == keycode.ExtMeh):
		return src.Data, false
	}
	return 0, false
}

func (r *Resolver) arm(phys uint8) {
	r.pending = true
	r.pendingKey = phys
	r.pendingSince = r.now
}

// tapped reports, and clears, an armed pending flag owned by phys.
func (r *Resolver) tapped(phys uint8) bool {
	t := r.pending && r.pendingKey == phys
	if t {
		r.pending = false
	}
	return t
}

func (r *Resolver) dispatch(v keycode.View, phys uint8, release bool, data uint8) uint8 {
	switch v.Kind {
	case keycode.KindPass, keycode.KindNone:
	case keycode.KindPlain:
		if release {
			r.out.ReleaseKey(v.Key)
		} else {
			r.out.PressKey(v.Key)
		}
	case keycode.KindModified:
		// A remapped modifier key carries its extra bits for as long as it is
		// held; anything else applies them to this one key only.
		strong := keycode.IsModifierUsage(v.Key)
		if release {
			r.out.ReleaseKey(v.Key)
			if strong {
				r.out.RemoveStrong(data)
			} else {
				r.out.RemoveWeak(v.Mods)
			}
			return data
		}
		if strong {
			data = r.out.AddStrong(v.Mods)
		} else {
			r.out.AddWeak(v.Mods)
		}
		r.out.PressKey(v.Key)
	case keycode.KindModOrKey:
		if release {
			r.out.RemoveStrong(data)
			if r.tapped(phys) {
				r.logger.Debug("dual-action tap", "key", phys, "usage", v.Key)
				r.Tap(v.Key)
			}
			return data
		}
		data = r.out.AddStrong(v.Mods)
		r.arm(phys)
	case keycode.KindLayerOrKey:
		if release {
			if data != 0 {
				r.layers.Disable(v.Layer)
			}
			if r.tapped(phys) {
				r.logger.Debug("dual-action tap", "key", phys, "usage", v.Key)
				r.Tap(v.Key)
			}
			return data
		}
		data = 0
		if r.layers.Mask()&(1<<v.Layer) == 0 {
			r.layers.Enable(v.Layer)
			data = 1
		}
		r.arm(phys)
	case keycode.KindExactModifiers:
		if release {
			if data != 0 {
				r.out.ClearExactModifiers()
			}
			r.tapped(phys)
			return data
		}
		data = 0
		if r.out.SetExactModifiers(v.Mods) {
			data = 1
		}
		r.arm(phys)
	case keycode.KindMacro:
		if r.hooks.Macro != nil {
			data = r.hooks.Macro(r, v.Macro, release, data)
		}
	case keycode.KindLayerCommand:
		r.layerCommand(v, phys, release)
	case keycode.KindExtended:
		return r.builtin(v.Extended, phys, release, data)
	}
	return data
}

func (r *Resolver) builtin(e keycode.Extended, phys uint8, release bool, data uint8) uint8 {
	switch e {
	case keycode.ExtHyper, keycode.ExtMeh:
		mods := uint8(keycode.ModHyper)
		if e == keycode.ExtMeh {
			mods = keycode.ModMeh
		}
		if release {
			r.out.RemoveStrong(data)
			r.tapped(phys)
			return data
		}
		r.arm(phys)
		return r.out.AddStrong(mods)
	}
	if release {
		return data
	}
	switch e {
	case keycode.ExtReset:
		r.Reset()
	case keycode.ExtBootloader:
		r.logger.Info("entering bootloader")
		r.send()
		r.board.JumpToBootloader()
	case keycode.ExtResetLayers:
		r.ResetLayers()
	case keycode.ExtToggleBoot:
		p := r.out.ToggleProtocol()
		r.logger.Debug("protocol toggled", "protocol", p)
	case keycode.ExtKeylock:
		r.toggleKeylock(phys)
	case keycode.ExtDebugPrint:
		r.debugPrint()
	}
	return data
}

// Tap presses usage now and schedules its release. A release already
// scheduled is flushed first.
func (r *Resolver) Tap(usage uint8) { r.TapWithMods(0, usage) }

// TapWithMods is Tap with weak modifiers applied to the tapped key.
func (r *Resolver) TapWithMods(mods, usage uint8) {
	if r.release.active {
		r.flushRelease()
	}
	if mods != 0 {
		mods = r.out.AddWeak(mods)
	}
	r.out.PressKey(usage)
	r.release = scheduledRelease{active: true, usage: usage, weak: mods, at: r.now + r.cfg.TapReleaseDelay}
}

func (r *Resolver) flushRelease() {
	rel := r.release
	r.release = scheduledRelease{}
	r.out.ReleaseKey(rel.usage)
	if rel.weak != 0 {
		r.out.RemoveWeak(rel.weak)
	}
	r.flush()
}

// Tick advances the resolver clock. now wraps at 256; deadlines compare by
// signed 8-bit difference.
func (r *Resolver) Tick(now uint8) {
	r.now = now
	if r.release.active && int8(now-r.release.at) >= 0 {
		r.flushRelease()
	}
	if r.pending && r.cfg.DualActionTimeout != 0 && int8(now-(r.pendingSince+r.cfg.DualActionTimeout)) >= 0 {
		r.logger.Debug("dual-action timed out, holding", "key", r.pendingKey)
		r.pending = false
		r.send()
	}
}

// ResetLayers clears the layer stack and all modifiers without touching
// pressed keys or USB state.
func (r *Resolver) ResetLayers() {
	r.layers.Reset()
	r.out.RemoveStrong(0xFF)
	r.out.ClearWeak()
	r.out.ClearExactModifiers()
	r.logger.Debug("layers reset")
}

// Reset is the full keyboard reset: layers, modifiers, report state, key
// sources, the pending flag, the scheduled release and the keylock.
func (r *Resolver) Reset() {
	r.layers.Reset()
	r.out.Reset()
	r.sources = r.sources[:0]
	r.pending = false
	r.release = scheduledRelease{}
	r.keylock = keylock{}
	r.logger.Info("keyboard reset")
	if r.board != nil {
		r.board.Reset()
	}
	r.send()
}

func (r *Resolver) debugPrint() {
	r.logger.Info("debug",
		"base", r.layers.Base(),
		"mask", r.layers.Mask(),
		"highest", r.layers.HighestActive(),
		"strong", keycode.FormatMods(r.out.Strong()),
		"sources", len(r.sources),
		"pending", r.pending,
		"keylock", r.keylock.state.String(),
	)
}
