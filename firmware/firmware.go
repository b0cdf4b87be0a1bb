// Package firmware is the main loop of the keyboard: it owns the resolver
// and layer stack, feeds them key edges and ticks, and shares the keyboard,
// generic HID and DFU functions with the USB engine.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alia5/kbdfw/critical"
	"github.com/Alia5/kbdfw/device/dfu"
	"github.com/Alia5/kbdfw/device/generic"
	"github.com/Alia5/kbdfw/device/keyboard"
	"github.com/Alia5/kbdfw/keymap"
	"github.com/Alia5/kbdfw/resolver"
	"github.com/Alia5/kbdfw/usb"
	"github.com/Alia5/kbdfw/usbdev"
)

// DefaultTickInterval is the resolver tick period.
const DefaultTickInterval = 10 * time.Millisecond

const queueLen = 64

// ErrStopped is returned when posting to a firmware whose Run has ended.
var ErrStopped = errors.New("firmware: stopped")

// ErrQueueFull is returned when work posted from the USB path is dropped.
var ErrQueueFull = errors.New("firmware: queue full")

// Version is reported in the generic HID status report.
var Version = [3]uint8{1, 0, 0}

// Config collects the component configurations. Keymap options are
// applied on top of it by New.
type Config struct {
	Keyboard     keyboard.Options
	Resolver     resolver.Config
	USB          usbdev.Config
	TickInterval time.Duration
	Hooks        resolver.Hooks
}

// Firmware wires the keyboard engine together. Run must be running for
// key edges and commands to be processed.
type Firmware struct {
	cs     *critical.Section
	logger *slog.Logger
	board  resolver.Board
	cfg    Config

	engine   *usbdev.Engine
	keyboard *keyboard.Keyboard
	generic  *generic.Generic
	dfu      *dfu.Runtime
	resolver *resolver.Resolver

	work    chan func()
	done    chan struct{}
	running atomic.Bool
	tick    uint8

	state atomic.Pointer[State]

	ledMu   sync.Mutex
	ledSubs map[int]chan keyboard.LEDState
	ledNext int
}

// New builds the firmware for km. board may be nil.
func New(km *keymap.Keymap, cfg Config, board resolver.Board, logger *slog.Logger) (*Firmware, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if board == nil {
		board = logBoard{logger: logger}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	km.Options.Apply(&cfg.Keyboard, &cfg.Resolver, &cfg.USB)

	stack, err := km.Stack()
	if err != nil {
		return nil, err
	}

	f := &Firmware{
		cs:      &critical.Section{},
		logger:  logger,
		board:   board,
		cfg:     cfg,
		work:    make(chan func(), queueLen),
		done:    make(chan struct{}),
		ledSubs: map[int]chan keyboard.LEDState{},
	}

	f.engine = usbdev.New(f.cs, cfg.USB, logger.With("component", "usb"))
	f.keyboard = keyboard.New(f.cs, f.engine, cfg.Keyboard, logger.With("component", "keyboard"))
	f.generic = generic.New(f.cs, f.engine, generic.Commands{Target: target{f}}, logger.With("component", "generic"))
	f.dfu = dfu.New(f.cs, logger.With("component", "dfu"))

	for _, fn := range []usbdev.Function{f.keyboard, f.generic, f.dfu} {
		if _, err := f.engine.Register(fn); err != nil {
			return nil, fmt.Errorf("register usb function: %w", err)
		}
	}

	f.resolver = resolver.New(cfg.Resolver, stack, f.keyboard, firmwareBoard{f}, cfg.Hooks, logger.With("component", "resolver"))
	stack.OnChange(func(n uint8, enabled bool) {
		f.logger.Debug("Layer changed", "layer", n, "enabled", enabled)
	})

	f.keyboard.OnLEDChange(f.fanoutLEDs)
	f.generic.OnJumpToBootloader(f.postBootloader)
	f.dfu.OnDetach(f.postBootloader)
	f.engine.OnBusReset(func() {
		if err := f.tryPost(f.resolver.Reset); err != nil {
			f.logger.Warn("Dropped reset after bus reset", "error", err)
		}
	})

	f.publish()
	return f, nil
}

// Device is the USB device for a bus transport.
func (f *Firmware) Device() usb.Device { return f.engine }

func (f *Firmware) Engine() *usbdev.Engine       { return f.engine }
func (f *Firmware) Keyboard() *keyboard.Keyboard { return f.keyboard }
func (f *Firmware) Generic() *generic.Generic    { return f.generic }

// Run processes key edges, posted work and ticks until ctx ends.
func (f *Firmware) Run(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return errors.New("firmware: already running")
	}
	defer close(f.done)

	ticker := time.NewTicker(f.cfg.TickInterval)
	defer ticker.Stop()

	f.logger.Info("Firmware running", "tick", f.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-f.work:
			fn()
			f.publish()
		case <-ticker.C:
			f.tick++
			f.resolver.Tick(f.tick)
			f.publish()
		}
	}
}

func (f *Firmware) post(ctx context.Context, fn func()) error {
	select {
	case <-f.done:
		return ErrStopped
	default:
	}
	select {
	case f.work <- fn:
		return nil
	case <-f.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryPost queues fn without blocking. It is used from the USB path, where
// waiting for the main loop could deadlock.
func (f *Firmware) tryPost(fn func()) error {
	select {
	case f.work <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// ProcessKey queues one physical key edge. Edges are processed in order.
func (f *Firmware) ProcessKey(ctx context.Context, phys uint8, release bool) error {
	return f.post(ctx, func() { f.resolver.ProcessKey(phys, release) })
}

// Do runs fn on the main loop and waits for it to finish.
func (f *Firmware) Do(ctx context.Context, fn func(r *resolver.Resolver)) error {
	finished := make(chan struct{})
	if err := f.post(ctx, func() {
		defer close(finished)
		fn(f.resolver)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-f.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReplaceKeymap swaps in the tables and resolver options of km between key
// events. Keys already down release the way they were pressed. Keyboard
// and USB options only take effect on restart.
func (f *Firmware) ReplaceKeymap(ctx context.Context, km *keymap.Keymap) error {
	tables, err := km.Tables()
	if err != nil {
		return err
	}
	rc := f.cfg.Resolver
	km.Options.Apply(nil, &rc, nil)

	var replaceErr error
	if err := f.Do(ctx, func(r *resolver.Resolver) {
		if replaceErr = r.Layers().Replace(tables); replaceErr != nil {
			return
		}
		r.SetConfig(rc)
	}); err != nil {
		return err
	}
	if replaceErr != nil {
		return fmt.Errorf("%w: %w", keymap.ErrInvalid, replaceErr)
	}
	f.logger.Info("Keymap replaced", "name", km.Name, "layers", len(tables))
	return nil
}

// SetLEDOverride forces LEDs on or off on top of the host state.
func (f *Firmware) SetLEDOverride(on, off uint8) { f.keyboard.SetLEDOverride(on, off) }

func (f *Firmware) Suspend() {
	f.engine.Suspend()
	f.refresh()
}

func (f *Firmware) Resume() {
	f.engine.Resume()
	f.refresh()
}

// RemoteWakeup signals resume to the host.
func (f *Firmware) RemoteWakeup() error {
	defer f.refresh()
	return f.engine.RemoteWakeup()
}

// refresh asks the main loop to take a new snapshot. The resolver may
// only be read from there.
func (f *Firmware) refresh() { _ = f.tryPost(func() {}) }

func (f *Firmware) postBootloader() {
	if err := f.tryPost(f.jumpToBootloader); err != nil {
		f.logger.Warn("Dropped bootloader request", "error", err)
	}
}

func (f *Firmware) jumpToBootloader() {
	f.logger.Info("Jumping to bootloader")
	f.board.JumpToBootloader()
}

// firmwareBoard is the resolver's board: it logs and forwards.
type firmwareBoard struct{ f *Firmware }

func (b firmwareBoard) JumpToBootloader() { b.f.jumpToBootloader() }

func (b firmwareBoard) Reset() {
	b.f.logger.Info("Keyboard reset")
	b.f.board.Reset()
}

type logBoard struct{ logger *slog.Logger }

func (b logBoard) JumpToBootloader() { b.logger.Warn("No bootloader on this board") }
func (b logBoard) Reset()            {}
