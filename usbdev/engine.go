// Package usbdev is the USB device-side protocol engine: the control
// transfer state machine for standard requests, dispatch of class requests
// to the registered interface functions, endpoint bank management, the
// frame-driven idle tick and suspend/resume/remote-wakeup handling.
//
// Methods fall in two groups. Control, Frame, ReadIn, WriteOut, Suspend,
// Resume and BusReset are driven by the bus transport ("interrupt
// context"). Send and RemoteWakeup are called from the main loop. Both
// groups serialize on the shared critical.Section.
package usbdev

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Alia5/kbdfw/critical"
	"github.com/Alia5/kbdfw/usb"
)

// Config holds the device identity and engine timing.
type Config struct {
	VendorID          uint16 `help:"USB vendor id" default:"11914" env:"KBDFW_USB_VID"`
	ProductID         uint16 `help:"USB product id" default:"16" env:"KBDFW_USB_PID"`
	DeviceVersion     uint16 `help:"bcdDevice" default:"256" env:"KBDFW_USB_BCD_DEVICE"`
	Manufacturer      string `help:"Manufacturer string" default:"kbdfw" env:"KBDFW_USB_MANUFACTURER"`
	Product           string `help:"Product string" default:"kbdfw keyboard" env:"KBDFW_USB_PRODUCT"`
	Serial            string `help:"Serial number string" default:"0001" env:"KBDFW_USB_SERIAL"`
	MaxPacketSize0    uint8  `help:"EP0 max packet size" default:"64" env:"KBDFW_USB_EP0_SIZE"`
	MaxPower          uint8  `help:"bMaxPower in 2 mA units" default:"50" env:"KBDFW_USB_MAX_POWER"`
	IdleDivider       uint32 `help:"Frames per idle tick" default:"4" env:"KBDFW_USB_IDLE_DIVIDER"`
	SendTimeoutFrames uint32 `help:"Frames to wait for a free IN bank" default:"50" env:"KBDFW_USB_SEND_TIMEOUT"`
}

func (c Config) normalized() Config {
	if c.MaxPacketSize0 == 0 {
		c.MaxPacketSize0 = 64
	}
	if c.IdleDivider == 0 {
		c.IdleDivider = 4
	}
	if c.SendTimeoutFrames == 0 {
		c.SendTimeoutFrames = 50
	}
	return c
}

// Banks per IN endpoint (double buffering).
const bankCount = 2

const configurationValue = 1

// String descriptor indexes.
const (
	stringManufacturer = 1
	stringProduct      = 2
	stringSerial       = 3
)

type endpoint struct {
	desc    usb.EndpointDescriptor
	owner   Function
	enabled bool
	halted  bool
	banks   [][]byte
}

func (ep *endpoint) isIn() bool { return ep.desc.BEndpointAddress&usb.EndpointDirIn != 0 }

// Engine is the USB device state machine.
type Engine struct {
	cs     *critical.Section
	cfg    Config
	logger *slog.Logger

	desc      usb.Descriptor
	funcs     []Function
	endpoints map[uint8]*endpoint

	address       uint8
	configuration uint8
	remoteWakeup  bool
	suspended     bool
	suspendArmed  bool
	resumeArmed   bool
	sofEnabled    bool
	frame         uint32
	lastError     uint8

	// changed is closed and replaced whenever banks or bus state change.
	changed chan struct{}

	onBusReset func()
}

// New returns an engine sharing cs with the registered functions.
func New(cs *critical.Section, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalized()
	e := &Engine{
		cs:           cs,
		cfg:          cfg,
		logger:       logger,
		endpoints:    map[uint8]*endpoint{},
		changed:      make(chan struct{}),
		suspendArmed: true,
	}
	e.desc = usb.Descriptor{
		Device: usb.DeviceDescriptor{
			BcdUSB:             0x0200,
			BMaxPacketSize0:    cfg.MaxPacketSize0,
			IDVendor:           cfg.VendorID,
			IDProduct:          cfg.ProductID,
			BcdDevice:          cfg.DeviceVersion,
			IManufacturer:      stringManufacturer,
			IProduct:           stringProduct,
			ISerialNumber:      stringSerial,
			BNumConfigurations: 1,
			Speed:              2, // Full speed
		},
		Config: usb.ConfigHeader{
			BConfigurationValue: configurationValue,
			BMAttributes:        usb.ConfigAttrReserved | usb.ConfigAttrRemoteWakeup,
			BMaxPower:           cfg.MaxPower,
		},
		Strings: map[uint8]string{
			stringManufacturer: cfg.Manufacturer,
			stringProduct:      cfg.Product,
			stringSerial:       cfg.Serial,
		},
	}
	return e
}

// Register adds a function as the next interface. Functions must be
// registered before the host connects.
func (e *Engine) Register(f Function) (uint8, error) {
	defer e.cs.Enter().Exit()
	n := uint8(len(e.funcs))
	if nf, ok := f.(Numbered); ok {
		nf.SetInterfaceNumber(n)
	}
	ic := f.Interface()
	ic.Descriptor.BInterfaceNumber = n
	for _, ed := range ic.Endpoints {
		if _, dup := e.endpoints[ed.BEndpointAddress]; dup {
			return 0, fmt.Errorf("usb: endpoint 0x%02x already registered", ed.BEndpointAddress)
		}
	}
	for _, ed := range ic.Endpoints {
		e.endpoints[ed.BEndpointAddress] = &endpoint{desc: ed, owner: f}
	}
	e.funcs = append(e.funcs, f)
	e.desc.Interfaces = append(e.desc.Interfaces, ic)
	return n, nil
}

// OnBusReset installs a hook run after a bus reset, outside the critical
// section.
func (e *Engine) OnBusReset(fn func()) {
	defer e.cs.Enter().Exit()
	e.onBusReset = fn
}

// Descriptor implements usb.Device.
func (e *Engine) Descriptor() *usb.Descriptor { return &e.desc }

func (e *Engine) broadcastLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Engine) failLocked(code uint8) {
	e.lastError = code
}

// Control implements usb.Device. It runs the whole control transfer and
// returns the data stage, truncated to wLength.
func (e *Engine) Control(raw [8]byte, out []byte) ([]byte, error) {
	s := ParseSetup(raw)
	defer e.cs.Enter().Exit()
	act := e.handleSetupLocked(s, out)
	if act.Stall {
		lvl := slog.LevelWarn
		if e.lastError == LastErrorDescriptor {
			// Hosts probe for optional descriptors routinely.
			lvl = slog.LevelDebug
		}
		e.logger.Log(context.Background(), lvl, "control request stalled", "setup", s.String(), "lastError", string(rune(e.lastError)))
		return nil, ErrStalled
	}
	e.logger.Debug("control request", "setup", s.String(), "len", len(act.Data))
	return act.Data, nil
}

// HandleSetup runs one setup packet through the state machine and returns
// the resulting control-endpoint action.
func (e *Engine) HandleSetup(raw [8]byte, out []byte) Action {
	defer e.cs.Enter().Exit()
	return e.handleSetupLocked(ParseSetup(raw), out)
}

func (e *Engine) handleSetupLocked(s Setup, out []byte) Action {
	var data []byte
	var code uint8
	switch s.Kind() {
	case KindStandard:
		data, code = e.standardLocked(s)
	case KindClass, KindVendor:
		data, code = e.classLocked(s, out)
	default:
		code = LastErrorRequest
	}
	if code != LastErrorNone {
		e.failLocked(code)
		return Action{Stall: true}
	}
	return newAction(data, s.Length, uint16(e.cfg.MaxPacketSize0))
}

func (e *Engine) standardLocked(s Setup) ([]byte, uint8) {
	switch s.Recipient() {
	case RecipientDevice:
		return e.deviceRequestLocked(s)
	case RecipientInterface:
		return e.interfaceRequestLocked(s)
	case RecipientEndpoint:
		return e.endpointRequestLocked(s)
	}
	return nil, LastErrorRequest
}

func (e *Engine) deviceRequestLocked(s Setup) ([]byte, uint8) {
	switch s.Request {
	case ReqGetStatus:
		var st uint8
		if e.remoteWakeup {
			st |= 0x02
		}
		return []byte{st, 0}, LastErrorNone
	case ReqClearFeature, ReqSetFeature:
		if s.Value != FeatureDeviceRemoteWakeup {
			return nil, LastErrorRequest
		}
		e.remoteWakeup = s.Request == ReqSetFeature
		return nil, LastErrorNone
	case ReqSetAddress:
		e.address = uint8(s.Value & 0x7F)
		return nil, LastErrorNone
	case ReqGetDescriptor:
		return e.descriptorLocked(s)
	case ReqGetConfiguration:
		return []byte{e.configuration}, LastErrorNone
	case ReqSetConfiguration:
		switch s.Value & 0xFF {
		case 0:
			e.deconfigureLocked()
		case configurationValue:
			e.configureLocked()
		default:
			return nil, LastErrorRequest
		}
		return nil, LastErrorNone
	}
	return nil, LastErrorRequest
}

func (e *Engine) descriptorLocked(s Setup) ([]byte, uint8) {
	switch s.DescriptorType() {
	case usb.DeviceDescType:
		return e.desc.DeviceBytes(), LastErrorNone
	case usb.ConfigDescType:
		return e.desc.ConfigBytes(), LastErrorNone
	case usb.StringDescType:
		if b, ok := e.desc.StringBytes(s.DescriptorIndex()); ok {
			return b, LastErrorNone
		}
	}
	return nil, LastErrorDescriptor
}

func (e *Engine) interfaceRequestLocked(s Setup) ([]byte, uint8) {
	n := s.InterfaceNumber()
	if int(n) >= len(e.funcs) {
		return nil, LastErrorRequest
	}
	ic := e.desc.Interfaces[n]
	switch s.Request {
	case ReqGetStatus:
		return []byte{0, 0}, LastErrorNone
	case ReqGetDescriptor:
		switch s.DescriptorType() {
		case usb.HIDDescType:
			if b := ic.HIDClassDescriptor(); b != nil {
				return b, LastErrorNone
			}
		case usb.ReportDescType:
			if len(ic.HIDReport) > 0 {
				return ic.HIDReport, LastErrorNone
			}
		}
		return nil, LastErrorDescriptor
	case ReqGetInterface:
		if e.configuration == 0 {
			return nil, LastErrorNotConfigured
		}
		return []byte{0}, LastErrorNone
	case ReqSetInterface:
		if e.configuration == 0 {
			return nil, LastErrorNotConfigured
		}
		if s.Value != 0 {
			return nil, LastErrorRequest
		}
		return nil, LastErrorNone
	}
	return nil, LastErrorRequest
}

func (e *Engine) endpointRequestLocked(s Setup) ([]byte, uint8) {
	addr := uint8(s.Index)
	if addr&0x0F == 0 {
		if s.Request == ReqGetStatus {
			return []byte{0, 0}, LastErrorNone
		}
		return nil, LastErrorRequest
	}
	ep := e.endpoints[addr]
	if ep == nil {
		return nil, LastErrorEndpoint
	}
	switch s.Request {
	case ReqGetStatus:
		var st uint8
		if ep.halted {
			st = 1
		}
		return []byte{st, 0}, LastErrorNone
	case ReqClearFeature, ReqSetFeature:
		if s.Value != FeatureEndpointHalt {
			return nil, LastErrorRequest
		}
		ep.halted = s.Request == ReqSetFeature
		if !ep.halted {
			ep.banks = nil
		}
		e.broadcastLocked()
		return nil, LastErrorNone
	}
	return nil, LastErrorRequest
}

func (e *Engine) classLocked(s Setup, out []byte) ([]byte, uint8) {
	if s.Recipient() != RecipientInterface {
		return nil, LastErrorRequest
	}
	n := s.InterfaceNumber()
	if int(n) >= len(e.funcs) {
		return nil, LastErrorRequest
	}
	data, err := e.funcs[n].HandleSetupLocked(s, out)
	if err != nil {
		return nil, LastErrorRequest
	}
	return data, LastErrorNone
}

func (e *Engine) configureLocked() {
	for _, ep := range e.endpoints {
		ep.enabled = true
		ep.halted = false
		ep.banks = nil
	}
	e.configuration = configurationValue
	e.sofEnabled = true
	for _, f := range e.funcs {
		if c, ok := f.(Configurer); ok {
			c.ConfigureLocked(true)
		}
	}
	e.broadcastLocked()
	e.logger.Debug("usb configured", "address", e.address)
}

func (e *Engine) deconfigureLocked() {
	for _, ep := range e.endpoints {
		ep.enabled = false
		ep.banks = nil
	}
	was := e.configuration != 0
	e.configuration = 0
	e.sofEnabled = false
	if was {
		for _, f := range e.funcs {
			if c, ok := f.(Configurer); ok {
				c.ConfigureLocked(false)
			}
		}
	}
	e.broadcastLocked()
}

// Frame implements usb.Device: one start-of-frame interrupt.
func (e *Engine) Frame() {
	defer e.cs.Enter().Exit()
	if !e.sofEnabled {
		return
	}
	e.frame++
	if e.frame%e.cfg.IdleDivider == 0 && !e.suspended {
		for _, f := range e.funcs {
			if h, ok := f.(FrameHandler); ok {
				h.FrameLocked(e)
			}
		}
	}
	e.broadcastLocked()
}

// CanWriteLocked implements EndpointWriter.
func (e *Engine) CanWriteLocked(addr uint8) bool {
	ep := e.endpoints[addr]
	return ep != nil && ep.isIn() && ep.enabled && !ep.halted && len(ep.banks) < bankCount
}

// TryWriteLocked implements EndpointWriter.
func (e *Engine) TryWriteLocked(addr uint8, data []byte) bool {
	if !e.CanWriteLocked(addr) {
		return false
	}
	ep := e.endpoints[addr]
	ep.banks = append(ep.banks, slices.Clone(data))
	e.broadcastLocked()
	return true
}

// ReadIn implements usb.Device. It blocks until a packet is queued on IN
// endpoint number ep, the endpoint is halted, or ctx ends.
func (e *Engine) ReadIn(ctx context.Context, ep uint8) ([]byte, error) {
	addr := (ep & 0x0F) | usb.EndpointDirIn
	for {
		e.cs.Lock()
		endp := e.endpoints[addr]
		if endp == nil {
			e.cs.Unlock()
			return nil, fmt.Errorf("%w: 0x%02x", ErrEndpoint, addr)
		}
		if endp.halted {
			e.cs.Unlock()
			return nil, ErrStalled
		}
		if len(endp.banks) > 0 {
			pkt := endp.banks[0]
			endp.banks = endp.banks[1:]
			e.broadcastLocked()
			e.cs.Unlock()
			return pkt, nil
		}
		ch := e.changed
		e.cs.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// WriteOut implements usb.Device: host data on OUT endpoint number ep.
func (e *Engine) WriteOut(ep uint8, data []byte) error {
	defer e.cs.Enter().Exit()
	endp := e.endpoints[ep&0x0F]
	if endp == nil {
		e.failLocked(LastErrorEndpoint)
		return fmt.Errorf("%w: 0x%02x", ErrEndpoint, ep&0x0F)
	}
	if e.configuration == 0 || !endp.enabled {
		e.failLocked(LastErrorNotConfigured)
		return ErrNotConfigured
	}
	if endp.halted {
		return ErrStalled
	}
	if h, ok := endp.owner.(OutHandler); ok {
		h.HandleOutLocked(ep&0x0F, data)
	}
	return nil
}

// Send queues the report built by build on IN endpoint addr, waiting for a
// free bank. The wait is bounded by Config.SendTimeoutFrames frames, or as
// many milliseconds when no frames arrive.
func (e *Engine) Send(addr uint8, build func() []byte) error {
	e.cs.Lock()
	start := e.frame
	timeout := time.NewTimer(time.Duration(e.cfg.SendTimeoutFrames) * time.Millisecond)
	defer timeout.Stop()
	for {
		if e.configuration == 0 {
			e.failLocked(LastErrorNotConfigured)
			e.cs.Unlock()
			return ErrNotConfigured
		}
		if e.CanWriteLocked(addr) {
			e.TryWriteLocked(addr, build())
			e.cs.Unlock()
			return nil
		}
		ep := e.endpoints[addr]
		if ep == nil || !ep.isIn() {
			e.failLocked(LastErrorEndpoint)
			e.cs.Unlock()
			return fmt.Errorf("%w: 0x%02x", ErrEndpoint, addr)
		}
		if e.frame-start >= e.cfg.SendTimeoutFrames {
			e.failLocked(LastErrorTimeout)
			e.cs.Unlock()
			return ErrTimeout
		}
		ch := e.changed
		e.cs.Unlock()

		select {
		case <-ch:
		case <-timeout.C:
			e.cs.Lock()
			e.failLocked(LastErrorTimeout)
			e.cs.Unlock()
			return ErrTimeout
		}
		e.cs.Lock()
	}
}

// Suspend handles the suspend interrupt. It arms resume and disarms itself.
func (e *Engine) Suspend() {
	defer e.cs.Enter().Exit()
	if !e.suspendArmed {
		return
	}
	e.suspended = true
	e.suspendArmed = false
	e.resumeArmed = true
	e.broadcastLocked()
	e.logger.Debug("usb suspended")
}

// Resume handles the wakeup interrupt. It arms suspend and disarms itself.
func (e *Engine) Resume() {
	defer e.cs.Enter().Exit()
	if !e.resumeArmed {
		return
	}
	e.resumeLocked()
	e.logger.Debug("usb resumed")
}

func (e *Engine) resumeLocked() {
	e.suspended = false
	e.resumeArmed = false
	e.suspendArmed = true
	e.broadcastLocked()
}

// RemoteWakeup signals resume to a suspended host. It fails when the host
// has not enabled remote wakeup or the bus is not suspended.
func (e *Engine) RemoteWakeup() error {
	defer e.cs.Enter().Exit()
	if !e.remoteWakeup {
		e.failLocked(LastErrorWakeup)
		return ErrRemoteWakeupDisabled
	}
	if !e.suspended {
		e.failLocked(LastErrorNotSuspended)
		return ErrNotSuspended
	}
	e.resumeLocked()
	e.logger.Debug("remote wakeup")
	return nil
}

// BusReset implements usb.Device: return to the default, unaddressed state.
func (e *Engine) BusReset() {
	e.cs.Lock()
	e.deconfigureLocked()
	for _, ep := range e.endpoints {
		ep.halted = false
	}
	e.address = 0
	e.remoteWakeup = false
	e.suspended = false
	e.suspendArmed = true
	e.resumeArmed = false
	e.frame = 0
	hook := e.onBusReset
	e.cs.Unlock()

	e.logger.Debug("usb bus reset")
	if hook != nil {
		hook()
	}
}

// LastError returns the last transport error code, or LastErrorNone.
func (e *Engine) LastError() uint8 {
	defer e.cs.Enter().Exit()
	return e.lastError
}

func (e *Engine) ClearLastError() {
	defer e.cs.Enter().Exit()
	e.lastError = LastErrorNone
}

// Status is a snapshot of the bus state.
type Status struct {
	Address       uint8
	Configuration uint8
	Suspended     bool
	RemoteWakeup  bool
	Frame         uint32
	LastError     uint8
}

func (e *Engine) Status() Status {
	defer e.cs.Enter().Exit()
	return e.StatusLocked()
}

// StatusLocked is Status for callers already inside the critical section.
func (e *Engine) StatusLocked() Status {
	return Status{
		Address:       e.address,
		Configuration: e.configuration,
		Suspended:     e.suspended,
		RemoteWakeup:  e.remoteWakeup,
		Frame:         e.frame,
		LastError:     e.lastError,
	}
}
