// Package generic implements the vendor defined HID side channel used by
// configuration and debug tooling. It is independent of the keyboard
// report path.
package generic

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/Alia5/kbdfw/critical"
	"github.com/Alia5/kbdfw/usb"
	"github.com/Alia5/kbdfw/usbdev"
)

// Result tells the function what to do after a request was handled.
type Result uint8

const (
	// ResultOk accepts the request without a reply.
	ResultOk Result = iota
	// ResultSendReply queues the response on the IN endpoint.
	ResultSendReply
	// ResultJumpToBootloader acknowledges and then enters the bootloader.
	ResultJumpToBootloader
	// ResultError rejects the request. Control transfers stall.
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultOk:
		return "ok"
	case ResultSendReply:
		return "send-reply"
	case ResultJumpToBootloader:
		return "jump-to-bootloader"
	case ResultError:
		return "error"
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}

// Handler produces and consumes generic reports. Both methods run inside
// the critical section and must not block.
type Handler interface {
	// MakeReport fills buf (PayloadSize bytes) for report id. It returns
	// false for unknown ids.
	MakeReport(id uint8, buf []byte) bool
	// HandleReport processes req and may write up to len(resp) bytes of
	// reply payload, returning the reply length.
	HandleReport(id uint8, req []byte, resp []byte) (int, Result)
}

// Sender queues an IN report, see keyboard.Sender.
type Sender interface {
	Send(ep uint8, build func() []byte) error
}

// Generic is the generic HID interface.
type Generic struct {
	cs      *critical.Section
	tx      Sender
	handler Handler
	logger  *slog.Logger

	ifaceNum uint8
	reply    []byte
	onJump   func()
}

func New(cs *critical.Section, tx Sender, h Handler, logger *slog.Logger) *Generic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generic{cs: cs, tx: tx, handler: h, logger: logger}
}

// OnJumpToBootloader installs the hook run when a request asks for the
// bootloader. It runs inside the critical section and must not block.
func (g *Generic) OnJumpToBootloader(fn func()) {
	defer g.cs.Enter().Exit()
	g.onJump = fn
}

// SendReport builds report id with the handler and queues it on the IN
// endpoint.
func (g *Generic) SendReport(id uint8) error {
	g.cs.Lock()
	b, ok := g.makeLocked(id)
	g.cs.Unlock()
	if !ok {
		return fmt.Errorf("generic: unknown report id %d", id)
	}
	return g.tx.Send(EndpointIn, func() []byte { return b })
}

func (g *Generic) makeLocked(id uint8) ([]byte, bool) {
	b := make([]byte, ReportSize)
	b[0] = id
	if !g.handler.MakeReport(id, b[1:]) {
		return b[:1], false
	}
	return b, true
}

// usbdev.Function

func (g *Generic) SetInterfaceNumber(n uint8) { g.ifaceNum = n }

func (g *Generic) Interface() usb.InterfaceConfig { return interfaceConfig(g.ifaceNum) }

func (g *Generic) HandleSetupLocked(s usbdev.Setup, data []byte) ([]byte, error) {
	if s.Kind() != usbdev.KindClass {
		return nil, usbdev.ErrStalled
	}
	id := uint8(s.Value)
	switch s.Request {
	case usbdev.HIDGetReport:
		switch s.DescriptorType() {
		case usbdev.HIDReportInput, usbdev.HIDReportFeature:
			if g.reply != nil && id == g.reply[0] {
				r := g.reply
				g.reply = nil
				return r, nil
			}
			b, ok := g.makeLocked(id)
			if !ok {
				return nil, usbdev.ErrStalled
			}
			return b, nil
		}
		return nil, usbdev.ErrStalled
	case usbdev.HIDSetReport:
		switch s.DescriptorType() {
		case usbdev.HIDReportOutput, usbdev.HIDReportFeature:
		default:
			return nil, usbdev.ErrStalled
		}
		if len(data) > 0 && data[0] == id {
			data = data[1:]
		}
		if g.handleLocked(id, data) == ResultError {
			return nil, usbdev.ErrStalled
		}
		return nil, nil
	case usbdev.HIDGetIdle:
		return []byte{0}, nil
	case usbdev.HIDSetIdle:
		return nil, nil
	}
	return nil, usbdev.ErrStalled
}

// HandleOutLocked takes command reports from the OUT endpoint. The first
// byte is the report id.
func (g *Generic) HandleOutLocked(ep uint8, data []byte) {
	if ep != EndpointOut&0x0F || len(data) == 0 {
		return
	}
	if res := g.handleLocked(data[0], data[1:]); res == ResultError {
		g.logger.Warn("generic report rejected", "id", data[0])
	}
}

func (g *Generic) handleLocked(id uint8, req []byte) Result {
	resp := make([]byte, ReportSize)
	resp[0] = id
	n, res := g.handler.HandleReport(id, req, resp[1:])
	g.logger.Debug("generic report", "id", id, "result", res)
	switch res {
	case ResultSendReply:
		n = min(max(n, 0), PayloadSize)
		clear(resp[1+n:])
		g.reply = resp
	case ResultJumpToBootloader:
		if g.onJump != nil {
			g.onJump()
		}
	}
	return res
}

// FrameLocked pushes a pending reply to the IN endpoint.
func (g *Generic) FrameLocked(w usbdev.EndpointWriter) {
	if g.reply == nil {
		return
	}
	if w.TryWriteLocked(EndpointIn, slices.Clone(g.reply)) {
		g.reply = nil
	}
}

// ConfigureLocked drops any reply left over from a previous configuration.
func (g *Generic) ConfigureLocked(bool) { g.reply = nil }
