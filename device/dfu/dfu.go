// Package dfu implements the DFU 1.1 runtime interface. The only action a
// runtime interface supports is DFU_DETACH, which hands the device over to
// the bootloader.
package dfu

import (
	"log/slog"

	"github.com/Alia5/kbdfw/critical"
	"github.com/Alia5/kbdfw/usb"
	"github.com/Alia5/kbdfw/usbdev"
)

// Runtime states (DFU 1.1, 6.1.2).
const (
	StateAppIdle   = 0
	StateAppDetach = 1
)

// Status codes.
const StatusOK = 0x00

// DetachTimeout is the wDetachTimeout advertised to the host, in ms.
const DetachTimeout = 1000

// Runtime is the DFU runtime interface.
type Runtime struct {
	cs     *critical.Section
	logger *slog.Logger

	ifaceNum uint8
	state    uint8
	onDetach func()
}

func New(cs *critical.Section, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{cs: cs, logger: logger}
}

// OnDetach installs the hook run on DFU_DETACH. It runs inside the
// critical section and must not block.
func (r *Runtime) OnDetach(fn func()) {
	defer r.cs.Enter().Exit()
	r.onDetach = fn
}

func (r *Runtime) State() uint8 {
	defer r.cs.Enter().Exit()
	return r.state
}

func (r *Runtime) SetInterfaceNumber(n uint8) { r.ifaceNum = n }

func (r *Runtime) Interface() usb.InterfaceConfig {
	fd := usb.DFUFunctionalDescriptor{
		BMAttributes:   usb.DFUCanDownload | usb.DFUCanUpload | usb.DFUWillDetach,
		WDetachTimeout: DetachTimeout,
		WTransferSize:  64,
		BcdDFUVersion:  0x0110,
	}
	return usb.InterfaceConfig{
		Descriptor: usb.InterfaceDescriptor{
			BInterfaceNumber:   r.ifaceNum,
			BInterfaceClass:    0xFE, // Application specific
			BInterfaceSubClass: 0x01, // DFU
			BInterfaceProtocol: 0x01, // Runtime
		},
		ClassData: fd.Bytes(),
	}
}

func (r *Runtime) HandleSetupLocked(s usbdev.Setup, _ []byte) ([]byte, error) {
	if s.Kind() != usbdev.KindClass {
		return nil, usbdev.ErrStalled
	}
	switch s.Request {
	case usbdev.DFUDetach:
		r.state = StateAppDetach
		r.logger.Info("DFU detach requested", "timeout", s.Value)
		if r.onDetach != nil {
			r.onDetach()
		}
		return nil, nil
	case usbdev.DFUGetStatus:
		// bStatus, bwPollTimeout (3 bytes), bState, iString
		return []byte{StatusOK, 0, 0, 0, r.state, 0}, nil
	case usbdev.DFUGetState:
		return []byte{r.state}, nil
	case usbdev.DFUClrStatus, usbdev.DFUAbort:
		r.state = StateAppIdle
		return nil, nil
	}
	return nil, usbdev.ErrStalled
}

// ConfigureLocked returns to appIDLE on every (de)configuration.
func (r *Runtime) ConfigureLocked(bool) { r.state = StateAppIdle }
