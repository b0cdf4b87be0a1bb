package usbdev

import "github.com/Alia5/kbdfw/usb"

// Function is one USB interface served by the engine. All *Locked methods
// are called with the engine's critical section held and must not block or
// re-enter it.
type Function interface {
	// Interface returns the interface descriptors. BInterfaceNumber is
	// overwritten with the number assigned at registration.
	Interface() usb.InterfaceConfig
	// HandleSetupLocked serves class and vendor requests addressed to the
	// interface. Returning ErrStalled (or any error) stalls EP0.
	HandleSetupLocked(s Setup, data []byte) ([]byte, error)
}

// Numbered functions learn their interface number at registration.
type Numbered interface {
	SetInterfaceNumber(n uint8)
}

// Configurer is told when the host selects or drops the configuration.
type Configurer interface {
	ConfigureLocked(configured bool)
}

// FrameHandler is called every Config.IdleDivider frames while configured.
type FrameHandler interface {
	FrameLocked(w EndpointWriter)
}

// OutHandler receives data written by the host to the function's OUT
// endpoints.
type OutHandler interface {
	HandleOutLocked(ep uint8, data []byte)
}

// EndpointWriter queues IN packets from within the critical section.
type EndpointWriter interface {
	// CanWriteLocked reports a free bank on IN endpoint ep.
	CanWriteLocked(ep uint8) bool
	// TryWriteLocked queues data on IN endpoint ep if a bank is free.
	TryWriteLocked(ep uint8, data []byte) bool
}
