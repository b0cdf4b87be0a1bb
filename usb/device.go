package usb

import "context"

// Device is what a bus transport (USB/IP server, test harness) drives.
//
// Control and Frame are called from the transport's "interrupt" context.
// ReadIn blocks until the device queues an IN packet on ep or ctx ends.
type Device interface {
	Descriptor() *Descriptor
	// Control runs one complete control transfer. setup is the raw 8-byte
	// setup packet; out carries the data stage of host-to-device requests.
	Control(setup [8]byte, out []byte) ([]byte, error)
	ReadIn(ctx context.Context, ep uint8) ([]byte, error)
	WriteOut(ep uint8, data []byte) error
	// Frame signals one start-of-frame (1 ms at full speed).
	Frame()
	BusReset()
}
