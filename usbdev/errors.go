package usbdev

import "errors"

var (
	ErrTimeout              = errors.New("usb: endpoint wait timed out")
	ErrNotConfigured        = errors.New("usb: device not configured")
	ErrStalled              = errors.New("usb: request stalled")
	ErrRemoteWakeupDisabled = errors.New("usb: remote wakeup not enabled by host")
	ErrNotSuspended         = errors.New("usb: bus not suspended")
	ErrEndpoint             = errors.New("usb: unknown endpoint")
)

// Last-error codes, readable through Engine.LastError.
const (
	LastErrorNone          = 0
	LastErrorTimeout       = 'T'
	LastErrorRequest       = 'R'
	LastErrorDescriptor    = 'D'
	LastErrorNotConfigured = 'C'
	LastErrorWakeup        = 'W'
	LastErrorNotSuspended  = 'S'
	LastErrorEndpoint      = 'E'
)
