package handler

import (
	"log/slog"

	"github.com/Alia5/kbdfw/apitypes"
	"github.com/Alia5/kbdfw/firmware"
	"github.com/Alia5/kbdfw/internal/server/api"
)

// BusEvent is a bus condition injected through the API.
type BusEvent string

const (
	BusSuspend BusEvent = "suspend"
	BusResume  BusEvent = "resume"
	BusWakeup  BusEvent = "wakeup"
)

// USB returns a handler for usb/<event>. Wakeup fails with 409 when the
// host has not enabled remote wakeup or the bus is not suspended.
func USB(fw *firmware.Firmware, ev BusEvent) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		switch ev {
		case BusSuspend:
			fw.Suspend()
		case BusResume:
			fw.Resume()
		case BusWakeup:
			if err := fw.RemoteWakeup(); err != nil {
				return firmwareError(err)
			}
		}
		logger.Debug("bus event", "event", ev)
		return respond(res, apitypes.USBResponse{Suspended: fw.Engine().Status().Suspended})
	}
}
