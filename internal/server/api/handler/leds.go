package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Alia5/kbdfw/apitypes"
	"github.com/Alia5/kbdfw/firmware"
	"github.com/Alia5/kbdfw/internal/server/api"
	apierror "github.com/Alia5/kbdfw/internal/server/api/error"
)

// LEDOverride sets the LED force masks from a {"on","off"} payload. An
// empty payload clears both.
func LEDOverride(fw *firmware.Firmware) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		var o apitypes.LEDOverrideRequest
		if req.Payload != "" {
			if err := json.Unmarshal([]byte(req.Payload), &o); err != nil {
				return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
			}
		}
		fw.SetLEDOverride(o.On, o.Off)
		kb := fw.Keyboard().Snapshot()
		return respond(res, apitypes.LEDOverrideResponse{On: kb.OverrideOn, Off: kb.OverrideOff, Effective: kb.LEDs})
	}
}
