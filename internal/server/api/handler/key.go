package handler

import (
	"fmt"
	"log/slog"

	"github.com/Alia5/kbdfw/apitypes"
	"github.com/Alia5/kbdfw/firmware"
	"github.com/Alia5/kbdfw/internal/server/api"
	apierror "github.com/Alia5/kbdfw/internal/server/api/error"
	"github.com/Alia5/kbdfw/keymap"
)

// KeyAction is the edge a key route feeds into the resolver.
type KeyAction string

const (
	KeyPress   KeyAction = "press"
	KeyRelease KeyAction = "release"
	KeyTap     KeyAction = "tap"
)

// Key returns a handler for key/{id}/<action>. id is a physical key id or
// a key name whose usage id is the position.
func Key(fw *firmware.Firmware, action KeyAction) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		idStr, ok := req.Params["id"]
		if !ok {
			return apierror.ErrBadRequest("missing id parameter")
		}
		phys, err := keymap.ParsePhysical(idStr)
		if err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid key id: %v", err))
		}

		edges := []bool{action == KeyRelease}
		switch action {
		case KeyPress, KeyRelease:
		case KeyTap:
			edges = []bool{false, true}
		default:
			return apierror.ErrBadRequest(fmt.Sprintf("unknown key action %q", action))
		}
		for _, release := range edges {
			if err := fw.ProcessKey(req.Ctx, phys, release); err != nil {
				return firmwareError(err)
			}
		}
		logger.Debug("key edge", "key", phys, "action", action)
		return respond(res, apitypes.KeyResponse{Key: phys, Action: string(action), Release: edges[len(edges)-1]})
	}
}
