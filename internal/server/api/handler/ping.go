package handler

import (
	"fmt"
	"log/slog"

	"github.com/Alia5/kbdfw/apitypes"
	"github.com/Alia5/kbdfw/firmware"
	"github.com/Alia5/kbdfw/internal/server/api"
)

const serverName = "kbdfw"

// Ping reports the server identity and firmware version.
func Ping() api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		v := firmware.Version
		return respond(res, apitypes.PingResponse{
			Server:  serverName,
			Version: fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2]),
		})
	}
}
