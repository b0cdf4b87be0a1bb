package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Alia5/kbdfw/firmware"
	"github.com/Alia5/kbdfw/internal/server/api"
	apierror "github.com/Alia5/kbdfw/internal/server/api/error"
	"github.com/Alia5/kbdfw/layer"
	"github.com/Alia5/kbdfw/usbdev"
)

// firmwareError maps firmware and engine errors to problem responses.
func firmwareError(err error) error {
	switch {
	case errors.Is(err, firmware.ErrQueueFull), errors.Is(err, firmware.ErrStopped):
		return apierror.ErrUnavailable(err.Error())
	case errors.Is(err, usbdev.ErrRemoteWakeupDisabled), errors.Is(err, usbdev.ErrNotSuspended),
		errors.Is(err, usbdev.ErrNotConfigured):
		return apierror.ErrConflict(err.Error())
	}
	return apierror.ErrInternal(err.Error())
}

func parseLayer(payload string) (uint8, error) {
	s := strings.TrimSpace(payload)
	if s == "" {
		return 0, apierror.ErrBadRequest("missing layer number")
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil || n > layer.MaxLayers {
		return 0, apierror.ErrBadRequest(fmt.Sprintf("invalid layer %q: want 0-%d", s, layer.MaxLayers))
	}
	return uint8(n), nil
}

func respond(res *api.Response, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return apierror.ErrInternal(fmt.Sprintf("failed to marshal response: %v", err))
	}
	res.JSON = string(b)
	return nil
}
