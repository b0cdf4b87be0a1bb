package handler

import (
	"log/slog"

	"github.com/Alia5/kbdfw/apitypes"
	"github.com/Alia5/kbdfw/device/keyboard"
	"github.com/Alia5/kbdfw/firmware"
	"github.com/Alia5/kbdfw/internal/server/api"
	"github.com/Alia5/kbdfw/internal/server/usb"
	"github.com/Alia5/kbdfw/keycode"
)

// KeyboardState returns the latest firmware snapshot. usbs may be nil.
func KeyboardState(fw *firmware.Firmware, usbs *usb.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		return respond(res, stateResponse(fw.State(), usbs))
	}
}

func stateResponse(st firmware.State, usbs *usb.Server) apitypes.KeyboardStateResponse {
	kb := st.Keyboard
	out := apitypes.KeyboardStateResponse{
		Layers: apitypes.LayersResponse{Base: st.Base, Mask: st.Mask, Enabled: st.Enabled, Highest: st.Highest},
		Modifiers: apitypes.ModifiersState{
			Strong:      keycode.FormatMods(kb.Strong),
			Weak:        keycode.FormatMods(kb.Weak),
			ExactActive: kb.ExactActive,
			Effective:   keycode.FormatMods(kb.Effective),
		},
		Keys:     make([]string, 0, len(kb.Keys)),
		Protocol: kb.Protocol.String(),
		Rollover: kb.Rollover,
		Error:    kb.Error,
		IdleRate: kb.IdleRate,
		LEDs:     ledsState(kb),
		USB: apitypes.USBState{
			Address:       st.USB.Address,
			Configuration: st.USB.Configuration,
			Suspended:     st.USB.Suspended,
			RemoteWakeup:  st.USB.RemoteWakeup,
			Frame:         st.USB.Frame,
			Attached:      usbs != nil && usbs.Attached(),
		},
		Keylock:  st.Keylock,
		Sources:  len(st.Sources),
		DFUState: st.DFUState,
	}
	if out.Layers.Enabled == nil {
		out.Layers.Enabled = []uint8{}
	}
	if kb.ExactActive {
		out.Modifiers.Exact = keycode.FormatMods(kb.Exact)
	}
	if st.USB.LastError != 0 {
		out.USB.LastError = string(rune(st.USB.LastError))
	}
	if st.Pending {
		k := st.PendingKey
		out.Pending = &k
	}
	for _, u := range kb.Keys {
		name := keycode.UsageName(u)
		if name == "" {
			name = keycode.Plain(u).String()
		}
		out.Keys = append(out.Keys, name)
	}
	return out
}

func ledsState(kb keyboard.Snapshot) apitypes.LEDsState {
	d := keyboard.LEDStateFromByte(kb.LEDs)
	return apitypes.LEDsState{
		Host:        kb.HostLEDs,
		Effective:   kb.LEDs,
		NumLock:     d.NumLock,
		CapsLock:    d.CapsLock,
		ScrollLock:  d.ScrollLock,
		Compose:     d.Compose,
		Kana:        d.Kana,
		OverrideOn:  kb.OverrideOn,
		OverrideOff: kb.OverrideOff,
	}
}
