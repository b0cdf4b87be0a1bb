package apitypes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ApiError represents an RFC 7807 (problem+json) error response.
type ApiError struct {
	// Status is the HTTP-style status code (e.g., 400, 404, 500)
	Status int `json:"status"`
	// Title is a short, human-readable summary of the problem type
	Title string `json:"title"`
	// Detail is a human-readable explanation specific to this occurrence
	Detail string `json:"detail"`
}

func (e ApiError) Error() string {
	if e.Status == 0 && e.Title == "" {
		return "unknown error"
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
}

// --

type PingResponse struct {
	Server  string `json:"server"`
	Version string `json:"version"`
}

// KeyResponse acknowledges a key edge.
type KeyResponse struct {
	Key     uint8  `json:"key"`
	Action  string `json:"action"`
	Release bool   `json:"release"`
}

type LayersResponse struct {
	Base    uint8   `json:"base"`
	Mask    uint32  `json:"mask"`
	Enabled []uint8 `json:"enabled"`
	Highest uint8   `json:"highest"`
}

type ModifiersState struct {
	Strong      string `json:"strong"`
	Weak        string `json:"weak"`
	Exact       string `json:"exact,omitempty"`
	ExactActive bool   `json:"exactActive"`
	Effective   string `json:"effective"`
}

type LEDsState struct {
	Host        uint8 `json:"host"`
	Effective   uint8 `json:"effective"`
	NumLock     bool  `json:"numLock"`
	CapsLock    bool  `json:"capsLock"`
	ScrollLock  bool  `json:"scrollLock"`
	Compose     bool  `json:"compose"`
	Kana        bool  `json:"kana"`
	OverrideOn  uint8 `json:"overrideOn"`
	OverrideOff uint8 `json:"overrideOff"`
}

type USBState struct {
	Address       uint8  `json:"address"`
	Configuration uint8  `json:"configuration"`
	Suspended     bool   `json:"suspended"`
	RemoteWakeup  bool   `json:"remoteWakeup"`
	Frame         uint32 `json:"frame"`
	LastError     string `json:"lastError,omitempty"`
	Attached      bool   `json:"attached"`
}

type KeyboardStateResponse struct {
	Layers    LayersResponse `json:"layers"`
	Modifiers ModifiersState `json:"modifiers"`
	Keys      []string       `json:"keys"`
	Protocol  string         `json:"protocol"`
	Rollover  int            `json:"rollover"`
	Error     uint8          `json:"error"`
	IdleRate  uint8          `json:"idleRate"`
	LEDs      LEDsState      `json:"leds"`
	USB       USBState       `json:"usb"`
	Keylock   string         `json:"keylock"`
	Pending   *uint8         `json:"pending,omitempty"`
	Sources   int            `json:"sources"`
	DFUState  uint8          `json:"dfuState"`
}

type USBResponse struct {
	Suspended bool `json:"suspended"`
}

// LEDOverrideRequest forces LED bits on or off. Masks accept numbers or
// hex strings ("0x02").
type LEDOverrideRequest struct {
	On  uint8 `json:"on"`
	Off uint8 `json:"off"`
}

func (r *LEDOverrideRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		On  any `json:"on"`
		Off any `json:"off"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = LEDOverrideRequest{}
	if raw.On != nil {
		v, err := parseUint8OrHex(raw.On)
		if err != nil {
			return fmt.Errorf("on: %w", err)
		}
		r.On = v
	}
	if raw.Off != nil {
		v, err := parseUint8OrHex(raw.Off)
		if err != nil {
			return fmt.Errorf("off: %w", err)
		}
		r.Off = v
	}
	return nil
}

type LEDOverrideResponse struct {
	On        uint8 `json:"on"`
	Off       uint8 `json:"off"`
	Effective uint8 `json:"effective"`
}

// parseUint8OrHex accepts either a JSON number or a hex string like "0x1f"
func parseUint8OrHex(v any) (uint8, error) {
	switch val := v.(type) {
	case float64:
		if val < 0 || val > 255 || val != float64(uint8(val)) {
			return 0, fmt.Errorf("value %v out of uint8 range", val)
		}
		return uint8(val), nil
	case string:
		s := strings.TrimSpace(val)
		base := 10
		if strings.HasPrefix(strings.ToLower(s), "0x") {
			s = s[2:]
			base = 16
		}
		parsed, err := strconv.ParseUint(s, base, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid hex/numeric string %q: %w", val, err)
		}
		return uint8(parsed), nil
	default:
		return 0, fmt.Errorf("expected number or hex string, got %T", v)
	}
}
