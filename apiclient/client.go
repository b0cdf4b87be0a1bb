package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Alia5/kbdfw/apitypes"
)

// Client provides a high-level interface to the control API, handling request
// formatting, response parsing, and error handling.
type Client struct{ transport *Transport }

// New constructs a high-level API client using the internal low-level Transport.
// The addr parameter specifies the TCP address (host:port) of the API server.
func New(addr string) *Client { return &Client{transport: NewTransport(addr)} }

// NewWithPassword constructs a client that authenticates with the given password.
func NewWithPassword(addr, password string) *Client {
	return &Client{transport: NewTransportWithPassword(addr, password)}
}

// NewWithConfig constructs a client with custom transport timeouts.
func NewWithConfig(addr string, cfg *Config) *Client {
	return &Client{transport: NewTransportWithConfig(addr, cfg)}
}

// WithTransport constructs a Client using a custom Transport implementation.
// This is primarily useful for testing or when advanced transport configuration is needed.
func WithTransport(t *Transport) *Client { return &Client{transport: t} }

func call[T any](ctx context.Context, c *Client, path string, payload any, params map[string]string) (*T, error) {
	raw, err := c.transport.DoCtx(ctx, path, payload, params)
	if err != nil {
		return nil, err
	}
	return parse[T](raw)
}

// Ping returns the version and identity of the server.
func (c *Client) Ping() (*apitypes.PingResponse, error) {
	return c.PingCtx(context.Background())
}

// PingCtx is the context-aware version of Ping.
func (c *Client) PingCtx(ctx context.Context) (*apitypes.PingResponse, error) {
	return call[apitypes.PingResponse](ctx, c, "ping", nil, nil)
}

func (c *Client) key(ctx context.Context, key, action string) (*apitypes.KeyResponse, error) {
	return call[apitypes.KeyResponse](ctx, c, "key/{id}/"+action, nil, map[string]string{"id": key})
}

// KeyPress sends a press edge for key, a physical id ("4", "0x04") or a
// key name whose usage id is the position ("A").
func (c *Client) KeyPress(ctx context.Context, key string) (*apitypes.KeyResponse, error) {
	return c.key(ctx, key, "press")
}

func (c *Client) KeyRelease(ctx context.Context, key string) (*apitypes.KeyResponse, error) {
	return c.key(ctx, key, "release")
}

// KeyTap sends a press and a release edge.
func (c *Client) KeyTap(ctx context.Context, key string) (*apitypes.KeyResponse, error) {
	return c.key(ctx, key, "tap")
}

// KeyboardState returns the latest firmware snapshot.
func (c *Client) KeyboardState(ctx context.Context) (*apitypes.KeyboardStateResponse, error) {
	return call[apitypes.KeyboardStateResponse](ctx, c, "keyboard/state", nil, nil)
}

func (c *Client) Layers(ctx context.Context) (*apitypes.LayersResponse, error) {
	return call[apitypes.LayersResponse](ctx, c, "layers", nil, nil)
}

func (c *Client) layerCmd(ctx context.Context, op string, n uint8) (*apitypes.LayersResponse, error) {
	return call[apitypes.LayersResponse](ctx, c, "layers/"+op, fmt.Sprintf("%d", n), nil)
}

func (c *Client) LayerEnable(ctx context.Context, n uint8) (*apitypes.LayersResponse, error) {
	return c.layerCmd(ctx, "enable", n)
}

func (c *Client) LayerDisable(ctx context.Context, n uint8) (*apitypes.LayersResponse, error) {
	return c.layerCmd(ctx, "disable", n)
}

func (c *Client) LayerToggle(ctx context.Context, n uint8) (*apitypes.LayersResponse, error) {
	return c.layerCmd(ctx, "toggle", n)
}

// LayerBase moves the base layer.
func (c *Client) LayerBase(ctx context.Context, n uint8) (*apitypes.LayersResponse, error) {
	return c.layerCmd(ctx, "base", n)
}

// LayersReset returns to the default base layer and clears modifiers.
func (c *Client) LayersReset(ctx context.Context) (*apitypes.LayersResponse, error) {
	return call[apitypes.LayersResponse](ctx, c, "layers/reset", nil, nil)
}

func (c *Client) USBSuspend(ctx context.Context) (*apitypes.USBResponse, error) {
	return call[apitypes.USBResponse](ctx, c, "usb/suspend", nil, nil)
}

func (c *Client) USBResume(ctx context.Context) (*apitypes.USBResponse, error) {
	return call[apitypes.USBResponse](ctx, c, "usb/resume", nil, nil)
}

// USBWakeup asks the device to signal remote wakeup.
func (c *Client) USBWakeup(ctx context.Context) (*apitypes.USBResponse, error) {
	return call[apitypes.USBResponse](ctx, c, "usb/wakeup", nil, nil)
}

// LEDOverride forces LED bits on or off on top of the host state.
func (c *Client) LEDOverride(ctx context.Context, on, off uint8) (*apitypes.LEDOverrideResponse, error) {
	return call[apitypes.LEDOverrideResponse](ctx, c, "leds/override", apitypes.LEDOverrideRequest{On: on, Off: off}, nil)
}

func parse[T any](data string) (*T, error) {
	if data == "" {
		return nil, errors.New("empty response")
	}
	var problem apitypes.ApiError
	if err := json.Unmarshal([]byte(data), &problem); err == nil && (problem.Status != 0 || problem.Title != "") {
		return nil, &problem
	}
	var out T
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &out, nil
}
