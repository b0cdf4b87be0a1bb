package apiclient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Alia5/kbdfw/apiclient"
	"github.com/Alia5/kbdfw/apitypes"

	"github.com/stretchr/testify/assert"
)

// testClient constructs a client backed by a simple in-memory responder.
// responses maps path patterns (before path param substitution) to raw JSON payloads.
// If err is non-nil, every request returns that error, simulating dial failures.
func testClient(responses map[string]string, err error) *apiclient.Client {
	return apiclient.WithTransport(apiclient.NewMockTransport(func(path string, _ any, _ map[string]string) (string, error) {
		if err != nil {
			return "", err
		}
		if out, ok := responses[path]; ok {
			return out, nil
		}
		return "", nil
	}))
}

type call struct {
	path    string
	payload any
	params  map[string]string
}

func recordingClient(resp string, got *call) *apiclient.Client {
	return apiclient.WithTransport(apiclient.NewMockTransport(func(path string, payload any, params map[string]string) (string, error) {
		*got = call{path: path, payload: payload, params: params}
		return resp, nil
	}))
}

func TestHighLevelClient(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		setup      func(responses map[string]string) (err error)
		call       func(c *apiclient.Client) (any, error)
		wantErr    string
		assertFunc func(t *testing.T, got any)
	}{
		{
			name:  "ping",
			setup: func(responses map[string]string) error { responses["ping"] = `{"server":"kbdfw","version":"1.0.0"}`; return nil },
			call:  func(c *apiclient.Client) (any, error) { return c.Ping() },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*apitypes.PingResponse)
				assert.Equal(t, "kbdfw", resp.Server)
			},
		},
		{
			name: "key press structured error",
			setup: func(responses map[string]string) error {
				responses["key/{id}/press"] = `{"status":400,"title":"Bad Request","detail":"unknown key \"nope\""}`
				return nil
			},
			call:    func(c *apiclient.Client) (any, error) { return c.KeyPress(ctx, "nope") },
			wantErr: "400 Bad Request: unknown key",
		},
		{
			name: "layers",
			setup: func(responses map[string]string) error {
				responses["layers"] = `{"base":1,"mask":6,"enabled":[1,2],"highest":2}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) { return c.Layers(ctx) },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*apitypes.LayersResponse)
				assert.Equal(t, []uint8{1, 2}, resp.Enabled)
				assert.Equal(t, uint8(2), resp.Highest)
			},
		},
		{
			name: "wakeup conflict",
			setup: func(responses map[string]string) error {
				responses["usb/wakeup"] = `{"status":409,"title":"Conflict","detail":"remote wakeup disabled"}`
				return nil
			},
			call:    func(c *apiclient.Client) (any, error) { return c.USBWakeup(ctx) },
			wantErr: "409 Conflict",
		},
		{
			name:    "transport failure",
			setup:   func(responses map[string]string) error { return errors.New("dial fail") },
			call:    func(c *apiclient.Client) (any, error) { return c.KeyboardState(ctx) },
			wantErr: "dial fail",
		},
		{
			name:    "blank response error",
			setup:   func(responses map[string]string) error { return nil },
			call:    func(c *apiclient.Client) (any, error) { return c.LayersReset(ctx) },
			wantErr: "empty response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := map[string]string{}
			errInject := error(nil)
			if tt.setup != nil {
				if e := tt.setup(responses); e != nil {
					errInject = e
				}
			}
			c := testClient(responses, errInject)
			got, err := tt.call(c)
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
			if tt.assertFunc != nil {
				tt.assertFunc(t, got)
			}
		})
	}
}

func TestRequestShapes(t *testing.T) {
	ctx := context.Background()
	type testCase struct {
		name string
		resp string
		do   func(c *apiclient.Client) error
		want call
	}
	layers := `{"base":0,"mask":1,"enabled":[0],"highest":0}`
	discard := func(_ any, err error) error { return err }

	cases := []testCase{
		{
			name: "key tap",
			resp: `{"key":4,"action":"tap","release":true}`,
			do:   func(c *apiclient.Client) error { return discard(c.KeyTap(ctx, "A")) },
			want: call{path: "key/{id}/tap", params: map[string]string{"id": "A"}},
		},
		{
			name: "key release",
			resp: `{"key":4,"action":"release","release":true}`,
			do:   func(c *apiclient.Client) error { return discard(c.KeyRelease(ctx, "0x04")) },
			want: call{path: "key/{id}/release", params: map[string]string{"id": "0x04"}},
		},
		{
			name: "layer enable",
			resp: layers,
			do:   func(c *apiclient.Client) error { return discard(c.LayerEnable(ctx, 3)) },
			want: call{path: "layers/enable", payload: "3"},
		},
		{
			name: "layer disable",
			resp: layers,
			do:   func(c *apiclient.Client) error { return discard(c.LayerDisable(ctx, 3)) },
			want: call{path: "layers/disable", payload: "3"},
		},
		{
			name: "layer toggle",
			resp: layers,
			do:   func(c *apiclient.Client) error { return discard(c.LayerToggle(ctx, 7)) },
			want: call{path: "layers/toggle", payload: "7"},
		},
		{
			name: "layer base",
			resp: layers,
			do:   func(c *apiclient.Client) error { return discard(c.LayerBase(ctx, 2)) },
			want: call{path: "layers/base", payload: "2"},
		},
		{
			name: "usb suspend",
			resp: `{"suspended":true}`,
			do:   func(c *apiclient.Client) error { return discard(c.USBSuspend(ctx)) },
			want: call{path: "usb/suspend"},
		},
		{
			name: "usb resume",
			resp: `{"suspended":false}`,
			do:   func(c *apiclient.Client) error { return discard(c.USBResume(ctx)) },
			want: call{path: "usb/resume"},
		},
		{
			name: "led override",
			resp: `{"on":2,"off":1,"effective":2}`,
			do:   func(c *apiclient.Client) error { return discard(c.LEDOverride(ctx, 0x02, 0x01)) },
			want: call{path: "leds/override", payload: apitypes.LEDOverrideRequest{On: 0x02, Off: 0x01}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got call
			c := recordingClient(tc.resp, &got)
			assert.NoError(t, tc.do(c))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestContextCancellation(t *testing.T) {
	c := apiclient.WithTransport(apiclient.NewTransport("127.0.0.1:9")) // address irrelevant due to early cancel
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.KeyboardState(ctx)
	assert.Error(t, err)
}

func TestStrictJSONDecode(t *testing.T) {
	responses := map[string]string{}
	responses["usb/suspend"] = `{"suspended":true,"extra":true}` // extra field should cause decode error
	c := testClient(responses, nil)
	_, err := c.USBSuspend(context.Background())
	assert.Error(t, err)
}
