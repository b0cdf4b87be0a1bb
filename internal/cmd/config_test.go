package cmd_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	toml "github.com/pelletier/go-toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v3"

	"github.com/Alia5/kbdfw/internal/cmd"
)

func TestConfigInitServe(t *testing.T) {
	type testCase struct {
		format string
		decode func(b []byte) (map[string]any, error)
	}
	cases := []testCase{
		{"json", func(b []byte) (map[string]any, error) {
			var m map[string]any
			return m, json.Unmarshal(b, &m)
		}},
		{"yaml", func(b []byte) (map[string]any, error) {
			var m map[string]any
			return m, yaml.Unmarshal(b, &m)
		}},
		{"toml", func(b []byte) (map[string]any, error) {
			tree, err := toml.LoadBytes(b)
			if err != nil {
				return nil, err
			}
			return tree.ToMap(), nil
		}},
	}
	for _, tc := range cases {
		t.Run(tc.format, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "serve."+tc.format)
			c := &cmd.ConfigInit{Command: "serve", Format: tc.format, Output: dest}
			require.NoError(t, c.Run())

			b, err := os.ReadFile(dest)
			require.NoError(t, err)
			m, err := tc.decode(b)
			require.NoError(t, err)

			assert.NotContains(t, m, "keymap", "positional args are not config keys")
			assert.Contains(t, m, "watch")
			assert.Equal(t, "10ms", m["tickInterval"])

			usbip, ok := m["usbip"].(map[string]any)
			require.True(t, ok, "usbip section")
			assert.Equal(t, ":3241", usbip["addr"])
			assert.NotContains(t, usbip, "connectionTimeout")

			api, ok := m["api"].(map[string]any)
			require.True(t, ok, "api section")
			assert.Equal(t, ":3242", api["addr"])
			assert.NotContains(t, api, "password")

			kbd, ok := m["kbd"].(map[string]any)
			require.True(t, ok, "kbd section")
			assert.Contains(t, kbd, "rollover")
			assert.Contains(t, kbd, "idleRate")
		})
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "type.json")
	require.NoError(t, os.WriteFile(dest, []byte("{}"), 0o644))

	c := &cmd.ConfigInit{Command: "type", Format: "json", Output: dest}
	assert.ErrorContains(t, c.Run(), "--force")

	c.Force = true
	require.NoError(t, c.Run())
	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"addr": "localhost:3242"`)
}
