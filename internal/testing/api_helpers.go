// Package testing holds helpers shared by the server and client tests.
package testing

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Alia5/kbdfw/firmware"
	"github.com/Alia5/kbdfw/internal/server/api"
	"github.com/Alia5/kbdfw/keymap"
)

// TestKeymap maps positions 0-3 to A, B, LAYER_OR_KEY(2,C) and D, with D
// shifted to E on layer 2.
const TestKeymap = `{
  "name": "api-test",
  "base": 1,
  "layers": [
    {"number": 1, "keys": ["A", "B", "LAYER_OR_KEY(2,C)", "D"]},
    {"number": 2, "keys": ["_", "_", "_", "E"]}
  ]
}`

// StartFirmware runs a firmware built from doc until the test ends.
func StartFirmware(t *testing.T, doc string) *firmware.Firmware {
	t.Helper()
	km, err := keymap.Parse([]byte(doc), keymap.FormatJSON)
	if err != nil {
		t.Fatalf("parse keymap: %v", err)
	}
	fw, err := firmware.New(km, firmware.Config{TickInterval: time.Millisecond}, nil, slog.Default())
	if err != nil {
		t.Fatalf("new firmware: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fw.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return fw
}

// StartAPIServer starts an API server on a free port in front of a running
// firmware and calls register to allow the caller to register the handlers
// needed for the test. Returns the address and a function to call when done.
func StartAPIServer(t *testing.T, cfg api.ServerConfig, register func(r *api.Router, fw *firmware.Firmware, apiSrv *api.Server)) (addr string, fw *firmware.Firmware, done func()) {
	t.Helper()
	fw = StartFirmware(t, TestKeymap)

	cfg.Addr = "127.0.0.1:0"
	apiSrv, err := api.New(nil, cfg, slog.Default())
	if err != nil {
		t.Fatalf("api new failed: %v", err)
	}
	if register != nil {
		register(apiSrv.Router(), fw, apiSrv)
	}
	if err := apiSrv.Start(); err != nil {
		t.Fatalf("api start failed: %v", err)
	}
	return apiSrv.Addr().String(), fw, apiSrv.Close
}

// ExecCmd dials the API server, sends cmd and reads the full response.
// The command should not include a trailing newline. Returns the response
// without the trailing newline.
func ExecCmd(t *testing.T, addr string, cmd string) string {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))

	_, _ = fmt.Fprintf(c, "%s\x00", cmd)

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil && err != io.EOF {
		t.Fatalf("read failed: %v", err)
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
}
