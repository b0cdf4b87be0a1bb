package usb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/kbdfw/device/generic"
	"github.com/Alia5/kbdfw/device/keyboard"
	"github.com/Alia5/kbdfw/firmware"
	srvusb "github.com/Alia5/kbdfw/internal/server/usb"
	th "github.com/Alia5/kbdfw/internal/testing"
	"github.com/Alia5/kbdfw/keycode"
	"github.com/Alia5/kbdfw/keymap"
	"github.com/Alia5/kbdfw/usbdev"
	"github.com/Alia5/kbdfw/usbip"
)

const testKeymap = `{"name": "test", "base": 1, "layers": [{"number": 1, "keys": ["A", "B"]}]}`

func startServer(t *testing.T) (*firmware.Firmware, *srvusb.Server, *th.UsbIpClient) {
	t.Helper()
	km, err := keymap.Parse([]byte(testKeymap), keymap.FormatJSON)
	require.NoError(t, err)
	fw, err := firmware.New(km, firmware.Config{}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fw.Run(ctx)
	}()

	srv := srvusb.New(srvusb.ServerConfig{Addr: "127.0.0.1:0"}, fw.Device(), nil, nil)
	go func() { _ = srv.ListenAndServe() }()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	t.Cleanup(func() {
		_ = srv.Close()
		cancel()
		<-done
	})
	return fw, srv, th.NewUsbIpClient(t, srv.Addr().String())
}

func TestDevList(t *testing.T) {
	fw, _, client := startServer(t)
	devs, err := client.ListDevices()
	require.NoError(t, err)
	require.Len(t, devs, 1)

	d := devs[0]
	desc := fw.Device().Descriptor()
	assert.Equal(t, srvusb.BusID, d.BusIDString())
	assert.Equal(t, desc.Device.IDVendor, d.IDVendor)
	assert.Equal(t, desc.Device.IDProduct, d.IDProduct)
	assert.Equal(t, uint8(len(desc.Interfaces)), d.BNumInterfaces)
	require.Len(t, d.Interfaces, len(desc.Interfaces))
	assert.Equal(t, uint8(0x03), d.Interfaces[0].Class)
}

func TestImport(t *testing.T) {
	type testCase struct {
		name    string
		busID   string
		wantErr bool
	}
	cases := []testCase{
		{name: "matching busid", busID: srvusb.BusID},
		{name: "unknown busid", busID: "9-9", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, srv, client := startServer(t)
			att, err := client.Attach(tc.busID)
			if tc.wantErr {
				assert.Error(t, err)
				assert.False(t, srv.Attached())
				return
			}
			require.NoError(t, err)
			defer att.Conn.Close()
			assert.Equal(t, srvusb.BusID, att.Exported.BusIDString())
			assert.Eventually(t, srv.Attached, time.Second, 10*time.Millisecond)
		})
	}
}

func TestSecondImportRefused(t *testing.T) {
	_, srv, client := startServer(t)
	att, err := client.Attach(srvusb.BusID)
	require.NoError(t, err)

	_, err = client.Attach(srvusb.BusID)
	assert.Error(t, err)

	att.Conn.Close()
	assert.Eventually(t, func() bool { return !srv.Attached() }, time.Second, 10*time.Millisecond)
	att, err = client.Attach(srvusb.BusID)
	require.NoError(t, err)
	att.Conn.Close()
}

func TestControlTransfers(t *testing.T) {
	fw, _, client := startServer(t)
	att, err := client.Attach(srvusb.BusID)
	require.NoError(t, err)
	defer att.Conn.Close()

	type testCase struct {
		name   string
		setup  usbdev.Setup
		status int32
		check  func(t *testing.T, res th.URBResult)
	}
	cases := []testCase{
		{
			name:  "device descriptor",
			setup: usbdev.Setup{RequestType: 0x80, Request: usbdev.ReqGetDescriptor, Value: 0x0100, Length: 18},
			check: func(t *testing.T, res th.URBResult) {
				require.Len(t, res.Data, 18)
				assert.Equal(t, uint8(18), res.Data[0])
				assert.Equal(t, uint8(1), res.Data[1])
			},
		},
		{
			name:  "short config read is truncated",
			setup: usbdev.Setup{RequestType: 0x80, Request: usbdev.ReqGetDescriptor, Value: 0x0200, Length: 9},
			check: func(t *testing.T, res th.URBResult) {
				assert.Equal(t, uint32(9), res.Actual)
				assert.Equal(t, uint8(2), res.Data[1])
			},
		},
		{
			name:   "device qualifier stalls",
			setup:  usbdev.Setup{RequestType: 0x80, Request: usbdev.ReqGetDescriptor, Value: 0x0600, Length: 10},
			status: usbip.StatusPipe,
		},
		{
			name:  "set configuration",
			setup: usbdev.Setup{RequestType: 0x00, Request: usbdev.ReqSetConfiguration, Value: 1},
			check: func(t *testing.T, res th.URBResult) {
				assert.Equal(t, uint8(1), fw.Engine().Status().Configuration)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := client.Control(att.Conn, tc.setup, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.status, res.Status)
			if tc.check != nil {
				tc.check(t, res)
			}
		})
	}
}

// readReport skips the empty report a reset may queue right after attach.
func readReport(t *testing.T, client *th.UsbIpClient, att *th.Attachment, want []byte) {
	t.Helper()
	for range 4 {
		res, err := client.ReadInterrupt(att.Conn, keyboard.EndpointIn&0x0F, 2*time.Second)
		require.NoError(t, err)
		require.Equal(t, int32(usbip.StatusOK), res.Status)
		if assert.ObjectsAreEqual(want, res.Data) {
			return
		}
	}
	t.Fatalf("no report %x", want)
}

func TestKeyReportOverInterruptIN(t *testing.T) {
	fw, _, client := startServer(t)
	att, err := client.Attach(srvusb.BusID)
	require.NoError(t, err)
	defer att.Conn.Close()
	require.NoError(t, client.Enumerate(att.Conn))

	ctx := context.Background()
	require.NoError(t, fw.ProcessKey(ctx, 1, false))
	readReport(t, client, att, []byte{0, 0, keycode.KeyB, 0, 0, 0, 0, 0})

	require.NoError(t, fw.ProcessKey(ctx, 1, true))
	readReport(t, client, att, make([]byte, 8))
}

func TestUnlinkPendingIN(t *testing.T) {
	_, _, client := startServer(t)
	att, err := client.Attach(srvusb.BusID)
	require.NoError(t, err)
	defer att.Conn.Close()
	require.NoError(t, client.Enumerate(att.Conn))

	// The generic HID endpoint only carries replies to commands.
	seq, err := client.SendSubmit(att.Conn, usbip.DirIn, generic.EndpointIn&0x0F, 32, nil, [8]byte{})
	require.NoError(t, err)
	unlinkSeq, err := client.SendUnlink(att.Conn, seq)
	require.NoError(t, err)

	cmd, res, err := client.ReadReply(att.Conn, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(usbip.RetUnlinkCode), cmd)
	assert.Equal(t, unlinkSeq, res.Seqnum)
	assert.Equal(t, int32(usbip.StatusConnReset), res.Status)

	// Unlinking a URB that is no longer pending reports success.
	unlinkSeq, err = client.SendUnlink(att.Conn, seq)
	require.NoError(t, err)
	cmd, res, err = client.ReadReply(att.Conn, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(usbip.RetUnlinkCode), cmd)
	assert.Equal(t, unlinkSeq, res.Seqnum)
	assert.Equal(t, int32(usbip.StatusOK), res.Status)
}

func TestDetachResetsDevice(t *testing.T) {
	fw, srv, client := startServer(t)
	att, err := client.Attach(srvusb.BusID)
	require.NoError(t, err)
	require.NoError(t, client.Enumerate(att.Conn))
	assert.Equal(t, uint8(1), fw.Engine().Status().Configuration)

	att.Conn.Close()
	assert.Eventually(t, func() bool {
		return !srv.Attached() && fw.Engine().Status().Configuration == 0
	}, time.Second, 10*time.Millisecond)
}
