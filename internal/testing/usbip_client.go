package testing

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Alia5/kbdfw/usbdev"
	"github.com/Alia5/kbdfw/usbip"
)

// UsbIpClient is a minimal USB/IP host for tests.
type UsbIpClient struct {
	address string
	seq     uint32
}

// Attachment is an imported device and its URB connection.
type Attachment struct {
	Conn     net.Conn
	Exported usbip.ExportedDevice
}

func NewUsbIpClient(t *testing.T, addr string) *UsbIpClient {
	t.Helper()
	return &UsbIpClient{address: addr}
}

func (c *UsbIpClient) nextSeq() uint32 {
	return atomic.AddUint32(&c.seq, 1)
}

func (c *UsbIpClient) ListDevices() ([]usbip.ExportedDevice, error) {
	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := (&usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpReqDevlist}).Write(conn); err != nil {
		return nil, err
	}
	hdr, err := usbip.ReadMgmtHeader(conn)
	if err != nil {
		return nil, err
	}
	if hdr.Command != usbip.OpRepDevlist {
		return nil, fmt.Errorf("unexpected reply command %x", hdr.Command)
	}
	var n [4]byte
	if err := usbip.ReadExactly(conn, n[:]); err != nil {
		return nil, err
	}
	count := int(n[0])<<24 | int(n[1])<<16 | int(n[2])<<8 | int(n[3])
	devices := make([]usbip.ExportedDevice, 0, count)
	for range count {
		dev, err := usbip.ReadExportedDevice(conn, true)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// Attach imports busID. A non-zero import status is returned as an error.
func (c *UsbIpClient) Attach(busID string) (*Attachment, error) {
	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		return nil, err
	}
	if err := (&usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpReqImport}).Write(conn); err != nil {
		conn.Close()
		return nil, err
	}
	var bus [usbip.BusIDSize]byte
	copy(bus[:], busID)
	if _, err := conn.Write(bus[:]); err != nil {
		conn.Close()
		return nil, err
	}
	hdr, err := usbip.ReadMgmtHeader(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if hdr.Command != usbip.OpRepImport {
		conn.Close()
		return nil, fmt.Errorf("unexpected reply command %x", hdr.Command)
	}
	if hdr.Status != 0 {
		conn.Close()
		return nil, fmt.Errorf("import status %d", hdr.Status)
	}
	dev, err := usbip.ReadExportedDevice(conn, false)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Attachment{Conn: conn, Exported: dev}, nil
}

// URBResult is a completed submit.
type URBResult struct {
	Seqnum uint32
	Status int32
	Actual uint32
	Data   []byte
}

// SendSubmit writes a CMD_SUBMIT and returns its sequence number without
// waiting for the reply.
func (c *UsbIpClient) SendSubmit(conn net.Conn, dir, ep uint32, length uint32, out []byte, setup [8]byte) (uint32, error) {
	if conn == nil {
		return 0, io.ErrUnexpectedEOF
	}
	seq := c.nextSeq()
	if dir == usbip.DirOut {
		length = uint32(len(out))
	}
	cmd := usbip.CmdSubmit{
		Basic:             usbip.HeaderBasic{Command: usbip.CmdSubmitCode, Seqnum: seq, Devid: 1<<16 | 1, Dir: dir, Ep: ep},
		TransferBufferLen: length,
		Setup:             setup,
	}
	if err := cmd.Write(conn); err != nil {
		return 0, err
	}
	if len(out) > 0 {
		if _, err := conn.Write(out); err != nil {
			return 0, err
		}
	}
	return seq, nil
}

// SendUnlink writes a CMD_UNLINK for seq and returns its own seqnum.
func (c *UsbIpClient) SendUnlink(conn net.Conn, seq uint32) (uint32, error) {
	own := c.nextSeq()
	cmd := usbip.CmdUnlink{
		Basic:        usbip.HeaderBasic{Command: usbip.CmdUnlinkCode, Seqnum: own, Devid: 1<<16 | 1},
		UnlinkSeqnum: seq,
	}
	return own, cmd.Write(conn)
}

// ReadReply reads the next RET_SUBMIT or RET_UNLINK. Unlink replies have
// Actual 0 and no data.
func (c *UsbIpClient) ReadReply(conn net.Conn, timeout time.Duration) (uint32, URBResult, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	var hdr [usbip.URBHeaderSize]byte
	if err := usbip.ReadExactly(conn, hdr[:]); err != nil {
		return 0, URBResult{}, err
	}
	switch cmd := usbip.PeekCommand(hdr[:]); cmd {
	case usbip.RetUnlinkCode:
		r := usbip.ParseRetUnlink(hdr[:])
		return cmd, URBResult{Seqnum: r.Basic.Seqnum, Status: r.Status}, nil
	case usbip.RetSubmitCode:
		r := usbip.ParseRetSubmit(hdr[:])
		res := URBResult{Seqnum: r.Basic.Seqnum, Status: r.Status, Actual: r.ActualLength}
		if r.Basic.Dir == usbip.DirIn && r.ActualLength > 0 {
			res.Data = make([]byte, r.ActualLength)
			if err := usbip.ReadExactly(conn, res.Data); err != nil {
				return cmd, res, err
			}
		}
		return cmd, res, nil
	default:
		return cmd, URBResult{}, fmt.Errorf("unexpected ret cmd %x", cmd)
	}
}

// Control runs one control transfer and waits for its reply. Interrupt IN
// URBs must not be outstanding.
func (c *UsbIpClient) Control(conn net.Conn, s usbdev.Setup, out []byte) (URBResult, error) {
	dir := uint32(usbip.DirOut)
	if s.IsIn() {
		dir = usbip.DirIn
	}
	seq, err := c.SendSubmit(conn, dir, 0, uint32(s.Length), out, s.Bytes())
	if err != nil {
		return URBResult{}, err
	}
	_, res, err := c.ReadReply(conn, time.Second)
	if err != nil {
		return res, err
	}
	if res.Seqnum != seq {
		return res, fmt.Errorf("reply for seq %d, want %d", res.Seqnum, seq)
	}
	return res, nil
}

// Enumerate addresses and configures the device the way a host would.
func (c *UsbIpClient) Enumerate(conn net.Conn) error {
	for _, s := range []usbdev.Setup{
		{RequestType: 0x80, Request: usbdev.ReqGetDescriptor, Value: 0x0100, Length: 18},
		{RequestType: 0x00, Request: usbdev.ReqSetAddress, Value: 2},
		{RequestType: 0x00, Request: usbdev.ReqSetConfiguration, Value: 1},
	} {
		res, err := c.Control(conn, s, nil)
		if err != nil {
			return err
		}
		if res.Status != usbip.StatusOK {
			return fmt.Errorf("%s: status %d", s, res.Status)
		}
	}
	return nil
}

// ReadInterrupt submits one IN URB on ep and waits for its completion.
func (c *UsbIpClient) ReadInterrupt(conn net.Conn, ep uint32, timeout time.Duration) (URBResult, error) {
	seq, err := c.SendSubmit(conn, usbip.DirIn, ep, 64, nil, [8]byte{})
	if err != nil {
		return URBResult{}, err
	}
	_, res, err := c.ReadReply(conn, timeout)
	if err != nil {
		return res, err
	}
	if res.Seqnum != seq {
		return res, fmt.Errorf("reply for seq %d, want %d", res.Seqnum, seq)
	}
	return res, nil
}
