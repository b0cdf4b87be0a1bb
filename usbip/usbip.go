// Package usbip encodes and decodes the USB/IP wire protocol (protocol
// version 1.1.1). Every multi-byte field is big endian.
package usbip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Alia5/kbdfw/usb"
)

// Wire constants.
const (
	Version = 0x0111

	// Management commands
	OpReqDevlist = 0x8005
	OpRepDevlist = 0x0005
	OpReqImport  = 0x8003
	OpRepImport  = 0x0003

	// URB transfer commands
	CmdSubmitCode = 0x00000001
	CmdUnlinkCode = 0x00000002
	RetSubmitCode = 0x00000003
	RetUnlinkCode = 0x00000004

	// Directions used in usbip_header_basic.direction
	DirOut = 0x00000000
	DirIn  = 0x00000001
)

// URB status values, negated Linux errno.
const (
	StatusOK        = 0
	StatusNoEntry   = -2   // -ENOENT
	StatusPipe      = -32  // -EPIPE, endpoint stalled
	StatusConnReset = -104 // -ECONNRESET, URB unlinked
	StatusShutdown  = -108 // -ESHUTDOWN, endpoint gone or not configured
)

// Sizes of the fixed wire structures.
const (
	MgmtHeaderSize   = 8
	BusIDSize        = 32
	PathSize         = 256
	DeviceEntrySize  = PathSize + BusIDSize + 24
	URBHeaderSize    = 0x30
	InterfaceTriplet = 4
)

// MgmtHeader is the 8-byte header for management ops (devlist/import).
type MgmtHeader struct {
	Version uint16
	Command uint16
	Status  uint32
}

func (h *MgmtHeader) Write(w io.Writer) error {
	var buf [MgmtHeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	binary.BigEndian.PutUint16(buf[2:4], h.Command)
	binary.BigEndian.PutUint32(buf[4:8], h.Status)
	_, err := w.Write(buf[:])
	return err
}

// ParseMgmtHeader decodes the first 8 bytes of b.
func ParseMgmtHeader(b []byte) MgmtHeader {
	return MgmtHeader{
		Version: binary.BigEndian.Uint16(b[0:2]),
		Command: binary.BigEndian.Uint16(b[2:4]),
		Status:  binary.BigEndian.Uint32(b[4:8]),
	}
}

// ReadMgmtHeader reads a management header and checks the version.
func ReadMgmtHeader(r io.Reader) (MgmtHeader, error) {
	var buf [MgmtHeaderSize]byte
	if err := ReadExactly(r, buf[:]); err != nil {
		return MgmtHeader{}, err
	}
	h := ParseMgmtHeader(buf[:])
	if h.Version != Version {
		return h, fmt.Errorf("usbip: unexpected version 0x%04x", h.Version)
	}
	return h, nil
}

// DevListReplyHeader follows MgmtHeader in OP_REP_DEVLIST.
type DevListReplyHeader struct {
	NDevices uint32
}

func (d *DevListReplyHeader) Write(w io.Writer) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], d.NDevices)
	_, err := w.Write(buf[:])
	return err
}

// ExportMeta carries the bus identity of an exported device.
type ExportMeta struct {
	Path     [PathSize]byte
	USBBusId [BusIDSize]byte
	BusId    uint32
	DevId    uint32
}

// NewExportMeta fills the fixed-size string fields.
func NewExportMeta(path, busID string, busNum, devNum uint32) ExportMeta {
	var m ExportMeta
	putFixedString(m.Path[:], path)
	putFixedString(m.USBBusId[:], busID)
	m.BusId = busNum
	m.DevId = devNum
	return m
}

func (m ExportMeta) PathString() string  { return fixedString(m.Path[:]) }
func (m ExportMeta) BusIDString() string { return fixedString(m.USBBusId[:]) }

// ExportedDevice describes one exported device in devlist/import replies.
type ExportedDevice struct {
	ExportMeta
	Speed uint32

	IDVendor            uint16
	IDProduct           uint16
	BcdDevice           uint16
	BDeviceClass        uint8
	BDeviceSubClass     uint8
	BDeviceProtocol     uint8
	BConfigurationValue uint8
	BNumConfigurations  uint8
	BNumInterfaces      uint8

	Interfaces []InterfaceDesc
}

type InterfaceDesc struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
}

// DescribeDevice builds the export entry of a device descriptor.
func DescribeDevice(meta ExportMeta, desc *usb.Descriptor) ExportedDevice {
	d := ExportedDevice{
		ExportMeta:          meta,
		Speed:               desc.Device.Speed,
		IDVendor:            desc.Device.IDVendor,
		IDProduct:           desc.Device.IDProduct,
		BcdDevice:           desc.Device.BcdDevice,
		BDeviceClass:        desc.Device.BDeviceClass,
		BDeviceSubClass:     desc.Device.BDeviceSubClass,
		BDeviceProtocol:     desc.Device.BDeviceProtocol,
		BConfigurationValue: desc.Config.BConfigurationValue,
		BNumConfigurations:  desc.Device.BNumConfigurations,
		BNumInterfaces:      uint8(len(desc.Interfaces)),
	}
	for _, iface := range desc.Interfaces {
		d.Interfaces = append(d.Interfaces, InterfaceDesc{
			Class:    iface.Descriptor.BInterfaceClass,
			SubClass: iface.Descriptor.BInterfaceSubClass,
			Protocol: iface.Descriptor.BInterfaceProtocol,
		})
	}
	return d
}

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	clear(dst[n:])
}

func fixedString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (d *ExportedDevice) entry() []byte {
	b := make([]byte, 0, DeviceEntrySize+len(d.Interfaces)*InterfaceTriplet)
	b = append(b, d.Path[:]...)
	b = append(b, d.USBBusId[:]...)
	b = binary.BigEndian.AppendUint32(b, d.BusId)
	b = binary.BigEndian.AppendUint32(b, d.DevId)
	b = binary.BigEndian.AppendUint32(b, d.Speed)
	b = binary.BigEndian.AppendUint16(b, d.IDVendor)
	b = binary.BigEndian.AppendUint16(b, d.IDProduct)
	b = binary.BigEndian.AppendUint16(b, d.BcdDevice)
	return append(b,
		d.BDeviceClass,
		d.BDeviceSubClass,
		d.BDeviceProtocol,
		d.BConfigurationValue,
		d.BNumConfigurations,
		d.BNumInterfaces,
	)
}

// WriteDevlist writes the device entry for OP_REP_DEVLIST, including the
// interface triplets.
func (d *ExportedDevice) WriteDevlist(w io.Writer) error {
	b := d.entry()
	for _, iface := range d.Interfaces {
		b = append(b, iface.Class, iface.SubClass, iface.Protocol, 0)
	}
	_, err := w.Write(b)
	return err
}

// WriteImport writes the device entry for OP_REP_IMPORT, which ends at
// bNumInterfaces.
func (d *ExportedDevice) WriteImport(w io.Writer) error {
	_, err := w.Write(d.entry())
	return err
}

// ReadExportedDevice reads one device entry. withInterfaces selects the
// devlist form.
func ReadExportedDevice(r io.Reader, withInterfaces bool) (ExportedDevice, error) {
	var b [DeviceEntrySize]byte
	if err := ReadExactly(r, b[:]); err != nil {
		return ExportedDevice{}, err
	}
	var d ExportedDevice
	copy(d.Path[:], b[0:256])
	copy(d.USBBusId[:], b[256:288])
	d.BusId = binary.BigEndian.Uint32(b[288:292])
	d.DevId = binary.BigEndian.Uint32(b[292:296])
	d.Speed = binary.BigEndian.Uint32(b[296:300])
	d.IDVendor = binary.BigEndian.Uint16(b[300:302])
	d.IDProduct = binary.BigEndian.Uint16(b[302:304])
	d.BcdDevice = binary.BigEndian.Uint16(b[304:306])
	d.BDeviceClass = b[306]
	d.BDeviceSubClass = b[307]
	d.BDeviceProtocol = b[308]
	d.BConfigurationValue = b[309]
	d.BNumConfigurations = b[310]
	d.BNumInterfaces = b[311]
	if !withInterfaces || d.BNumInterfaces == 0 {
		return d, nil
	}
	ifaces := make([]byte, int(d.BNumInterfaces)*InterfaceTriplet)
	if err := ReadExactly(r, ifaces); err != nil {
		return d, err
	}
	for o := 0; o < len(ifaces); o += InterfaceTriplet {
		d.Interfaces = append(d.Interfaces, InterfaceDesc{Class: ifaces[o], SubClass: ifaces[o+1], Protocol: ifaces[o+2]})
	}
	return d, nil
}

// HeaderBasic is common to all URB cmds and replies.
type HeaderBasic struct {
	Command uint32
	Seqnum  uint32
	Devid   uint32
	Dir     uint32
	Ep      uint32
}

func (h HeaderBasic) put(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], h.Command)
	binary.BigEndian.PutUint32(b[4:8], h.Seqnum)
	binary.BigEndian.PutUint32(b[8:12], h.Devid)
	binary.BigEndian.PutUint32(b[12:16], h.Dir)
	binary.BigEndian.PutUint32(b[16:20], h.Ep)
}

func parseBasic(b []byte) HeaderBasic {
	return HeaderBasic{
		Command: binary.BigEndian.Uint32(b[0:4]),
		Seqnum:  binary.BigEndian.Uint32(b[4:8]),
		Devid:   binary.BigEndian.Uint32(b[8:12]),
		Dir:     binary.BigEndian.Uint32(b[12:16]),
		Ep:      binary.BigEndian.Uint32(b[16:20]),
	}
}

// PeekCommand returns the command code of a 48-byte URB header.
func PeekCommand(hdr []byte) uint32 { return binary.BigEndian.Uint32(hdr[0:4]) }

// CmdSubmit is USBIP_CMD_SUBMIT without its OUT payload.
type CmdSubmit struct {
	Basic             HeaderBasic
	TransferFlags     uint32
	TransferBufferLen uint32
	StartFrame        uint32
	NumberOfPackets   uint32
	Interval          uint32
	Setup             [8]byte
}

func (c *CmdSubmit) Write(w io.Writer) error {
	var b [URBHeaderSize]byte
	c.Basic.put(b[:])
	binary.BigEndian.PutUint32(b[20:24], c.TransferFlags)
	binary.BigEndian.PutUint32(b[24:28], c.TransferBufferLen)
	binary.BigEndian.PutUint32(b[28:32], c.StartFrame)
	binary.BigEndian.PutUint32(b[32:36], c.NumberOfPackets)
	binary.BigEndian.PutUint32(b[36:40], c.Interval)
	copy(b[40:48], c.Setup[:])
	_, err := w.Write(b[:])
	return err
}

// ParseCmdSubmit decodes a 48-byte header.
func ParseCmdSubmit(hdr []byte) CmdSubmit {
	c := CmdSubmit{
		Basic:             parseBasic(hdr),
		TransferFlags:     binary.BigEndian.Uint32(hdr[20:24]),
		TransferBufferLen: binary.BigEndian.Uint32(hdr[24:28]),
		StartFrame:        binary.BigEndian.Uint32(hdr[28:32]),
		NumberOfPackets:   binary.BigEndian.Uint32(hdr[32:36]),
		Interval:          binary.BigEndian.Uint32(hdr[36:40]),
	}
	copy(c.Setup[:], hdr[40:48])
	return c
}

// RetSubmit is USBIP_RET_SUBMIT without its IN payload.
type RetSubmit struct {
	Basic           HeaderBasic
	Status          int32
	ActualLength    uint32
	StartFrame      uint32
	NumberOfPackets uint32
	ErrorCount      uint32
	Padding         [8]byte
}

func (r *RetSubmit) Write(w io.Writer) error {
	var b [URBHeaderSize]byte
	r.put(b[:])
	_, err := w.Write(b[:])
	return err
}

func (r *RetSubmit) put(b []byte) {
	r.Basic.put(b)
	binary.BigEndian.PutUint32(b[20:24], uint32(r.Status))
	binary.BigEndian.PutUint32(b[24:28], r.ActualLength)
	binary.BigEndian.PutUint32(b[28:32], r.StartFrame)
	binary.BigEndian.PutUint32(b[32:36], r.NumberOfPackets)
	binary.BigEndian.PutUint32(b[36:40], r.ErrorCount)
	copy(b[40:48], r.Padding[:])
}

// AppendRetSubmit appends the header and payload, ready for one write.
// OUT replies carry ActualLength without a payload.
func AppendRetSubmit(dst []byte, r RetSubmit, payload []byte) []byte {
	var b [URBHeaderSize]byte
	r.put(b[:])
	dst = append(dst, b[:]...)
	return append(dst, payload...)
}

// ParseRetSubmit decodes a 48-byte header.
func ParseRetSubmit(hdr []byte) RetSubmit {
	r := RetSubmit{
		Basic:           parseBasic(hdr),
		Status:          int32(binary.BigEndian.Uint32(hdr[20:24])),
		ActualLength:    binary.BigEndian.Uint32(hdr[24:28]),
		StartFrame:      binary.BigEndian.Uint32(hdr[28:32]),
		NumberOfPackets: binary.BigEndian.Uint32(hdr[32:36]),
		ErrorCount:      binary.BigEndian.Uint32(hdr[36:40]),
	}
	copy(r.Padding[:], hdr[40:48])
	return r
}

// CmdUnlink asks the server to cancel the URB UnlinkSeqnum.
type CmdUnlink struct {
	Basic        HeaderBasic
	UnlinkSeqnum uint32
	Padding      [24]byte
}

// RetUnlink answers CmdUnlink. Status is StatusConnReset when the URB was
// cancelled, StatusOK when it had already completed.
type RetUnlink struct {
	Basic   HeaderBasic
	Status  int32
	Padding [24]byte
}

func (c *CmdUnlink) Write(w io.Writer) error {
	var b [URBHeaderSize]byte
	c.Basic.put(b[:])
	binary.BigEndian.PutUint32(b[20:24], c.UnlinkSeqnum)
	copy(b[24:48], c.Padding[:])
	_, err := w.Write(b[:])
	return err
}

func ParseCmdUnlink(hdr []byte) CmdUnlink {
	c := CmdUnlink{Basic: parseBasic(hdr), UnlinkSeqnum: binary.BigEndian.Uint32(hdr[20:24])}
	copy(c.Padding[:], hdr[24:48])
	return c
}

func (r *RetUnlink) Write(w io.Writer) error {
	var b [URBHeaderSize]byte
	r.Basic.put(b[:])
	binary.BigEndian.PutUint32(b[20:24], uint32(r.Status))
	copy(b[24:48], r.Padding[:])
	_, err := w.Write(b[:])
	return err
}

func ParseRetUnlink(hdr []byte) RetUnlink {
	r := RetUnlink{Basic: parseBasic(hdr), Status: int32(binary.BigEndian.Uint32(hdr[20:24]))}
	copy(r.Padding[:], hdr[24:48])
	return r
}

// ReadExactly fills buf from r.
func ReadExactly(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}
