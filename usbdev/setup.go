package usbdev

import (
	"encoding/binary"
	"fmt"
)

// Setup is a parsed 8-byte control setup packet.
type Setup struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ParseSetup decodes the little-endian setup packet.
func ParseSetup(b [8]byte) Setup {
	return Setup{
		RequestType: b[0],
		Request:     b[1],
		Value:       binary.LittleEndian.Uint16(b[2:4]),
		Index:       binary.LittleEndian.Uint16(b[4:6]),
		Length:      binary.LittleEndian.Uint16(b[6:8]),
	}
}

// Bytes encodes s back into its wire form.
func (s Setup) Bytes() [8]byte {
	var b [8]byte
	b[0] = s.RequestType
	b[1] = s.Request
	binary.LittleEndian.PutUint16(b[2:4], s.Value)
	binary.LittleEndian.PutUint16(b[4:6], s.Index)
	binary.LittleEndian.PutUint16(b[6:8], s.Length)
	return b
}

// RequestKind is bits 6..5 of bmRequestType.
type RequestKind uint8

const (
	KindStandard RequestKind = 0
	KindClass    RequestKind = 1
	KindVendor   RequestKind = 2
)

// Recipient is bits 4..0 of bmRequestType.
type Recipient uint8

const (
	RecipientDevice    Recipient = 0
	RecipientInterface Recipient = 1
	RecipientEndpoint  Recipient = 2
	RecipientOther     Recipient = 3
)

// IsIn reports a device-to-host data stage.
func (s Setup) IsIn() bool            { return s.RequestType&0x80 != 0 }
func (s Setup) Kind() RequestKind     { return RequestKind((s.RequestType >> 5) & 0x03) }
func (s Setup) Recipient() Recipient  { return Recipient(s.RequestType & 0x1F) }
func (s Setup) DescriptorType() uint8 { return uint8(s.Value >> 8) }
func (s Setup) DescriptorIndex() uint8 {
	return uint8(s.Value)
}

// InterfaceNumber is the low byte of wIndex for interface requests.
func (s Setup) InterfaceNumber() uint8 { return uint8(s.Index) }

func (s Setup) String() string {
	return fmt.Sprintf("bmRequestType=0x%02x bRequest=0x%02x wValue=0x%04x wIndex=0x%04x wLength=%d",
		s.RequestType, s.Request, s.Value, s.Index, s.Length)
}

// Standard request codes (USB 2.0, 9.4).
const (
	ReqGetStatus        = 0x00
	ReqClearFeature     = 0x01
	ReqSetFeature       = 0x03
	ReqSetAddress       = 0x05
	ReqGetDescriptor    = 0x06
	ReqSetDescriptor    = 0x07
	ReqGetConfiguration = 0x08
	ReqSetConfiguration = 0x09
	ReqGetInterface     = 0x0A
	ReqSetInterface     = 0x0B
)

// Feature selectors.
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
)

// HID class request codes (HID 1.11, 7.2).
const (
	HIDGetReport   = 0x01
	HIDGetIdle     = 0x02
	HIDGetProtocol = 0x03
	HIDSetReport   = 0x09
	HIDSetIdle     = 0x0A
	HIDSetProtocol = 0x0B
)

// HID report types carried in the high byte of wValue.
const (
	HIDReportInput   = 0x01
	HIDReportOutput  = 0x02
	HIDReportFeature = 0x03
)

// DFU class request codes (DFU 1.1, 3).
const (
	DFUDetach    = 0x00
	DFUDnload    = 0x01
	DFUUpload    = 0x02
	DFUGetStatus = 0x03
	DFUClrStatus = 0x04
	DFUGetState  = 0x05
	DFUAbort     = 0x06
)
