// Package usb contains the USB descriptor model and its byte encoders.
package usb

import (
	"bytes"
	"encoding/binary"
)

// Descriptor types.
const (
	DeviceDescType    = 0x01
	ConfigDescType    = 0x02
	StringDescType    = 0x03
	InterfaceDescType = 0x04
	EndpointDescType  = 0x05
	HIDDescType       = 0x21
	ReportDescType    = 0x22
	DFUFuncDescType   = 0x21
)

// Descriptor lengths in bytes (fixed by the USB, HID and DFU specs).
const (
	DeviceDescLen    = 18
	ConfigDescLen    = 9
	InterfaceDescLen = 9
	EndpointDescLen  = 7
	HIDDescLen       = 9
	DFUFuncDescLen   = 9
)

// Configuration attribute bits.
const (
	ConfigAttrReserved     = 0x80
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// Endpoint transfer types (bmAttributes).
const (
	EndpointControl     = 0x00
	EndpointIsochronous = 0x01
	EndpointBulk        = 0x02
	EndpointInterrupt   = 0x03
)

// EndpointDirIn marks an IN endpoint address.
const EndpointDirIn = 0x80

// Descriptor holds all static descriptor data for a device.
type Descriptor struct {
	Device     DeviceDescriptor
	Config     ConfigHeader
	Interfaces []InterfaceConfig
	Strings    map[uint8]string
}

// InterfaceConfig holds the descriptors belonging to one interface.
type InterfaceConfig struct {
	Descriptor InterfaceDescriptor
	Endpoints  []EndpointDescriptor
	// HIDReport is the report descriptor; when set, a HID class descriptor
	// pointing at it is emitted after the interface descriptor.
	HIDReport []byte
	HID       *HIDDescriptor
	// ClassData is appended verbatim after the interface descriptor (DFU
	// functional descriptor and similar).
	ClassData []byte
}

// HIDClassDescriptor returns the 9-byte HID descriptor for the interface, or
// nil if it has no report descriptor.
func (c InterfaceConfig) HIDClassDescriptor() []byte {
	if len(c.HIDReport) == 0 {
		return nil
	}
	h := HIDDescriptor{BcdHID: 0x0111, BNumDescriptors: 1}
	if c.HID != nil {
		h = *c.HID
	}
	h.BNumDescriptors = 1
	h.ClassDescType = ReportDescType
	h.WDescriptorLength = uint16(len(c.HIDReport))
	var b bytes.Buffer
	h.Write(&b)
	return b.Bytes()
}

// EncodeStringDescriptor converts a UTF-8 string to a USB string descriptor:
//
//	Byte 0: bLength
//	Byte 1: bDescriptorType (0x03)
//	Bytes 2+: UTF-16LE code units
func EncodeStringDescriptor(s string) []byte {
	runes := []rune(s)
	buf := make([]byte, 2+len(runes)*2)
	buf[0] = uint8(len(buf))
	buf[1] = StringDescType
	for i, r := range runes {
		buf[2+i*2] = uint8(r)
		buf[2+i*2+1] = uint8(r >> 8)
	}
	return buf
}

// EncodeLangIDs builds string descriptor zero from a list of language ids.
func EncodeLangIDs(ids ...uint16) []byte {
	buf := make([]byte, 2+2*len(ids))
	buf[0] = uint8(len(buf))
	buf[1] = StringDescType
	for i, id := range ids {
		binary.LittleEndian.PutUint16(buf[2+2*i:], id)
	}
	return buf
}

// LangEnglishUS is the language id reported in string descriptor zero.
const LangEnglishUS = 0x0409

// DeviceDescriptor is the standard device descriptor. BLength and
// BDescriptorType are implied.
type DeviceDescriptor struct {
	BcdUSB             uint16
	BDeviceClass       uint8
	BDeviceSubClass    uint8
	BDeviceProtocol    uint8
	BMaxPacketSize0    uint8
	IDVendor           uint16
	IDProduct          uint16
	BcdDevice          uint16
	IManufacturer      uint8
	IProduct           uint8
	ISerialNumber      uint8
	BNumConfigurations uint8
	Speed              uint32 // 1=low, 2=full, 3=high, 4=super; USB/IP only
}

// Write appends the 18-byte device descriptor.
func (d DeviceDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(DeviceDescLen)
	b.WriteByte(DeviceDescType)
	_ = binary.Write(b, binary.LittleEndian, d.BcdUSB)
	b.WriteByte(d.BDeviceClass)
	b.WriteByte(d.BDeviceSubClass)
	b.WriteByte(d.BDeviceProtocol)
	b.WriteByte(d.BMaxPacketSize0)
	_ = binary.Write(b, binary.LittleEndian, d.IDVendor)
	_ = binary.Write(b, binary.LittleEndian, d.IDProduct)
	_ = binary.Write(b, binary.LittleEndian, d.BcdDevice)
	b.WriteByte(d.IManufacturer)
	b.WriteByte(d.IProduct)
	b.WriteByte(d.ISerialNumber)
	b.WriteByte(d.BNumConfigurations)
}

// DeviceBytes returns the device descriptor.
func (d *Descriptor) DeviceBytes() []byte {
	var b bytes.Buffer
	d.Device.Write(&b)
	return b.Bytes()
}

// ConfigBytes returns the full configuration descriptor: header, then for
// each interface its descriptor, class descriptors and endpoints.
// WTotalLength and BNumInterfaces are filled in.
func (d *Descriptor) ConfigBytes() []byte {
	var b bytes.Buffer
	h := d.Config
	h.BNumInterfaces = uint8(len(d.Interfaces))
	h.Write(&b)
	for _, iface := range d.Interfaces {
		iface.Descriptor.BNumEndpoints = uint8(len(iface.Endpoints))
		iface.Descriptor.Write(&b)
		b.Write(iface.HIDClassDescriptor())
		b.Write(iface.ClassData)
		for _, ep := range iface.Endpoints {
			ep.Write(&b)
		}
	}
	data := b.Bytes()
	binary.LittleEndian.PutUint16(data[2:4], uint16(len(data)))
	return data
}

// StringBytes returns string descriptor idx. Index zero is the language id
// table. The bool is false when no such string exists.
func (d *Descriptor) StringBytes(idx uint8) ([]byte, bool) {
	if idx == 0 {
		return EncodeLangIDs(LangEnglishUS), true
	}
	s, ok := d.Strings[idx]
	if !ok {
		return nil, false
	}
	return EncodeStringDescriptor(s), true
}

// ConfigHeader is the configuration descriptor header (9 bytes).
type ConfigHeader struct {
	WTotalLength        uint16
	BNumInterfaces      uint8
	BConfigurationValue uint8
	IConfiguration      uint8
	BMAttributes        uint8
	BMaxPower           uint8 // 2 mA units
}

func (h ConfigHeader) Write(b *bytes.Buffer) {
	b.WriteByte(ConfigDescLen)
	b.WriteByte(ConfigDescType)
	_ = binary.Write(b, binary.LittleEndian, h.WTotalLength)
	b.WriteByte(h.BNumInterfaces)
	b.WriteByte(h.BConfigurationValue)
	b.WriteByte(h.IConfiguration)
	b.WriteByte(h.BMAttributes)
	b.WriteByte(h.BMaxPower)
}

// InterfaceDescriptor (9 bytes) for each interface altsetting.
type InterfaceDescriptor struct {
	BInterfaceNumber   uint8
	BAlternateSetting  uint8
	BNumEndpoints      uint8
	BInterfaceClass    uint8
	BInterfaceSubClass uint8
	BInterfaceProtocol uint8
	IInterface         uint8
}

func (i InterfaceDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(InterfaceDescLen)
	b.WriteByte(InterfaceDescType)
	b.WriteByte(i.BInterfaceNumber)
	b.WriteByte(i.BAlternateSetting)
	b.WriteByte(i.BNumEndpoints)
	b.WriteByte(i.BInterfaceClass)
	b.WriteByte(i.BInterfaceSubClass)
	b.WriteByte(i.BInterfaceProtocol)
	b.WriteByte(i.IInterface)
}

// EndpointDescriptor (7 bytes) for each endpoint.
type EndpointDescriptor struct {
	BEndpointAddress uint8
	BMAttributes     uint8
	WMaxPacketSize   uint16
	BInterval        uint8
}

func (e EndpointDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(EndpointDescLen)
	b.WriteByte(EndpointDescType)
	b.WriteByte(e.BEndpointAddress)
	b.WriteByte(e.BMAttributes)
	_ = binary.Write(b, binary.LittleEndian, e.WMaxPacketSize)
	b.WriteByte(e.BInterval)
}

// HIDDescriptor is the HID class descriptor with one subordinate report
// descriptor.
type HIDDescriptor struct {
	BcdHID            uint16
	BCountryCode      uint8
	BNumDescriptors   uint8
	ClassDescType     uint8
	WDescriptorLength uint16
}

func (h HIDDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(HIDDescLen)
	b.WriteByte(HIDDescType)
	_ = binary.Write(b, binary.LittleEndian, h.BcdHID)
	b.WriteByte(h.BCountryCode)
	b.WriteByte(h.BNumDescriptors)
	b.WriteByte(h.ClassDescType)
	_ = binary.Write(b, binary.LittleEndian, h.WDescriptorLength)
}

// DFUFunctionalDescriptor is the DFU 1.1 functional descriptor.
type DFUFunctionalDescriptor struct {
	BMAttributes   uint8
	WDetachTimeout uint16 // ms
	WTransferSize  uint16
	BcdDFUVersion  uint16
}

// DFU functional attribute bits.
const (
	DFUCanDownload           = 0x01
	DFUCanUpload             = 0x02
	DFUManifestationTolerant = 0x04
	DFUWillDetach            = 0x08
)

func (f DFUFunctionalDescriptor) Write(b *bytes.Buffer) {
	b.WriteByte(DFUFuncDescLen)
	b.WriteByte(DFUFuncDescType)
	b.WriteByte(f.BMAttributes)
	_ = binary.Write(b, binary.LittleEndian, f.WDetachTimeout)
	_ = binary.Write(b, binary.LittleEndian, f.WTransferSize)
	_ = binary.Write(b, binary.LittleEndian, f.BcdDFUVersion)
}

// Bytes returns the encoded functional descriptor.
func (f DFUFunctionalDescriptor) Bytes() []byte {
	var b bytes.Buffer
	f.Write(&b)
	return b.Bytes()
}
