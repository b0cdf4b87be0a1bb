package usb_test

import (
	"testing"

	"github.com/Alia5/kbdfw/usb"
	"github.com/stretchr/testify/assert"
)

func TestEncodeStringDescriptor(t *testing.T) {
	assert.Equal(t, []byte{0x08, 0x03, 'k', 0, 'b', 0, 'd', 0}, usb.EncodeStringDescriptor("kbd"))
	assert.Equal(t, []byte{0x04, 0x03, 0x09, 0x04}, usb.EncodeLangIDs(usb.LangEnglishUS))
}

func TestConfigBytes(t *testing.T) {
	d := &usb.Descriptor{
		Config: usb.ConfigHeader{BConfigurationValue: 1, BMAttributes: 0xA0, BMaxPower: 50},
		Interfaces: []usb.InterfaceConfig{
			{
				Descriptor: usb.InterfaceDescriptor{BInterfaceClass: 0x03, BInterfaceSubClass: 0x01, BInterfaceProtocol: 0x01},
				HIDReport:  []byte{0x05, 0x01, 0x09, 0x06},
				Endpoints: []usb.EndpointDescriptor{
					{BEndpointAddress: 0x81, BMAttributes: usb.EndpointInterrupt, WMaxPacketSize: 8, BInterval: 1},
				},
			},
			{
				Descriptor: usb.InterfaceDescriptor{BInterfaceNumber: 1, BInterfaceClass: 0xFE, BInterfaceSubClass: 0x01, BInterfaceProtocol: 0x01},
				ClassData:  usb.DFUFunctionalDescriptor{BMAttributes: usb.DFUWillDetach, WDetachTimeout: 1000, WTransferSize: 64, BcdDFUVersion: 0x0110}.Bytes(),
			},
		},
	}

	expected := []byte{
		0x09, 0x02, 0x34, 0x00, 0x02, 0x01, 0x00, 0xA0, 0x32,
		0x09, 0x04, 0x00, 0x00, 0x01, 0x03, 0x01, 0x01, 0x00,
		0x09, 0x21, 0x11, 0x01, 0x00, 0x01, 0x22, 0x04, 0x00,
		0x07, 0x05, 0x81, 0x03, 0x08, 0x00, 0x01,
		0x09, 0x04, 0x01, 0x00, 0x00, 0xFE, 0x01, 0x01, 0x00,
		0x09, 0x21, 0x08, 0xE8, 0x03, 0x40, 0x00, 0x10, 0x01,
	}
	assert.Equal(t, expected, d.ConfigBytes())
}

func TestStringBytes(t *testing.T) {
	d := &usb.Descriptor{Strings: map[uint8]string{1: "A"}}

	b, ok := d.StringBytes(0)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x04, 0x03, 0x09, 0x04}, b)

	b, ok = d.StringBytes(1)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x04, 0x03, 'A', 0x00}, b)

	_, ok = d.StringBytes(7)
	assert.False(t, ok)
}
