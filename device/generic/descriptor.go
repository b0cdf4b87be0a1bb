package generic

import (
	"github.com/Alia5/kbdfw/usb"
	"github.com/Alia5/kbdfw/usb/hid"
)

// Endpoint addresses of the generic interface.
const (
	EndpointIn  = 0x82
	EndpointOut = 0x02
)

// ReportSize is the size of every generic report including the id byte.
const ReportSize = 32

// PayloadSize is the report size without the id byte.
const PayloadSize = ReportSize - 1

// Report ids.
const (
	ReportStatus  = 0x01
	ReportCommand = 0x02
)

var reportDescriptor = hid.Report{
	Items: []hid.Item{
		hid.UsagePage{Page: hid.UsagePageVendor},
		hid.Usage{Usage: 0x01},
		hid.Collection{Kind: hid.CollectionApplication, Items: []hid.Item{
			hid.LogicalMinimum{Min: 0},
			hid.LogicalMaximum{Max: 255},
			hid.ReportSize{Bits: 8},
			hid.ReportCount{Count: PayloadSize},

			hid.ReportID{ID: ReportStatus},
			hid.Usage{Usage: 0x01},
			hid.Input{Flags: hid.MainData | hid.MainVar | hid.MainAbs},
			hid.Usage{Usage: 0x01},
			hid.Feature{Flags: hid.MainData | hid.MainVar | hid.MainAbs},

			hid.ReportID{ID: ReportCommand},
			hid.Usage{Usage: 0x02},
			hid.Output{Flags: hid.MainData | hid.MainVar | hid.MainAbs},
			hid.Usage{Usage: 0x02},
			hid.Feature{Flags: hid.MainData | hid.MainVar | hid.MainAbs},
		}},
	},
}

func interfaceConfig(num uint8) usb.InterfaceConfig {
	return usb.InterfaceConfig{
		Descriptor: usb.InterfaceDescriptor{
			BInterfaceNumber: num,
			BInterfaceClass:  0x03, // HID, no boot subclass
		},
		HIDReport: reportDescriptor.MustBytes(),
		Endpoints: []usb.EndpointDescriptor{
			{
				BEndpointAddress: EndpointIn,
				BMAttributes:     usb.EndpointInterrupt,
				WMaxPacketSize:   ReportSize,
				BInterval:        0x0A,
			},
			{
				BEndpointAddress: EndpointOut,
				BMAttributes:     usb.EndpointInterrupt,
				WMaxPacketSize:   ReportSize,
				BInterval:        0x0A,
			},
		},
	}
}
