package keyboard

import (
	"github.com/Alia5/kbdfw/usb"
	"github.com/Alia5/kbdfw/usb/hid"
)

// Endpoint addresses of the keyboard interface.
const (
	EndpointIn  = 0x81
	EndpointOut = 0x01
)

// Vendor usage carrying the Apple Fn key in the reserved byte.
const appleVendorUsageFn = 0x03

// reportDescriptor builds the descriptor matching State.Report for cfg:
// a boot compatible modifier byte, the optional reserved byte, a key array
// and the LED output report.
func reportDescriptor(cfg Config) hid.Report {
	var input []hid.Item
	if cfg.ReportID != 0 {
		input = append(input, hid.ReportID{ID: cfg.ReportID})
	}
	input = append(input,
		hid.UsagePage{Page: hid.UsagePageKeyboard},
		hid.UsageMinimum{Min: 0xE0}, // Left Control
		hid.UsageMaximum{Max: 0xE7}, // Right GUI
		hid.LogicalMinimum{Min: 0},
		hid.LogicalMaximum{Max: 1},
		hid.ReportSize{Bits: 1},
		hid.ReportCount{Count: 8},
		hid.Input{Flags: hid.MainData | hid.MainVar | hid.MainAbs},
	)
	slots := cfg.Rollover
	if cfg.BootCompatReserved {
		// Reserved byte: vendor keys, bit per virtual usage.
		input = append(input,
			hid.UsagePage{Page: hid.UsagePageAppleVendor},
			hid.Usage{Usage: appleVendorUsageFn},
			hid.ReportSize{Bits: 1},
			hid.ReportCount{Count: 1},
			hid.Input{Flags: hid.MainData | hid.MainVar | hid.MainAbs},
			hid.ReportCount{Count: 7},
			hid.Input{Flags: hid.MainConst},
		)
	}
	input = append(input,
		hid.UsagePage{Page: hid.UsagePageKeyboard},
		hid.UsageMinimum{Min: 0x00},
		hid.UsageMaximum{Max: 0xFF},
		hid.LogicalMinimum{Min: 0},
		hid.LogicalMaximum{Max: 255},
		hid.ReportSize{Bits: 8},
		hid.ReportCount{Count: uint32(slots)},
		hid.Input{Flags: hid.MainData | hid.MainArray | hid.MainAbs},

		hid.UsagePage{Page: hid.UsagePageLEDs},
		hid.UsageMinimum{Min: 0x01}, // Num Lock
		hid.UsageMaximum{Max: 0x05}, // Kana
		hid.LogicalMinimum{Min: 0},
		hid.LogicalMaximum{Max: 1},
		hid.ReportSize{Bits: 1},
		hid.ReportCount{Count: 5},
		hid.Output{Flags: hid.MainData | hid.MainVar | hid.MainAbs},
		hid.ReportSize{Bits: 3},
		hid.ReportCount{Count: 1},
		hid.Output{Flags: hid.MainConst},
	)
	return hid.Report{
		Items: []hid.Item{
			hid.UsagePage{Page: hid.UsagePageGenericDesktop},
			hid.Usage{Usage: hid.UsageKeyboard},
			hid.Collection{Kind: hid.CollectionApplication, Items: input},
		},
	}
}

func interfaceConfig(cfg Config, num uint8) usb.InterfaceConfig {
	inSize := uint16(2 + cfg.Rollover + 1)
	if inSize < 8 {
		inSize = 8
	}
	return usb.InterfaceConfig{
		Descriptor: usb.InterfaceDescriptor{
			BInterfaceNumber:   num,
			BInterfaceClass:    0x03, // HID
			BInterfaceSubClass: 0x01, // Boot interface
			BInterfaceProtocol: 0x01, // Keyboard
		},
		HIDReport: reportDescriptor(cfg).MustBytes(),
		Endpoints: []usb.EndpointDescriptor{
			{
				BEndpointAddress: EndpointIn,
				BMAttributes:     usb.EndpointInterrupt,
				WMaxPacketSize:   inSize,
				BInterval:        0x01,
			},
			{
				BEndpointAddress: EndpointOut,
				BMAttributes:     usb.EndpointInterrupt,
				WMaxPacketSize:   0x0008,
				BInterval:        0x01,
			},
		},
	}
}
