package usb

import "time"

// ServerConfig represents the USB/IP part of the serve command.
type ServerConfig struct {
	Addr              string        `help:"USB-IP server listen address" default:":3241" env:"KBDFW_USBIP_ADDR"`
	ConnectionTimeout time.Duration `kong:"-"`
	FrameInterval     time.Duration `help:"Start-of-frame period while a host is attached" default:"1ms" env:"KBDFW_USBIP_FRAME_INTERVAL"`
}
