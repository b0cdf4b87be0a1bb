package api

import "time"

// ServerConfig represents the control API configuration.
type ServerConfig struct {
	Addr                 string        `help:"API server listen address" default:":3242" env:"KBDFW_API_ADDR"`
	RequireLocalhostAuth bool          `help:"Require the password handshake from loopback clients too" default:"false" env:"KBDFW_API_REQUIRE_LOCALHOST_AUTH"`
	Password             string        `kong:"-"`
	ConnectionTimeout    time.Duration `kong:"-"`
}
