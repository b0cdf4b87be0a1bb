// Package config declares the kong command line of the kbdfw binary.
package config

import "github.com/Alia5/kbdfw/internal/cmd"

// Log configures the process logger and the raw USB/IP byte log.
type Log struct {
	Level   string `help:"Log level: trace, debug, info, warn or error" default:"info" env:"KBDFW_LOG_LEVEL"`
	File    string `help:"Log file path (default: stdout/stderr only)" env:"KBDFW_LOG_FILE"`
	RawFile string `help:"Write a hex dump of every USB/IP chunk to this file" env:"KBDFW_LOG_RAW_FILE"`
}

// CLI is the root command.
type CLI struct {
	Config string `help:"Config file (.json, .yaml or .toml)" type:"path" env:"KBDFW_CONFIG"`
	Log    Log    `embed:"" prefix:"log."`

	Serve     cmd.Serve         `cmd:"" help:"Run the keyboard firmware behind a USB/IP server and the control API"`
	Keymap    cmd.KeymapCommand `cmd:"" help:"Keymap file tools"`
	Type      cmd.Type          `cmd:"" help:"Type into a running server from the terminal"`
	ConfigCmd cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration file tools"`
}
