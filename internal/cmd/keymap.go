package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Alia5/kbdfw/keymap"
)

// KeymapCommand groups keymap file subcommands.
type KeymapCommand struct {
	Check  KeymapCheck  `cmd:"" help:"Validate keymap files"`
	Dump   KeymapDump   `cmd:"" help:"Print a keymap in canonical form, optionally converting it"`
	Schema KeymapSchema `cmd:"" help:"Print the keymap JSON schema"`
}

// KeymapCheck validates one or more keymap files.
type KeymapCheck struct {
	Files []string `arg:"" name:"file" help:"Keymap files" type:"existingfile"`

	out io.Writer
}

func (c *KeymapCheck) Run(logger *slog.Logger) error {
	out := writerOr(c.out)
	failed := 0
	for _, f := range c.Files {
		km, err := keymap.Load(f)
		if err != nil {
			failed++
			logger.Error("Invalid keymap", "file", f, "error", err)
			continue
		}
		fmt.Fprintf(out, "%s: ok (%d layers, base %d)\n", f, len(km.Layers), km.Base)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d keymaps invalid", failed, len(c.Files))
	}
	return nil
}

// KeymapDump re-encodes a keymap file.
type KeymapDump struct {
	File   string `arg:"" name:"file" help:"Keymap file" type:"existingfile"`
	Format string `help:"Output format: json, yaml or toml (default: the input format)"`
	Output string `short:"o" help:"Write to this file instead of stdout"`

	out io.Writer
}

func (c *KeymapDump) Run() error {
	km, err := keymap.Load(c.File)
	if err != nil {
		return err
	}
	f, err := keymap.FormatFromPath(c.File)
	if err != nil {
		return err
	}
	if c.Format != "" {
		if f, err = keymap.ParseFormat(c.Format); err != nil {
			return err
		}
	}
	data, err := km.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode keymap: %w", err)
	}
	if c.Output != "" {
		return os.WriteFile(c.Output, data, 0o644)
	}
	_, err = writerOr(c.out).Write(data)
	return err
}

// KeymapSchema prints the embedded schema.
type KeymapSchema struct {
	out io.Writer
}

func (c *KeymapSchema) Run() error {
	_, err := writerOr(c.out).Write(keymap.Schema())
	return err
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
