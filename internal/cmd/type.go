package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Alia5/kbdfw/apiclient"
	"github.com/Alia5/kbdfw/keycode"
)

// Type turns terminal keystrokes into matrix edges on a running server.
// Physical ids are sent as the HID usage of each character, which the
// pass-through entries of a keymap resolve to that usage.
type Type struct {
	Addr     string        `help:"Control API address" default:"localhost:3242" env:"KBDFW_API_ADDR"`
	Password string        `help:"Control API password" env:"KBDFW_API_PASSWORD"`
	Delay    time.Duration `help:"Pause between press and release" default:"10ms" env:"KBDFW_TYPE_DELAY"`
}

// keySender is the part of the matrix stream typing needs.
type keySender interface {
	Send(key uint8, release bool) error
}

const (
	ctrlC = 0x03
	ctrlD = 0x04
	del   = 0x7F
)

func (t *Type) Run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := apiclient.New(t.Addr)
	if t.Password != "" {
		c = apiclient.NewWithPassword(t.Addr, t.Password)
	}
	stream, err := c.OpenMatrix(ctx)
	if err != nil {
		return fmt.Errorf("open matrix stream: %w", err)
	}
	defer stream.Close()

	leds, _ := stream.StartReading(ctx, 4)
	go func() {
		for st := range leds {
			logger.Debug("LEDs", "num", st.NumLock, "caps", st.CapsLock, "scroll", st.ScrollLock)
		}
	}()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer func() { _ = term.Restore(fd, old) }()
		fmt.Fprint(os.Stderr, "Typing into kbdfw, Ctrl-C or Ctrl-D to stop\r\n")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- typeInput(stream, os.Stdin, t.Delay, logger) }()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// typeInput sends one tap per known character until EOF, Ctrl-C or Ctrl-D.
func typeInput(s keySender, r io.Reader, delay time.Duration, logger *slog.Logger) error {
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch b {
		case ctrlC, ctrlD:
			return nil
		case del:
			b = '\b'
		}
		usage, shift, ok := keycode.FromChar(b)
		if !ok {
			logger.Debug("No key for character", "char", b)
			continue
		}
		if err := tapUsage(s, usage, shift, delay); err != nil {
			return err
		}
	}
}

func tapUsage(s keySender, usage uint8, shift bool, delay time.Duration) error {
	if shift {
		if err := s.Send(keycode.KeyLeftShift, false); err != nil {
			return err
		}
	}
	if err := s.Send(usage, false); err != nil {
		return err
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err := s.Send(usage, true); err != nil {
		return err
	}
	if shift {
		return s.Send(keycode.KeyLeftShift, true)
	}
	return nil
}
