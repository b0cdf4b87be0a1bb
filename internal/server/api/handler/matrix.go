package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/Alia5/kbdfw/device/keyboard"
	"github.com/Alia5/kbdfw/firmware"
	"github.com/Alia5/kbdfw/internal/server/api"
	"github.com/Alia5/kbdfw/layer"
)

// Matrix stream framing.
const (
	// MatrixFrameSize is one client frame: physical key id, flags.
	MatrixFrameSize = 2
	// MatrixRelease marks a release edge in the flags byte.
	MatrixRelease = 0x01
)

// MatrixStream feeds key edges from the client into the firmware and
// writes the effective LED byte back on every LED change, starting with
// the current one.
func MatrixStream(fw *firmware.Firmware) api.StreamHandlerFunc {
	return func(ctx context.Context, conn net.Conn, logger *slog.Logger) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		leds, unsubscribe := fw.SubscribeLEDs(8)
		defer unsubscribe()

		// A failed LED write closes conn, which ends the read loop.
		writeErr := make(chan error, 1)
		go func() {
			err := writeLEDs(ctx, conn, fw.Keyboard().Snapshot().LEDs, leds)
			if err != nil {
				writeErr <- err
				_ = conn.Close()
			}
		}()

		var frame [MatrixFrameSize]byte
		for {
			if _, err := io.ReadFull(conn, frame[:]); err != nil {
				select {
				case werr := <-writeErr:
					return werr
				default:
				}
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				return err
			}
			if frame[0] >= layer.MaxKeys {
				logger.Warn("matrix frame out of range", "key", frame[0])
				continue
			}
			if err := fw.ProcessKey(ctx, frame[0], frame[1]&MatrixRelease != 0); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func writeLEDs(ctx context.Context, w io.Writer, current uint8, leds <-chan keyboard.LEDState) error {
	if _, err := w.Write([]byte{current}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-leds:
			if !ok {
				return nil
			}
			if _, err := w.Write([]byte{st.Byte()}); err != nil {
				return err
			}
		}
	}
}
