package apiclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Alia5/kbdfw/device/keyboard"
)

// MatrixPath is the stream route that feeds key edges into the firmware.
const MatrixPath = "matrix"

// MatrixStream is a bidirectional connection to the matrix stream. The
// client writes [key, flags] frames and the server writes one LED byte per
// change, starting with the current state.
type MatrixStream struct {
	conn   net.Conn
	closed bool

	readCancel context.CancelFunc
	readMu     sync.Mutex
}

// OpenMatrix connects to the matrix stream, authenticating first when the
// client has a password.
func (c *Client) OpenMatrix(ctx context.Context) (*MatrixStream, error) {
	if c.transport.mock != nil {
		return nil, fmt.Errorf("stream connections not supported with mock transport")
	}
	conn, err := c.transport.dial(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte(MatrixPath + "\x00")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write stream path: %w", err)
	}
	return &MatrixStream{conn: conn}, nil
}

// Send writes a single key edge.
func (s *MatrixStream) Send(key uint8, release bool) error {
	if s.closed {
		return fmt.Errorf("stream closed")
	}
	var flags byte
	if release {
		flags = 0x01
	}
	_, err := s.conn.Write([]byte{key, flags})
	return err
}

// Tap sends a press edge followed by a release edge.
func (s *MatrixStream) Tap(key uint8) error {
	if err := s.Send(key, false); err != nil {
		return err
	}
	return s.Send(key, true)
}

// Write sends raw frames to the stream.
func (s *MatrixStream) Write(data []byte) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("stream closed")
	}
	return s.conn.Write(data)
}

// Read receives raw LED bytes from the stream.
// For event-driven reading, use StartReading() instead.
func (s *MatrixStream) Read(buf []byte) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("stream closed")
	}
	return s.conn.Read(buf)
}

// StartReading decodes LED bytes in a background goroutine until ctx is
// done, the stream closes or a read fails. The error channel receives the
// reason reading stopped.
func (s *MatrixStream) StartReading(ctx context.Context, chSize int) (<-chan keyboard.LEDState, <-chan error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.readCancel != nil {
		panic("StartReading called twice on the same stream")
	}

	ledCh := make(chan keyboard.LEDState, chSize)
	errCh := make(chan error, 1)

	readCtx, cancel := context.WithCancel(ctx)
	s.readCancel = cancel

	go func() {
		defer close(ledCh)
		defer close(errCh)
		defer cancel()

		r := bufio.NewReader(s.conn)
		for {
			select {
			case <-readCtx.Done():
				errCh <- readCtx.Err()
				return
			default:
			}

			if s.closed {
				errCh <- io.EOF
				return
			}

			b, err := r.ReadByte()
			if err != nil {
				errCh <- err
				return
			}

			select {
			case ledCh <- keyboard.LEDStateFromByte(b):
			case <-readCtx.Done():
				errCh <- readCtx.Err()
				return
			}
		}
	}()

	return ledCh, errCh
}

// SetReadDeadline sets the read deadline for the underlying connection.
func (s *MatrixStream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline for the underlying connection.
func (s *MatrixStream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

// Close closes the stream connection and stops any background reading.
func (s *MatrixStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.readMu.Lock()
	if s.readCancel != nil {
		s.readCancel()
	}
	s.readMu.Unlock()

	return s.conn.Close()
}
