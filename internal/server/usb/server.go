// Package usb serves one USB device over USB/IP. The attached host drives
// the device: control URBs run the control transfer state machine, IN
// URBs wait for queued reports, and a start-of-frame ticker stands in for
// the SOF interrupt.
package usb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Alia5/kbdfw/internal/log"
	"github.com/Alia5/kbdfw/usb"
	"github.com/Alia5/kbdfw/usbdev"
	"github.com/Alia5/kbdfw/usbip"
)

// BusID is the USB/IP bus id the device is exported as.
const BusID = "1-1"

const (
	busNum  = 1
	devNum  = 1
	devPath = "/sys/devices/platform/kbdfw/usb1/1-1"

	// Import status when the device is already attached to another host.
	importBusy = 1
)

type Server struct {
	config    *ServerConfig
	logger    *slog.Logger
	rawLogger log.RawLogger
	dev       usb.Device
	meta      usbip.ExportMeta

	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	ln       net.Listener
	attached net.Conn
}

func New(config ServerConfig, dev usb.Device, logger *slog.Logger, rawLogger log.RawLogger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = time.Millisecond
	}
	return &Server{
		config:    &config,
		logger:    logger,
		rawLogger: rawLogger,
		dev:       dev,
		meta:      usbip.NewExportMeta(devPath, BusID, busNum, devNum),
		ready:     make(chan struct{}),
	}
}

// ListenAndServe starts the USB-IP server and handles incoming connections.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("USBIP server listening", "addr", ln.Addr().String())
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("USBIP server stopped")
				return nil
			}
			s.logger.Error("Accept error", "error", err)
			continue
		}
		s.logger.Info("Client connected", "remote", c.RemoteAddr())
		go func() {
			if err := s.handleConn(c); err != nil {
				if isClientDisconnect(err) {
					s.logger.Info("Client disconnected", "error", err)
				} else {
					s.logger.Error("Connection handler error", "error", err)
				}
			}
		}()
	}
}

// Ready returns a channel that is closed once the server has bound to its
// listen address.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Close stops the listener and drops an attached host.
func (s *Server) Close() error {
	s.mu.Lock()
	ln, att := s.ln, s.attached
	s.mu.Unlock()
	if att != nil {
		_ = att.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

// Addr is the bound listen address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// GetListenPort returns the bound port, falling back to the configured one.
func (s *Server) GetListenPort() uint16 {
	addr := s.config.Addr
	if a := s.Addr(); a != nil {
		addr = a.String()
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port)
}

// Attached reports whether a host has imported the device.
func (s *Server) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached != nil
}

// --

func (s *Server) handleConn(conn net.Conn) error {
	defer conn.Close()
	conn = &logConn{Conn: conn, s: s}
	if s.config.ConnectionTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.config.ConnectionTimeout)); err != nil {
			s.logger.Warn("Failed to set deadline", "error", err)
		}
	}

	hdr, err := usbip.ReadMgmtHeader(conn)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	switch hdr.Command {
	case usbip.OpReqDevlist:
		s.logger.Debug("OP_REQ_DEVLIST")
		return s.handleDevList(conn)
	case usbip.OpReqImport:
		s.logger.Debug("OP_REQ_IMPORT")
		ok, err := s.handleImport(conn)
		if err != nil || !ok {
			return err
		}
		defer s.detach(conn)
		return s.handleUrbStream(conn)
	}
	return fmt.Errorf("protocol violation: unexpected op 0x%04x", hdr.Command)
}

func (s *Server) exported() usbip.ExportedDevice {
	return usbip.DescribeDevice(s.meta, s.dev.Descriptor())
}

func (s *Server) handleDevList(conn net.Conn) error {
	var buf bytes.Buffer
	_ = (&usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepDevlist}).Write(&buf)
	_ = (&usbip.DevListReplyHeader{NDevices: 1}).Write(&buf)
	exp := s.exported()
	_ = exp.WriteDevlist(&buf)
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write devlist: %w", err)
	}
	return nil
}

// handleImport answers OP_REQ_IMPORT. It returns true when the device was
// handed to this connection.
func (s *Server) handleImport(conn net.Conn) (bool, error) {
	var bus [usbip.BusIDSize]byte
	if err := usbip.ReadExactly(conn, bus[:]); err != nil {
		return false, fmt.Errorf("read import busid: %w", err)
	}
	req := string(bus[:])
	if i := bytes.IndexByte(bus[:], 0); i >= 0 {
		req = string(bus[:i])
	}
	s.logger.Info("Import request", "busid", req)

	rep := usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpRepImport}
	if req != BusID {
		rep.Status = importBusy
		_ = rep.Write(conn)
		return false, fmt.Errorf("no device matches busid %s", req)
	}

	s.mu.Lock()
	busy := s.attached != nil
	if !busy {
		s.attached = conn
	}
	s.mu.Unlock()
	if busy {
		rep.Status = importBusy
		_ = rep.Write(conn)
		s.logger.Warn("Import refused, device already attached", "remote", conn.RemoteAddr())
		return false, nil
	}

	// A fresh attach is a plug-in: the device starts unaddressed.
	s.dev.BusReset()

	var buf bytes.Buffer
	_ = rep.Write(&buf)
	exp := s.exported()
	_ = exp.WriteImport(&buf)
	if _, err := conn.Write(buf.Bytes()); err != nil {
		s.detach(conn)
		return false, fmt.Errorf("write import reply: %w", err)
	}
	return true, nil
}

func (s *Server) detach(conn net.Conn) {
	s.mu.Lock()
	if s.attached != conn {
		s.mu.Unlock()
		return
	}
	s.attached = nil
	s.mu.Unlock()
	s.dev.BusReset()
	s.logger.Info("Device detached", "remote", conn.RemoteAddr())
}

type logConn struct {
	net.Conn
	s *Server
}

func (lc *logConn) Read(p []byte) (int, error) {
	n, err := lc.Conn.Read(p)
	if n > 0 && lc.s.rawLogger != nil {
		lc.s.rawLogger.Log(true, p[:n])
	}
	return n, err
}

func (lc *logConn) Write(p []byte) (int, error) {
	n, err := lc.Conn.Write(p)
	if n > 0 && lc.s.rawLogger != nil {
		lc.s.rawLogger.Log(false, p[:n])
	}
	return n, err
}

// isClientDisconnect tests whether an error represents a normal client
// disconnect (EOF, ECONNRESET, broken pipe, closed connection). Those are
// logged at Info level instead of Error.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "connection reset by peer") || strings.Contains(e, "forcibly closed")
}

// urbStatus maps a device error to the URB status the host sees.
func urbStatus(err error) int32 {
	switch {
	case err == nil:
		return usbip.StatusOK
	case errors.Is(err, usbdev.ErrStalled):
		return usbip.StatusPipe
	default:
		return usbip.StatusShutdown
	}
}
