package usb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Alia5/kbdfw/usbip"
)

// session is one attached host. Control and OUT URBs complete in order on
// the reader goroutine; IN URBs on interrupt endpoints each wait in their
// own goroutine until the device queues a packet or the URB is unlinked.
type session struct {
	s    *Server
	conn net.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint32]context.CancelFunc
}

func (s *Server) handleUrbStream(conn net.Conn) error {
	_ = conn.SetDeadline(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	ss := &session{s: s, conn: conn, ctx: ctx, cancel: cancel, pending: map[uint32]context.CancelFunc{}}
	defer ss.close()

	ss.wg.Add(1)
	go ss.frames()

	for {
		var hdr [usbip.URBHeaderSize]byte
		if err := usbip.ReadExactly(conn, hdr[:]); err != nil {
			return fmt.Errorf("read URB header: %w", err)
		}
		switch cmd := usbip.PeekCommand(hdr[:]); cmd {
		case usbip.CmdSubmitCode:
			if err := ss.submit(usbip.ParseCmdSubmit(hdr[:])); err != nil {
				return err
			}
		case usbip.CmdUnlinkCode:
			if err := ss.unlink(usbip.ParseCmdUnlink(hdr[:])); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported cmd %d", cmd)
		}
	}
}

func (ss *session) close() {
	ss.cancel()
	ss.wg.Wait()
}

// frames is the start-of-frame interrupt.
func (ss *session) frames() {
	defer ss.wg.Done()
	t := time.NewTicker(ss.s.config.FrameInterval)
	defer t.Stop()
	for {
		select {
		case <-ss.ctx.Done():
			return
		case <-t.C:
			ss.s.dev.Frame()
		}
	}
}

func (ss *session) submit(c usbip.CmdSubmit) error {
	var out []byte
	if c.Basic.Dir == usbip.DirOut && c.TransferBufferLen > 0 {
		out = make([]byte, c.TransferBufferLen)
		if err := usbip.ReadExactly(ss.conn, out); err != nil {
			return fmt.Errorf("read OUT payload: %w", err)
		}
	}
	ep := uint8(c.Basic.Ep & 0x0F)

	switch {
	case ep == 0:
		data, err := ss.s.dev.Control(c.Setup, out)
		if c.Basic.Dir == usbip.DirOut {
			return ss.reply(c, urbStatus(err), nil, len(out))
		}
		if len(data) > int(c.TransferBufferLen) {
			data = data[:c.TransferBufferLen]
		}
		return ss.reply(c, urbStatus(err), data, len(data))

	case c.Basic.Dir == usbip.DirOut:
		err := ss.s.dev.WriteOut(ep, out)
		n := len(out)
		if err != nil {
			n = 0
			ss.s.logger.Debug("OUT transfer failed", "ep", ep, "error", err)
		}
		return ss.reply(c, urbStatus(err), nil, n)
	}

	ctx, cancel := context.WithCancel(ss.ctx)
	ss.mu.Lock()
	ss.pending[c.Basic.Seqnum] = cancel
	ss.mu.Unlock()

	ss.wg.Add(1)
	go func() {
		defer ss.wg.Done()
		defer cancel()
		data, err := ss.s.dev.ReadIn(ctx, ep)

		ss.mu.Lock()
		_, live := ss.pending[c.Basic.Seqnum]
		delete(ss.pending, c.Basic.Seqnum)
		ss.mu.Unlock()
		if !live || ss.ctx.Err() != nil {
			return
		}
		if len(data) > int(c.TransferBufferLen) {
			data = data[:c.TransferBufferLen]
		}
		if err := ss.reply(c, urbStatus(err), data, len(data)); err != nil {
			ss.s.logger.Debug("IN reply failed", "ep", ep, "error", err)
		}
	}()
	return nil
}

func (ss *session) unlink(c usbip.CmdUnlink) error {
	ss.mu.Lock()
	cancel, ok := ss.pending[c.UnlinkSeqnum]
	delete(ss.pending, c.UnlinkSeqnum)
	ss.mu.Unlock()

	status := int32(usbip.StatusOK)
	if ok {
		cancel()
		status = usbip.StatusConnReset
	}
	ss.s.logger.Debug("USBIP_CMD_UNLINK", "seq", c.Basic.Seqnum, "unlink", c.UnlinkSeqnum, "pending", ok)

	ret := usbip.RetUnlink{
		Basic:  usbip.HeaderBasic{Command: usbip.RetUnlinkCode, Seqnum: c.Basic.Seqnum, Devid: c.Basic.Devid},
		Status: status,
	}
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	return ret.Write(ss.conn)
}

func (ss *session) reply(c usbip.CmdSubmit, status int32, data []byte, actual int) error {
	ret := usbip.RetSubmit{
		Basic:        usbip.HeaderBasic{Command: usbip.RetSubmitCode, Seqnum: c.Basic.Seqnum, Devid: c.Basic.Devid, Dir: c.Basic.Dir, Ep: c.Basic.Ep},
		Status:       status,
		ActualLength: uint32(actual),
	}
	b := usbip.AppendRetSubmit(nil, ret, data)
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	if _, err := ss.conn.Write(b); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		return fmt.Errorf("write RET_SUBMIT: %w", err)
	}
	return nil
}
