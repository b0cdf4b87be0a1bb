package generic

import (
	"encoding/binary"
	"fmt"
)

// Command bytes carried in the first payload byte of ReportCommand.
const (
	CmdBootloader = 'B'
	CmdReset      = 'R'
	CmdLayerMask  = 'L'
	CmdPing       = 'P'
)

// Status is the payload of ReportStatus.
//
//	[0:3]  version major, minor, patch
//	[3]    base layer
//	[4:8]  layer mask, little endian
//	[8]    effective modifiers
//	[9]    protocol (0 boot, 1 report)
//	[10]   keyboard error code
//	[11]   last USB error code
//	[12]   effective LEDs
//	[13]   pressed key count
type Status struct {
	Version      [3]uint8
	Base         uint8
	Mask         uint32
	Modifiers    uint8
	Protocol     uint8
	Error        uint8
	LastUSBError uint8
	LEDs         uint8
	Keys         uint8
}

const statusLen = 14

// Encode writes st into buf, which must hold at least 14 bytes.
func (st Status) Encode(buf []byte) {
	copy(buf[0:3], st.Version[:])
	buf[3] = st.Base
	binary.LittleEndian.PutUint32(buf[4:8], st.Mask)
	buf[8] = st.Modifiers
	buf[9] = st.Protocol
	buf[10] = st.Error
	buf[11] = st.LastUSBError
	buf[12] = st.LEDs
	buf[13] = st.Keys
}

func (st *Status) UnmarshalBinary(data []byte) error {
	if len(data) < statusLen {
		return fmt.Errorf("generic: status needs %d bytes, have %d", statusLen, len(data))
	}
	copy(st.Version[:], data[0:3])
	st.Base = data[3]
	st.Mask = binary.LittleEndian.Uint32(data[4:8])
	st.Modifiers = data[8]
	st.Protocol = data[9]
	st.Error = data[10]
	st.LastUSBError = data[11]
	st.LEDs = data[12]
	st.Keys = data[13]
	return nil
}

// Target is what the command handler acts on. Its methods are called
// inside the critical section: Status must read a snapshot, the others
// must only post work to the main loop.
type Target interface {
	Status() Status
	Reset()
	SetLayerMask(mask uint32)
}

// Commands is the default Handler: ReportStatus returns Target.Status and
// ReportCommand runs the command in the first payload byte.
type Commands struct {
	Target Target
}

func (c Commands) MakeReport(id uint8, buf []byte) bool {
	if id != ReportStatus {
		return false
	}
	c.Target.Status().Encode(buf)
	return true
}

func (c Commands) HandleReport(id uint8, req []byte, resp []byte) (int, Result) {
	if id != ReportCommand || len(req) == 0 {
		return 0, ResultError
	}
	switch req[0] {
	case CmdBootloader:
		return 0, ResultJumpToBootloader
	case CmdReset:
		c.Target.Reset()
		return 0, ResultOk
	case CmdLayerMask:
		if len(req) < 5 {
			return 0, ResultError
		}
		c.Target.SetLayerMask(binary.LittleEndian.Uint32(req[1:5]))
		return 0, ResultOk
	case CmdPing:
		return copy(resp, req), ResultSendReply
	}
	return 0, ResultError
}
