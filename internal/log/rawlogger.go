package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// RawLogger records the bytes crossing the USB/IP socket.
type RawLogger interface {
	// Log records one chunk. in is host to device.
	Log(in bool, data []byte)
}

type nopRaw struct{}

func (nopRaw) Log(bool, []byte) {}

type rawLogger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewRaw returns a RawLogger writing one line per chunk to w. A nil w
// discards everything.
func NewRaw(w io.Writer) RawLogger {
	if w == nil {
		return nopRaw{}
	}
	return &rawLogger{w: w, now: time.Now}
}

const hexdigits = "0123456789abcdef"

func (r *rawLogger) Log(in bool, data []byte) {
	if len(data) == 0 {
		return
	}
	dir := "dev->host"
	if in {
		dir = "host->dev"
	}

	var sb strings.Builder
	sb.Grow(len(data) * 3)
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hexdigits[b>>4])
		sb.WriteByte(hexdigits[b&0x0f])
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.w, "%s %s %d bytes: %s\n", r.now().Format("15:04:05.000000"), dir, len(data), sb.String())
}
