package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/Alia5/kbdfw/internal/server/api/auth"
	apierror "github.com/Alia5/kbdfw/internal/server/api/error"
)

// Config controls dialing, per-request timeouts and authentication.
type Config struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Password enables the handshake and encrypted session.
	Password string
}

func defaultConfig() Config {
	return Config{
		DialTimeout:  3 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Responder answers requests of a mock Transport with a raw response line.
type Responder func(path string, payload any, pathParams map[string]string) (string, error)

// Transport speaks the control API line protocol. Each request is one
// connection: `<path>[ <payload>]\0` goes out, the server answers with a
// single JSON line and closes. Only \0 ends a request, so payloads may
// hold newlines.
type Transport struct {
	addr string
	mock Responder
	cfg  Config
}

// NewTransport creates a transport with the default timeouts.
func NewTransport(addr string) *Transport { return NewTransportWithConfig(addr, nil) }

// NewTransportWithPassword creates a transport that authenticates every
// connection with password.
func NewTransportWithPassword(addr, password string) *Transport {
	cfg := defaultConfig()
	cfg.Password = password
	return NewTransportWithConfig(addr, &cfg)
}

// NewTransportWithConfig creates a transport; a nil cfg uses the defaults.
func NewTransportWithConfig(addr string, cfg *Config) *Transport {
	c := defaultConfig()
	if cfg != nil {
		c = *cfg
	}
	return &Transport{addr: addr, cfg: c}
}

// NewMockTransport creates a transport that never touches the network.
// The responder sees the unfilled path pattern.
func NewMockTransport(responder Responder) *Transport {
	return &Transport{addr: "mock", mock: responder, cfg: defaultConfig()}
}

// dial connects and, with a password configured, runs the handshake.
func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	d := &net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			slog.Warn("failed to set TCP_NODELAY", "error", err)
		}
	}
	if t.cfg.Password == "" {
		return conn, nil
	}

	_ = conn.SetDeadline(deadline(ctx, t.cfg.ReadTimeout))
	sc, err := auth.Secure(conn, t.cfg.Password)
	if err != nil {
		conn.Close()
		// The server drops the connection without a reply on a bad proof.
		if strings.Contains(err.Error(), "read handshake response: EOF") {
			return nil, apierror.ErrUnauthorized("invalid password")
		}
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return sc, nil
}

// deadline is now+d capped by the context deadline. Zero means none.
func deadline(ctx context.Context, d time.Duration) time.Time {
	var out time.Time
	if d > 0 {
		out = time.Now().Add(d)
	}
	if dl, ok := ctx.Deadline(); ok && (out.IsZero() || dl.Before(out)) {
		out = dl
	}
	return out
}

// Do sends a request and returns the response line without its newline.
// Payloads are sent as-is for []byte and string, JSON-encoded otherwise;
// nil sends none.
func (t *Transport) Do(path string, payload any, pathParams map[string]string) (string, error) {
	return t.DoCtx(context.Background(), path, payload, pathParams)
}

// DoCtx is like Do but honors the provided context and configured timeouts.
func (t *Transport) DoCtx(ctx context.Context, path string, payload any, pathParams map[string]string) (string, error) {
	if t.mock != nil {
		return t.mock(path, payload, pathParams)
	}
	line, err := requestLine(fillPath(path, pathParams), payload)
	if err != nil {
		return "", err
	}

	conn, err := t.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(deadline(ctx, t.cfg.WriteTimeout))
	if _, err := conn.Write(line); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	_ = conn.SetReadDeadline(deadline(ctx, t.cfg.ReadTimeout))
	resp, err := io.ReadAll(conn)
	if err != nil && len(resp) == 0 {
		return "", fmt.Errorf("read: %w", err)
	}
	return strings.TrimSuffix(string(resp), "\n"), nil
}

func requestLine(path string, payload any) ([]byte, error) {
	pb, err := payloadBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if len(pb) == 0 {
		return []byte(path + "\x00"), nil
	}
	out := make([]byte, 0, len(path)+len(pb)+2)
	out = append(out, path...)
	out = append(out, ' ')
	out = append(out, pb...)
	return append(out, '\x00'), nil
}

func fillPath(pattern string, params map[string]string) string {
	out := pattern
	for k, v := range params {
		out = strings.ReplaceAll(out, "{"+k+"}", url.PathEscape(v))
	}
	return strings.ToLower(out)
}

func payloadBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return json.Marshal(v)
	}
}
