// Package api serves the control API: a line protocol over TCP where each
// request is `path[ payload]\0` and the reply is one JSON line.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Alia5/kbdfw/internal/server/api/auth"
	apierror "github.com/Alia5/kbdfw/internal/server/api/error"
	"github.com/Alia5/kbdfw/internal/server/usb"
)

var wsRegex = regexp.MustCompile(`\s`)

// Server dispatches control API requests to registered handlers.
type Server struct {
	usbs   *usb.Server
	logger *slog.Logger
	router *Router
	config ServerConfig
	key    []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
	ln net.Listener
}

// New creates an API server. A non-empty config.Password enables the
// authenticated, encrypted session.
func New(s *usb.Server, config ServerConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Server{
		usbs:   s,
		logger: logger,
		config: config,
		router: NewRouter(),
	}
	if config.Password != "" {
		key, err := auth.DeriveKey(config.Password)
		if err != nil {
			return nil, err
		}
		a.key = key
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	return a, nil
}

// Router returns the router used by the API server so callers can register handlers.
func (a *Server) Router() *Router { return a.router }

// USB returns the underlying USB server; nil when the API runs alone.
func (a *Server) USB() *usb.Server { return a.usbs }

// Config returns the server configuration.
func (a *Server) Config() ServerConfig { return a.config }

// Start listens on the configured address and serves incoming API commands.
func (a *Server) Start() error {
	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.ln = ln
	a.mu.Unlock()
	a.logger.Info("API listening", "addr", ln.Addr().String(), "auth", a.key != nil)
	a.wg.Add(1)
	go a.serve(ln)
	return nil
}

// Addr is the bound listen address, or nil before Start.
func (a *Server) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// Close stops the listener and ends running streams.
func (a *Server) Close() {
	a.cancel()
	a.mu.Lock()
	ln := a.ln
	a.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	a.wg.Wait()
}

func (a *Server) serve(ln net.Listener) {
	defer a.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				a.logger.Info("API server stopped")
				return
			}
			a.logger.Info("API accept error", "error", err)
			return
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.handleConn(c)
		}()
	}
}

func (a *Server) writeError(w io.Writer, err error) {
	problemJSON, _ := json.Marshal(apierror.WrapError(err))
	fmt.Fprintf(w, "%s\n", problemJSON)
}

func (a *Server) writeOK(w io.Writer, rest string) {
	if rest == "" {
		fmt.Fprintln(w)
	} else {
		fmt.Fprintf(w, "%s\n", rest)
	}
}

// secure runs the handshake if the client starts one and enforces auth
// for the clients that need it.
func (a *Server) secure(conn net.Conn, r *bufio.Reader) (net.Conn, *bufio.Reader, error) {
	isHandshake, err := auth.IsAuthHandshake(r)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}
	if isHandshake {
		if a.key == nil {
			return nil, nil, apierror.ErrBadRequest("authentication is not enabled")
		}
		sc, err := auth.Accept(conn, r, a.key)
		if err != nil {
			return nil, nil, err
		}
		return sc, bufio.NewReader(sc), nil
	}
	if a.key != nil && (a.config.RequireLocalhostAuth || !isLoopback(conn.RemoteAddr())) {
		return nil, nil, apierror.ErrUnauthorized("authentication required")
	}
	return conn, r, nil
}

func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}

func (a *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connCtx, connCancel := context.WithCancel(a.ctx)
	defer connCancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	connLogger := a.logger.With("remote", conn.RemoteAddr().String())
	if a.config.ConnectionTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(a.config.ConnectionTimeout))
	}

	rw, r, err := a.secure(conn, bufio.NewReader(conn))
	if err != nil {
		connLogger.Warn("api auth failed", "error", err)
		a.writeError(conn, err)
		return
	}

	// Read until null terminator
	reqData, err := r.ReadString('\x00')
	if err != nil {
		if err == io.EOF {
			connLogger.Error("api incomplete request (no null terminator)")
		} else {
			connLogger.Error("read api data", "error", err)
		}
		return
	}
	reqData = strings.TrimSuffix(reqData, "\x00")
	if reqData == "" {
		connLogger.Error("api empty command")
		a.writeError(rw, apierror.ErrBadRequest("empty request"))
		return
	}

	path, payload := splitRequest(reqData)
	if path == "" {
		connLogger.Error("api empty path")
		a.writeError(rw, apierror.ErrBadRequest("empty path"))
		return
	}
	path = strings.ToLower(path)
	connLogger.Info("api cmd", "path", path)

	if h, params := a.router.Match(path); h != nil {
		req := &Request{Ctx: connCtx, Params: params, Payload: payload}
		res := &Response{}
		if err := h(req, res, connLogger); err != nil {
			connLogger.Error("api handler error", "path", path, "error", err)
			a.writeError(rw, err)
			return
		}
		connLogger.Debug("api handler success", "path", path)
		a.writeOK(rw, res.JSON)
		return
	}
	if sh, _ := a.router.MatchStream(path); sh != nil {
		connLogger.Info("api stream begin", "path", path)
		_ = conn.SetDeadline(time.Time{})
		if err := sh(connCtx, &streamConn{Conn: rw, r: r}, connLogger); err != nil {
			connLogger.Error("api stream handler error", "path", path, "error", err)
		}
		connLogger.Info("api stream end", "path", path)
		return
	}
	connLogger.Error("api unknown path", "path", path)
	a.writeError(rw, apierror.ErrNotFound(fmt.Sprintf("unknown path: %s", path)))
}

// splitRequest splits on the first whitespace character.
func splitRequest(data string) (path, payload string) {
	loc := wsRegex.FindStringIndex(data)
	if loc == nil {
		return data, ""
	}
	return data[:loc[0]], data[loc[1]:]
}

// streamConn hands a stream handler the bytes buffered after its request.
type streamConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *streamConn) Read(p []byte) (int, error) { return c.r.Read(p) }
