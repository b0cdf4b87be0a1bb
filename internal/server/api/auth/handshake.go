// Package auth implements the control API password handshake and the
// encrypted session that follows it.
package auth

import (
	"bufio"
	"crypto/hmac"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/Alia5/kbdfw/apitypes"
	apierror "github.com/Alia5/kbdfw/internal/server/api/error"
)

// KeyLength is the length of generated API passwords.
const KeyLength = 16

const (
	keyAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// Largest multiple of len(keyAlphabet) below 256; bytes above it are
	// redrawn so every character is equally likely.
	keyByteLimit = 256 - 256%len(keyAlphabet)

	kdfSalt       = "kbdfw-key-v1"
	kdfIterations = 100_000
	sessionInfo   = "kbdfw-session-v1"
)

var ErrEmptyPassword = errors.New("password cannot be empty")

// GenerateKey returns a random KeyLength character password from [0-9A-Za-z].
func GenerateKey() (string, error) {
	out := make([]byte, 0, KeyLength)
	buf := make([]byte, KeyLength)
	for len(out) < KeyLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate key: %w", err)
		}
		for _, b := range buf {
			if int(b) < keyByteLimit && len(out) < KeyLength {
				out = append(out, keyAlphabet[int(b)%len(keyAlphabet)])
			}
		}
	}
	return string(out), nil
}

// DeriveKey turns a password into the 32-byte handshake key.
func DeriveKey(password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	return pbkdf2.Key(sha256.New, password, []byte(kdfSalt), kdfIterations, 32)
}

// DeriveSessionKey expands the handshake key and both nonces into the
// session key.
func DeriveSessionKey(key, serverNonce, clientNonce []byte) []byte {
	salt := make([]byte, 0, len(serverNonce)+len(clientNonce))
	salt = append(append(salt, serverNonce...), clientNonce...)
	out := make([]byte, 32)
	// 32 bytes is far below the HKDF output limit, so this cannot fail.
	_, _ = io.ReadFull(hkdf.New(sha256.New, key, salt, []byte(sessionInfo)), out)
	return out
}

// Wire layout:
//
//	client: HandshakeMagic | client nonce[32] | HMAC-SHA256(key, authContext | client nonce)
//	server: "OK\0" | server nonce[32]    or a problem+json line on failure
const (
	HandshakeMagic = "KBD1\x00"
	NonceSize      = 32
	authContext    = "kbdfw-auth-v1"
	handshakeOK    = "OK\x00"
)

func clientProof(key, clientNonce []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(authContext))
	_, _ = mac.Write(clientNonce)
	return mac.Sum(nil)
}

// IsAuthHandshake peeks whether the next bytes are the handshake magic.
// It stops at the first mismatching byte, so requests shorter than the
// magic do not block.
func IsAuthHandshake(r *bufio.Reader) (bool, error) {
	for i := 1; i <= len(HandshakeMagic); i++ {
		b, err := r.Peek(i)
		if err != nil {
			return false, err
		}
		if b[i-1] != HandshakeMagic[i-1] {
			return false, nil
		}
	}
	return true, nil
}

func readNonce(r io.Reader, what string) ([]byte, error) {
	n := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, n); err != nil {
		return nil, fmt.Errorf("read %s nonce: %w", what, err)
	}
	return n, nil
}

// ServerHandshake verifies a client handshake and answers it. The magic
// must not have been consumed yet.
func ServerHandshake(r *bufio.Reader, w io.Writer, key []byte) (clientNonce, serverNonce []byte, err error) {
	if len(key) == 0 {
		return nil, nil, fmt.Errorf("handshake: missing key")
	}
	if _, err := r.Discard(len(HandshakeMagic)); err != nil {
		return nil, nil, fmt.Errorf("discard handshake magic: %w", err)
	}
	if clientNonce, err = readNonce(r, "client"); err != nil {
		return nil, nil, err
	}
	proof := make([]byte, sha256.Size)
	if _, err := io.ReadFull(r, proof); err != nil {
		return nil, nil, fmt.Errorf("read client auth: %w", err)
	}
	if !hmac.Equal(proof, clientProof(key, clientNonce)) {
		return nil, nil, apierror.ErrUnauthorized("invalid password")
	}

	if w == nil {
		return nil, nil, fmt.Errorf("write response: nil writer")
	}
	serverNonce = make([]byte, NonceSize)
	if _, err := rand.Read(serverNonce); err != nil {
		return nil, nil, fmt.Errorf("generate server nonce: %w", err)
	}
	if _, err := w.Write(append([]byte(handshakeOK), serverNonce...)); err != nil {
		return nil, nil, fmt.Errorf("write response: %w", err)
	}
	return clientNonce, serverNonce, nil
}

// ClientHandshake sends the client half and reads the server answer. A
// problem+json answer is returned as *apitypes.ApiError.
func ClientHandshake(r *bufio.Reader, w io.Writer, key []byte) (clientNonce, serverNonce []byte, err error) {
	if len(key) == 0 {
		return nil, nil, fmt.Errorf("handshake: missing key")
	}
	clientNonce = make([]byte, NonceSize)
	if _, err := rand.Read(clientNonce); err != nil {
		return nil, nil, fmt.Errorf("generate client nonce: %w", err)
	}
	msg := append([]byte(HandshakeMagic), clientNonce...)
	msg = append(msg, clientProof(key, clientNonce)...)
	if _, err := w.Write(msg); err != nil {
		return nil, nil, fmt.Errorf("write handshake: %w", err)
	}

	prefix := make([]byte, len(handshakeOK))
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, nil, fmt.Errorf("read handshake response: %w", err)
	}
	if string(prefix) != handshakeOK {
		rest, _ := io.ReadAll(r)
		line := strings.TrimSuffix(string(append(prefix, rest...)), "\n")
		var apiErr apitypes.ApiError
		if err := json.Unmarshal([]byte(line), &apiErr); err == nil && (apiErr.Status != 0 || apiErr.Title != "") {
			return nil, nil, &apiErr
		}
		return nil, nil, fmt.Errorf("invalid handshake response from server: %q", line)
	}
	if serverNonce, err = readNonce(r, "server"); err != nil {
		return nil, nil, err
	}
	return clientNonce, serverNonce, nil
}

// Accept runs the server handshake on conn and returns the encrypted
// session. r must be the reader buffering conn.
func Accept(conn net.Conn, r *bufio.Reader, key []byte) (net.Conn, error) {
	cn, sn, err := ServerHandshake(r, conn, key)
	if err != nil {
		return nil, err
	}
	return WrapConn(&bufferedConn{Conn: conn, r: r}, DeriveSessionKey(key, sn, cn), true)
}

// Secure authenticates conn with password and returns the encrypted session.
func Secure(conn net.Conn, password string) (net.Conn, error) {
	key, err := DeriveKey(password)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReader(conn)
	cn, sn, err := ClientHandshake(r, conn, key)
	if err != nil {
		return nil, err
	}
	return WrapConn(&bufferedConn{Conn: conn, r: r}, DeriveSessionKey(key, sn, cn), false)
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }
