package auth_test

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/kbdfw/apitypes"
	"github.com/Alia5/kbdfw/internal/server/api/auth"
)

func TestIsAuthHandshake(t *testing.T) {
	type testCase struct {
		name    string
		input   string
		want    bool
		wantErr bool
	}
	cases := []testCase{
		{name: "handshake", input: auth.HandshakeMagic + "rest", want: true},
		{name: "plain request", input: "ping\x00"},
		{name: "short request", input: "\x00"},
		{name: "incomplete", input: "KB", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := auth.IsAuthHandshake(bufio.NewReader(bytes.NewBufferString(tc.input)))
			if tc.wantErr {
				assert.ErrorIs(t, err, io.EOF)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func handshakeBytes(t *testing.T, key []byte) []byte {
	t.Helper()
	nonce := make([]byte, auth.NonceSize)
	for i := range nonce {
		nonce[i] = byte(i)
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte("kbdfw-auth-v1"))
	_, _ = mac.Write(nonce)
	msg := append([]byte(auth.HandshakeMagic), nonce...)
	return append(msg, mac.Sum(nil)...)
}

func TestServerHandshake(t *testing.T) {
	key, err := auth.DeriveKey("test123")
	require.NoError(t, err)
	wrongKey, err := auth.DeriveKey("wrongpass")
	require.NoError(t, err)
	valid := handshakeBytes(t, key)

	closedPipe := func() io.Writer {
		_, w := io.Pipe()
		_ = w.Close()
		return w
	}

	type testCase struct {
		name    string
		input   []byte
		writer  io.Writer
		key     []byte
		wantErr string
	}
	cases := []testCase{
		{name: "success", input: valid, writer: &bytes.Buffer{}, key: key},
		{name: "short nonce", input: append([]byte(auth.HandshakeMagic), "short"...), writer: &bytes.Buffer{}, key: key, wantErr: "read client nonce: unexpected EOF"},
		{name: "missing magic", input: []byte("sh"), writer: &bytes.Buffer{}, key: key, wantErr: "discard handshake magic: EOF"},
		{name: "missing proof", input: valid[:len(auth.HandshakeMagic)+auth.NonceSize], writer: &bytes.Buffer{}, key: key, wantErr: "read client auth: EOF"},
		{name: "nil writer", input: valid, key: key, wantErr: "write response: nil writer"},
		{name: "closed writer", input: valid, writer: closedPipe(), key: key, wantErr: "write response: io: read/write on closed pipe"},
		{name: "wrong password", input: valid, writer: &bytes.Buffer{}, key: wrongKey, wantErr: "401 Unauthorized: invalid password"},
		{name: "no key", input: valid, writer: &bytes.Buffer{}, wantErr: "handshake: missing key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cn, sn, err := auth.ServerHandshake(bufio.NewReader(bytes.NewReader(tc.input)), tc.writer, tc.key)
			if tc.wantErr != "" {
				assert.EqualError(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, cn, auth.NonceSize)
			assert.Len(t, sn, auth.NonceSize)

			reply := tc.writer.(*bytes.Buffer).Bytes()
			assert.Equal(t, "OK\x00", string(reply[:3]))
			assert.Equal(t, sn, reply[3:])
		})
	}
}

func TestClientHandshakeProblemReply(t *testing.T) {
	key, err := auth.DeriveKey("test123")
	require.NoError(t, err)
	r := bufio.NewReader(bytes.NewBufferString(`{"status":401,"title":"Unauthorized","detail":"invalid password"}` + "\n"))
	_, _, err = auth.ClientHandshake(r, io.Discard, key)

	var apiErr *apitypes.ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
}

func TestAcceptAndSecure(t *testing.T) {
	type testCase struct {
		name           string
		serverPassword string
		clientPassword string
		wantErr        bool
	}
	cases := []testCase{
		{name: "matching password", serverPassword: "hunter2", clientPassword: "hunter2"},
		{name: "wrong password", serverPassword: "hunter2", clientPassword: "hunter3", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			key, err := auth.DeriveKey(tc.serverPassword)
			require.NoError(t, err)

			type result struct {
				conn net.Conn
				err  error
			}
			done := make(chan result, 1)
			go func() {
				conn, err := auth.Accept(server, bufio.NewReader(server), key)
				if err != nil {
					_ = server.Close()
				}
				done <- result{conn, err}
			}()

			sc, err := auth.Secure(client, tc.clientPassword)
			res := <-done
			if tc.wantErr {
				assert.Error(t, err)
				assert.Error(t, res.err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, res.err)

			go func() { _, _ = sc.Write([]byte("ping\x00")) }()
			buf := make([]byte, 5)
			_, err = io.ReadFull(res.conn, buf)
			require.NoError(t, err)
			assert.Equal(t, "ping\x00", string(buf))
		})
	}
}
