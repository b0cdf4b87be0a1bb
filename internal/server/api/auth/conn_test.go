package auth_test

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/kbdfw/internal/server/api/auth"
)

func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, err = ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func mustKey(t *testing.T, pw string) []byte {
	t.Helper()
	k, err := auth.DeriveKey(pw)
	require.NoError(t, err)
	return k
}

func TestConn(t *testing.T) {
	type testCase struct {
		name      string
		clientKey []byte
		serverKey []byte
		setup     func(client, server net.Conn)
		input     []byte
		wantErr   string
	}
	key := mustKey(t, "test123")
	cases := []testCase{
		{name: "round trip", clientKey: key, serverKey: key, input: []byte("Hello, World!")},
		{name: "differing keys", clientKey: key, serverKey: mustKey(t, "123test"), input: []byte("x"), wantErr: "message authentication failed"},
		{name: "bad key length client", clientKey: []byte{1, 2, 3}, serverKey: key, wantErr: "bad key length"},
		{name: "bad key length server", clientKey: key, serverKey: []byte{1, 2, 3}, wantErr: "bad key length"},
		{
			name: "client closed before write", clientKey: key, serverKey: key, input: []byte("x"),
			setup:   func(client, _ net.Conn) { _ = client.Close() },
			wantErr: "use of closed network connection",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, server := tcpPair(t)
			if tc.setup != nil {
				tc.setup(client, server)
			}
			sc, err := auth.WrapConn(server, tc.serverKey, true)
			if err != nil {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			cc, err := auth.WrapConn(client, tc.clientKey, false)
			if err != nil {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}

			_, err = cc.Write(tc.input)
			if err != nil {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			buf := make([]byte, len(tc.input))
			_, err = io.ReadFull(sc, buf)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.input, buf)
		})
	}
}

func TestConnBothDirections(t *testing.T) {
	client, server := tcpPair(t)
	key := mustKey(t, "pw")
	cc, err := auth.WrapConn(client, key, false)
	require.NoError(t, err)
	sc, err := auth.WrapConn(server, key, true)
	require.NoError(t, err)

	for i := range 3 {
		_, err := cc.Write([]byte{byte(i)})
		require.NoError(t, err)
		_, err = sc.Write([]byte{byte(i + 10)})
		require.NoError(t, err)
	}
	got := make([]byte, 3)
	_, err = io.ReadFull(sc, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, got)
	_, err = io.ReadFull(cc, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 11, 12}, got)
}

// A packet sent back to its own sender carries the wrong direction prefix.
func TestConnRejectsReflectedPacket(t *testing.T) {
	client, server := tcpPair(t)
	key := mustKey(t, "pw")
	cc, err := auth.WrapConn(client, key, false)
	require.NoError(t, err)

	_, err = cc.Write([]byte("hello"))
	require.NoError(t, err)

	var hdr [4]byte
	_, err = io.ReadFull(server, hdr[:])
	require.NoError(t, err)
	pkt := make([]byte, binary.BigEndian.Uint32(hdr[:]))
	_, err = io.ReadFull(server, pkt)
	require.NoError(t, err)

	_, err = server.Write(append(hdr[:], pkt...))
	require.NoError(t, err)
	_, err = cc.Read(make([]byte, 5))
	assert.ErrorIs(t, err, auth.ErrReplay)
}
