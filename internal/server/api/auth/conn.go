package auth

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

const maxPacketSize = 2 * 1024 * 1024

// Nonce prefixes per direction; both ends share the session key.
const (
	dirClient uint32 = 0x434c4e54
	dirServer uint32 = 0x53525652
)

var ErrReplay = errors.New("auth: out of order packet")

// Conn frames each Write as len[4] | nonce[12] | ciphertext. Nonces are a
// direction prefix followed by a packet counter; Read rejects anything but
// the next expected counter from the peer.
type Conn struct {
	net.Conn
	aead cipher.AEAD

	sendDir uint32
	recvDir uint32

	wmu     sync.Mutex
	sendCtr uint64

	rmu     sync.Mutex
	recvCtr uint64
	recvBuf bytes.Buffer
}

// WrapConn encrypts conn with sessionKey. server selects the nonce
// direction and must differ between the two ends.
func WrapConn(conn net.Conn, sessionKey []byte, server bool) (net.Conn, error) {
	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return nil, err
	}
	c := &Conn{Conn: conn, aead: aead, sendDir: dirClient, recvDir: dirServer}
	if server {
		c.sendDir, c.recvDir = dirServer, dirClient
	}
	return c, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint32(nonce[:4], c.sendDir)
	binary.BigEndian.PutUint64(nonce[4:], c.sendCtr)
	c.sendCtr++

	ct := c.aead.Seal(nil, nonce, p, nil)
	pkt := make([]byte, 4, 4+len(nonce)+len(ct))
	binary.BigEndian.PutUint32(pkt, uint32(len(nonce)+len(ct)))
	pkt = append(pkt, nonce...)
	pkt = append(pkt, ct...)
	if _, err := c.Conn.Write(pkt); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if c.recvBuf.Len() == 0 {
		if err := c.readPacket(); err != nil {
			return 0, err
		}
	}
	return c.recvBuf.Read(p)
}

func (c *Conn) readPacket() error {
	var hdr [4]byte
	if _, err := io.ReadFull(c.Conn, hdr[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > maxPacketSize || length < chacha20poly1305.NonceSize {
		return io.ErrUnexpectedEOF
	}
	pkt := make([]byte, length)
	if _, err := io.ReadFull(c.Conn, pkt); err != nil {
		return err
	}
	nonce, ct := pkt[:chacha20poly1305.NonceSize], pkt[chacha20poly1305.NonceSize:]
	if binary.BigEndian.Uint32(nonce[:4]) != c.recvDir || binary.BigEndian.Uint64(nonce[4:]) != c.recvCtr {
		return ErrReplay
	}
	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return err
	}
	c.recvCtr++
	c.recvBuf.Write(pt)
	return nil
}
