package ipc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// maxFrame is the loopback-TCP backend's hard cap on one frame's
// payload length (spec.md §4.2).
const maxFrame = 16 * 1024 * 1024

// TCPChannel is the Channel endpoint backed by a loopback-TCP
// connection: length-prefixed (u32 little-endian) gob-encoded frames.
type TCPChannel struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
}

// DialTCP connects to a Local IPC Broker's TCP backend.
func DialTCP(address string) (*TCPChannel, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", address, err)
	}
	return newTCPChannel(conn), nil
}

func newTCPChannel(conn net.Conn) *TCPChannel {
	return &TCPChannel{conn: conn, r: bufio.NewReader(conn)}
}

func (c *TCPChannel) Close() error {
	return c.conn.Close()
}

// peekReady reports whether at least one byte is available to read,
// without consuming it and without blocking (spec.md §4.2).
func (c *TCPChannel) peekReady() (bool, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer c.conn.SetReadDeadline(time.Time{})

	_, err := c.r.Peek(1)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, nil
		}
		if err == io.EOF {
			return false, io.EOF
		}
		return false, err
	}
	return true, nil
}

func (c *TCPChannel) writeFrame(payload []byte) error {
	if len(payload) > maxFrame {
		return fmt.Errorf("ipc: frame of %d bytes exceeds max %d", len(payload), maxFrame)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.conn.Write(payload)
	return err
}

func (c *TCPChannel) readFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrame {
		return nil, fmt.Errorf("ipc: frame of %d bytes exceeds max %d", n, maxFrame)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (c *TCPChannel) SendUpstream(u Upstream) error {
	payload, err := encodeGob(&u)
	if err != nil {
		return err
	}
	return c.writeFrame(payload)
}

// RecvUpstream returns ok=false (no error) when no message is pending.
func (c *TCPChannel) RecvUpstream() (Upstream, bool, error) {
	ready, err := c.peekReady()
	if err != nil || !ready {
		return Upstream{}, false, err
	}
	payload, err := c.readFrame()
	if err != nil {
		return Upstream{}, false, err
	}
	var u Upstream
	if err := decodeGob(payload, &u); err != nil {
		return Upstream{}, false, err
	}
	return u, true, nil
}

func (c *TCPChannel) SendDownstream(d Downstream) error {
	payload, err := encodeGob(&d)
	if err != nil {
		return err
	}
	return c.writeFrame(payload)
}

// RecvDownstream returns ok=false (no error) when no message is pending.
func (c *TCPChannel) RecvDownstream() (Downstream, bool, error) {
	ready, err := c.peekReady()
	if err != nil || !ready {
		return Downstream{}, false, err
	}
	payload, err := c.readFrame()
	if err != nil {
		return Downstream{}, false, err
	}
	var d Downstream
	if err := decodeGob(payload, &d); err != nil {
		return Downstream{}, false, err
	}
	return d, true, nil
}
