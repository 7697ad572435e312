// Package frame handles reading and writing length-prefixed Message frames
// over a net.Conn.
//
// Wire format:
//
//	<u32 big-endian length><message bytes>
//
// The length prefix covers exactly the bytes message.Message.Encode/Decode
// operate on (the magic tag included).
package frame

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"go.mcrelay.dev/multicliprelay/internal/message"
)

const (
	// MaxFrameSize is the largest single frame accepted on read (16 MiB,
	// comfortably above the node-side size caps on text/image/file
	// payloads so a legitimate frame is never rejected at this layer).
	MaxFrameSize = 16 * 1024 * 1024

	writeDeadline = 5 * time.Second
)

// Conn wraps a net.Conn with buffered length-prefixed framing.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
}

// New wraps conn for framed Message exchange.
func New(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
	}
}

// Underlying returns the wrapped net.Conn.
func (c *Conn) Underlying() net.Conn { return c.conn }

// SetReadDeadline sets or clears the read deadline.
func (c *Conn) SetReadDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// SetWriteDeadline sets or clears the write deadline.
func (c *Conn) SetWriteDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetWriteDeadline(time.Time{})
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(d))
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// WriteMsg encodes msg and writes it as one length-prefixed frame.
func (c *Conn) WriteMsg(msg *message.Message) error {
	raw := msg.Encode()
	if len(raw) > MaxFrameSize {
		return fmt.Errorf("frame: message too large (%d bytes)", len(raw))
	}

	c.SetWriteDeadline(writeDeadline)
	defer c.SetWriteDeadline(0)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(raw)))
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := c.conn.Write(raw); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadMsg reads one length-prefixed frame and decodes it into a Message.
func (c *Conn) ReadMsg() (*message.Message, error) {
	raw, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	return message.Decode(raw)
}

// ReadFrame reads one length-prefixed frame and returns its raw bytes
// without decoding them, for callers that only need to relay the bytes.
func (c *Conn) ReadFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("frame: frame too large (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return buf, nil
}

// WriteFrame writes pre-encoded bytes as one length-prefixed frame, for
// callers relaying a frame they read with ReadFrame without decoding it.
func WriteFrame(w io.Writer, raw []byte) error {
	if len(raw) > MaxFrameSize {
		return fmt.Errorf("frame: message too large (%d bytes)", len(raw))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(raw)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}
