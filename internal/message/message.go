// Package message defines the multicliprelay wire record and its codec.
//
// Every Message that reaches the relay is a single opaque blob: a 4-byte
// magic tag ("MCR2") followed by a binary encoding of the fields below.
// Decode additionally accepts two legacy layouts that never carried the
// magic tag, so that a mixed-version room (an old wl-watch talking to a
// new relay, say) keeps working:
//
//	v2 (current): MCR2 || kind || event_id || device_id || sender_name? || ts || room || mime? || name? || payload? || size || sha256?
//	v1 (no magic, no sender_name): kind || event_id || device_id || ts || room || mime? || name? || payload? || size || sha256?
//	v0 (no magic, no sender_name/size/sha256): kind || event_id || device_id || ts || room || mime? || name? || payload?
//
// Decode tries v2 first (magic present), then v1, then v0, accepting the
// first layout that consumes every byte of the frame body. Fields absent
// from a legacy layout are filled with their neutral default (sender_name
// "", size len(payload), sha256 "").
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the payload carried by a Message.
type Kind uint8

const (
	KindText Kind = iota
	KindImage
	KindFile
	KindJoin
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "Text"
	case KindImage:
		return "Image"
	case KindFile:
		return "File"
	case KindJoin:
		return "Join"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// magic tags the current (v2) wire layout.
var magic = [4]byte{'M', 'C', 'R', '2'}

// ErrMalformedFrame is returned when none of the v2/v1/v0 layouts parse the
// given bytes into a Message that consumes them exactly.
var ErrMalformedFrame = errors.New("message: malformed frame")

// Message is the wire record exchanged between nodes and relayed by the
// server. All string/byte fields are optional except Room and DeviceID,
// which are always present.
type Message struct {
	EventID    string
	DeviceID   string
	SenderName string // optional; "" = absent
	TS         uint64 // wall-clock milliseconds at origin
	Kind       Kind
	Room       string
	MIME       string // optional; "" = absent
	Name       string // optional; "" = absent
	Payload    []byte // optional; nil = absent
	Size       uint32 // must equal len(Payload) when Payload is present
	SHA256     string // optional; "" = absent
}

// NowMillis returns the current wall-clock time in Unix milliseconds, the
// unit every Message.TS is stamped in.
func NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// NewJoin builds a Join heartbeat announcing deviceID's presence in room.
func NewJoin(deviceID, room string) *Message {
	return &Message{
		EventID:  uuid.New().String(),
		DeviceID: deviceID,
		TS:       NowMillis(),
		Kind:     KindJoin,
		Room:     room,
	}
}

// NewText builds a Text message carrying utf-8 plain text.
func NewText(deviceID, room, text string) *Message {
	payload := []byte(text)
	return &Message{
		EventID:  uuid.New().String(),
		DeviceID: deviceID,
		TS:       NowMillis(),
		Kind:     KindText,
		Room:     room,
		MIME:     "text/plain;charset=utf-8",
		Payload:  payload,
		Size:     uint32(len(payload)),
	}
}

// NewImage builds an Image message carrying raw encoded image bytes.
func NewImage(deviceID, room, mime string, data []byte) *Message {
	return &Message{
		EventID:  uuid.New().String(),
		DeviceID: deviceID,
		TS:       NowMillis(),
		Kind:     KindImage,
		Room:     room,
		MIME:     mime,
		Payload:  data,
		Size:     uint32(len(data)),
	}
}

// NewFile builds a File message carrying name, MIME type, and raw bytes
// (typically a deterministic tar bundle for multi-item transfers).
func NewFile(deviceID, room, name, mime string, data []byte) *Message {
	return &Message{
		EventID:  uuid.New().String(),
		DeviceID: deviceID,
		TS:       NowMillis(),
		Kind:     KindFile,
		Room:     room,
		MIME:     mime,
		Name:     name,
		Payload:  data,
		Size:     uint32(len(data)),
	}
}

// Encode serializes m into its v2 wire form (magic tag included).
func (m *Message) Encode() []byte {
	var w binWriter
	w.bytes(magic[:])
	w.u8(uint8(m.Kind))
	w.str(m.EventID)
	w.str(m.DeviceID)
	w.optStr(m.SenderName)
	w.u64(m.TS)
	w.str(m.Room)
	w.optStr(m.MIME)
	w.optStr(m.Name)
	w.optBytes(m.Payload)
	w.u32(m.Size)
	w.optStr(m.SHA256)
	return w.buf
}

// Decode parses raw frame bytes into a Message, trying v2 then the two
// legacy layouts in turn. It returns ErrMalformedFrame only when none of
// the three layouts consumes the input exactly.
func Decode(b []byte) (*Message, error) {
	if len(b) >= len(magic) && string(b[:len(magic)]) == string(magic[:]) {
		if m, err := decodeV2(b[len(magic):]); err == nil {
			return m, nil
		}
		// Fall through: a body that merely starts with the same 4 bytes by
		// coincidence never comes from a real sender, but we don't assume it.
	}
	if m, err := decodeV1(b); err == nil {
		return m, nil
	}
	if m, err := decodeV0(b); err == nil {
		return m, nil
	}
	return nil, ErrMalformedFrame
}

func decodeV2(b []byte) (*Message, error) {
	r := binReader{buf: b}
	m := &Message{}
	kind, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.Kind = Kind(kind)
	if m.EventID, err = r.str(); err != nil {
		return nil, err
	}
	if m.DeviceID, err = r.str(); err != nil {
		return nil, err
	}
	if m.SenderName, err = r.optStr(); err != nil {
		return nil, err
	}
	if m.TS, err = r.u64(); err != nil {
		return nil, err
	}
	if m.Room, err = r.str(); err != nil {
		return nil, err
	}
	if m.MIME, err = r.optStr(); err != nil {
		return nil, err
	}
	if m.Name, err = r.optStr(); err != nil {
		return nil, err
	}
	if m.Payload, err = r.optBytes(); err != nil {
		return nil, err
	}
	if m.Size, err = r.u32(); err != nil {
		return nil, err
	}
	if m.SHA256, err = r.optStr(); err != nil {
		return nil, err
	}
	if !r.eof() {
		return nil, ErrMalformedFrame
	}
	return m, nil
}

func decodeV1(b []byte) (*Message, error) {
	r := binReader{buf: b}
	m := &Message{}
	kind, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.Kind = Kind(kind)
	if m.EventID, err = r.str(); err != nil {
		return nil, err
	}
	if m.DeviceID, err = r.str(); err != nil {
		return nil, err
	}
	if m.TS, err = r.u64(); err != nil {
		return nil, err
	}
	if m.Room, err = r.str(); err != nil {
		return nil, err
	}
	if m.MIME, err = r.optStr(); err != nil {
		return nil, err
	}
	if m.Name, err = r.optStr(); err != nil {
		return nil, err
	}
	if m.Payload, err = r.optBytes(); err != nil {
		return nil, err
	}
	if m.Size, err = r.u32(); err != nil {
		return nil, err
	}
	if m.SHA256, err = r.optStr(); err != nil {
		return nil, err
	}
	if !r.eof() {
		return nil, ErrMalformedFrame
	}
	return m, nil
}

func decodeV0(b []byte) (*Message, error) {
	r := binReader{buf: b}
	m := &Message{}
	kind, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.Kind = Kind(kind)
	if m.EventID, err = r.str(); err != nil {
		return nil, err
	}
	if m.DeviceID, err = r.str(); err != nil {
		return nil, err
	}
	if m.TS, err = r.u64(); err != nil {
		return nil, err
	}
	if m.Room, err = r.str(); err != nil {
		return nil, err
	}
	if m.MIME, err = r.optStr(); err != nil {
		return nil, err
	}
	if m.Name, err = r.optStr(); err != nil {
		return nil, err
	}
	if m.Payload, err = r.optBytes(); err != nil {
		return nil, err
	}
	if !r.eof() {
		return nil, ErrMalformedFrame
	}
	m.Size = uint32(len(m.Payload))
	return m, nil
}

// ── binary primitives ───────────────────────────────────────────────────────
//
// Strings and byte slices are length-prefixed with a big-endian uint32;
// "optional" variants add a one-byte presence flag ahead of that. This is a
// small hand-rolled stand-in for the original implementation's bincode
// framing: order-dependent, no field tags, which is exactly what lets the
// legacy layouts above be told apart by "did every byte get consumed".

type binWriter struct{ buf []byte }

func (w *binWriter) bytes(b []byte) { w.buf = append(w.buf, b...) }
func (w *binWriter) u8(v uint8)     { w.buf = append(w.buf, v) }

func (w *binWriter) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *binWriter) u64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *binWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *binWriter) optStr(s string) {
	if s == "" {
		w.u8(0)
		return
	}
	w.u8(1)
	w.str(s)
}

func (w *binWriter) optBytes(b []byte) {
	if b == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

type binReader struct {
	buf []byte
	pos int
}

var errShortRead = errors.New("message: short read")

func (r *binReader) eof() bool { return r.pos == len(r.buf) }

func (r *binReader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, errShortRead
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *binReader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, errShortRead
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *binReader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errShortRead
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *binReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if uint64(r.pos)+uint64(n) > uint64(len(r.buf)) {
		return "", errShortRead
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *binReader) optStr() (string, error) {
	present, err := r.u8()
	if err != nil {
		return "", err
	}
	if present == 0 {
		return "", nil
	}
	return r.str()
}

func (r *binReader) optBytes() ([]byte, error) {
	present, err := r.u8()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if uint64(r.pos)+uint64(n) > uint64(len(r.buf)) {
		return nil, errShortRead
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}
