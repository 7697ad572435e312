package message

import (
	"bytes"
	"testing"
)

func TestFileRoundtripPreservesNameAndSender(t *testing.T) {
	m := NewFile("dev", "room", "hello.txt", "text/plain", []byte("hi"))
	m.SHA256 = "abc"
	m.SenderName = "alice"

	got, err := Decode(m.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindFile {
		t.Fatalf("kind = %v, want KindFile", got.Kind)
	}
	if got.Name != "hello.txt" {
		t.Fatalf("name = %q, want hello.txt", got.Name)
	}
	if got.SenderName != "alice" {
		t.Fatalf("sender_name = %q, want alice", got.SenderName)
	}
	if got.MIME != "text/plain" {
		t.Fatalf("mime = %q, want text/plain", got.MIME)
	}
	if !bytes.Equal(got.Payload, []byte("hi")) {
		t.Fatalf("payload = %q, want hi", got.Payload)
	}
	if got.SHA256 != "abc" {
		t.Fatalf("sha256 = %q, want abc", got.SHA256)
	}
}

func TestTextRoundtrip(t *testing.T) {
	m := NewText("dev", "room", "hello world")
	got, err := Decode(m.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindText {
		t.Fatalf("kind = %v, want KindText", got.Kind)
	}
	if string(got.Payload) != "hello world" {
		t.Fatalf("payload = %q", got.Payload)
	}
	if got.Size != uint32(len("hello world")) {
		t.Fatalf("size = %d, want %d", got.Size, len("hello world"))
	}
}

func TestJoinRoundtripHasNoPayload(t *testing.T) {
	m := NewJoin("dev", "room")
	got, err := Decode(m.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindJoin {
		t.Fatalf("kind = %v, want KindJoin", got.Kind)
	}
	if got.Payload != nil {
		t.Fatalf("payload = %v, want nil", got.Payload)
	}
	if got.MIME != "" || got.Name != "" || got.SHA256 != "" {
		t.Fatalf("expected all optional fields empty, got %+v", got)
	}
}

// v1Encode builds a legacy frame with no magic tag and no sender_name field,
// mirroring the pre-v2 wire layout.
func v1Encode(m *Message) []byte {
	var w binWriter
	w.u8(uint8(m.Kind))
	w.str(m.EventID)
	w.str(m.DeviceID)
	w.u64(m.TS)
	w.str(m.Room)
	w.optStr(m.MIME)
	w.optStr(m.Name)
	w.optBytes(m.Payload)
	w.u32(m.Size)
	w.optStr(m.SHA256)
	return w.buf
}

// v0Encode builds the oldest legacy frame: no magic, no sender_name, no
// size/sha256.
func v0Encode(m *Message) []byte {
	var w binWriter
	w.u8(uint8(m.Kind))
	w.str(m.EventID)
	w.str(m.DeviceID)
	w.u64(m.TS)
	w.str(m.Room)
	w.optStr(m.MIME)
	w.optStr(m.Name)
	w.optBytes(m.Payload)
	return w.buf
}

func TestV1IsBackwardCompatible(t *testing.T) {
	src := &Message{
		EventID:  "e",
		DeviceID: "dev",
		TS:       1,
		Kind:     KindText,
		Room:     "room",
		MIME:     "text/plain",
		Payload:  []byte("hi"),
		Size:     2,
	}
	got, err := Decode(v1Encode(src))
	if err != nil {
		t.Fatalf("decode v1: %v", err)
	}
	if got.DeviceID != "dev" {
		t.Fatalf("device_id = %q, want dev", got.DeviceID)
	}
	if got.SenderName != "" {
		t.Fatalf("sender_name = %q, want empty", got.SenderName)
	}
	if got.Kind != KindText {
		t.Fatalf("kind = %v, want KindText", got.Kind)
	}
	if got.Size != 2 {
		t.Fatalf("size = %d, want 2", got.Size)
	}
}

func TestV0IsBackwardCompatibleAndDerivesSize(t *testing.T) {
	src := &Message{
		EventID:  "e",
		DeviceID: "dev",
		TS:       1,
		Kind:     KindFile,
		Room:     "room",
		MIME:     "application/octet-stream",
		Name:     "a.bin",
		Payload:  []byte{1, 2, 3, 4},
	}
	got, err := Decode(v0Encode(src))
	if err != nil {
		t.Fatalf("decode v0: %v", err)
	}
	if got.SenderName != "" {
		t.Fatalf("sender_name = %q, want empty", got.SenderName)
	}
	if got.SHA256 != "" {
		t.Fatalf("sha256 = %q, want empty", got.SHA256)
	}
	if got.Size != 4 {
		t.Fatalf("size = %d, want derived 4", got.Size)
	}
	if got.Name != "a.bin" {
		t.Fatalf("name = %q, want a.bin", got.Name)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Fatal("expected error decoding a single stray byte")
	}
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error decoding an empty frame")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindText:  "Text",
		KindImage: "Image",
		KindFile:  "File",
		KindJoin:  "Join",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
