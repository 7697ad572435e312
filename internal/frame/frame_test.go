package frame

import (
	"net"
	"testing"
	"time"

	"go.mcrelay.dev/multicliprelay/internal/message"
)

func pipePair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return New(a), New(b)
}

func TestWriteReadMsgRoundtrip(t *testing.T) {
	client, server := pipePair(t)

	msg := message.NewText("dev-1", "room-a", "hello")
	done := make(chan error, 1)
	go func() { done <- client.WriteMsg(msg) }()

	got, err := server.ReadMsg()
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteMsg: %v", err)
	}
	if got.Room != "room-a" || got.DeviceID != "dev-1" {
		t.Fatalf("got = %+v", got)
	}
	if string(got.Payload) != "hello" {
		t.Fatalf("payload = %q", got.Payload)
	}
}

func TestReadFrameWriteFrameRoundtrip(t *testing.T) {
	client, server := pipePair(t)

	msg := message.NewJoin("dev-2", "room-b")
	raw := msg.Encode()

	done := make(chan error, 1)
	go func() { done <- WriteFrame(client.Underlying(), raw) }()

	got, err := server.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	decoded, err := message.Decode(got)
	if err != nil {
		t.Fatalf("decode relayed frame: %v", err)
	}
	if decoded.DeviceID != "dev-2" {
		t.Fatalf("device_id = %q, want dev-2", decoded.DeviceID)
	}
}

func TestWriteMsgRejectsOversizeFrame(t *testing.T) {
	client, _ := pipePair(t)
	msg := message.NewFile("dev", "room", "big.bin", "application/octet-stream", make([]byte, MaxFrameSize+1))
	if err := client.WriteMsg(msg); err == nil {
		t.Fatal("expected error writing an oversize frame")
	}
}

func TestReadMsgHonorsDeadline(t *testing.T) {
	_, server := pipePair(t)
	server.SetReadDeadline(10 * time.Millisecond)
	if _, err := server.ReadMsg(); err == nil {
		t.Fatal("expected deadline error reading from an idle pipe")
	}
}
