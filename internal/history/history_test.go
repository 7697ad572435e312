package history

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.mcrelay.dev/multicliprelay/internal/message"
)

func readLines(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestRecordSendAppendsLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.jsonl")
	r := New(path)

	r.RecordSend("dev-a", "Laptop", "room-1", "127.0.0.1:8080", message.KindText, "text/plain;charset=utf-8", "", 5, "abc123")

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Dir != "send" || lines[0].Kind != "Text" || lines[0].SHA256 != "abc123" {
		t.Fatalf("unexpected event: %+v", lines[0])
	}
}

func TestRecordRecvAppendsLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.jsonl")
	r := New(path)

	msg := message.NewText("dev-b", "room-1", "hello")
	msg.SenderName = "Desktop"
	msg.SHA256 = "deadbeef"
	r.RecordRecv("dev-a", "Laptop", "room-1", "127.0.0.1:8080", msg)

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Dir != "recv" || lines[0].RemoteDeviceID != "dev-b" || lines[0].RemoteDeviceName != "Desktop" {
		t.Fatalf("unexpected event: %+v", lines[0])
	}
}

func TestRecordAppendsMultipleLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.jsonl")
	r := New(path)

	r.RecordSend("dev-a", "", "room-1", "relay", message.KindText, "text/plain", "", 1, "h1")
	r.RecordSend("dev-a", "", "room-1", "relay", message.KindText, "text/plain", "", 2, "h2")

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.RecordSend("dev-a", "", "room", "relay", message.KindText, "text/plain", "", 1, "h")
}
