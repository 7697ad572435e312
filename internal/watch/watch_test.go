package watch

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.mcrelay.dev/multicliprelay/internal/frame"
	"go.mcrelay.dev/multicliprelay/internal/imagemode"
	"go.mcrelay.dev/multicliprelay/internal/message"
	"go.mcrelay.dev/multicliprelay/internal/mimetypes"
)

func TestChooseMIMEAppliedMarkerShortCircuits(t *testing.T) {
	types := []string{mimetypes.AppliedMarker, "text/plain"}
	if _, ok := ChooseMIME(types, imagemode.Passthrough); ok {
		t.Fatal("expected no selection when the applied marker is present")
	}
}

func TestChooseMIMEPrefersFilesOverImagesOverText(t *testing.T) {
	types := []string{"text/plain", "image/png", mimetypes.URIList}
	got, ok := ChooseMIME(types, imagemode.Passthrough)
	if !ok || got != mimetypes.URIList {
		t.Fatalf("got %q, %v, want uri-list", got, ok)
	}
}

func TestChooseMIMEImagePreferencePNGFirstByDefault(t *testing.T) {
	types := []string{"image/jpeg", "image/png"}
	got, _ := ChooseMIME(types, imagemode.Passthrough)
	if got != "image/png" {
		t.Fatalf("got %q, want image/png", got)
	}
}

func TestChooseMIMEMultiModePrefersNonPNG(t *testing.T) {
	types := []string{"image/jpeg", "image/png"}
	got, _ := ChooseMIME(types, imagemode.MultiMime)
	if got != "image/jpeg" {
		t.Fatalf("got %q, want image/jpeg", got)
	}
}

func TestChooseMIMEFallsBackToText(t *testing.T) {
	types := []string{"text/plain;charset=utf-8"}
	got, ok := ChooseMIME(types, imagemode.Passthrough)
	if !ok || got != "text/plain;charset=utf-8" {
		t.Fatalf("got %q, %v", got, ok)
	}
}

func TestChooseMIMENothingOffered(t *testing.T) {
	if _, ok := ChooseMIME([]string{"application/pdf"}, imagemode.Passthrough); ok {
		t.Fatal("expected no selection")
	}
}

func pipeConn(t *testing.T) (*frame.Conn, *frame.Conn) {
	t.Helper()
	a, b := net.Pipe()
	return frame.New(a), frame.New(b)
}

func newTestWatcher(t *testing.T, conn *frame.Conn) *Watcher {
	t.Helper()
	dir := t.TempDir()
	return New(Options{
		StateDir: dir,
		DataDir:  dir,
		Room:     "room-1",
		Relay:    "127.0.0.1:8080",
		DeviceID: "dev-a",
	}, conn)
}

func TestPublishTextSendsFramedMessage(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()
	defer server.Close()

	w := newTestWatcher(t, client)

	done := make(chan *message.Message, 1)
	go func() {
		m, err := server.ReadMsg()
		if err != nil {
			t.Error(err)
			return
		}
		done <- m
	}()

	if err := w.publishForMIME(context.Background(), "text/plain;charset=utf-8", []byte("hello")); err != nil {
		t.Fatalf("publishForMIME: %v", err)
	}

	select {
	case m := <-done:
		if m.Kind != message.KindText || string(m.Payload) != "hello" {
			t.Fatalf("unexpected message: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishTextSuppressedDuplicateIsSkipped(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()
	defer server.Close()

	w := newTestWatcher(t, client)
	w.suppress.Set("room-1", "text/plain;charset=utf-8", sha256Hex([]byte("hello")), time.Minute)

	errCh := make(chan error, 1)
	go func() { errCh <- w.publishForMIME(context.Background(), "text/plain;charset=utf-8", []byte("hello")) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("publishForMIME: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out: suppressed publish should return immediately without writing a frame")
	}
}

func TestPublishPathsSingleFile(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()
	defer server.Close()

	dir := t.TempDir()
	p := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(p, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(t, client)

	done := make(chan *message.Message, 1)
	go func() {
		m, err := server.ReadMsg()
		if err != nil {
			t.Error(err)
			return
		}
		done <- m
	}()

	if err := w.publishPaths([]string{p}); err != nil {
		t.Fatalf("publishPaths: %v", err)
	}

	select {
	case m := <-done:
		if m.Kind != message.KindFile || m.Name != "note.txt" {
			t.Fatalf("unexpected message: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublishPathsEmptyIsNoop(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()
	defer server.Close()
	w := newTestWatcher(t, client)
	if err := w.publishPaths(nil); err != nil {
		t.Fatalf("publishPaths(nil): %v", err)
	}
}

func TestPublishImageForcePngFallsBackOnDecodeFailure(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()
	defer server.Close()

	w := newTestWatcher(t, client)
	w.opts.ImageMode = imagemode.ForcePng

	done := make(chan *message.Message, 1)
	go func() {
		m, err := server.ReadMsg()
		if err != nil {
			t.Error(err)
			return
		}
		done <- m
	}()

	if err := w.publishImage("image/jpeg", []byte("not actually a jpeg")); err != nil {
		t.Fatalf("publishImage: %v", err)
	}

	select {
	case m := <-done:
		if m.MIME != "image/jpeg" {
			t.Fatalf("expected fallback to original mime, got %q", m.MIME)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestDedupeSortsAndRemovesDuplicates(t *testing.T) {
	got := dedupe([]string{"/b", "/a", "/b"})
	want := []string{"/a", "/b"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}
