package suppress

import (
	"os"
	"testing"
	"time"
)

func TestSetThenIsSuppressedIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	s.Set("room-a", "text/plain", "deadbeef", 50*time.Millisecond)

	if !s.IsSuppressed("room-a", "text/plain", "deadbeef") {
		t.Fatal("expected record to suppress immediately after Set")
	}

	time.Sleep(80 * time.Millisecond)
	if s.IsSuppressed("room-a", "text/plain", "deadbeef") {
		t.Fatal("expected record to have expired")
	}
}

func TestIsSuppressedRejectsMismatchedSHA(t *testing.T) {
	s := New(t.TempDir())
	s.Set("room-a", "text/plain", "aaa", time.Second)
	if s.IsSuppressed("room-a", "text/plain", "bbb") {
		t.Fatal("expected mismatched sha not to be suppressed")
	}
}

func TestWildcardSHAMatchesAnyQuery(t *testing.T) {
	s := New(t.TempDir())
	s.Set("room-a", FileKey, WildcardSHA, time.Second)
	if !s.IsSuppressed("room-a", FileKey, "anything-at-all") {
		t.Fatal("expected wildcard record to match any sha")
	}
}

func TestMissingRecordIsNotSuppressed(t *testing.T) {
	s := New(t.TempDir())
	if s.IsSuppressed("room-a", "text/plain", "sha") {
		t.Fatal("expected no record to mean not suppressed")
	}
}

func TestFileSuppressNamespaceWrappers(t *testing.T) {
	s := New(t.TempDir())
	s.SetFileSuppress("room-a", "filesha", time.Second)
	if !s.IsFileSuppressed("room-a", "filesha") {
		t.Fatal("expected file-suppress record to be visible via wrapper")
	}
	if s.IsSuppressed("room-a", "text/plain", "filesha") {
		t.Fatal("file-suppress record must be namespaced away from other MIMEs")
	}
}

func TestFilenameSanitization(t *testing.T) {
	s := New(t.TempDir())
	// room and mime containing path-hostile characters ("/", ";") still
	// round-trip through their sanitized file name.
	s.Set("a/b", "text/plain;charset=utf-8", "sha1", time.Second)
	if !s.IsSuppressed("a/b", "text/plain;charset=utf-8", "sha1") {
		t.Fatal("expected sanitized path round-trip to still resolve")
	}
}

func TestCorruptRecordFailsOpen(t *testing.T) {
	s := New(t.TempDir())
	path := s.path("room-a", "text/plain")
	if err := os.WriteFile(path, []byte("not-a-valid-record"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if s.IsSuppressed("room-a", "text/plain", "sha") {
		t.Fatal("expected malformed record to fail open (not suppressed)")
	}
}
