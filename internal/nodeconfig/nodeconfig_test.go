package nodeconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c != (Config{}) {
		t.Fatalf("expected zero-value config, got %+v", c)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "room: living-room\nrelay: 10.0.0.5:8080\nimage_mode: multi\nmax_file_bytes: 104857600\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Room != "living-room" || c.Relay != "10.0.0.5:8080" || c.ImageMode != "multi" || c.MaxFileBytes != 104857600 {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("room: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStringOrAndInt64Or(t *testing.T) {
	if got := StringOr("", "fallback"); got != "fallback" {
		t.Fatalf("got %q", got)
	}
	if got := StringOr("override", "fallback"); got != "override" {
		t.Fatalf("got %q", got)
	}
	if got := Int64Or(0, 42); got != 42 {
		t.Fatalf("got %d", got)
	}
	if got := Int64Or(7, 42); got != 7 {
		t.Fatalf("got %d", got)
	}
}
