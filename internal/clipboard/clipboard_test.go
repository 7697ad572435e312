package clipboard

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// writeStub drops an executable shell script named name onto PATH so the
// package's os/exec calls exercise real process plumbing without needing
// the actual wl-clipboard tools installed.
func writeStub(t *testing.T, name, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts require a POSIX shell")
	}
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestPasteReturnsStdout(t *testing.T) {
	writeStub(t, "wl-paste", `printf 'hello'`)
	got, err := Paste(context.Background(), "text/plain;charset=utf-8")
	if err != nil {
		t.Fatalf("Paste: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

func TestPasteWrapsErrUnavailableOnNonZeroExit(t *testing.T) {
	writeStub(t, "wl-paste", `echo "no such mime" 1>&2; exit 1`)
	_, err := Paste(context.Background(), "image/png")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestListTypesSplitsLines(t *testing.T) {
	writeStub(t, "wl-paste", `printf 'text/plain\ntext/uri-list\n\n'`)
	types, err := ListTypes(context.Background())
	if err != nil {
		t.Fatalf("ListTypes: %v", err)
	}
	if len(types) != 2 || types[0] != "text/plain" || types[1] != "text/uri-list" {
		t.Fatalf("types = %v", types)
	}
}

func TestHasType(t *testing.T) {
	types := []string{"text/plain", "image/png"}
	if !HasType(types, "image/png") {
		t.Fatal("expected HasType to find image/png")
	}
	if HasType(types, "image/gif") {
		t.Fatal("expected HasType to not find image/gif")
	}
}

func TestCopyMultiOffersOnlyFirstItem(t *testing.T) {
	dir := t.TempDir()
	captured := filepath.Join(dir, "captured")
	writeStub(t, "wl-copy", `cat > "`+captured+`"`)

	err := CopyMulti(context.Background(), []Item{
		{MIME: "text/plain", Data: []byte("first")},
		{MIME: "image/png", Data: []byte("second")},
	})
	if err != nil {
		t.Fatalf("CopyMulti: %v", err)
	}
	got, err := os.ReadFile(captured)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "first" {
		t.Fatalf("wl-copy stdin = %q, want only the first item's payload", got)
	}
}

func TestCopyMultiRejectsEmpty(t *testing.T) {
	if err := CopyMulti(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty items")
	}
}
