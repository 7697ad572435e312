package bridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"go.mcrelay.dev/multicliprelay/internal/clipboard"
	"go.mcrelay.dev/multicliprelay/internal/mimetypes"
	"go.mcrelay.dev/multicliprelay/internal/x11owner"
	"go.mcrelay.dev/multicliprelay/internal/x11watch"
)

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

func TestHashItemsIsDeterministicAndPayloadSensitive(t *testing.T) {
	a := []clipboard.Item{{MIME: "text/plain", Data: []byte("hi")}}
	b := []clipboard.Item{{MIME: "text/plain", Data: []byte("hi")}}
	if hashItems(a) != hashItems(b) {
		t.Fatal("identical item sets should hash identically")
	}
	c := []clipboard.Item{{MIME: "text/plain", Data: []byte("bye")}}
	if hashItems(a) == hashItems(c) {
		t.Fatal("different payloads should hash differently")
	}
}

func TestDedupeOwnerItemsKeepsFirstOccurrence(t *testing.T) {
	items := []x11owner.Item{
		{MIME: mimetypes.TextPlainUTF8, Data: []byte("first")},
		{MIME: mimetypes.URIList, Data: []byte("uri")},
		{MIME: mimetypes.TextPlainUTF8, Data: []byte("second")},
	}
	got := dedupeOwnerItems(items)
	if len(got) != 2 || string(got[0].Data) != "first" {
		t.Fatalf("got %+v", got)
	}
}

func TestApplyX11ToWaylandSkipsWhenMarkedFromWayland(t *testing.T) {
	writeStub(t, "wl-copy", `echo "unexpected wl-copy invocation" >&2; exit 1`)

	snap := x11watch.Snapshot{
		MarkedFromWayland: true,
		Items:             []x11watch.Item{{MIME: "text/plain", Data: []byte("hi")}},
	}
	lastHash := ""
	applyX11ToWayland(context.Background(), snap, &lastHash)
	if lastHash != "" {
		t.Fatal("expected no write and no hash update when marked from wayland")
	}
}

func TestApplyX11ToWaylandSkipsEmptySnapshot(t *testing.T) {
	writeStub(t, "wl-copy", `echo "unexpected wl-copy invocation" >&2; exit 1`)
	lastHash := ""
	applyX11ToWayland(context.Background(), x11watch.Snapshot{}, &lastHash)
	if lastHash != "" {
		t.Fatal("expected no write for an empty snapshot")
	}
}

func TestApplyX11ToWaylandWritesAndDedupesByHash(t *testing.T) {
	capDir := t.TempDir()
	captured := filepath.Join(capDir, "captured")
	writeStub(t, "wl-copy", `cat > "`+captured+`"`)

	snap := x11watch.Snapshot{
		Items: []x11watch.Item{{MIME: "text/plain", Data: []byte("hello")}},
	}
	lastHash := ""
	applyX11ToWayland(context.Background(), snap, &lastHash)
	if lastHash == "" {
		t.Fatal("expected a hash to be recorded after a successful write")
	}
	got, err := os.ReadFile(captured)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("wl-copy stdin = %q", got)
	}

	if err := os.WriteFile(captured, []byte("sentinel"), 0o644); err != nil {
		t.Fatal(err)
	}
	applyX11ToWayland(context.Background(), snap, &lastHash)
	got, err = os.ReadFile(captured)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "sentinel" {
		t.Fatal("expected repeat snapshot with the same hash to be a no-op")
	}
}

func TestApplyWaylandToX11SkipsWhenMarkedFromX11(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("requires a POSIX shell")
	}
	stateDir := t.TempDir()
	writeStub(t, "wl-paste", `
case "$1" in
  "--list-types") echo "`+mimetypes.OriginMarker+`" ;;
  *) case "$3" in
       "`+mimetypes.OriginMarker+`") printf 'from=x11' ;;
       *) exit 1 ;;
     esac ;;
esac
`)
	// applyWaylandToX11 has no return value to assert on directly beyond
	// "it must not call x11owner.SpawnOwner", which would attempt a real
	// X11 connection; the marker-skip path returns before that call, so
	// simply not hanging/panicking here is the behavior under test.
	applyWaylandToX11(context.Background(), stateDir)
}
