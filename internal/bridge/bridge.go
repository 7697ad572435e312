// Package bridge keeps the X11 CLIPBOARD selection and the Wayland
// clipboard in sync on the same machine. It runs two directions
// concurrently: an XFixes watch goroutine feeding X11 selection changes
// to Wayland (via internal/clipboard), and a unix datagram rendezvous
// socket that a short-lived "wl-paste --watch" hook subprocess notifies
// so this long-lived service can read the Wayland clipboard and own the
// X11 selection itself (a short-lived process can't hold X11 ownership —
// it vanishes the instant the process exits). The X11 selection this
// service owns carries an origin marker MIME ("from=wl"), which the X11
// watch skips. The Wayland write lists a "from=x11" marker after the
// payload; clipboard.CopyMulti offers only the first item, so the marker
// does not reach Wayland, and a hash guard on each direction stops
// repeated writes.
package bridge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"go.mcrelay.dev/multicliprelay/internal/clipboard"
	"go.mcrelay.dev/multicliprelay/internal/mimetypes"
	"go.mcrelay.dev/multicliprelay/internal/x11owner"
	"go.mcrelay.dev/multicliprelay/internal/x11watch"
)

const (
	subdir        = "x11-sync"
	wlNotifySock  = "wl_notify.sock"
	wlFullHashKey = "wl_full_hash"

	markFromX11 = "from=x11"
	markFromWL  = "from=wl"
)

// Opts configures the long-lived bridge service.
type Opts struct {
	StateDir      string
	MaxTextBytes  int
	MaxImageBytes int
}

func (o Opts) limits() x11watch.Limits {
	l := x11watch.DefaultLimits
	if o.MaxTextBytes > 0 {
		l.MaxTextBytes = o.MaxTextBytes
	}
	if o.MaxImageBytes > 0 {
		l.MaxImageBytes = o.MaxImageBytes
	}
	return l
}

func wlNotifySocketPath(stateDir string) string {
	return filepath.Join(stateDir, subdir, wlNotifySock)
}

func stateFilePath(stateDir, key string) string {
	return filepath.Join(stateDir, subdir, key)
}

func ensureStateDir(stateDir string) error {
	return os.MkdirAll(filepath.Join(stateDir, subdir), 0o755)
}

func stateGet(stateDir, key string) (string, bool) {
	b, err := os.ReadFile(stateFilePath(stateDir, key))
	if err != nil {
		return "", false
	}
	s := strings.TrimSpace(string(b))
	return s, s != ""
}

func stateSet(stateDir, key, val string) {
	_ = os.WriteFile(stateFilePath(stateDir, key), []byte(val), 0o644)
}

// NotifyWaylandChanged is the short-lived hook entry point: it runs
// inside a `wl-paste --watch` subprocess and cannot itself own the X11
// selection (ownership disappears the moment the subprocess exits), so
// it only signals the long-lived Run service over a unix datagram.
func NotifyWaylandChanged(stateDir string) {
	if err := ensureStateDir(stateDir); err != nil {
		return
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: wlNotifySocketPath(stateDir), Net: "unixgram"})
	if err != nil {
		return
	}
	defer conn.Close()
	_, _ = conn.Write([]byte("changed"))
}

// Run binds the rendezvous socket, starts the XFixes watch goroutine,
// and services both sync directions until ctx is cancelled.
func Run(ctx context.Context, opts Opts) error {
	if err := ensureStateDir(opts.StateDir); err != nil {
		return fmt.Errorf("bridge: ensure state dir: %w", err)
	}

	sockPath := wlNotifySocketPath(opts.StateDir)
	_ = os.Remove(sockPath)
	wlSock, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sockPath, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("bridge: bind wl notify socket: %w", err)
	}
	defer wlSock.Close()
	defer os.Remove(sockPath)

	snapshots := make(chan x11watch.Snapshot, 8)
	go func() {
		err := x11watch.Loop(snapshots, opts.limits(), func(msg string) { slog.Warn(msg) })
		if err != nil {
			slog.Error("bridge: x11 watch loop exited", "err", err)
		}
	}()

	notifications := make(chan struct{}, 8)
	go readNotifyLoop(ctx, wlSock, notifications)

	lastX11Hash := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-snapshots:
			applyX11ToWayland(ctx, snap, &lastX11Hash)
		case <-notifications:
			applyWaylandToX11(ctx, opts.StateDir)
		}
	}
}

func readNotifyLoop(ctx context.Context, conn *net.UnixConn, out chan<- struct{}) {
	buf := make([]byte, 128)
	for {
		if ctx.Err() != nil {
			return
		}
		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}
		select {
		case out <- struct{}{}:
		default:
		}
	}
}

// applyX11ToWayland mirrors a CLIPBOARD snapshot from X11 onto the
// Wayland clipboard, guarding against echo loops and repeated no-op
// writes.
func applyX11ToWayland(ctx context.Context, snap x11watch.Snapshot, lastHash *string) {
	if snap.MarkedFromWayland {
		slog.Debug("bridge: x11->wl skip: x11 clipboard marked from wayland")
		return
	}
	if len(snap.Items) == 0 {
		slog.Debug("bridge: x11->wl skip: empty snapshot")
		return
	}

	var items []clipboard.Item
	for _, it := range snap.Items {
		if len(it.Data) == 0 || it.MIME == mimetypes.OriginMarker {
			continue
		}
		items = append(items, clipboard.Item{MIME: it.MIME, Data: it.Data})
	}
	if len(items) == 0 {
		slog.Debug("bridge: x11->wl skip: marker-only payload")
		return
	}
	// clipboard.CopyMulti offers only items[0], so the payload leads and
	// the origin marker follows it.
	items = append(items, clipboard.Item{MIME: mimetypes.OriginMarker, Data: []byte(markFromX11)})

	sha := hashItems(items)
	if *lastHash == sha {
		slog.Debug("bridge: x11->wl skip: same hash", "sha", sha)
		return
	}

	if err := clipboard.CopyMulti(ctx, items); err != nil {
		slog.Warn("bridge: x11->wl failed to write wayland clipboard", "err", err)
		return
	}
	slog.Info("bridge: x11->wl applied", "sha", sha)
	*lastHash = sha
}

// applyWaylandToX11 builds a full multi-MIME snapshot from the Wayland
// clipboard and owns the X11 selection with it, unless the Wayland
// clipboard is itself marked as having come from X11 (loop prevention)
// or nothing changed since the last time this ran (hash guard, since
// multiple wl-paste --watch hooks can fire in a burst for one change).
func applyWaylandToX11(ctx context.Context, stateDir string) {
	types, err := clipboard.ListTypes(ctx)
	if err != nil {
		slog.Debug("bridge: wl->x11: list types failed", "err", err)
		return
	}

	if waylandMarkedFromX11(ctx, types) {
		slog.Debug("bridge: wl->x11 skip: wl clipboard marked from x11")
		return
	}

	items := []x11owner.Item{{MIME: mimetypes.OriginMarker, Data: []byte(markFromWL)}}

	for _, m := range mimetypes.FileListMIMEs {
		if !clipboard.HasType(types, m) {
			continue
		}
		if b, err := clipboard.Paste(ctx, m); err == nil && len(b) > 0 {
			items = append(items, x11owner.Item{MIME: m, Data: b})
		}
	}

	for _, m := range []string{mimetypes.PNG, mimetypes.JPEG, mimetypes.GIF, mimetypes.WebP} {
		if !clipboard.HasType(types, m) {
			continue
		}
		if b, err := clipboard.Paste(ctx, m); err == nil && len(b) > 0 {
			items = append(items, x11owner.Item{MIME: m, Data: b})
			break
		}
	}

	var textBytes []byte
	for _, m := range mimetypes.TextMIMEs {
		if !clipboard.HasType(types, m) {
			continue
		}
		if b, err := clipboard.Paste(ctx, m); err == nil && len(b) > 0 {
			textBytes = b
			break
		}
	}
	if textBytes != nil {
		items = append(items,
			x11owner.Item{MIME: mimetypes.UTF8String, Data: textBytes},
			x11owner.Item{MIME: mimetypes.XString, Data: textBytes},
			x11owner.Item{MIME: mimetypes.TextPlainUTF8, Data: textBytes},
			x11owner.Item{MIME: mimetypes.TextPlain, Data: textBytes},
		)
	}

	items = dedupeOwnerItems(items)

	// Never publish a clipboard that only has the marker: that would
	// mean X11 loses whatever it had for no reason.
	if len(items) <= 1 {
		slog.Debug("bridge: wl->x11 skip: marker-only (no payload types)")
		return
	}

	sha := hashOwnerItems(items)
	if last, ok := stateGet(stateDir, wlFullHashKey); ok && last == sha {
		slog.Debug("bridge: wl->x11 skip: same hash", "sha", sha)
		return
	}

	if err := x11owner.SpawnOwner(items); err != nil {
		slog.Warn("bridge: wl->x11 failed to own clipboard", "err", err)
		return
	}
	slog.Info("bridge: wl->x11 applied", "sha", sha)
	stateSet(stateDir, wlFullHashKey, sha)
}

// waylandMarkedFromX11 reports whether the Wayland clipboard carries the
// origin marker with an X11 payload. An unreadable marker is treated as
// "from X11" conservatively, to avoid bouncing a selection back and
// forth between the two sides.
func waylandMarkedFromX11(ctx context.Context, types []string) bool {
	if !clipboard.HasType(types, mimetypes.OriginMarker) {
		return false
	}
	b, err := clipboard.Paste(ctx, mimetypes.OriginMarker)
	if err != nil {
		return true
	}
	line := b
	if i := bytes.IndexAny(b, "\n\r\x00"); i >= 0 {
		line = b[:i]
	}
	return bytes.HasPrefix(line, []byte(markFromX11))
}

func dedupeOwnerItems(items []x11owner.Item) []x11owner.Item {
	seen := make(map[string]bool, len(items))
	out := make([]x11owner.Item, 0, len(items))
	for _, it := range items {
		if seen[it.MIME] {
			continue
		}
		seen[it.MIME] = true
		out = append(out, it)
	}
	return out
}

func hashItems(items []clipboard.Item) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%s:%s", it.MIME, sha256Hex(it.Data))
	}
	return sha256Hex([]byte(strings.Join(lines, "\n")))
}

func hashOwnerItems(items []x11owner.Item) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%s:%s", it.MIME, sha256Hex(it.Data))
	}
	return sha256Hex([]byte(strings.Join(lines, "\n")))
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
