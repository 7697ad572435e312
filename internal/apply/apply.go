// Package apply implements the apply state machine (C8): receive framed
// Messages from a relay connection and write them to the local Wayland
// clipboard, reshaping file bundles back into natural "copy a folder" /
// "copy these files" clipboard semantics on the receiving side.
package apply

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mcrelay.dev/multicliprelay/internal/bundle"
	"go.mcrelay.dev/multicliprelay/internal/clipboard"
	"go.mcrelay.dev/multicliprelay/internal/frame"
	"go.mcrelay.dev/multicliprelay/internal/history"
	"go.mcrelay.dev/multicliprelay/internal/imagemode"
	"go.mcrelay.dev/multicliprelay/internal/message"
	"go.mcrelay.dev/multicliprelay/internal/mimetypes"
	"go.mcrelay.dev/multicliprelay/internal/paths"
	"go.mcrelay.dev/multicliprelay/internal/suppress"
)

// fileApplyKey is the synthetic last-applied-sha bucket for File-kind
// messages, mirroring the file-suppress namespace rather than a MIME.
const fileApplyKey = suppress.FileKey

// Options configures an Applier.
type Options struct {
	StateDir, DataDir    string
	Room, Relay          string
	DeviceID, DeviceName string
	ImageMode            imagemode.Mode
}

// Applier tracks the last-applied sha per MIME (plus a synthetic bucket
// for File messages) to avoid re-applying the same change twice, and
// writes received payloads to the local clipboard.
type Applier struct {
	opts     Options
	suppress *suppress.Store
	hist     *history.Recorder

	mu             sync.Mutex
	lastAppliedSHA map[string]string
}

// New builds an Applier.
func New(opts Options) *Applier {
	return &Applier{
		opts:           opts,
		suppress:       suppress.New(opts.StateDir),
		hist:           history.New(paths.HistoryPath(opts.DataDir)),
		lastAppliedSHA: make(map[string]string),
	}
}

func (a *Applier) alreadyApplied(key, sha string) bool {
	if sha == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAppliedSHA[key] == sha
}

func (a *Applier) markApplied(key, sha string) {
	if sha == "" {
		return
	}
	a.mu.Lock()
	a.lastAppliedSHA[key] = sha
	a.mu.Unlock()
}

// Apply dispatches a single received Message. It silently drops the
// device's own echoes and repeats of the last-applied sha per MIME.
func (a *Applier) Apply(ctx context.Context, msg *message.Message) error {
	if msg.DeviceID == a.opts.DeviceID {
		return nil
	}

	switch msg.Kind {
	case message.KindText:
		return a.applyText(ctx, msg)
	case message.KindImage:
		return a.applyImage(ctx, msg)
	case message.KindFile:
		return a.applyFile(ctx, msg)
	default: // Join, or anything else: heartbeat-only
		return nil
	}
}

func (a *Applier) applyText(ctx context.Context, msg *message.Message) error {
	if a.alreadyApplied(mimetypes.TextPlainUTF8, msg.SHA256) {
		return nil
	}
	if err := clipboard.Copy(ctx, mimetypes.TextPlainUTF8, msg.Payload); err != nil {
		slog.Warn("apply: wl-copy text failed", "err", err)
	}
	a.hist.RecordRecv(a.opts.DeviceID, a.opts.DeviceName, a.opts.Room, a.opts.Relay, msg)
	a.suppress.Set(a.opts.Room, mimetypes.TextPlainUTF8, msg.SHA256, 2*time.Second)
	a.markApplied(mimetypes.TextPlainUTF8, msg.SHA256)
	slog.Info("apply: applied text", "bytes", len(msg.Payload))
	return nil
}

func (a *Applier) applyImage(ctx context.Context, msg *message.Message) error {
	mime := msg.MIME
	if mime == "" {
		mime = mimetypes.PNG
	}
	a.hist.RecordRecv(a.opts.DeviceID, a.opts.DeviceName, a.opts.Room, a.opts.Relay, msg)

	switch a.opts.ImageMode {
	case imagemode.ForcePng:
		applyMIME, applyBytes := mimetypes.PNG, msg.Payload
		if png, err := imagemode.DecodeToPNG(msg.Payload); err == nil {
			applyBytes = png
		} else {
			applyMIME = mime
		}
		return a.writeImageAndSuppress(ctx, applyMIME, applyBytes, msg.SHA256)

	case imagemode.SpoofPng:
		slog.Warn("apply: spoof-png offering image/png with original payload", "mime", mime)
		return a.writeImageAndSuppress(ctx, mimetypes.PNG, msg.Payload, msg.SHA256)

	case imagemode.MultiMime:
		if mime == mimetypes.PNG {
			return a.writeImageAndSuppress(ctx, mime, msg.Payload, msg.SHA256)
		}
		items := []clipboard.Item{{MIME: mime, Data: msg.Payload}}
		suppressions := map[string]string{}
		if msg.SHA256 != "" {
			suppressions[mime] = msg.SHA256
		}
		if png, err := imagemode.DecodeToPNG(msg.Payload); err == nil {
			items = append(items, clipboard.Item{MIME: mimetypes.PNG, Data: png})
			suppressions[mimetypes.PNG] = sha256Hex(png)
		}
		if err := clipboard.CopyMulti(ctx, items); err != nil {
			slog.Warn("apply: wl-copy-multi image failed", "err", err)
		}
		for m, sha := range suppressions {
			a.suppress.Set(a.opts.Room, m, sha, 2*time.Second)
			a.markApplied(m, sha)
		}
		slog.Info("apply: applied multi-mime image", "mime", mime, "bytes", len(msg.Payload))
		return nil

	default: // Passthrough
		return a.writeImageAndSuppress(ctx, mime, msg.Payload, msg.SHA256)
	}
}

func (a *Applier) writeImageAndSuppress(ctx context.Context, mime string, data []byte, sha string) error {
	if a.alreadyApplied(mime, sha) {
		return nil
	}
	if err := clipboard.Copy(ctx, mime, data); err != nil {
		slog.Warn("apply: wl-copy image failed", "mime", mime, "err", err)
	}
	a.suppress.Set(a.opts.Room, mime, sha, 2*time.Second)
	a.markApplied(mime, sha)
	slog.Info("apply: applied image", "mime", mime, "bytes", len(data))
	return nil
}

func (a *Applier) applyFile(ctx context.Context, msg *message.Message) error {
	sha := msg.SHA256
	if sha == "" {
		sha = sha256Hex(msg.Payload)
	}
	if a.alreadyApplied(fileApplyKey, sha) {
		return nil
	}
	a.hist.RecordRecv(a.opts.DeviceID, a.opts.DeviceName, a.opts.Room, a.opts.Relay, msg)

	name := msg.Name
	if name == "" {
		name = "multicliprelay-" + paths.First8(sha)
	}
	safe := paths.SafeForFilename(name)

	dir := paths.ReceivedDir(a.opts.DataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("apply: make received dir: %w", err)
	}
	sha8 := paths.First8(sha)

	// Feedback-loop guard: wl-apply is about to write file clipboard
	// formats, which can trigger wl-watch almost instantly on the same
	// machine. Ignore any file/text changes for a short window.
	a.suppress.SetFileSuppress(a.opts.Room, suppress.WildcardSHA, 1500*time.Millisecond)
	a.suppress.Set(a.opts.Room, mimetypes.TextPlainUTF8, suppress.WildcardSHA, 1500*time.Millisecond)
	a.suppress.Set(a.opts.Room, mimetypes.TextPlain, suppress.WildcardSHA, 1500*time.Millisecond)

	var err error
	if paths.IsTarPayload(name, msg.MIME) {
		err = a.applyTarBundle(ctx, name, safe, sha, sha8, dir, msg.Payload)
	} else {
		err = a.applySingleFile(ctx, name, safe, sha, sha8, dir, msg.Payload)
	}
	if err != nil {
		return err
	}

	a.suppress.SetFileSuppress(a.opts.Room, sha, 2*time.Second)
	a.markApplied(fileApplyKey, sha)
	return nil
}

func (a *Applier) applyTarBundle(ctx context.Context, name, safe, sha, sha8, receivedDir string, payload []byte) error {
	stem := strings.TrimSuffix(strings.TrimSuffix(safe, ".tar"), ".TAR")
	outDir := filepath.Join(receivedDir, sha8+"_"+stem)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("apply: make bundle dir: %w", err)
	}
	if err := bundle.UnpackTarBytes(payload, outDir); err != nil {
		slog.Warn("apply: unpack tar failed", "err", err)
	}

	entries := bundle.ListTopLevelItems(outDir, 5000)

	stemRaw := strings.TrimSuffix(strings.TrimSuffix(name, ".tar"), ".TAR")
	wrapperName := sanitizeComponent(stemRaw)
	isGenericBundleName := strings.HasPrefix(stemRaw, "multicliprelay-bundle-")

	var rootPaths []string
	var rootNameForPlain string

	switch {
	case len(entries) == 0:
		rootPaths = []string{outDir}
		rootNameForPlain = wrapperName

	case len(entries) == 1:
		rootPaths = []string{entries[0]}
		rootNameForPlain = filepath.Base(entries[0])

	case isGenericBundleName:
		rootPaths = entries
		rootNameForPlain = filepath.Base(entries[0])

	default:
		wrapper := filepath.Join(outDir, wrapperName)
		if err := os.MkdirAll(wrapper, 0o755); err != nil {
			slog.Warn("apply: make wrapper dir failed", "err", err)
		}
		for _, src := range entries {
			if src == wrapper {
				continue
			}
			base := filepath.Base(src)
			dst := filepath.Join(wrapper, base)
			if _, statErr := os.Stat(dst); statErr == nil {
				dst = filepath.Join(wrapper, fmt.Sprintf("%s_%d", base, time.Now().UnixMilli()))
			}
			if err := moveEntry(src, dst); err != nil {
				slog.Warn("apply: move bundle entry failed", "src", src, "dst", dst, "err", err)
			}
		}
		rootPaths = []string{wrapper}
		rootNameForPlain = wrapperName
	}

	uriList := bundle.BuildURIList(rootPaths)
	gnomeList := "copy\n" + uriList
	marker := fmt.Sprintf("applied\nkind=tar\nsha=%s\nname=%s\nroot_hint=%s\n", sha, name, rootNameForPlain)

	items := []clipboard.Item{
		{MIME: mimetypes.TextPlainUTF8, Data: []byte(rootNameForPlain)},
		{MIME: mimetypes.TextPlain, Data: []byte(rootNameForPlain)},
		{MIME: mimetypes.URIList, Data: []byte(uriList)},
		{MIME: mimetypes.GnomeCopiedFiles, Data: []byte(gnomeList)},
		{MIME: mimetypes.AppliedMarker, Data: []byte(marker)},
	}
	if err := clipboard.CopyMulti(ctx, items); err != nil {
		slog.Warn("apply: wl-copy-multi bundle failed", "err", err)
	}
	slog.Info("apply: received bundle", "items", len(rootPaths), "bytes", len(payload))
	return nil
}

func (a *Applier) applySingleFile(ctx context.Context, name, safe, sha, sha8, receivedDir string, payload []byte) error {
	outDir := filepath.Join(receivedDir, sha8)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("apply: make file dir: %w", err)
	}
	outPath := filepath.Join(outDir, safe)
	if err := os.WriteFile(outPath, payload, 0o644); err != nil {
		return fmt.Errorf("apply: write received file: %w", err)
	}

	uri := bundle.BuildURIList([]string{outPath})
	marker := fmt.Sprintf("applied\nkind=file\nsha=%s\nname=%s\n", sha, name)

	items := []clipboard.Item{
		{MIME: mimetypes.TextPlainUTF8, Data: []byte(outPath)},
		{MIME: mimetypes.URIList, Data: []byte(uri)},
		{MIME: mimetypes.AppliedMarker, Data: []byte(marker)},
	}
	if err := clipboard.CopyMulti(ctx, items); err != nil {
		slog.Warn("apply: wl-copy-multi file failed", "err", err)
	}
	slog.Info("apply: received file", "path", outPath, "bytes", len(payload))
	return nil
}

// sanitizeComponent makes s safe to use as a single path component.
func sanitizeComponent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '/', '\\', 0:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		out = "multicliprelay"
	}
	if out == "." || out == ".." {
		out = "_" + out
	}
	return out
}

// moveEntry renames src to dst, falling back to a recursive copy+remove
// when they live on different filesystems (rename can't cross devices).
func moveEntry(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyDirThenRemove(src, dst)
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyDirThenRemove(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	err := filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
	if err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// RunLoop connects to relay, sends the initial Join, and applies every
// received Message until ctx is canceled. It never returns cleanly on a
// dropped connection — it reconnects with a fixed backoff instead, so a
// supervisor (systemd, etc.) sees the process as continuously running.
func RunLoop(ctx context.Context, a *Applier, dial func(ctx context.Context) (*frame.Conn, error)) error {
	const reconnectBackoff = 800 * time.Millisecond
	const heartbeatInterval = 20 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := dial(ctx)
		if err != nil {
			slog.Warn("apply: connect failed", "err", err)
			sleepOrDone(ctx, reconnectBackoff)
			continue
		}

		if err := conn.WriteMsg(message.NewJoin(a.opts.DeviceID, a.opts.Room)); err != nil {
			slog.Warn("apply: send join failed", "err", err)
			conn.Close()
			sleepOrDone(ctx, reconnectBackoff)
			continue
		}
		slog.Info("apply: connected", "room", a.opts.Room, "relay", a.opts.Relay)

		// msgCh is buffered by one so the reader goroutine below can always
		// hand off its in-flight message and go back to conn.ReadMsg(),
		// even if inner has already exited; a closed conn then fails that
		// next read and the goroutine returns instead of leaking.
		msgCh := make(chan *message.Message, 1)
		errCh := make(chan error, 1)
		go func() {
			for {
				m, err := conn.ReadMsg()
				if err != nil {
					errCh <- err
					return
				}
				msgCh <- m
			}
		}()

		hb := time.NewTicker(heartbeatInterval)
	inner:
		for {
			select {
			case <-ctx.Done():
				hb.Stop()
				conn.Close()
				return ctx.Err()
			case <-hb.C:
				if err := conn.WriteMsg(message.NewJoin(a.opts.DeviceID, a.opts.Room)); err != nil {
					slog.Warn("apply: heartbeat failed, reconnecting", "err", err)
					break inner
				}
			case m := <-msgCh:
				if err := a.Apply(ctx, m); err != nil {
					slog.Warn("apply: apply failed", "err", err)
				}
			case err := <-errCh:
				slog.Warn("apply: read failed, reconnecting", "err", err)
				break inner
			}
		}
		hb.Stop()
		conn.Close()
		sleepOrDone(ctx, reconnectBackoff)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
