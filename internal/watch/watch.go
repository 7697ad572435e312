// Package watch implements the watch state machine (C7): observe the
// local Wayland clipboard, pick the single best representation to
// publish, and send it to the relay as a framed Message.
//
// Selection across MIME types follows a fixed priority, independent of
// whether the caller is the polling loop or a one-shot hook invocation
// (see ChooseMIME): the applied marker short-circuits everything, file
// lists beat images beat text, and a text body that itself looks like a
// uri-list of existing paths is treated as a file selection.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
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

// Options configures a Watcher.
type Options struct {
	StateDir, DataDir     string
	Room, Relay           string
	DeviceID, DeviceName  string
	ImageMode             imagemode.Mode
	MaxTextBytes          int
	MaxImageBytes         int
	MaxFileBytes          int
	FileSuppressAfterSend time.Duration // default 1500ms
}

func (o *Options) fillDefaults() {
	if o.MaxTextBytes == 0 {
		o.MaxTextBytes = 1 * 1024 * 1024
	}
	if o.MaxImageBytes == 0 {
		o.MaxImageBytes = 20 * 1024 * 1024
	}
	if o.MaxFileBytes == 0 {
		o.MaxFileBytes = 20 * 1024 * 1024
	}
	if o.FileSuppressAfterSend == 0 {
		o.FileSuppressAfterSend = 1500 * time.Millisecond
	}
}

// Watcher tracks the last-sent hash per MIME and publishes selections to
// a connected relay frame.Conn.
type Watcher struct {
	opts     Options
	suppress *suppress.Store
	hist     *history.Recorder
	conn     *frame.Conn

	mu           sync.Mutex
	lastTextSHA  string
	lastFileSHA  string
	lastImageSHA map[string]string
}

// New builds a Watcher. conn must already have sent the initial Join.
func New(opts Options, conn *frame.Conn) *Watcher {
	opts.fillDefaults()
	return &Watcher{
		opts:         opts,
		suppress:     suppress.New(opts.StateDir),
		hist:         history.New(paths.HistoryPath(opts.DataDir)),
		conn:         conn,
		lastImageSHA: make(map[string]string),
	}
}

// textUnchanged, imageUnchanged, and fileUnchanged run in each publish
// path ahead of the sha-specific suppress check: they catch a
// clipboard producer re-announcing the same content on every poll tick
// (or a spurious change notification) without a sha ever reaching disk.
func (w *Watcher) textUnchanged(sha string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastTextSHA == sha
}

func (w *Watcher) imageUnchanged(mime, sha string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastImageSHA[mime] == sha
}

func (w *Watcher) fileUnchanged(sha string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastFileSHA == sha
}

// ChooseMIME applies the selection algorithm to the MIME types a
// clipboard currently advertises, returning the chosen MIME and true, or
// ("", false) when nothing publishable is offered.
func ChooseMIME(types []string, mode imagemode.Mode) (string, bool) {
	if clipboard.HasType(types, mimetypes.AppliedMarker) {
		return "", false
	}
	for _, m := range mimetypes.FileListMIMEs {
		if clipboard.HasType(types, m) {
			return m, true
		}
	}
	imgOrder := mimetypes.ImageMIMEsPreferPNG
	if mode == imagemode.MultiMime {
		imgOrder = mimetypes.ImageMIMEsPreferNonPNG
	}
	for _, m := range imgOrder {
		if clipboard.HasType(types, m) {
			return m, true
		}
	}
	for _, m := range mimetypes.TextMIMEs {
		if clipboard.HasType(types, m) {
			return m, true
		}
	}
	return "", false
}

func isFileListMIME(mime string) bool {
	for _, m := range mimetypes.FileListMIMEs {
		if m == mime {
			return true
		}
	}
	return false
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// PollTick reads the clipboard's currently offered types and, if
// anything publishable is offered, pastes and publishes it. Call this
// repeatedly at the configured poll interval.
func (w *Watcher) PollTick(ctx context.Context) error {
	types, err := clipboard.ListTypes(ctx)
	if err != nil {
		return nil // clipboard transiently unavailable; try again next tick
	}
	mime, ok := ChooseMIME(types, w.opts.ImageMode)
	if !ok {
		return nil
	}
	return w.publishForMIME(ctx, mime, nil)
}

// PublishCandidate is the hook entry point: wl-paste --watch piped
// stdin bytes for a specific candidate MIME. It publishes only if
// candidate equals the overall best choice among the currently offered
// types, preventing N concurrently-supervised watchers from all firing
// on the same selection change.
func (w *Watcher) PublishCandidate(ctx context.Context, candidate string, data []byte, types []string) error {
	if clipboard.HasType(types, mimetypes.AppliedMarker) {
		return nil
	}
	chosen, ok := ChooseMIME(types, w.opts.ImageMode)
	if !ok || chosen != candidate {
		return nil
	}
	return w.publishForMIME(ctx, candidate, data)
}

func (w *Watcher) publishForMIME(ctx context.Context, mime string, data []byte) error {
	switch {
	case isFileListMIME(mime):
		if data == nil {
			var err error
			if data, err = clipboard.Paste(ctx, mime); err != nil {
				return nil
			}
		}
		return w.publishPaths(dedupe(bundle.CollectClipboardPaths(data)))

	case strings.HasPrefix(mime, "image/"):
		if data == nil {
			var err error
			if data, err = clipboard.Paste(ctx, mime); err != nil {
				return nil
			}
		}
		if len(data) == 0 || len(data) > w.opts.MaxImageBytes {
			return nil
		}
		return w.publishImage(mime, data)

	default: // text
		if data == nil {
			var err error
			if data, err = clipboard.Paste(ctx, mime); err != nil {
				return nil
			}
		}
		if len(data) == 0 || len(data) > w.opts.MaxTextBytes {
			return nil
		}
		var existing []string
		for _, p := range dedupe(bundle.CollectClipboardPaths(data)) {
			if _, err := os.Stat(p); err == nil {
				existing = append(existing, p)
			}
		}
		if len(existing) > 0 {
			return w.publishPaths(existing)
		}
		return w.publishText(data)
	}
}

// publishPaths builds (or reads, for a single file) the bytes to send
// for a file clipboard selection and publishes it, short-circuiting on
// an empty list, a globally-file-suppressed wildcard, the size cap, or
// a specific-sha suppression.
func (w *Watcher) publishPaths(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if w.suppress.IsFileSuppressed(w.opts.Room, suppress.WildcardSHA) {
		return nil
	}

	var name, mime string
	var data []byte
	if len(paths) == 1 && isRegularFile(paths[0]) {
		b, err := readFile(paths[0])
		if err != nil {
			return fmt.Errorf("watch: read %s: %w", paths[0], err)
		}
		data = b
		name = baseName(paths[0])
		mime = bundle.DetectFileMIME(data, name)
	} else {
		tarBytes, err := bundle.BuildTarBundle(paths)
		if err != nil {
			return fmt.Errorf("watch: build tar bundle: %w", err)
		}
		data = tarBytes
		name = bundle.BundleNameFor(paths, bundle.NowMillis())
		mime = bundle.TarMIME
	}

	if len(data) > w.opts.MaxFileBytes {
		return nil
	}

	sha := sha256Hex(data)
	if w.fileUnchanged(sha) {
		return nil
	}
	if w.suppress.IsFileSuppressed(w.opts.Room, sha) {
		return nil
	}

	msg := message.NewFile(w.opts.DeviceID, w.opts.Room, name, mime, data)
	msg.SHA256 = sha
	msg.SenderName = w.opts.DeviceName

	if err := w.conn.WriteMsg(msg); err != nil {
		return fmt.Errorf("watch: send file: %w", err)
	}
	w.hist.RecordSend(w.opts.DeviceID, w.opts.DeviceName, w.opts.Room, w.opts.Relay, message.KindFile, mime, name, len(data), sha)

	w.mu.Lock()
	w.lastFileSHA = sha
	w.mu.Unlock()

	w.suppress.SetFileSuppress(w.opts.Room, sha, 2*time.Second)
	// A follow-up text/plain `file:///...` representation must not
	// overwrite what we just sent.
	w.suppress.Set(w.opts.Room, mimetypes.TextPlainUTF8, suppress.WildcardSHA, w.opts.FileSuppressAfterSend)
	w.suppress.Set(w.opts.Room, mimetypes.TextPlain, suppress.WildcardSHA, w.opts.FileSuppressAfterSend)

	slog.Info("watch: published file", "room", w.opts.Room, "mime", mime, "name", name, "bytes", len(data), "sha", sha)
	return nil
}

func (w *Watcher) publishImage(mime string, data []byte) error {
	sendMIME, sendBytes := mime, data
	if w.opts.ImageMode == imagemode.ForcePng {
		if png, err := imagemode.DecodeToPNG(data); err == nil {
			sendMIME, sendBytes = mimetypes.PNG, png
		} else {
			slog.Warn("watch: force-png decode failed, publishing original", "mime", mime, "err", err)
		}
	}

	sha := sha256Hex(sendBytes)
	if w.imageUnchanged(sendMIME, sha) {
		return nil
	}
	if w.suppress.IsSuppressed(w.opts.Room, sendMIME, sha) {
		return nil
	}

	msg := message.NewImage(w.opts.DeviceID, w.opts.Room, sendMIME, sendBytes)
	msg.SHA256 = sha
	msg.SenderName = w.opts.DeviceName

	if err := w.conn.WriteMsg(msg); err != nil {
		return fmt.Errorf("watch: send image: %w", err)
	}
	w.hist.RecordSend(w.opts.DeviceID, w.opts.DeviceName, w.opts.Room, w.opts.Relay, message.KindImage, sendMIME, "", len(sendBytes), sha)

	w.mu.Lock()
	w.lastImageSHA[sendMIME] = sha
	w.mu.Unlock()

	slog.Info("watch: published image", "room", w.opts.Room, "mime", sendMIME, "bytes", len(sendBytes), "sha", sha)
	return nil
}

func (w *Watcher) publishText(data []byte) error {
	sha := sha256Hex(data)
	if w.textUnchanged(sha) {
		return nil
	}
	if w.suppress.IsSuppressed(w.opts.Room, mimetypes.TextPlainUTF8, sha) {
		return nil
	}

	msg := message.NewText(w.opts.DeviceID, w.opts.Room, string(data))
	msg.SHA256 = sha
	msg.SenderName = w.opts.DeviceName

	if err := w.conn.WriteMsg(msg); err != nil {
		return fmt.Errorf("watch: send text: %w", err)
	}
	w.hist.RecordSend(w.opts.DeviceID, w.opts.DeviceName, w.opts.Room, w.opts.Relay, message.KindText, mimetypes.TextPlainUTF8, "", len(data), sha)

	w.mu.Lock()
	w.lastTextSHA = sha
	w.mu.Unlock()

	slog.Info("watch: published text", "room", w.opts.Room, "bytes", len(data), "sha", sha)
	return nil
}

// RunPoll drives PollTick every interval until ctx is canceled.
func (w *Watcher) RunPoll(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := w.PollTick(ctx); err != nil {
				slog.Warn("watch: poll tick failed", "err", err)
			}
		}
	}
}

func isRegularFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func readFile(p string) ([]byte, error) { return os.ReadFile(p) }

func baseName(p string) string { return filepath.Base(p) }
