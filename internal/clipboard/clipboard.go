// Package clipboard wraps the external wl-clipboard CLI tools
// (wl-paste/wl-copy) the watch and apply state machines use to read and
// write the Wayland clipboard. Unlike the X11 side (internal/x11owner),
// there is no in-process protocol implementation here: wl-paste/wl-copy
// are real, separately-maintained tools and this package only shells out
// to them via os/exec.
package clipboard

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ErrUnavailable is returned when the requested MIME type isn't currently
// offered by the clipboard (wl-paste exits non-zero in that case).
var ErrUnavailable = fmt.Errorf("clipboard: requested type unavailable")

// Item is one MIME type / payload pair to offer on the clipboard.
type Item struct {
	MIME string
	Data []byte
}

// Paste reads the current clipboard contents for mime, or ErrUnavailable
// if that type isn't currently offered.
func Paste(ctx context.Context, mime string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "wl-paste", "--no-newline", "--type", mime)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, mime, strings.TrimSpace(stderr.String()))
	}
	return out.Bytes(), nil
}

// ListTypes lists the MIME types currently offered by the clipboard.
func ListTypes(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "wl-paste", "--list-types")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("wl-paste --list-types: %w", err)
	}
	var types []string
	for _, l := range strings.Split(out.String(), "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			types = append(types, l)
		}
	}
	return types, nil
}

// HasType reports whether types contains mime (exact string match).
func HasType(types []string, mime string) bool {
	for _, t := range types {
		if t == mime {
			return true
		}
	}
	return false
}

// Copy offers a single MIME type on the clipboard, replacing any
// previous offer (wl-copy becomes the sole clipboard owner on each call).
func Copy(ctx context.Context, mime string, data []byte) error {
	return CopyMulti(ctx, []Item{{MIME: mime, Data: data}})
}

// CopyMulti offers items on the clipboard.
//
// wl-copy (unlike the wl_clipboard_rs library the original node used)
// can only declare one MIME type per invocation — there is no external
// CLI equivalent of a single data source answering multiple distinct
// targets. This is a known fidelity gap documented in DESIGN.md: when
// len(items) > 1, only the first item is actually offered; callers that
// need every target simultaneously (the X11 side's multi-target apply
// writes) go through internal/x11owner instead, which implements the
// protocol directly.
func CopyMulti(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return fmt.Errorf("clipboard: CopyMulti requires at least one item")
	}
	primary := items[0]
	cmd := exec.CommandContext(ctx, "wl-copy", "--type", primary.MIME)
	cmd.Stdin = bytes.NewReader(primary.Data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("wl-copy --type %s: %w: %s", primary.MIME, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Clear empties the clipboard.
func Clear(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "wl-copy", "--clear")
	return cmd.Run()
}
