// Package x11watch watches the X11 CLIPBOARD selection for ownership
// changes via XFixes and reads a best-effort snapshot of its contents
// each time it changes. It never writes to X11 — that's x11owner's job —
// it only observes, which is what the X11-to-Wayland side of the bridge
// needs.
package x11watch

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"

	"go.mcrelay.dev/multicliprelay/internal/mimetypes"
)

// Snapshot is one selection-change observation.
type Snapshot struct {
	// MarkedFromWayland is true when the current selection carries
	// mimetypes.OriginMarker with a "from=wl" payload (or the marker
	// target is offered but unreadable, in which case we're conservative
	// and treat it as marked to avoid an echo loop).
	MarkedFromWayland bool
	// Items is the ordered, MIME-deduped set of payloads worth
	// publishing to Wayland, built with the same file > image > text
	// priority the watch/apply state machines use.
	Items []Item
}

// Item is one selection target's MIME type and payload.
type Item struct {
	MIME string
	Data []byte
}

// Limits bounds how large a single target's payload is allowed to be
// before Loop logs a warning and syncs it anyway — mirroring the
// original's "still syncing" tradeoff rather than silently dropping data.
type Limits struct {
	MaxTextBytes  int
	MaxImageBytes int
}

// DefaultLimits matches the sizes the original bridge used.
var DefaultLimits = Limits{
	MaxTextBytes:  2 << 20,
	MaxImageBytes: 32 << 20,
}

var imageMIMEs = []string{mimetypes.PNG, mimetypes.JPEG, mimetypes.GIF, mimetypes.WebP}

// Loop connects to the X server, registers for CLIPBOARD ownership-change
// notifications via XFixes, and sends a Snapshot on snapshots each time
// the selection changes. It blocks until the X connection fails; callers
// should run it in its own goroutine and treat a returned error as fatal
// to the watch.
func Loop(snapshots chan<- Snapshot, limits Limits, onWarn func(string)) error {
	xc, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("x11watch: connect: %w", err)
	}
	defer xc.Close()

	if err := xfixes.Init(xc); err != nil {
		return fmt.Errorf("x11watch: xfixes init: %w", err)
	}
	if _, err := xfixes.QueryVersion(xc, 5, 0).Reply(); err != nil {
		return fmt.Errorf("x11watch: xfixes query version: %w", err)
	}

	setup := xproto.Setup(xc)
	screen := setup.DefaultScreen(xc)
	win, err := xproto.NewWindowId(xc)
	if err != nil {
		return fmt.Errorf("x11watch: new window id: %w", err)
	}
	if err := xproto.CreateWindowChecked(
		xc, screen.RootDepth, win, screen.Root,
		0, 0, 1, 1, 0,
		xproto.WindowClassInputOutput, screen.RootVisual,
		xproto.CwEventMask, []uint32{xproto.EventMaskPropertyChange},
	).Check(); err != nil {
		return fmt.Errorf("x11watch: create window: %w", err)
	}

	clipboard, err := internAtom(xc, "CLIPBOARD")
	if err != nil {
		return err
	}
	if err := xfixes.SelectSelectionInputChecked(
		xc, win, clipboard, xfixes.SelectionEventMaskSetSelectionOwner,
	).Check(); err != nil {
		return fmt.Errorf("x11watch: select selection input: %w", err)
	}

	for {
		ev, err := xc.WaitForEvent()
		if err != nil {
			return fmt.Errorf("x11watch: wait for event: %w", err)
		}
		if _, ok := ev.(xfixes.SelectionNotifyEvent); !ok {
			continue
		}
		snap, err := readSnapshot(xc, win, clipboard, limits, onWarn)
		if err != nil {
			if onWarn != nil {
				onWarn(fmt.Sprintf("x11watch: read snapshot: %v", err))
			}
			continue
		}
		snapshots <- snap
	}
}

func internAtom(xc *xgb.Conn, name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(xc, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("x11watch: intern atom %s: %w", name, err)
	}
	return reply.Atom, nil
}

// convertSelectionGet performs the ICCCM ConvertSelection dance: ask the
// current owner to place target's value on property, wait for the
// matching SelectionNotify, then read and delete the property. Returns
// (nil, nil) if the owner declined (property == None) or the value
// turned out to be an INCR placeholder, which this reader does not
// support — large payloads the watcher cares about are read opportunely,
// not guaranteed.
func convertSelectionGet(xc *xgb.Conn, win xproto.Window, selection, target, property xproto.Atom) ([]byte, error) {
	if err := xproto.ConvertSelectionChecked(xc, win, selection, target, property, xproto.TimeCurrentTime).Check(); err != nil {
		return nil, fmt.Errorf("convert selection: %w", err)
	}

	incrAtom, err := internAtom(xc, "INCR")
	if err != nil {
		return nil, err
	}

	for {
		ev, err := xc.WaitForEvent()
		if err != nil {
			return nil, fmt.Errorf("wait for event: %w", err)
		}
		n, ok := ev.(xproto.SelectionNotifyEvent)
		if !ok {
			continue
		}
		if n.Selection != selection || n.Target != target {
			continue
		}
		if n.Property == xproto.AtomNone {
			return nil, nil
		}
		reply, err := xproto.GetProperty(xc, true, win, property, xproto.AtomAny, 0, ^uint32(0)).Reply()
		if err != nil {
			return nil, fmt.Errorf("get property: %w", err)
		}
		if reply.Type == incrAtom {
			// INCR transfers aren't supported by this reader; treat as
			// unavailable rather than block waiting for chunks.
			return nil, nil
		}
		return reply.Value, nil
	}
}

func readSnapshot(xc *xgb.Conn, win xproto.Window, clipboard xproto.Atom, limits Limits, onWarn func(string)) (Snapshot, error) {
	targetsAtom, err := internAtom(xc, "TARGETS")
	if err != nil {
		return Snapshot{}, err
	}
	property, err := internAtom(xc, "MCR_X11_PROP")
	if err != nil {
		return Snapshot{}, err
	}

	targetsBytes, err := convertSelectionGet(xc, win, clipboard, targetsAtom, property)
	if err != nil {
		return Snapshot{}, err
	}
	atoms := make(map[xproto.Atom]bool, len(targetsBytes)/4)
	for i := 0; i+4 <= len(targetsBytes); i += 4 {
		a := xproto.Atom(uint32(targetsBytes[i]) | uint32(targetsBytes[i+1])<<8 | uint32(targetsBytes[i+2])<<16 | uint32(targetsBytes[i+3])<<24)
		atoms[a] = true
	}

	markerAtom, err := internAtom(xc, mimetypes.OriginMarker)
	if err != nil {
		return Snapshot{}, err
	}
	markedFromWayland := false
	if atoms[markerAtom] {
		b, err := convertSelectionGet(xc, win, clipboard, markerAtom, property)
		if err == nil && b != nil {
			line := b
			if i := bytes.IndexAny(b, "\n\r\x00"); i >= 0 {
				line = b[:i]
			}
			markedFromWayland = bytes.HasPrefix(line, []byte("from=wl"))
		} else {
			// Conservative: unreadable marker target still counts as
			// marked, to avoid bouncing the selection back and forth.
			markedFromWayland = true
		}
	}

	var items []Item

	for _, m := range mimetypes.FileListMIMEs {
		a, err := internAtom(xc, m)
		if err != nil {
			return Snapshot{}, err
		}
		if !atoms[a] {
			continue
		}
		b, err := convertSelectionGet(xc, win, clipboard, a, property)
		if err != nil || len(b) == 0 {
			continue
		}
		if len(b) > limits.MaxTextBytes && onWarn != nil {
			onWarn(fmt.Sprintf("x11watch: large file mime payload (%d bytes)", len(b)))
		}
		items = append(items, Item{MIME: m, Data: b})
	}

	for _, m := range imageMIMEs {
		a, err := internAtom(xc, m)
		if err != nil {
			return Snapshot{}, err
		}
		if !atoms[a] {
			continue
		}
		b, err := convertSelectionGet(xc, win, clipboard, a, property)
		if err != nil || len(b) == 0 {
			continue
		}
		if len(b) > limits.MaxImageBytes && onWarn != nil {
			onWarn(fmt.Sprintf("x11watch: large image payload (%d bytes)", len(b)))
		}
		items = append(items, Item{MIME: m, Data: b})
		break
	}

	utf8Atom, err := internAtom(xc, mimetypes.UTF8String)
	if err != nil {
		return Snapshot{}, err
	}
	stringAtom := xproto.AtomString
	textPlainUTF8Atom, err := internAtom(xc, mimetypes.TextPlainUTF8)
	if err != nil {
		return Snapshot{}, err
	}
	textPlainAtom, err := internAtom(xc, mimetypes.TextPlain)
	if err != nil {
		return Snapshot{}, err
	}

	var textBytes []byte
	for _, a := range []xproto.Atom{utf8Atom, textPlainUTF8Atom, textPlainAtom, stringAtom} {
		if !atoms[a] {
			continue
		}
		b, err := convertSelectionGet(xc, win, clipboard, a, property)
		if err != nil || len(b) == 0 {
			continue
		}
		if len(b) > limits.MaxTextBytes && onWarn != nil {
			onWarn(fmt.Sprintf("x11watch: large text payload (%d bytes)", len(b)))
		}
		textBytes = b
		break
	}

	if textBytes != nil {
		items = append(items, Item{MIME: mimetypes.TextPlainUTF8, Data: textBytes})
		items = append(items, Item{MIME: mimetypes.TextPlain, Data: textBytes})

		hasFileList := false
		for _, it := range items {
			if it.MIME == mimetypes.URIList || it.MIME == mimetypes.KDEURIList || it.MIME == mimetypes.GnomeCopiedFiles {
				hasFileList = true
				break
			}
		}
		if !hasFileList && looksLikeFileURIListText(string(textBytes)) {
			items = append(items, Item{MIME: mimetypes.URIList, Data: textBytes})
		}
	}

	return Snapshot{MarkedFromWayland: markedFromWayland, Items: dedupeByMIME(items)}, nil
}

func looksLikeFileURIListText(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "file://") || strings.HasPrefix(t, "file:/") {
			return true
		}
	}
	return false
}

func dedupeByMIME(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if seen[it.MIME] {
			continue
		}
		seen[it.MIME] = true
		out = append(out, it)
	}
	return out
}
