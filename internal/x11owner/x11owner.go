// Package x11owner implements a minimal multi-target X11 CLIPBOARD
// selection owner. It exists because the xclip/xsel CLI tools can only
// set one target at a time, which makes it impossible to preserve file
// clipboard targets (text/uri-list) while also offering a coordination
// marker target alongside them — exactly what the X11<->Wayland bridge
// needs. INCR transfers and ICCCM MULTIPLE requests are both handled;
// callers should still enforce reasonable size caps upstream.
package x11owner

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

const (
	incrChunkBytes = 64 * 1024
	incrTimeout    = 5 * time.Second
)

// Item is one MIME-type/payload pair to offer as a selection target.
type Item struct {
	MIME string
	Data []byte
}

// SpawnOwner takes ownership of the X11 CLIPBOARD selection and serves
// items to requestors until ownership is lost (another application takes
// the selection), running in its own goroutine. It returns once the
// connection and window are set up and ownership has been asserted;
// errors after that point are logged, not returned.
func SpawnOwner(items []Item) error {
	xc, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("x11owner: connect: %w", err)
	}

	win, clipboard, payloads, maxDirect, err := setupOwner(xc, items)
	if err != nil {
		xc.Close()
		return err
	}

	go runOwner(xc, win, clipboard, payloads, maxDirect)
	return nil
}

func setupOwner(xc *xgb.Conn, items []Item) (xproto.Window, xproto.Atom, map[xproto.Atom][]byte, int, error) {
	setup := xproto.Setup(xc)
	screen := setup.DefaultScreen(xc)

	maxReqBytes := int(setup.MaximumRequestLength) * 4
	maxDirect := maxReqBytes - 1024
	if maxDirect < 8*1024 {
		maxDirect = 8 * 1024
	}

	winID, err := xproto.NewWindowId(xc)
	if err != nil {
		return 0, 0, nil, 0, fmt.Errorf("x11owner: new window id: %w", err)
	}
	err = xproto.CreateWindowChecked(
		xc, screen.RootDepth, winID, screen.Root,
		0, 0, 1, 1, 0,
		xproto.WindowClassInputOutput, screen.RootVisual,
		xproto.CwEventMask, []uint32{xproto.EventMaskPropertyChange},
	).Check()
	if err != nil {
		return 0, 0, nil, 0, fmt.Errorf("x11owner: create window: %w", err)
	}

	clipboard, err := internAtom(xc, "CLIPBOARD")
	if err != nil {
		return 0, 0, nil, 0, err
	}
	targetsAtom, err := internAtom(xc, "TARGETS")
	if err != nil {
		return 0, 0, nil, 0, err
	}

	payloads := make(map[xproto.Atom][]byte, len(items)+1)
	for _, it := range items {
		a, err := internAtom(xc, it.MIME)
		if err != nil {
			return 0, 0, nil, 0, err
		}
		payloads[a] = it.Data
	}
	if _, ok := payloads[targetsAtom]; !ok {
		payloads[targetsAtom] = nil
	}

	if err := xproto.SetSelectionOwnerChecked(xc, winID, clipboard, xproto.TimeCurrentTime).Check(); err != nil {
		return 0, 0, nil, 0, fmt.Errorf("x11owner: set selection owner: %w", err)
	}
	return winID, clipboard, payloads, maxDirect, nil
}

func runOwner(xc *xgb.Conn, win xproto.Window, clipboard xproto.Atom, payloads map[xproto.Atom][]byte, maxDirect int) {
	defer xc.Close()
	for {
		ev, err := xc.WaitForEvent()
		if err != nil {
			slog.Warn("x11owner: wait for event failed", "err", err)
			return
		}
		switch e := ev.(type) {
		case xproto.SelectionRequestEvent:
			if err := handleSelectionRequest(xc, win, clipboard, e, payloads, maxDirect); err != nil {
				slog.Warn("x11owner: handle selection request failed", "err", err)
			}
		case xproto.SelectionClearEvent:
			slog.Debug("x11owner: lost selection ownership")
			return
		}
	}
}

func internAtom(xc *xgb.Conn, name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(xc, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("x11owner: intern atom %s: %w", name, err)
	}
	return reply.Atom, nil
}

func handleSelectionRequest(xc *xgb.Conn, win xproto.Window, clipboard xproto.Atom, req xproto.SelectionRequestEvent, payloads map[xproto.Atom][]byte, maxDirect int) error {
	targetsAtom, err := internAtom(xc, "TARGETS")
	if err != nil {
		return err
	}
	multipleAtom, err := internAtom(xc, "MULTIPLE")
	if err != nil {
		return err
	}
	timestampAtom, err := internAtom(xc, "TIMESTAMP")
	if err != nil {
		return err
	}
	incrAtom, err := internAtom(xc, "INCR")
	if err != nil {
		return err
	}

	property := req.Property
	if property == xproto.AtomNone {
		// ICCCM: if property is None, use target.
		property = req.Target
	}

	switch req.Target {
	case multipleAtom:
		return handleMultiple(xc, win, clipboard, req, property, payloads, targetsAtom, timestampAtom)
	case targetsAtom:
		return offerTargets(xc, req, property, payloads, targetsAtom, timestampAtom)
	case timestampAtom:
		return offerTimestamp(xc, req, property)
	}

	bytes, ok := payloads[req.Target]
	if !ok {
		// Unsupported target: respond with property = None but keep
		// ownership.
		sendSelectionNotify(xc, req, xproto.AtomNone)
		xproto.SetSelectionOwner(xc, win, clipboard, xproto.TimeCurrentTime)
		return nil
	}

	if len(bytes) <= maxDirect {
		if err := xproto.ChangePropertyChecked(
			xc, xproto.PropModeReplace, req.Requestor, property, req.Target,
			8, uint32(len(bytes)), bytes,
		).Check(); err != nil {
			return fmt.Errorf("change property target: %w", err)
		}
		sendSelectionNotify(xc, req, property)
		return nil
	}

	return incrTransfer(xc, win, clipboard, req, property, incrAtom, bytes)
}

func offerTargets(xc *xgb.Conn, req xproto.SelectionRequestEvent, property xproto.Atom, payloads map[xproto.Atom][]byte, targetsAtom, timestampAtom xproto.Atom) error {
	atoms := targetAtomList(payloads, targetsAtom, timestampAtom)
	data := atomsToBytes(atoms)
	if err := xproto.ChangePropertyChecked(
		xc, xproto.PropModeReplace, req.Requestor, property, xproto.AtomAtom,
		32, uint32(len(atoms)), data,
	).Check(); err != nil {
		return fmt.Errorf("change property TARGETS: %w", err)
	}
	sendSelectionNotify(xc, req, property)
	return nil
}

func offerTimestamp(xc *xgb.Conn, req xproto.SelectionRequestEvent, property xproto.Atom) error {
	ts := uint32(0)
	if err := xproto.ChangePropertyChecked(
		xc, xproto.PropModeReplace, req.Requestor, property, xproto.AtomInteger,
		32, 1, uint32ToBytes(ts),
	).Check(); err != nil {
		return fmt.Errorf("change property TIMESTAMP: %w", err)
	}
	sendSelectionNotify(xc, req, property)
	return nil
}

// handleMultiple satisfies an ICCCM MULTIPLE request: the requestor's
// property holds (target, property) atom pairs; we try to satisfy each in
// place, marking a pair's property None on failure, and write the
// (possibly modified) pairs back. INCR is intentionally not attempted
// inside MULTIPLE, matching the upstream implementation's tradeoff:
// oversized entries fail and the requestor can retry with a direct
// request.
func handleMultiple(xc *xgb.Conn, win xproto.Window, clipboard xproto.Atom, req xproto.SelectionRequestEvent, property xproto.Atom, payloads map[xproto.Atom][]byte, targetsAtom, timestampAtom xproto.Atom) error {
	pairs, ok := getAtomPairs(xc, req.Requestor, property)
	if !ok {
		sendSelectionNotify(xc, req, xproto.AtomNone)
		return nil
	}

	out := make([]xproto.Atom, 0, len(pairs)*2)
	for _, pair := range pairs {
		target, prop := pair[0], pair[1]
		if prop == xproto.AtomNone {
			out = append(out, target, prop)
			continue
		}

		switch target {
		case targetsAtom:
			atoms := targetAtomList(payloads, targetsAtom, timestampAtom)
			data := atomsToBytes(atoms)
			ok := xproto.ChangePropertyChecked(xc, xproto.PropModeReplace, req.Requestor, prop, xproto.AtomAtom, 32, uint32(len(atoms)), data).Check() == nil
			out = append(out, target, failIfNot(ok, prop))
		case timestampAtom:
			ts := uint32(0)
			ok := xproto.ChangePropertyChecked(xc, xproto.PropModeReplace, req.Requestor, prop, xproto.AtomInteger, 32, 1, uint32ToBytes(ts)).Check() == nil
			out = append(out, target, failIfNot(ok, prop))
		default:
			bytes, have := payloads[target]
			if !have {
				out = append(out, target, xproto.AtomNone)
				continue
			}
			ok := xproto.ChangePropertyChecked(xc, xproto.PropModeReplace, req.Requestor, prop, target, 8, uint32(len(bytes)), bytes).Check() == nil
			out = append(out, target, failIfNot(ok, prop))
		}
	}

	data := atomsToBytes(out)
	xproto.ChangeProperty(xc, xproto.PropModeReplace, req.Requestor, property, xproto.AtomAtom, 32, uint32(len(out)), data)
	sendSelectionNotify(xc, req, property)
	return nil
}

func failIfNot(ok bool, prop xproto.Atom) xproto.Atom {
	if ok {
		return prop
	}
	return xproto.AtomNone
}

func getAtomPairs(xc *xgb.Conn, requestor xproto.Window, property xproto.Atom) ([][2]xproto.Atom, bool) {
	reply, err := xproto.GetProperty(xc, false, requestor, property, xproto.AtomAtom, 0, ^uint32(0)).Reply()
	if err != nil || reply == nil || reply.Format != 32 {
		return nil, false
	}
	atoms := bytesToAtoms(reply.Value)
	if len(atoms)%2 != 0 {
		return nil, false
	}
	pairs := make([][2]xproto.Atom, 0, len(atoms)/2)
	for i := 0; i < len(atoms); i += 2 {
		pairs = append(pairs, [2]xproto.Atom{atoms[i], atoms[i+1]})
	}
	return pairs, true
}

// incrTransfer streams a large payload via the ICCCM INCR protocol: an
// initial property announces the INCR type and total length, then the
// owner appends chunks each time the requestor deletes the property,
// finishing with a zero-length chunk.
func incrTransfer(xc *xgb.Conn, win xproto.Window, clipboard xproto.Atom, req xproto.SelectionRequestEvent, property, incrAtom xproto.Atom, bytes []byte) error {
	totalLen := uint32(len(bytes))
	if err := xproto.ChangePropertyChecked(
		xc, xproto.PropModeReplace, req.Requestor, property, incrAtom, 32, 1, uint32ToBytes(totalLen),
	).Check(); err != nil {
		return fmt.Errorf("change property INCR: %w", err)
	}
	sendSelectionNotify(xc, req, property)

	xproto.ChangeWindowAttributes(xc, req.Requestor, xproto.CwEventMask, []uint32{xproto.EventMaskPropertyChange})

	deadline := time.Now().Add(incrTimeout)
	offset := 0
	for {
		if time.Now().After(deadline) {
			xproto.SetSelectionOwner(xc, win, clipboard, xproto.TimeCurrentTime)
			return nil
		}

		ev, err := xc.PollForEvent()
		if err != nil {
			return fmt.Errorf("incr poll: %w", err)
		}
		if ev == nil {
			time.Sleep(2 * time.Millisecond)
			continue
		}

		switch e := ev.(type) {
		case xproto.SelectionClearEvent:
			return nil
		case xproto.PropertyNotifyEvent:
			if e.Window != req.Requestor || e.Atom != property || e.State != xproto.PropertyDelete {
				continue
			}
			if offset >= len(bytes) {
				xproto.ChangeProperty(xc, xproto.PropModeReplace, req.Requestor, property, req.Target, 8, 0, nil)
				return nil
			}
			end := offset + incrChunkBytes
			if end > len(bytes) {
				end = len(bytes)
			}
			chunk := bytes[offset:end]
			offset = end
			xproto.ChangeProperty(xc, xproto.PropModeReplace, req.Requestor, property, req.Target, 8, uint32(len(chunk)), chunk)
		}
	}
}

func sendSelectionNotify(xc *xgb.Conn, req xproto.SelectionRequestEvent, property xproto.Atom) {
	ev := xproto.SelectionNotifyEvent{
		Time:      req.Time,
		Requestor: req.Requestor,
		Selection: req.Selection,
		Target:    req.Target,
		Property:  property,
	}
	xproto.SendEvent(xc, false, req.Requestor, xproto.EventMaskNoEvent, string(ev.Bytes()))
}

func targetAtomList(payloads map[xproto.Atom][]byte, targetsAtom, timestampAtom xproto.Atom) []xproto.Atom {
	atoms := make([]xproto.Atom, 0, len(payloads)+2)
	for a := range payloads {
		atoms = append(atoms, a)
	}
	atoms = append(atoms, targetsAtom, timestampAtom)
	sort.Slice(atoms, func(i, j int) bool { return atoms[i] < atoms[j] })
	return dedupeAtoms(atoms)
}

func dedupeAtoms(atoms []xproto.Atom) []xproto.Atom {
	out := atoms[:0]
	var prev xproto.Atom
	for i, a := range atoms {
		if i > 0 && a == prev {
			continue
		}
		out = append(out, a)
		prev = a
	}
	return out
}

func atomsToBytes(atoms []xproto.Atom) []byte {
	out := make([]byte, 0, len(atoms)*4)
	for _, a := range atoms {
		out = append(out, uint32ToBytes(uint32(a))...)
	}
	return out
}

func bytesToAtoms(b []byte) []xproto.Atom {
	out := make([]xproto.Atom, 0, len(b)/4)
	for i := 0; i+4 <= len(b); i += 4 {
		out = append(out, xproto.Atom(bytesToUint32(b[i:i+4])))
	}
	return out
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func bytesToUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
