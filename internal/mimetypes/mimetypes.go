// Package mimetypes centralizes the fixed MIME strings shared across the
// watch, apply, and bridge state machines — the file-list variants a
// clipboard producer might offer, the text targets, and the two local-only
// marker MIMEs used for loop prevention.
package mimetypes

const (
	// URIList is the canonical file-list MIME most clipboard producers use.
	URIList = "text/uri-list"
	// KDEURIList is the variant some KDE/Qt applications offer instead of
	// or alongside URIList.
	KDEURIList = "application/x-kde4-urilist"
	// GnomeCopiedFiles is the GNOME Files variant; its payload is prefixed
	// with a "copy\n" or "cut\n" action line before the URI list proper.
	GnomeCopiedFiles = "x-special/gnome-copied-files"

	TextPlainUTF8 = "text/plain;charset=utf-8"
	TextPlain     = "text/plain"
	UTF8String    = "UTF8_STRING"
	XString       = "STRING"

	PNG  = "image/png"
	JPEG = "image/jpeg"
	WebP = "image/webp"
	GIF  = "image/gif"

	// AppliedMarker's presence on the local clipboard means the apply
	// state machine wrote it; watch ignores the clipboard while this is
	// present, which breaks same-machine echo loops.
	AppliedMarker = "application/x-multicliprelay-applied"

	// OriginMarker is carried by the X11<->Wayland bridge only: its
	// payload ("from=wl" or "from=x11") tells the opposite direction the
	// current selection already originated from across the bridge.
	OriginMarker = "application/x-multicliprelay-origin"
)

// FileListMIMEs is the priority order watch/apply use to look for a
// file selection: canonical uri-list, then the KDE and GNOME variants.
var FileListMIMEs = []string{URIList, KDEURIList, GnomeCopiedFiles}

// ImageMIMEsPreferPNG is the priority order used outside multi-mime mode:
// PNG first, then the other supported formats.
var ImageMIMEsPreferPNG = []string{PNG, JPEG, WebP, GIF}

// ImageMIMEsPreferNonPNG is the priority order multi-mime mode uses: any
// non-PNG source first (so receivers see the original format), PNG last.
var ImageMIMEsPreferNonPNG = []string{JPEG, WebP, GIF, PNG}

// TextMIMEs is the priority order watch/apply look for plain text in.
var TextMIMEs = []string{TextPlainUTF8, TextPlain}
