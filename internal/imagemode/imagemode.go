// Package imagemode defines the --image-mode enumeration and the
// image decode/re-encode helpers the watch and apply state machines
// use to normalize image payloads to PNG.
package imagemode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"

	"go.mcrelay.dev/multicliprelay/internal/mimetypes"
)

// Mode selects how watch publishes and apply writes image content.
type Mode int

const (
	// ForcePng decodes any image and re-encodes it as PNG before
	// publishing or writing; a decode failure falls back to the
	// original bytes/MIME.
	ForcePng Mode = iota
	// Passthrough forwards the original bytes and MIME unchanged.
	Passthrough
	// MultiMime prefers the original (non-PNG) MIME on the wire and, on
	// apply, also writes a PNG fallback target alongside it.
	MultiMime
	// SpoofPng declares image/png while serving the original bytes —
	// risky: some paste targets will fail to decode the result because
	// the bytes are not actually PNG-encoded.
	SpoofPng
)

// ErrInvalidMode is returned by Parse for an unrecognized mode string.
var ErrInvalidMode = errors.New("imagemode: invalid --image-mode")

// Parse converts a --image-mode flag value into a Mode.
func Parse(s string) (Mode, error) {
	switch s {
	case "passthrough":
		return Passthrough, nil
	case "force-png":
		return ForcePng, nil
	case "multi", "multi-mime":
		return MultiMime, nil
	case "spoof-png", "fake-png":
		return SpoofPng, nil
	default:
		return 0, fmt.Errorf("%w: %q, expected force-png|multi|passthrough|spoof-png", ErrInvalidMode, s)
	}
}

// String renders m as its canonical --image-mode flag value.
func (m Mode) String() string {
	switch m {
	case Passthrough:
		return "passthrough"
	case ForcePng:
		return "force-png"
	case MultiMime:
		return "multi"
	case SpoofPng:
		return "spoof-png"
	default:
		return "passthrough"
	}
}

// DecodeToPNG decodes src (any of image/png, image/jpeg, image/webp,
// image/gif, image/bmp) and re-encodes it as PNG.
func DecodeToPNG(src []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return out.Bytes(), nil
}

func init() {
	// register the extra decoders image.Decode dispatches to by magic bytes.
	image.RegisterFormat("webp", "RIFF????WEBP", webp.Decode, webp.DecodeConfig)
	image.RegisterFormat("bmp", "BM", bmp.Decode, bmp.DecodeConfig)
	image.RegisterFormat("gif", "GIF8?a", gif.Decode, gif.DecodeConfig)
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
}

// ExtFor returns the conventional file extension for an image MIME, or
// "bin" if unrecognized, used when persisting a received image locally.
func ExtFor(mime string) string {
	switch mime {
	case mimetypes.PNG:
		return "png"
	case mimetypes.JPEG:
		return "jpg"
	case mimetypes.WebP:
		return "webp"
	case mimetypes.GIF:
		return "gif"
	default:
		return "bin"
	}
}
