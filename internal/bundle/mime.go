// Package bundle implements the file-transfer engine: MIME sniffing for
// single-file sends, uri-list parsing/building, and deterministic tar
// bundling/extraction for multi-file and folder selections.
package bundle

import (
	"net/http"
	"path/filepath"
	"strings"
)

// textExtensions are treated as text/plain when content-sniffing falls
// back to a generic type, matching the node's extension-based hint list.
var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".rs":   true,
	".toml": true,
	".json": true,
	".yaml": true,
	".yml":  true,
}

// DetectFileMIME sniffs data's content type and falls back to an
// extension-based hint when the sniff only recognized a generic type
// (no distinctive magic bytes), then application/octet-stream.
func DetectFileMIME(data []byte, name string) string {
	sniffed := http.DetectContentType(data)
	base, _, _ := strings.Cut(sniffed, ";")
	if base != "application/octet-stream" && base != "text/plain" {
		return sniffed
	}
	ext := strings.ToLower(filepath.Ext(name))
	if textExtensions[ext] {
		return "text/plain;charset=utf-8"
	}
	if base == "text/plain" {
		return sniffed
	}
	return "application/octet-stream"
}
