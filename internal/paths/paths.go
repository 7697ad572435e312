// Package paths resolves the on-disk locations multicliprelay nodes use:
// an ephemeral state directory (suppression records, lock files, the
// bridge rendezvous socket) and a persistent data directory (received
// files, the history sidecar).
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AppDirName is the directory name every derived path is rooted under.
const AppDirName = "multicliprelay"

// DefaultStateDir resolves the ephemeral state directory: prefer
// $XDG_RUNTIME_DIR/multicliprelay, else /tmp/multicliprelay-<euid>.
func DefaultStateDir() string {
	if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
		return filepath.Join(d, AppDirName)
	}
	return filepath.Join("/tmp", AppDirName+"-"+strconv.Itoa(os.Geteuid()))
}

// DefaultDataDir resolves the persistent data directory: prefer
// $XDG_DATA_HOME/multicliprelay, else $HOME/.local/share/multicliprelay,
// else /tmp/multicliprelay as a last resort.
func DefaultDataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, AppDirName)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local/share", AppDirName)
	}
	return filepath.Join("/tmp", AppDirName)
}

// ReceivedDir is the directory incoming file bundles are written under.
func ReceivedDir(dataDir string) string { return filepath.Join(dataDir, "received") }

// HistoryPath is the append-only history sidecar path, inside the
// received directory.
func HistoryPath(dataDir string) string { return filepath.Join(ReceivedDir(dataDir), "history.jsonl") }

// DeviceIDPath is where a node's generated device id is persisted.
func DeviceIDPath(stateDir string) string { return filepath.Join(stateDir, "device_id") }

// LockPath is the advisory lock file path for a (role, room, relay) tuple.
func LockPath(stateDir, role, room, relay string) string {
	name := fmt.Sprintf("%s_room=%s_relay=%s.lock", role, SafeForFilename(room), SafeForFilename(relay))
	return filepath.Join(stateDir, name)
}

// SafeForFilename replaces every byte outside [a-zA-Z0-9._-] with '_', the
// same rule the node uses to turn an arbitrary display name into a
// filesystem-safe path component.
func SafeForFilename(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// IsTarPayload reports whether a received item should be treated as a
// deterministic tar bundle, by declared MIME or by ".tar" name suffix.
func IsTarPayload(name, mime string) bool {
	const tarMIME = "application/x-tar"
	return mime == tarMIME || strings.HasSuffix(strings.ToLower(name), ".tar")
}

// First8 returns the first 8 bytes of s, or all of s if shorter.
func First8(s string) string {
	if len(s) >= 8 {
		return s[:8]
	}
	return s
}
