// Package history appends a best-effort JSON-lines sidecar recording every
// message the node sends or applies, for optional external display; a
// write failure here never interrupts the send/apply path it is called
// from.
package history

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"go.mcrelay.dev/multicliprelay/internal/message"
)

// Event is one line of history.jsonl.
type Event struct {
	TSMillis         int64  `json:"ts_ms"`
	Dir              string `json:"dir"` // "send" or "recv"
	Room             string `json:"room"`
	Relay            string `json:"relay"`
	LocalDeviceID    string `json:"local_device_id"`
	LocalDeviceName  string `json:"local_device_name,omitempty"`
	RemoteDeviceID   string `json:"remote_device_id,omitempty"`
	RemoteDeviceName string `json:"remote_device_name,omitempty"`
	Kind             string `json:"kind"`
	MIME             string `json:"mime,omitempty"`
	Name             string `json:"name,omitempty"`
	Bytes            int    `json:"bytes"`
	SHA256           string `json:"sha256,omitempty"`
}

// Recorder appends Events to a single history.jsonl file.
type Recorder struct {
	path string
}

// New returns a Recorder writing to path (typically
// paths.HistoryPath(dataDir)).
func New(path string) *Recorder {
	return &Recorder{path: path}
}

func (r *Recorder) append(ev Event) {
	if r == nil || r.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		slog.Debug("history: mkdir failed", "err", err)
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		slog.Debug("history: marshal failed", "err", err)
		return
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Debug("history: open failed", "err", err)
		return
	}
	defer f.Close()
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		slog.Debug("history: write failed", "err", err)
	}
}

// RecordSend appends a "send" event for a message this node published.
func (r *Recorder) RecordSend(localDeviceID, localDeviceName, room, relay string, kind message.Kind, mime, name string, bytes int, sha256 string) {
	r.append(Event{
		TSMillis:        int64(message.NowMillis()),
		Dir:             "send",
		Room:            room,
		Relay:           relay,
		LocalDeviceID:   localDeviceID,
		LocalDeviceName: localDeviceName,
		Kind:            kind.String(),
		MIME:            mime,
		Name:            name,
		Bytes:           bytes,
		SHA256:          sha256,
	})
}

// RecordRecv appends a "recv" event for a message this node applied.
func (r *Recorder) RecordRecv(localDeviceID, localDeviceName, room, relay string, msg *message.Message) {
	r.append(Event{
		TSMillis:         int64(message.NowMillis()),
		Dir:              "recv",
		Room:             room,
		Relay:            relay,
		LocalDeviceID:    localDeviceID,
		LocalDeviceName:  localDeviceName,
		RemoteDeviceID:   msg.DeviceID,
		RemoteDeviceName: msg.SenderName,
		Kind:             msg.Kind.String(),
		MIME:             msg.MIME,
		Name:             msg.Name,
		Bytes:            len(msg.Payload),
		SHA256:           msg.SHA256,
	})
}
