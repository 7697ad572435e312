package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.mcrelay.dev/multicliprelay/internal/clipboard"
	"go.mcrelay.dev/multicliprelay/internal/deviceid"
	"go.mcrelay.dev/multicliprelay/internal/imagemode"
	"go.mcrelay.dev/multicliprelay/internal/message"
	"go.mcrelay.dev/multicliprelay/internal/nodeconfig"
	"go.mcrelay.dev/multicliprelay/internal/paths"
	"go.mcrelay.dev/multicliprelay/internal/watch"
)

// runWatchHook is the hidden entry point wl-paste --watch invokes: this
// same binary, re-exec'd once per clipboard change, with the env vars
// below set by the supervising "mcr wl-watch" process instead of CLI
// flags, since wl-paste --watch can only run one fixed command line.
//
// wl-paste --watch pipes the new selection's bytes (for the one MIME
// this child subscribed to) on stdin and exits; it does not poll, so
// this is purely reactive.
func runWatchHook() error {
	candidate := os.Getenv("MCR_WATCH_CANDIDATE_MIME")
	if candidate == "" {
		return fmt.Errorf("MCR_WATCH_CANDIDATE_MIME not set")
	}

	stateDir := envOr("MCR_STATE_DIR", paths.DefaultStateDir())
	deviceID, err := deviceid.Load(stateDir, envOr("MCR_DEVICE_ID", ""))
	if err != nil {
		return fmt.Errorf("hook: device id: %w", err)
	}
	room := envOr("MCR_ROOM", "default")
	relayAddr := envOr("MCR_RELAY", "127.0.0.1:8080")

	cfg, _ := nodeconfig.Load(stateDir + "/config.yaml")
	mode, err := resolveImageMode(envOr("MCR_IMAGE_MODE", ""), cfg)
	if err != nil {
		return fmt.Errorf("hook: %w", err)
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("hook: read stdin: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	types, err := clipboard.ListTypes(ctx)
	if err != nil {
		// The selection may already have moved on by the time this hook
		// runs; nothing publishable is worth an error exit here.
		return nil
	}

	conn, err := dial(ctx, relayAddr)
	if err != nil {
		return fmt.Errorf("hook: dial relay: %w", err)
	}
	defer conn.Close()
	if err := conn.WriteMsg(message.NewJoin(deviceID, room)); err != nil {
		return fmt.Errorf("hook: send join: %w", err)
	}

	w := watch.New(watch.Options{
		StateDir:      stateDir,
		DataDir:       dataDirFor(),
		Room:          room,
		Relay:         relayAddr,
		DeviceID:      deviceID,
		DeviceName:    cfg.DeviceName,
		ImageMode:     mode,
		MaxTextBytes:  int(envOrInt64("MCR_MAX_TEXT_BYTES", 0)),
		MaxImageBytes: int(envOrInt64("MCR_MAX_IMAGE_BYTES", 0)),
		MaxFileBytes:  int(envOrInt64("MCR_MAX_FILE_BYTES", 0)),
	}, conn)

	return w.PublishCandidate(ctx, candidate, data, types)
}
