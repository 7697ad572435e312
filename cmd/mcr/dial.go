package main

import (
	"context"
	"fmt"
	"net"
	"path/filepath"

	"go.mcrelay.dev/multicliprelay/internal/frame"
	"go.mcrelay.dev/multicliprelay/internal/nodeconfig"
)

func baseName(p string) string { return filepath.Base(p) }

// dial opens a TCP connection to relay and wraps it for framed Message
// exchange. It does not send the Join frame; callers do that themselves
// so one-shot senders and long-running watchers can sequence it
// differently.
func dial(ctx context.Context, relayAddr string) (*frame.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", relayAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", relayAddr, err)
	}
	return frame.New(conn), nil
}

// resolveRoomRelay applies flag > env > config-file > compiled-in-default
// precedence for the two values every subcommand needs to join a room.
func resolveRoomRelay(roomFlag, relayFlag string, cfg nodeconfig.Config) (room, relayAddr string) {
	room = roomFlag
	if room == "" {
		room = envOr("MCR_ROOM", cfg.Room)
	}
	if room == "" {
		room = "default"
	}
	relayAddr = relayFlag
	if relayAddr == "" {
		relayAddr = envOr("MCR_RELAY", cfg.Relay)
	}
	if relayAddr == "" {
		relayAddr = "127.0.0.1:8080"
	}
	return room, relayAddr
}

// resolveSizeCap applies the same precedence for a size-cap flag,
// falling back to fallback (0 meaning "let the callee apply its own
// built-in default") when none of flag/env/config set it.
func resolveSizeCap(flagVal int64, envKey string, cfgVal int64, fallback int64) int64 {
	if flagVal > 0 {
		return flagVal
	}
	if v := envOrInt64(envKey, 0); v > 0 {
		return v
	}
	if cfgVal > 0 {
		return cfgVal
	}
	return fallback
}
