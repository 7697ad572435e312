package main

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"go.mcrelay.dev/multicliprelay/internal/bridge"
)

func newX11SyncCmd(ctx *rootCtx) *cobra.Command {
	var maxTextBytes, maxImageBytes int64
	var pollIntervalMS int

	cmd := &cobra.Command{
		Use:   "x11-sync",
		Short: "Keep the X11 CLIPBOARD selection and the Wayland clipboard in sync on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			_ = pollIntervalMS // the X11 side is XFixes event-driven, not polled; kept for CLI compatibility

			go superviseX11SyncNotifier(cmd.Context(), ctx.stateDir)

			return bridge.Run(cmd.Context(), bridge.Opts{
				StateDir:      ctx.stateDir,
				MaxTextBytes:  int(maxTextBytes),
				MaxImageBytes: int(maxImageBytes),
			})
		},
	}

	cmd.Flags().IntVar(&pollIntervalMS, "x11-poll-interval-ms", 0, "unused: the X11 side reacts to XFixes selection-owner notifications rather than polling; kept for interface compatibility")
	cmd.Flags().Int64Var(&maxTextBytes, "max-text-bytes", 0, "default: 2 MiB")
	cmd.Flags().Int64Var(&maxImageBytes, "max-image-bytes", 0, "default: 32 MiB")
	addLoggingFlags(cmd)
	return cmd
}

// runX11SyncHook is the hidden entry point wl-paste --watch invokes for
// the Wayland->X11 direction: a short-lived re-exec can't hold X11
// selection ownership itself, so it only pokes the long-lived "mcr
// x11-sync" process over its rendezvous socket and exits.
func runX11SyncHook() {
	stateDir := envOr("MCR_STATE_DIR", "")
	if stateDir == "" {
		return
	}
	bridge.NotifyWaylandChanged(stateDir)
}

// superviseX11SyncNotifier keeps a single "wl-paste --watch <self>"
// child alive, started without --type, purely to learn "something
// changed" — the re-invoked hook ignores the piped clipboard bytes and
// only notifies the bridge's rendezvous socket.
func superviseX11SyncNotifier(ctx context.Context, stateDir string) {
	self, err := os.Executable()
	if err != nil {
		return
	}
	env := append(os.Environ(), "MCR_X11_SYNC_HOOK=1", "MCR_STATE_DIR="+stateDir)

	const restartBackoff = 2 * time.Second
	for ctx.Err() == nil {
		cmd := exec.CommandContext(ctx, "wl-paste", "--watch", self)
		cmd.Env = env
		cmd.Stderr = os.Stderr
		_ = cmd.Run()
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartBackoff):
		}
	}
}
