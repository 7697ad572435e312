package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"go.mcrelay.dev/multicliprelay/internal/frame"
	"go.mcrelay.dev/multicliprelay/internal/imagemode"
	"go.mcrelay.dev/multicliprelay/internal/lock"
	"go.mcrelay.dev/multicliprelay/internal/message"
	"go.mcrelay.dev/multicliprelay/internal/mimetypes"
	"go.mcrelay.dev/multicliprelay/internal/paths"
	"go.mcrelay.dev/multicliprelay/internal/watch"
)

// watchCandidateMIMEs is the set of MIME types a supervised wl-paste
// --watch child can usefully subscribe to; watch.ChooseMIME picks among
// whichever of these the clipboard is actually offering at fire time.
var watchCandidateMIMEs = []string{
	mimetypes.URIList, mimetypes.KDEURIList, mimetypes.GnomeCopiedFiles,
	mimetypes.PNG, mimetypes.JPEG, mimetypes.WebP, mimetypes.GIF,
	mimetypes.TextPlainUTF8, mimetypes.TextPlain,
}

func newWlWatchCmd(ctx *rootCtx) *cobra.Command {
	var room, relayAddr, mode, imageModeStr string
	var intervalMS int
	var maxTextBytes, maxImageBytes, maxFileBytes int64

	cmd := &cobra.Command{
		Use:   "wl-watch",
		Short: "Publish local Wayland clipboard changes to a relay room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			cfg := loadNodeConfig(ctx.stateDir)
			room, relayAddr = resolveRoomRelay(room, relayAddr, cfg)

			l, err := lock.Acquire(paths.LockPath(ctx.stateDir, "wl-watch", room, relayAddr))
			if err != nil {
				if errors.Is(err, lock.ErrAlreadyRunning) {
					slog.Info("wl-watch: another instance already owns this room+relay, exiting")
					return nil
				}
				return err
			}
			defer l.Release()

			imgMode, err := resolveImageMode(imageModeStr, cfg)
			if err != nil {
				return err
			}

			maxTextBytes = resolveSizeCap(maxTextBytes, "MCR_MAX_TEXT_BYTES", cfg.MaxTextBytes, 0)
			maxImageBytes = resolveSizeCap(maxImageBytes, "MCR_MAX_IMAGE_BYTES", cfg.MaxImageBytes, 0)
			maxFileBytes = resolveSizeCap(maxFileBytes, "MCR_MAX_FILE_BYTES", cfg.MaxFileBytes, 0)

			rctx := cmd.Context()
			conn, err := dialAndJoin(rctx, relayAddr, ctx.deviceID, room)
			if err != nil {
				return err
			}
			defer conn.Close()

			w := watch.New(watch.Options{
				StateDir:      ctx.stateDir,
				DataDir:       dataDirFor(),
				Room:          room,
				Relay:         relayAddr,
				DeviceID:      ctx.deviceID,
				DeviceName:    cfg.DeviceName,
				ImageMode:     imgMode,
				MaxTextBytes:  int(maxTextBytes),
				MaxImageBytes: int(maxImageBytes),
				MaxFileBytes:  int(maxFileBytes),
			}, conn)

			switch mode {
			case "poll":
				interval := time.Duration(intervalMS) * time.Millisecond
				if interval <= 0 {
					interval = 500 * time.Millisecond
				}
				return w.RunPoll(rctx, interval)

			case "watch", "":
				return runSupervisedHooks(rctx, ctx, room, relayAddr, imgMode, maxTextBytes, maxImageBytes, maxFileBytes)

			default:
				return fmt.Errorf("wl-watch: --mode must be watch or poll, got %q", mode)
			}
		},
	}

	cmd.Flags().StringVar(&room, "room", "", "room to join; default: $MCR_ROOM or \"default\"")
	cmd.Flags().StringVar(&relayAddr, "relay", "", "relay address; default: $MCR_RELAY or 127.0.0.1:8080")
	cmd.Flags().StringVar(&mode, "mode", "watch", "watch|poll: react to wl-paste --watch events, or poll the clipboard on an interval")
	cmd.Flags().IntVar(&intervalMS, "interval-ms", 500, "poll interval in milliseconds (--mode=poll only)")
	cmd.Flags().Int64Var(&maxTextBytes, "max-text-bytes", 0, "default: $MCR_MAX_TEXT_BYTES or 1 MiB")
	cmd.Flags().Int64Var(&maxImageBytes, "max-image-bytes", 0, "default: $MCR_MAX_IMAGE_BYTES or 20 MiB")
	cmd.Flags().Int64Var(&maxFileBytes, "max-file-bytes", 0, "default: $MCR_MAX_FILE_BYTES or 20 MiB")
	cmd.Flags().StringVar(&imageModeStr, "image-mode", "", "force-png|multi|passthrough|spoof-png; default: $MCR_IMAGE_MODE or force-png")
	addLoggingFlags(cmd)
	return cmd
}

func dialAndJoin(ctx context.Context, relayAddr, deviceID, room string) (*frame.Conn, error) {
	conn, err := dial(ctx, relayAddr)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMsg(message.NewJoin(deviceID, room)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}
	return conn, nil
}

// runSupervisedHooks spawns one "wl-paste --watch <self>" child per
// candidate MIME and restarts any child that exits, since wl-paste
// --watch only fires its command for the single type it subscribed to
// and a short-lived re-exec per change can't hold any state itself —
// everything the hook needs travels through the environment.
func runSupervisedHooks(ctx context.Context, root *rootCtx, room, relayAddr string, imgMode imagemode.Mode, maxText, maxImage, maxFile int64) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("wl-watch: resolve self path: %w", err)
	}

	env := append(os.Environ(),
		"MCR_WL_WATCH_HOOK=1",
		"MCR_STATE_DIR="+root.stateDir,
		"MCR_DEVICE_ID="+root.deviceID,
		"MCR_ROOM="+room,
		"MCR_RELAY="+relayAddr,
		"MCR_IMAGE_MODE="+imgMode.String(),
		"MCR_MAX_TEXT_BYTES="+strconv.FormatInt(maxText, 10),
		"MCR_MAX_IMAGE_BYTES="+strconv.FormatInt(maxImage, 10),
		"MCR_MAX_FILE_BYTES="+strconv.FormatInt(maxFile, 10),
	)

	for _, mime := range watchCandidateMIMEs {
		go superviseHookChild(ctx, self, mime, env)
	}

	<-ctx.Done()
	return ctx.Err()
}

func superviseHookChild(ctx context.Context, self, candidateMIME string, baseEnv []string) {
	const restartBackoff = 2 * time.Second
	childEnv := append(append([]string{}, baseEnv...), "MCR_WATCH_CANDIDATE_MIME="+candidateMIME)

	for ctx.Err() == nil {
		cmd := exec.CommandContext(ctx, "wl-paste", "--type", candidateMIME, "--watch", self)
		cmd.Env = childEnv
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil && ctx.Err() == nil {
			slog.Warn("wl-watch: hook child exited, restarting", "mime", candidateMIME, "err", err)
		}
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
