package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"go.mcrelay.dev/multicliprelay/internal/apply"
	"go.mcrelay.dev/multicliprelay/internal/frame"
	"go.mcrelay.dev/multicliprelay/internal/lock"
	"go.mcrelay.dev/multicliprelay/internal/paths"
)

func newWlApplyCmd(ctx *rootCtx) *cobra.Command {
	var room, relayAddr, imageModeStr string

	cmd := &cobra.Command{
		Use:   "wl-apply",
		Short: "Write clipboard changes received from a relay room to the local Wayland clipboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			room, relayAddr = resolveRoomRelay(room, relayAddr, loadNodeConfig(ctx.stateDir))

			l, err := lock.Acquire(paths.LockPath(ctx.stateDir, "wl-apply", room, relayAddr))
			if err != nil {
				if errors.Is(err, lock.ErrAlreadyRunning) {
					slog.Info("wl-apply: another instance already owns this room+relay, exiting")
					return nil
				}
				return err
			}
			defer l.Release()

			cfg := loadNodeConfig(ctx.stateDir)
			imgMode, err := resolveImageMode(imageModeStr, cfg)
			if err != nil {
				return err
			}

			a := apply.New(apply.Options{
				StateDir:   ctx.stateDir,
				DataDir:    dataDirFor(),
				Room:       room,
				Relay:      relayAddr,
				DeviceID:   ctx.deviceID,
				DeviceName: cfg.DeviceName,
				ImageMode:  imgMode,
			})

			return apply.RunLoop(cmd.Context(), a, func(dialCtx context.Context) (*frame.Conn, error) {
				return dial(dialCtx, relayAddr)
			})
		},
	}

	cmd.Flags().StringVar(&room, "room", "", "room to join; default: $MCR_ROOM or \"default\"")
	cmd.Flags().StringVar(&relayAddr, "relay", "", "relay address; default: $MCR_RELAY or 127.0.0.1:8080")
	cmd.Flags().StringVar(&imageModeStr, "image-mode", "", "force-png|multi|passthrough|spoof-png; default: $MCR_IMAGE_MODE or force-png")
	addLoggingFlags(cmd)
	return cmd
}
