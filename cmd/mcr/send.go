package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.mcrelay.dev/multicliprelay/internal/bundle"
	"go.mcrelay.dev/multicliprelay/internal/imagemode"
	"go.mcrelay.dev/multicliprelay/internal/message"
	"go.mcrelay.dev/multicliprelay/internal/mimetypes"
)

func newSendTextCmd(ctx *rootCtx) *cobra.Command {
	var room, relayAddr, text string

	cmd := &cobra.Command{
		Use:   "send-text",
		Short: "Send one text message to a relay room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			room, relayAddr = resolveRoomRelay(room, relayAddr, loadNodeConfig(ctx.stateDir))
			if text == "" {
				return fmt.Errorf("send-text: --text is required")
			}

			conn, err := dial(cmd.Context(), relayAddr)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.WriteMsg(message.NewJoin(ctx.deviceID, room)); err != nil {
				return fmt.Errorf("send-text: send join: %w", err)
			}
			if err := conn.WriteMsg(message.NewText(ctx.deviceID, room, text)); err != nil {
				return fmt.Errorf("send-text: send: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&room, "room", "", "room to join; default: $MCR_ROOM or \"default\"")
	cmd.Flags().StringVar(&relayAddr, "relay", "", "relay address; default: $MCR_RELAY or 127.0.0.1:8080")
	cmd.Flags().StringVar(&text, "text", "", "text to send (required)")
	addLoggingFlags(cmd)
	return cmd
}

func newSendImageCmd(ctx *rootCtx) *cobra.Command {
	var room, relayAddr, file, imageModeStr string
	var maxBytes int64

	cmd := &cobra.Command{
		Use:   "send-image",
		Short: "Send one image file to a relay room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			cfg := loadNodeConfig(ctx.stateDir)
			room, relayAddr = resolveRoomRelay(room, relayAddr, cfg)
			if file == "" {
				return fmt.Errorf("send-image: --file is required")
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("send-image: read %s: %w", file, err)
			}
			maxBytes = resolveSizeCap(maxBytes, "MCR_MAX_IMAGE_BYTES", cfg.MaxImageBytes, 0)
			if maxBytes > 0 && int64(len(data)) > maxBytes {
				return fmt.Errorf("send-image: %s is %d bytes, exceeds --max-bytes=%d", file, len(data), maxBytes)
			}

			mode, err := resolveImageMode(imageModeStr, cfg)
			if err != nil {
				return err
			}

			mime := bundle.DetectFileMIME(data, file)
			if mode == imagemode.ForcePng {
				if png, decErr := imagemode.DecodeToPNG(data); decErr == nil {
					mime, data = mimetypes.PNG, png
				}
			}

			conn, err := dial(cmd.Context(), relayAddr)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.WriteMsg(message.NewJoin(ctx.deviceID, room)); err != nil {
				return fmt.Errorf("send-image: send join: %w", err)
			}
			if err := conn.WriteMsg(message.NewImage(ctx.deviceID, room, mime, data)); err != nil {
				return fmt.Errorf("send-image: send: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&room, "room", "", "room to join; default: $MCR_ROOM or \"default\"")
	cmd.Flags().StringVar(&relayAddr, "relay", "", "relay address; default: $MCR_RELAY or 127.0.0.1:8080")
	cmd.Flags().StringVar(&file, "file", "", "image file to send (required)")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "reject the file if larger than this many bytes; default: $MCR_MAX_IMAGE_BYTES or unlimited")
	cmd.Flags().StringVar(&imageModeStr, "image-mode", "", "force-png|multi|passthrough|spoof-png; default: $MCR_IMAGE_MODE or force-png")
	addLoggingFlags(cmd)
	return cmd
}

func newSendFileCmd(ctx *rootCtx) *cobra.Command {
	var room, relayAddr, file string
	var maxFileBytes int64

	cmd := &cobra.Command{
		Use:   "send-file",
		Short: "Send one file to a relay room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			cfg := loadNodeConfig(ctx.stateDir)
			room, relayAddr = resolveRoomRelay(room, relayAddr, cfg)
			if file == "" {
				return fmt.Errorf("send-file: --file is required")
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("send-file: read %s: %w", file, err)
			}
			maxFileBytes = resolveSizeCap(maxFileBytes, "MCR_MAX_FILE_BYTES", cfg.MaxFileBytes, 0)
			if maxFileBytes > 0 && int64(len(data)) > maxFileBytes {
				return fmt.Errorf("send-file: %s is %d bytes, exceeds --max-file-bytes=%d", file, len(data), maxFileBytes)
			}

			name := baseName(file)
			mime := bundle.DetectFileMIME(data, name)

			conn, err := dial(cmd.Context(), relayAddr)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.WriteMsg(message.NewJoin(ctx.deviceID, room)); err != nil {
				return fmt.Errorf("send-file: send join: %w", err)
			}
			if err := conn.WriteMsg(message.NewFile(ctx.deviceID, room, name, mime, data)); err != nil {
				return fmt.Errorf("send-file: send: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&room, "room", "", "room to join; default: $MCR_ROOM or \"default\"")
	cmd.Flags().StringVar(&relayAddr, "relay", "", "relay address; default: $MCR_RELAY or 127.0.0.1:8080")
	cmd.Flags().StringVar(&file, "file", "", "file to send (required)")
	cmd.Flags().Int64Var(&maxFileBytes, "max-file-bytes", 0, "reject the file if larger than this many bytes; default: $MCR_MAX_FILE_BYTES or unlimited")
	addLoggingFlags(cmd)
	return cmd
}
