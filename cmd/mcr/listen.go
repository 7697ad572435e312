package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.mcrelay.dev/multicliprelay/internal/message"
)

func newListenCmd(ctx *rootCtx) *cobra.Command {
	var room, relayAddr string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to a relay room and print every received frame",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			room, relayAddr = resolveRoomRelay(room, relayAddr, loadNodeConfig(ctx.stateDir))

			conn, err := dial(cmd.Context(), relayAddr)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.WriteMsg(message.NewJoin(ctx.deviceID, room)); err != nil {
				return fmt.Errorf("listen: send join: %w", err)
			}

			for {
				m, err := conn.ReadMsg()
				if err != nil {
					return fmt.Errorf("listen: read: %w", err)
				}
				fmt.Printf("%s kind=%s device=%s mime=%q name=%q size=%d sha=%s\n",
					m.Room, m.Kind, m.DeviceID, m.MIME, m.Name, m.Size, m.SHA256)
			}
		},
	}

	cmd.Flags().StringVar(&room, "room", "", "room to join; default: $MCR_ROOM or \"default\"")
	cmd.Flags().StringVar(&relayAddr, "relay", "", "relay address; default: $MCR_RELAY or 127.0.0.1:8080")
	addLoggingFlags(cmd)
	return cmd
}
