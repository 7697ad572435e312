package main

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"go.mcrelay.dev/multicliprelay/internal/relay"
)

func newRelayCmd() *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the room-scoped broadcast relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			if bind == "" {
				bind = envOr("RELAY_ADDR", "127.0.0.1:8080")
			}

			ln, err := net.Listen("tcp", bind)
			if err != nil {
				return fmt.Errorf("relay: listen %s: %w", bind, err)
			}
			slog.Info("relay: listening", "addr", ln.Addr())

			srv := relay.NewServer()
			return srv.Serve(cmd.Context(), ln)
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "address to listen on; default: $RELAY_ADDR or 127.0.0.1:8080")
	addLoggingFlags(cmd)
	return cmd
}
