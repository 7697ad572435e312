// mcr: cross-machine clipboard relay for Linux desktops.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.mcrelay.dev/multicliprelay/internal/deviceid"
	"go.mcrelay.dev/multicliprelay/internal/paths"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

// rootCtx holds the global --state-dir/--device-id values, resolved once
// in PersistentPreRunE and shared by every subcommand.
type rootCtx struct {
	stateDir string
	deviceID string
}

func main() {
	// wl-paste --watch can only run a single fixed command with no extra
	// arguments, so the hook subprocess identifies itself via an env var
	// rather than a subcommand name.
	if os.Getenv("MCR_WL_WATCH_HOOK") != "" && len(os.Args) <= 1 {
		if err := runWatchHook(); err != nil {
			fmt.Fprintln(os.Stderr, "mcr: hook:", err)
			os.Exit(1)
		}
		return
	}
	if os.Getenv("MCR_X11_SYNC_HOOK") != "" && len(os.Args) <= 1 {
		runX11SyncHook()
		return
	}

	root := &cobra.Command{
		Use:   "mcr",
		Short: "Cross-machine clipboard relay for Linux desktops",
		Long: `mcr synchronizes the system clipboard — text, images, files, and
folders — across machines in the same "room" over a plain TCP relay.

Run "mcr relay" on the machine acting as the hub, and on each desktop
run "mcr wl-watch" (publish local clipboard changes) and "mcr wl-apply"
(write incoming changes to the local clipboard). Add "mcr x11-sync" on
machines that also run X11 applications alongside Wayland ones.`,
		SilenceUsage: true,
	}

	var ctx rootCtx
	pf := root.PersistentFlags()
	pf.StringVar(&ctx.stateDir, "state-dir", "", "directory for local state (device id, suppress markers); default: $MCR_STATE_DIR or an XDG-derived path")
	pf.StringVar(&ctx.deviceID, "device-id", "", "override device id; default: $MCR_DEVICE_ID or a generated, persisted uuid")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if ctx.stateDir == "" {
			ctx.stateDir = envOr("MCR_STATE_DIR", paths.DefaultStateDir())
		}
		if err := os.MkdirAll(ctx.stateDir, 0o755); err != nil {
			return fmt.Errorf("create state dir %s: %w", ctx.stateDir, err)
		}
		if ctx.deviceID == "" {
			ctx.deviceID = envOr("MCR_DEVICE_ID", "")
		}
		id, err := deviceid.Load(ctx.stateDir, ctx.deviceID)
		if err != nil {
			return fmt.Errorf("device id: %w", err)
		}
		ctx.deviceID = id
		return nil
	}

	root.AddCommand(
		newRelayCmd(),
		newListenCmd(&ctx),
		newSendTextCmd(&ctx),
		newSendImageCmd(&ctx),
		newSendFileCmd(&ctx),
		newWlWatchCmd(&ctx),
		newWlApplyCmd(&ctx),
		newX11SyncCmd(&ctx),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("mcr %s\n", Version)
		},
	}
}
