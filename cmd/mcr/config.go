package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"go.mcrelay.dev/multicliprelay/internal/imagemode"
	"go.mcrelay.dev/multicliprelay/internal/logging"
	"go.mcrelay.dev/multicliprelay/internal/nodeconfig"
	"go.mcrelay.dev/multicliprelay/internal/paths"
)

// envOr returns the environment variable's value, or fallback if unset
// or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// addLoggingFlags registers the standard logging flags shared by every
// long-running subcommand.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: colorized logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info, or debug when interactive)")
}

func setupLogging(cmd *cobra.Command) {
	noBackground, _ := cmd.Flags().GetBool("no-background")
	formatStr, _ := cmd.Flags().GetString("log-format")
	levelStr, _ := cmd.Flags().GetString("log-level")

	interactive := noBackground || logging.IsTTY(os.Stderr)
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}

// dataDirFor returns the data directory a node uses for received files
// and history, paths.DefaultDataDir(); it reads no config file.
func dataDirFor() string {
	return paths.DefaultDataDir()
}

// loadNodeConfig reads the optional YAML override file at
// <state-dir>/config.yaml. Its absence is not an error.
func loadNodeConfig(stateDir string) nodeconfig.Config {
	cfg, err := nodeconfig.Load(stateDir + "/config.yaml")
	if err != nil {
		slog.Warn("nodeconfig: failed to load override file", "err", err)
		return nodeconfig.Config{}
	}
	return cfg
}

// resolveImageMode parses flag/env/config image mode strings in that
// precedence order, defaulting to force-png.
func resolveImageMode(flagVal string, cfg nodeconfig.Config) (imagemode.Mode, error) {
	s := flagVal
	if s == "" {
		s = envOr("MCR_IMAGE_MODE", "")
	}
	if s == "" {
		s = cfg.ImageMode
	}
	if s == "" {
		s = "force-png"
	}
	mode, err := imagemode.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("--image-mode: %w", err)
	}
	return mode, nil
}
