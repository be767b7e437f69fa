// Package main provides the assistant server and its command line tools.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/assistant/internal/config"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assistant",
		Short:         "Conversational assistant with streaming turns and execution traces",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildTraceCmd(), buildChatCmd())
	return root
}

// loadConfig loads configuration, reading the YAML file at path when set.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		if err := os.Setenv("CONFIG_FILE", path); err != nil {
			return nil, err
		}
	}
	return config.Load()
}
