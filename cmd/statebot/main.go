package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/statebot/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "statebot",
		Short:        "State and role aware chat bot",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or "+config.DefaultConfigPath+")")
	root.AddCommand(
		newServeCommand(&configPath),
		newCheckConfigCommand(&configPath),
		newHashPasswordCommand(),
		newTokenCommand(&configPath),
	)
	return root
}

// resolveConfigPath prefers the flag, then CONFIG_PATH.
func resolveConfigPath(flagValue string) string {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		return path
	}
	return config.DefaultConfigPath
}
