// SPDX-License-Identifier: MIT

// Package cmd is the command line of beatlight.
package cmd

import (
	"context"
	"fmt"
	"os"

	"beatlight/internal/config"
	"beatlight/internal/log"
	"beatlight/pkg/build"

	"github.com/spf13/cobra"
)

const appName = "beatlight"

// options holds the persistent flags shared by every command.
type options struct {
	ConfigPath string
	LogLevel   string
	TUIMode    bool
}

// loadConfig reads the configuration and applies the log level. The flag wins
// over the file; debug mode wins over both.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	levelStr := cfg.LogLevel
	if o.LogLevel != "" {
		levelStr = o.LogLevel
	}
	level, ok := log.ParseLevel(levelStr)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", levelStr)
	}
	if cfg.Debug {
		level = log.LevelDebug
	}
	log.SetLevel(level)
	return cfg, nil
}

// Execute parses os.Args and runs the selected command until it finishes or ctx
// is cancelled.
func Execute(ctx context.Context) error {
	buildInfo := build.Get()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         "Audio reactive lighting for entertainment bridges",
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}

	rootCmd.SetVersionTemplate(buildInfo.String() + "\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		"Path to the YAML config. Defaults to beatlight.yaml or config.yaml when present.")
	rootCmd.PersistentFlags().StringVarP(&opts.LogLevel, "log-level", "l", "",
		"Logging level (debug, info, warn, error). Overrides the config file.")
	rootCmd.PersistentFlags().BoolVarP(&opts.TUIMode, "tui", "t", false,
		"Use the terminal UI")

	runCmd := newRunCommand(opts)
	rootCmd.RunE = runCmd.RunE
	rootCmd.Flags().AddFlagSet(runCmd.Flags())

	rootCmd.AddCommand(
		runCmd,
		newDevicesCommand(opts),
		newDiscoverCommand(opts),
		newRegisterCommand(opts),
		newGroupsCommand(opts),
		newFlashCommand(opts),
	)

	rootCmd.SetArgs(os.Args[1:])
	return rootCmd.ExecuteContext(ctx)
}
