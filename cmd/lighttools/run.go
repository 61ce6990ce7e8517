package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/lighttools/internal/app"
	"github.com/dokzlo13/lighttools/internal/config"
)

func runCommand() *cobra.Command {
	var (
		configPath string
		resetState bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controllers until interrupted",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath, resetState)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&resetState, "reset-state", false, "Clear persisted device and variable state on startup")
	return cmd
}

func run(configPath string, resetState bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)
	log.Info().Str("config", configPath).Msg("Starting lighttools")

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if resetState {
		log.Info().Msg("Clearing persisted state (--reset-state)")
		if err := application.ClearState(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear persisted state")
		}
	}

	if err := application.Run(app.SignalContext()); err != nil {
		return fmt.Errorf("application stopped with error: %w", err)
	}
	return nil
}
