package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aionmeter/aionmeter/internal/config"
)

func setupCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactively write config/config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configDir)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
				return fmt.Errorf("setup wizard failed: %w", err)
			}
			fmt.Printf("Configuration saved to %s\n", cfg.Path())
			return nil
		},
	}
}
