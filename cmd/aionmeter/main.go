// aionmeter - AION damage meter
//
// aionmeter captures the game client's TCP traffic, reassembles and
// decodes damage frames, attributes them to players and serves live
// combat statistics over REST, websocket and MQTT.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aionmeter/aionmeter/internal/config"
	"github.com/aionmeter/aionmeter/internal/telemetry"
	"github.com/aionmeter/aionmeter/internal/util"
)

const Banner = `
     _    ___ ___  _   _ __  __ _____ _____ _____ ____
    / \  |_ _/ _ \| \ | |  \/  | ____|_   _| ____|  _ \
   / _ \  | | | | |  \| | |\/| |  _|   | | |  _| | |_) |
  / ___ \ | | |_| | |\  | |  | | |___  | | | |___|  _ <
 /_/   \_\___\___/|_| \_|_|  |_|_____| |_| |_____|_| \_\
                                                  v%s
 AION DPS Meter
`

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   "aionmeter",
		Short: "AION damage meter",
		Long: `aionmeter decodes AION client traffic into per-player damage statistics.

Without a subcommand it runs the meter using config/config.json.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMeter(configDir, false)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", config.DefaultConfigDir, "configuration directory")

	rootCmd.AddCommand(
		runCmd(&configDir),
		replayCmd(&configDir),
		decodeCmd(),
		setupCmd(&configDir),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// bootstrap prints the banner, loads and validates configuration and
// initializes logging from it.
func bootstrap(configDir string) (*config.Config, error) {
	fmt.Printf(Banner, telemetry.AppVersion)
	fmt.Println()

	// Defaults first so config loading itself is logged.
	if err := util.InitLogger(util.LogConfig{Level: "info", Console: true}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logging := cfg.GetLogging()
	if err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		Console:    logging.Console,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	log.Info().
		Str("version", telemetry.AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("config", cfg.Path()).
		Msg("starting aionmeter")

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return nil, fmt.Errorf("configuration validation failed, run 'aionmeter setup' or fix the errors above")
	}

	return cfg, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aionmeter %s (%s, %s/%s)\n", telemetry.AppVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
