package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aionmeter/aionmeter/internal/capture"
	"github.com/aionmeter/aionmeter/internal/cli"
	"github.com/aionmeter/aionmeter/internal/gamedata"
	"github.com/aionmeter/aionmeter/internal/pipeline"
	"github.com/aionmeter/aionmeter/internal/telemetry"
)

func replayCmd(configDir *string) *cobra.Command {
	var (
		realtime bool
		speed    float64
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Decode a recorded capture offline and print the damage table",
		Long: `Replay a recorded session through the full pipeline.

Text recordings (TIMESTAMP|STREAMKEY|HEX per line, optionally .zst
compressed) and pcap files (.pcap, .pcapng) are accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap(*configDir)
			if err != nil {
				return err
			}

			tables, err := gamedata.Load(cfg.GetGameData().Directory)
			if err != nil {
				return fmt.Errorf("failed to load reference tables: %w", err)
			}

			file := args[0]
			var source capture.Source
			switch strings.ToLower(filepath.Ext(file)) {
			case ".pcap", ".pcapng":
				capCfg := cfg.GetCapture()
				source = capture.NewPcapSource(capture.PcapConfig{
					File:               file,
					BPF:                capCfg.BPF,
					AutoDetectPort:     capCfg.AutoDetectPort,
					DetectionThreshold: capCfg.DetectionThreshold,
					GamePort:           uint16(capCfg.GamePort),
				})
			default:
				source = capture.NewReplaySource(capture.ReplayConfig{
					File:     file,
					Realtime: realtime,
					Speed:    speed,
				})
			}

			svc, err := pipeline.NewService(pipeline.Options{
				Source:      source,
				GameData:    tables,
				Protocol:    cfg.GetProtocol(),
				Combat:      cfg.GetCombat(),
				QueueSize:   cfg.GetCapture().QueueSize,
				BlockOnFull: true,
				Metrics:     telemetry.NewMetrics(),
			})
			if err != nil {
				return fmt.Errorf("failed to create pipeline: %w", err)
			}

			start := time.Now()
			if err := svc.Start(cmd.Context()); err != nil {
				return fmt.Errorf("failed to start replay: %w", err)
			}
			if err := svc.Wait(); err != nil {
				return fmt.Errorf("replay failed: %w", err)
			}
			log.Info().Dur("took", time.Since(start)).Str("file", file).Msg("replay finished")

			manager := svc.Manager()
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"summary":  manager.Summary(),
					"players":  manager.PlayerStats(),
					"pipeline": svc.Stats(),
				})
			}

			fmt.Println()
			cli.RenderSummary(os.Stdout, manager.Summary())
			cli.RenderPlayers(os.Stdout, manager.PlayerStats())
			fmt.Println()
			cli.RenderStats(os.Stdout, svc.Stats())
			return nil
		},
	}

	cmd.Flags().BoolVar(&realtime, "realtime", false, "honour recorded timestamps between packets")
	cmd.Flags().Float64Var(&speed, "speed", 1, "playback speed multiplier for --realtime")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}
