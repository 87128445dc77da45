package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aionmeter/aionmeter/internal/api"
	"github.com/aionmeter/aionmeter/internal/capture"
	"github.com/aionmeter/aionmeter/internal/cli"
	"github.com/aionmeter/aionmeter/internal/config"
	"github.com/aionmeter/aionmeter/internal/db"
	"github.com/aionmeter/aionmeter/internal/events"
	"github.com/aionmeter/aionmeter/internal/gamedata"
	"github.com/aionmeter/aionmeter/internal/health"
	"github.com/aionmeter/aionmeter/internal/pipeline"
	"github.com/aionmeter/aionmeter/internal/scheduler"
	"github.com/aionmeter/aionmeter/internal/telemetry"
	"github.com/aionmeter/aionmeter/internal/util"
)

func runCmd(configDir *string) *cobra.Command {
	var console bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture traffic and serve live statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMeter(*configDir, console)
		},
	}
	cmd.Flags().BoolVar(&console, "console", false, "enable the interactive console on stdin")
	return cmd
}

// newSource builds the configured capture source.
func newSource(capCfg config.CaptureConfig, eventBus *events.EventBus) capture.Source {
	if capCfg.Source == config.SourceReplay {
		return capture.NewReplaySource(capture.ReplayConfig{
			File:     capCfg.ReplayFile,
			Realtime: capCfg.Realtime,
			Speed:    capCfg.Speed,
		})
	}

	src := capture.NewPcapSource(capture.PcapConfig{
		Device:             capCfg.Device,
		File:               capCfg.PcapFile,
		Snaplen:            capCfg.Snaplen,
		Promiscuous:        capCfg.Promiscuous,
		BPF:                capCfg.BPF,
		AutoDetectPort:     capCfg.AutoDetectPort,
		DetectionThreshold: capCfg.DetectionThreshold,
		GamePort:           uint16(capCfg.GamePort),
	})
	src.OnPortDetected = func(port uint16) {
		eventBus.Emit(context.Background(), events.Event{
			Type:    events.EventPortDetected,
			Source:  "pcap",
			Payload: events.PortDetectedPayload{Port: port},
		})
	}
	return src
}

func runMeter(configDir string, console bool) error {
	cfg, err := bootstrap(configDir)
	if err != nil {
		return err
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	tables, err := gamedata.Load(cfg.GetGameData().Directory)
	if err != nil {
		return fmt.Errorf("failed to load reference tables: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	metrics := telemetry.NewMetrics()
	capCfg := cfg.GetCapture()

	opts := pipeline.Options{
		Source:    newSource(capCfg, eventBus),
		GameData:  tables,
		Protocol:  cfg.GetProtocol(),
		Combat:    cfg.GetCombat(),
		QueueSize: capCfg.QueueSize,
		Bus:       eventBus,
		Metrics:   metrics,
	}

	var journal *db.DiagnosticsStore
	if diagCfg := cfg.GetDiagnostics(); diagCfg.Enabled {
		journal, err = db.NewDiagnosticsStore(diagCfg.DBPath, diagCfg.RetentionRows)
		if err != nil {
			return fmt.Errorf("failed to open diagnostics journal: %w", err)
		}
		defer journal.Close()
		opts.Journal = journal
	}

	if capCfg.RecordFile != "" {
		recorder, err := capture.NewRecorder(capCfg.RecordFile)
		if err != nil {
			return fmt.Errorf("failed to open record file: %w", err)
		}
		defer recorder.Close()
		opts.Recorder = recorder
		log.Info().Str("file", capCfg.RecordFile).Msg("recording captured payloads")
	}

	svc, err := pipeline.NewService(opts)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	shutdownCh := make(chan string, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(_ context.Context, event events.Event) error {
		reason := event.Source
		if p, ok := event.Payload.(events.ShutdownPayload); ok && p.Reason != "" {
			reason = p.Reason
		}
		select {
		case shutdownCh <- reason:
		default:
		}
		return nil
	})

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	healthOpts := health.Options{Pipeline: svc, Bus: eventBus, StallAfter: time.Minute}
	if journal != nil && cfg.GetDiagnostics().DBPath != db.MemoryPath {
		healthOpts.DiskPath = filepath.Dir(cfg.GetDiagnostics().DBPath)
	}
	monitor := health.NewManager(healthOpts)

	var wg sync.WaitGroup

	if cfg.GetAPI().Enabled {
		apiServer := api.NewServer(cfg, svc, metrics, eventBus)
		apiServer.SetHealth(monitor)
		if journal != nil {
			apiServer.SetDiagnostics(journal)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if cfg.GetMQTT().Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(cfg.GetMQTT(), eventBus, svc.Manager())
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				log.Info().Msg("starting MQTT telemetry")
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			}()
		}
	}

	sched := scheduler.NewScheduler()
	if journal != nil {
		interval := time.Duration(cfg.GetDiagnostics().PruneInterval) * time.Second
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		if err := sched.Add(scheduler.DiagnosticsPruneTask(journal, interval)); err != nil {
			log.Warn().Err(err).Msg("failed to schedule diagnostics prune")
		}
	}
	if err := sched.Add(scheduler.ProcessUsageTask(5 * time.Minute)); err != nil {
		log.Warn().Err(err).Msg("failed to schedule process usage sampling")
	}
	for _, task := range monitor.Tasks(30 * time.Second) {
		if err := sched.Add(task); err != nil {
			log.Warn().Err(err).Str("task", task.Name).Msg("failed to schedule health check")
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if console {
		repl := cli.NewCLI(svc, eventBus, cfg.GetCombat().LogLimit, os.Stdin, os.Stdout)
		go repl.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	reason := ""
	select {
	case sig := <-sigCh:
		reason = sig.String()
		log.Info().Str("signal", reason).Msg("received shutdown signal")
	case reason = <-shutdownCh:
		log.Info().Str("reason", reason).Msg("shutdown requested")
	}

	log.Info().Msg("initiating graceful shutdown...")

	if err := svc.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
		log.Warn().Err(err).Msg("pipeline stop failed")
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()

	final := svc.Manager().Summary()
	log.Info().
		Int64("total_damage", final.TotalDamage).
		Int("players", final.Players).
		Str("reason", reason).
		Msg("aionmeter stopped")
	return nil
}

// startWithRetry retries startFn on bind errors with a fixed 3 second pause.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
