package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tinyland-inc/relayclaw/cmd/relayclaw/internal"
	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/channels"
	"github.com/tinyland-inc/relayclaw/pkg/cron"
	"github.com/tinyland-inc/relayclaw/pkg/health"
	"github.com/tinyland-inc/relayclaw/pkg/logger"
	"github.com/tinyland-inc/relayclaw/pkg/relay"
	"github.com/tinyland-inc/relayclaw/pkg/store"
	"github.com/tinyland-inc/relayclaw/pkg/telemetry"
)

func gatewayCmd(debug bool, configPath string) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}

	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	telemetry.Init()

	// Open the three durable tables. A corrupt snapshot halts here rather
	// than running on unknown state.
	dataDir := cfg.DataDir()
	botcfg, err := store.OpenConfigStore(dataDir, cfg.Relay.OwnerID)
	if err != nil {
		return fmt.Errorf("opening config store: %w", err)
	}
	mappings, err := store.OpenMappingRegistry(dataDir)
	if err != nil {
		return fmt.Errorf("opening mapping registry: %w", err)
	}
	tracker, err := store.OpenRequestTracker(dataDir)
	if err != nil {
		return fmt.Errorf("opening request tracker: %w", err)
	}
	fmt.Println("✓ Store opened at " + dataDir)

	// Startup sweep: requests orphaned by a crash resolve now, old
	// mappings go with them.
	relay.Cleanup(cfg.Relay, mappings, tracker)

	eventBus := bus.NewEventBus()
	channelManager, err := channels.NewManager(cfg, eventBus)
	if err != nil {
		return fmt.Errorf("error creating channel manager: %w", err)
	}

	service := relay.NewService(cfg.Relay, eventBus, channelManager, tracker, mappings, botcfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enabled := channelManager.EnabledChannels()
	if len(enabled) == 0 {
		fmt.Println("⚠ Warning: no channels enabled")
	}
	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("error starting channels: %w", err)
	}
	if len(enabled) > 0 {
		fmt.Printf("✓ Channels enabled: %v\n", enabled)
	}

	cronService := cron.NewService()
	err = cronService.Add(cron.Job{
		Name:     "cleanup",
		Schedule: cfg.Relay.CleanupSchedule,
		Run: func(context.Context) {
			relay.Cleanup(cfg.Relay, mappings, tracker)
		},
	})
	if err != nil {
		return err
	}
	go cronService.Start(ctx)
	fmt.Println("✓ Cleanup scheduled: " + cfg.Relay.CleanupSchedule)

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port, func() bool {
		for _, name := range enabled {
			if ch, ok := channelManager.Get(name); ok && !ch.IsRunning() {
				return false
			}
		}
		return true
	})
	go func() {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("health", "Health server error", map[string]any{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ Health and metrics at http://%s:%d/health /ready /metrics\n",
		cfg.Gateway.Host, cfg.Gateway.Port)

	go service.Run(ctx)
	fmt.Println("✓ Relay gateway running. Press Ctrl+C to stop")
	logger.InfoCF("gateway", "Gateway started", map[string]any{
		"channels": enabled,
		"prefix":   cfg.Relay.CommandPrefix,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	channelManager.StopAll(context.Background())
	eventBus.Close()
	service.Shutdown()
	_ = healthServer.Stop()
	return nil
}
