// GridFlow Core - EcoFlow Cloud Bridge
//
// This is the main entry point for the GridFlow Core service. GridFlow
// bridges EcoFlow portable power stations into the local network:
//   - Signed REST polling for the full device field set
//   - Realtime MQTT push for low-latency partial updates
//   - A hybrid coordinator merging both into one canonical snapshot
//   - A local HTTP/WebSocket API for dashboards and automation
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gridflow-core/migrations"

	"github.com/nerrad567/gridflow-core/internal/api"
	"github.com/nerrad567/gridflow-core/internal/cloud/realtime"
	"github.com/nerrad567/gridflow-core/internal/cloud/rest"
	"github.com/nerrad567/gridflow-core/internal/coordinator"
	"github.com/nerrad567/gridflow-core/internal/device"
	"github.com/nerrad567/gridflow-core/internal/infrastructure/config"
	"github.com/nerrad567/gridflow-core/internal/infrastructure/database"
	"github.com/nerrad567/gridflow-core/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting GridFlow Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	deviceRegistry := device.NewRegistry(deviceRepo)
	deviceRegistry.SetLogger(log)

	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}

	// Create the signed REST channel
	restClient := rest.New(rest.Options{
		BaseURL:   cfg.Cloud.BaseURL,
		AccessKey: cfg.Cloud.AccessKey,
		SecretKey: cfg.Cloud.SecretKey,
		Timeout:   cfg.CloudTimeout(),
	}, log)
	log.Info("cloud client initialised", "base_url", cfg.Cloud.BaseURL)

	// Sync the device list from the cloud. A failure here is not fatal:
	// devices already in the local registry keep working.
	if syncErr := syncDevices(ctx, restClient, deviceRegistry); syncErr != nil {
		log.Warn("cloud device sync failed, continuing with local registry", "error", syncErr)
	}

	// One coordinator per enabled device
	fleet, err := startFleet(ctx, cfg, deviceRegistry, restClient, log)
	if err != nil {
		return fmt.Errorf("starting coordinators: %w", err)
	}
	defer func() {
		log.Info("stopping coordinators")
		fleet.StopAll()
	}()
	log.Info("coordinators started", "devices", fleet.Len())

	// Realtime push channel (optional)
	if cfg.Realtime.Enabled {
		rt := startRealtime(ctx, cfg, fleet, restClient, deviceRegistry, log)
		defer func() {
			log.Info("stopping realtime channel")
			rt.Stop()
		}()
		log.Info("realtime channel started", "devices", len(fleet.SerialNumbers()))
	} else {
		log.Info("realtime channel disabled")
	}

	// Local HTTP API
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Registry: deviceRegistry,
		Fleet:    fleet,
		Health: map[string]api.HealthChecker{
			"database": db,
		},
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Realtime channel (if enabled)
	// 3. Coordinators
	// 4. Database

	log.Info("GridFlow Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRIDFLOW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRIDFLOW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// syncDevices pulls the account's device list from the cloud and merges
// it into the local registry.
func syncDevices(ctx context.Context, client *rest.Client, registry *device.Registry) error {
	listCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	infos, err := client.Devices(listCtx)
	if err != nil {
		return fmt.Errorf("fetching device list: %w", err)
	}

	cloud := make([]device.CloudDevice, 0, len(infos))
	for _, info := range infos {
		cloud = append(cloud, device.CloudDevice{
			SN:          info.SN,
			Name:        info.Name,
			ProductName: info.ProductName,
			Online:      info.Online,
		})
	}
	return registry.Sync(ctx, cloud)
}

// startFleet creates and starts a coordinator for every enabled device.
//
// Parameters:
//   - ctx: Context for the poll loops
//   - cfg: Application configuration
//   - registry: Device registry
//   - client: Signed REST channel shared by all coordinators
//   - log: Logger instance
//
// Returns:
//   - *coordinator.Fleet: Running coordinators keyed by serial number
//   - error: If the enabled device list cannot be loaded
func startFleet(ctx context.Context, cfg *config.Config, registry *device.Registry, client *rest.Client, log *logging.Logger) (*coordinator.Fleet, error) {
	devices, err := registry.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing enabled devices: %w", err)
	}

	fleet := coordinator.NewFleet()
	for _, d := range devices {
		pollInterval := cfg.PollInterval()
		if d.PollInterval != nil {
			pollInterval = time.Duration(*d.PollInterval) * time.Second
		}

		c := coordinator.New(coordinator.Options{
			DeviceSN:        d.SN,
			PollInterval:    pollInterval,
			WakeEnabled:     cfg.Poll.Wake,
			RealtimeEnabled: cfg.Realtime.Enabled,
			FreshnessWindow: cfg.FreshnessWindow(),
			GracePeriod:     cfg.GracePeriod(),
		}, client, log)
		c.Start(ctx)
		fleet.Add(c)

		log.Info("coordinator started",
			"sn", d.SN,
			"name", d.Name,
			"poll_interval", pollInterval,
		)
	}
	return fleet, nil
}

// startRealtime creates and starts the push channel, fanning its events
// out to the coordinator fleet and the device registry.
func startRealtime(ctx context.Context, cfg *config.Config, fleet *coordinator.Fleet, client *rest.Client, registry *device.Registry, log *logging.Logger) *realtime.Transport {
	handlers := realtime.Handlers{
		OnUpdate: func(sn string, fields map[string]any) {
			if c, err := fleet.Get(sn); err == nil {
				c.HandleRealtimeUpdate(sn, fields)
			}
		},
		OnStatus: func(sn string, online bool) {
			if c, err := fleet.Get(sn); err == nil {
				c.HandleStatus(sn, online)
			}
			if err := registry.SetOnline(ctx, sn, online); err != nil {
				log.Warn("persisting device availability", "sn", sn, "error", err)
			}
		},
		OnStateChange: func(state realtime.State) {
			connected := state == realtime.StateConnected
			for _, sn := range fleet.SerialNumbers() {
				if c, err := fleet.Get(sn); err == nil {
					c.HandleChannelState(connected)
				}
			}
		},
	}

	rt := realtime.New(realtime.Options{
		DeviceSNs:      fleet.SerialNumbers(),
		Broker:         cfg.Realtime.Broker,
		Port:           cfg.Realtime.Port,
		InitialDelay:   cfg.InitialReconnectDelay(),
		MaxDelay:       cfg.MaxReconnectDelay(),
		ConnectTimeout: cfg.CloudTimeout(),
		StableWindow:   cfg.ReconnectStableWindow(),
	}, client, handlers, log)
	rt.Start(ctx)
	return rt
}
