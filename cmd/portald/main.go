package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gymassist-backend/lib/configutil"
	"gymassist-backend/lib/serviceutil"
	"gymassist-backend/lib/sqliteutil"
	"gymassist-backend/lib/telemetry"
	"gymassist-backend/services/keychain"
	keychaindb "gymassist-backend/services/keychain/db"
	"gymassist-backend/services/portal"
)

func main() {
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[PortalConfig]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}

	telemetry.InitSlog(config.Debug)
	if err := telemetry.SetupFromEnv(ctx, "portald"); err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer telemetry.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	keychainDb := config.KeychainDb
	if keychainDb == "" {
		keychainDb = "keychain.db"
	}
	sqlite, err := sqliteutil.OpenDB(keychaindb.Schema, keychainDb)
	if err != nil {
		serviceutil.Fatal("failed to open keychain db", err)
	}
	defer sqlite.Close()

	service := portal.NewService(keychain.NewService(sqlite), portal.Options{
		BaseUrl:         config.BaseUrl,
		Namespace:       config.Namespace,
		TrainerName:     config.TrainerName,
		TrainerId:       config.TrainerId,
		ValidateOnReuse: config.ValidateOnReuse,
	})

	go sweepDaemon(ctx, service, config.SweepIntervalMins)

	port := config.Port
	if port == 0 {
		port = 8121
	}
	mux := http.NewServeMux()
	registerRoutes(mux, service)
	serviceutil.StartHttpServer(port, mux)
}

func sweepDaemon(ctx context.Context, service *portal.Service, intervalMins int) {
	if intervalMins == 0 {
		intervalMins = 15
	}
	interval := time.Duration(intervalMins) * time.Minute
	slog.InfoContext(ctx, "start daemon", "task", "sweep stale portal sessions", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if dropped := service.Sweep(); dropped > 0 {
				slog.InfoContext(ctx, "swept stale sessions", "dropped", dropped)
			}
		case <-ctx.Done():
			return
		}
	}
}
