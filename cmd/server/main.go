package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yegors/ads-bby/internal/api"
	"github.com/yegors/ads-bby/internal/config"
	"github.com/yegors/ads-bby/internal/enrichment"
	"github.com/yegors/ads-bby/internal/opensky"
	"github.com/yegors/ads-bby/internal/sbs"
	"github.com/yegors/ads-bby/internal/tracker"
	"github.com/yegors/ads-bby/internal/typedb"
	"github.com/yegors/ads-bby/internal/websocket"
	"github.com/yegors/ads-bby/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting ADS-BBY server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Aircraft type database (optional)
	var types sbs.TypeResolver
	if cfg.TypeDB.Enabled {
		types = typedb.NewClient(
			cfg.TypeDB.BaseURL,
			time.Duration(cfg.TypeDB.TimeoutSecs)*time.Second,
			log,
		)
	}

	// Fusion store: the local feed switches remote snapshot handling from
	// full-replace to incremental merge
	store := tracker.NewStore(
		time.Duration(cfg.ADSB.ExpirySecs)*time.Second,
		cfg.SBS.Enabled,
		log,
	)

	// Remote feed poller
	remote := opensky.NewClient(
		cfg.ADSB.SourceURL,
		time.Duration(cfg.ADSB.TimeoutSecs)*time.Second,
		cfg.Station.Latitude,
		cfg.Station.Longitude,
		cfg.ADSB.RadiusKM,
		log,
	)

	trackerSvc := tracker.NewService(
		store,
		remote,
		time.Duration(cfg.ADSB.FetchIntervalSecs)*time.Second,
		time.Duration(cfg.ADSB.FetchBackoffSecs)*time.Second,
		log,
	)

	// Flight plan enrichment (requires an API key)
	var scheduler *enrichment.Scheduler
	if cfg.Enrichment.APIKey != "" {
		enrichClient, err := enrichment.NewClient(enrichment.Config{
			BaseURL:    cfg.Enrichment.SourceURL,
			APIKey:     cfg.Enrichment.APIKey,
			Timeout:    time.Duration(cfg.Enrichment.TimeoutSecs) * time.Second,
			QuietStart: cfg.Enrichment.QuietStart,
			QuietEnd:   cfg.Enrichment.QuietEnd,
			Timezone:   cfg.Enrichment.Timezone,
		}, store, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating enrichment client: %v\n", err)
			os.Exit(1)
		}
		scheduler = enrichment.NewScheduler(store, enrichClient, cfg.Enrichment.MaxRequestsPerMinute, log)
		trackerSvc.SetEnricher(scheduler)
	} else {
		log.Info("Enrichment disabled (no API key configured)")
	}

	// Local feed ingestor (optional)
	var ingestor *sbs.Ingestor
	if cfg.SBS.Enabled {
		ingestor = sbs.NewIngestor(sbs.Config{
			Host:              cfg.SBS.Host,
			Port:              cfg.SBS.Port,
			ReadTimeout:       time.Duration(cfg.SBS.ReadTimeoutSecs) * time.Second,
			ReconnectInterval: time.Duration(cfg.SBS.ReconnectIntervalSecs) * time.Second,
			Expiry:            time.Duration(cfg.SBS.ExpirySecs) * time.Second,
			CallbackInterval:  time.Duration(cfg.SBS.CallbackIntervalSecs * float64(time.Second)),
		}, types, trackerSvc.IngestLocal, log)
	}

	// WebSocket hub: an observer that streams every table change
	wsServer := websocket.NewServer(trackerSvc.Snapshot, log)
	trackerSvc.AddObserver(wsServer)
	go wsServer.Run(ctx)

	// HTTP API
	var stats api.EnrichmentStats
	if scheduler != nil {
		stats = scheduler
	}
	handler := api.NewHandler(trackerSvc, stats, wsServer, log)
	router := api.NewRouter(handler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	// Start the I/O loops
	if err := trackerSvc.Start(ctx); err != nil {
		log.Error("Failed to start tracking service", logger.Error(err))
		os.Exit(1)
	}
	if scheduler != nil {
		if err := scheduler.Start(ctx); err != nil {
			log.Error("Failed to start enrichment scheduler", logger.Error(err))
			os.Exit(1)
		}
	}
	if ingestor != nil {
		if err := ingestor.Start(ctx); err != nil {
			log.Error("Failed to start BaseStation ingestor", logger.Error(err))
			os.Exit(1)
		}
	}

	go func() {
		log.Info("HTTP server listening", logger.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Shutting down", logger.String("signal", sig.String()))

	// Stop accepting HTTP traffic first, then wind down the workers
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown error", logger.Error(err))
	}

	if ingestor != nil {
		ingestor.Stop()
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	trackerSvc.Stop()
	cancel()

	log.Info("Shutdown complete")
}
