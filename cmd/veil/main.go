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

	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/api"
	"github.com/raaihank/pii-veil/internal/config"
	"github.com/raaihank/pii-veil/internal/logger"
	"github.com/raaihank/pii-veil/internal/obfuscation"
	"github.com/raaihank/pii-veil/internal/session"
)

var (
	version = api.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pii-veil %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *healthCheck {
		performHealthCheck(cfg.Server.Port)
		return
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting pii-veil",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	engine, err := obfuscation.NewEngine(obfuscation.Options{
		Categories: cfg.Engine.Categories,
		LeadWords:  cfg.Engine.LeadWords,
	}, log.WithComponent("obfuscation").Logger)
	if err != nil {
		log.Fatal("Failed to create obfuscation engine", zap.Error(err))
	}

	store, err := session.NewStore(cfg.Store, log.WithComponent("session").Logger)
	if err != nil {
		log.Fatal("Failed to create session store", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startStoreMaintenance(ctx, store, log)

	manager := session.NewManager(store, engine, cfg.Engine.CustomWords, log.WithComponent("session").Logger)

	server, err := api.New(cfg, log, engine, manager)
	if err != nil {
		log.Fatal("Failed to create API server", zap.Error(err))
	}

	watching := loader.Watch(func(updated *config.Config) {
		if err := server.ApplyEngineConfig(updated.Engine); err != nil {
			log.Error("Failed to apply reloaded configuration", zap.Error(err))
			return
		}
		log.Info("Configuration reloaded")
	}, func(err error) {
		log.Warn("Ignoring invalid configuration change", zap.Error(err))
	})
	if watching {
		log.Info("Watching configuration file for changes")
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
		}

		log.Info("Server shutdown complete")
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}
	return logger.New(loggerConfig)
}

// startStoreMaintenance expires old sessions for backends without native TTLs
func startStoreMaintenance(ctx context.Context, store session.Store, log *logger.Logger) {
	switch s := store.(type) {
	case *session.MemoryStore:
		s.StartCleanupRoutine(ctx, 10*time.Minute)
	case *session.PostgresStore:
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n, err := s.PurgeExpired(ctx)
					if err != nil {
						log.Warn("Failed to purge expired sessions", zap.Error(err))
						continue
					}
					if n > 0 {
						log.Info("Purged expired sessions", zap.Int64("count", n))
					}
				}
			}
		}()
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(port int) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
