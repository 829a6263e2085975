package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dasmlab/telephone/pkg/catalog"
	"github.com/dasmlab/telephone/pkg/config"
	"github.com/dasmlab/telephone/pkg/messages"
	"github.com/dasmlab/telephone/pkg/relay"
	"github.com/dasmlab/telephone/pkg/server"
	"github.com/dasmlab/telephone/pkg/service"
	"github.com/dasmlab/telephone/pkg/translate"
)

func main() {
	cmd := &cobra.Command{
		Use:   "telephone-server",
		Short: "Translation relay server",
		Long: `telephone-server plays the telephone game with machine translation.

It detects the language of a text, translates it through a shuffled chain
of languages and back, and streams every hop to WebSocket clients.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func run(cfg *config.Config) error {
	logger := newLogger(cfg.Log)

	logger.WithFields(logrus.Fields{
		"http_port":  cfg.Server.HTTPPort,
		"grpc_port":  cfg.Server.GRPCPort,
		"engine":     cfg.Engine.Type,
		"engine_url": cfg.Engine.URL,
		"detector":   cfg.Engine.Detector,
		"max_hops":   cfg.Relay.MaxHops,
		"log_level":  logger.GetLevel().String(),
	}).Info("Starting telephone server")

	engineType, err := translate.ParseEngineType(cfg.Engine.Type)
	if err != nil {
		return err
	}
	detectorType, err := translate.ParseDetectorType(cfg.Engine.Detector)
	if err != nil {
		return err
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	engine, err := translate.NewEngine(baseCtx, translate.Config{
		Engine:   engineType,
		Detector: detectorType,
		BaseURL:  cfg.Engine.URL,
		APIKey:   cfg.Engine.APIKey,
		Model:    cfg.Engine.Model,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create translation engine: %w", err)
	}
	defer func() {
		if err := translate.Close(engine); err != nil {
			logger.WithError(err).Warn("Closing translation engine failed")
		}
	}()

	guard := translate.NewGuard(engine, translate.GuardConfig{
		Name:            string(engineType),
		CallTimeout:     cfg.Engine.CallTimeout,
		RatePerSecond:   cfg.Engine.RatePerSecond,
		Burst:           cfg.Engine.Burst,
		BreakerFailures: cfg.Engine.BreakerFailures,
		BreakerTimeout:  cfg.Engine.BreakerTimeout,
	}, logger)

	// Verify the engine is reachable, but start anyway: it may come up later.
	healthCtx, cancelHealth := context.WithTimeout(baseCtx, 10*time.Second)
	logger.Info("Checking translation engine health...")
	if err := guard.CheckHealth(healthCtx); err != nil {
		logger.WithError(err).Warn("Translation engine health check failed, but continuing anyway")
	} else {
		logger.Info("Translation engine health check passed")
	}
	cancelHealth()

	cat := catalog.Default()
	if len(cfg.Relay.Blacklist) > 0 {
		blacklist := append(append([]string{}, catalog.DefaultBlacklist...), cfg.Relay.Blacklist...)
		cat = cat.WithBlacklist(blacklist)
	}
	cat = restrictToEngine(baseCtx, guard, cat, logger)
	msgs := messages.New(cfg.Relay.DefaultLanguage, logger)

	gate := relay.NewGate(guard, relay.GateConfig{
		Threshold: cfg.Relay.ConfidenceThreshold,
		Fallback:  cfg.Relay.DefaultLanguage,
		Catalog:   cat,
	}, logger)
	hops := relay.NewHopTranslator(guard, relay.HopConfig{
		MaxRetries: cfg.Relay.MaxRetries,
		RetryDelay: cfg.Relay.RetryDelay,
	}, logger)
	orchestrator := relay.NewOrchestrator(gate, hops, relay.Config{
		MaxHops:  cfg.Relay.MaxHops,
		Catalog:  cat,
		Messages: msgs,
	}, logger)

	registry := service.NewRegistry(logger)
	relays := service.NewRelayService(orchestrator, registry, service.Config{
		MaxInputLength:       cfg.Relay.MaxInputLength,
		SyncRequireDetection: cfg.Relay.SyncRequireDetection,
		Messages:             msgs,
	}, logger)
	processor := service.NewSessionProcessor(baseCtx, orchestrator, cfg.Sessions.RunTimeout, logger)
	sessions := service.NewSessionStore(logger)
	sessions.SetProcessor(processor)

	httpServer := server.NewHTTPServer(server.Deps{
		Relays:   relays,
		Registry: registry,
		Sessions: sessions,
		Health:   guard,
	}, server.Config{
		Port:           cfg.Server.HTTPPort,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)
	grpcServer := server.NewGRPCServer(guard, cfg.Server.GRPCPort, logger)

	go grpcServer.WatchHealth(baseCtx, cfg.Engine.HealthInterval)
	go cleanupLoop(baseCtx, cfg.Sessions, registry, sessions, logger)
	go metricsLoop(baseCtx, registry, relays, sessions, guard, logger)

	errChan := make(chan error, 2)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()
	go func() {
		if err := grpcServer.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-errChan:
		logger.WithError(runErr).Error("Server error")
	case sig := <-sigChan:
		logger.WithFields(logrus.Fields{
			"signal": sig.String(),
		}).Info("Received signal, shutting down gracefully...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	notified := registry.Broadcast(ctx, relay.NewErrorEvent(msgs.T("", messages.RelayUnavailable, nil)))
	logger.WithFields(logrus.Fields{
		"clients": notified,
	}).Info("Notified clients of shutdown")

	relays.Shutdown()
	processor.Shutdown()
	cancelBase()

	// Idle time of zero closes every remaining connection.
	registry.CleanupIdle(0)

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	grpcServer.Shutdown(ctx)

	logger.Info("Server stopped")
	return runErr
}

// restrictToEngine drops hop targets the engine does not serve. When the
// engine cannot list its languages the catalog is used as is.
func restrictToEngine(ctx context.Context, guard *translate.Guard, cat *catalog.Catalog, logger *logrus.Logger) *catalog.Catalog {
	codes, ok, err := guard.SupportedLanguages(ctx)
	if !ok {
		return cat
	}
	if err == nil && len(codes) == 0 {
		err = errors.New("engine reported no languages")
	}
	if err != nil {
		logger.WithError(err).Warn("Could not list engine languages, planning over the full catalog")
		return cat
	}
	restricted := cat.Restrict(codes)
	logger.WithFields(logrus.Fields{
		"engine_languages": len(codes),
		"catalog_size":     cat.Len(),
		"hop_targets":      len(restricted.Plan(nil)),
	}).Info("Restricted hop targets to engine languages")
	return restricted
}

// cleanupLoop drops idle connections and expired asynchronous sessions.
func cleanupLoop(ctx context.Context, cfg config.SessionsConfig, registry *service.Registry, sessions *service.SessionStore, logger *logrus.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	logger.WithFields(logrus.Fields{
		"cleanup_interval": cfg.CleanupInterval.String(),
		"idle_timeout":     cfg.IdleTimeout.String(),
		"session_ttl":      cfg.TTL.String(),
	}).Info("Started cleanup goroutine")

	for {
		select {
		case <-ticker.C:
			registry.CleanupIdle(cfg.IdleTimeout)
			sessions.CleanupOld(cfg.TTL)
		case <-ctx.Done():
			return
		}
	}
}

// metricsLoop logs a short summary every minute.
func metricsLoop(ctx context.Context, registry *service.Registry, relays *service.RelayService, sessions *service.SessionStore, guard *translate.Guard, logger *logrus.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logger.WithFields(logrus.Fields{
				"clients":         registry.Len(),
				"active_relays":   relays.Active(),
				"stored_sessions": sessions.Len(),
				"breaker_state":   guard.State().String(),
			}).Debug("Server metrics")
		case <-ctx.Done():
			return
		}
	}
}
