package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/internal/aggregator"
	"github.com/bergpinheiro/dashdocker/internal/alerts"
	"github.com/bergpinheiro/dashdocker/internal/config"
	"github.com/bergpinheiro/dashdocker/internal/docker"
	"github.com/bergpinheiro/dashdocker/internal/events"
	"github.com/bergpinheiro/dashdocker/internal/notifier"
	"github.com/bergpinheiro/dashdocker/internal/server"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.LoadServerFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := setupLogging(cfg.LogLevel, cfg.LogJSON)
	log.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"addr":    cfg.ListenAddr,
	}).Info("DashDocker server starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	store := aggregator.NewStore(log, aggregator.Options{
		NodeTimeout:     cfg.NodeTimeout,
		CleanupInterval: cfg.CleanupInterval,
		RecentWindow:    cfg.RecentWindow,
	})

	waha := notifier.NewWaha(log, cfg.WahaURL, cfg.WahaAPIKey, cfg.WahaSession, cfg.NotifyPhone)
	if waha.Enabled() {
		log.WithField("url", cfg.WahaURL).Info("WhatsApp notifications enabled")
	} else {
		log.Info("WhatsApp notifications disabled (WAHA_URL or NOTIFY_PHONE not set)")
	}

	sink := notifier.WithRetry(waha)
	engine := alerts.NewEngine(log, store, sink, cfg.AlertEvalInterval)
	monitor := events.NewMonitor(log, sink)

	srv := server.New(log, cfg.ListenAddr, store, engine, monitor, waha)

	// The monitor consumes one merged feed: events pushed by agents, plus
	// an optional stream from a daemon reachable by the server itself.
	merged := make(chan aggregator.TaggedEvent, 256)
	go func() {
		for ev := range srv.Events() {
			merged <- ev
		}
	}()

	var streamErrs <-chan error
	if cfg.LocalEvents {
		dockerClient, err := docker.NewClient(cfg.DockerHost, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to create Docker client for local events")
		}
		defer dockerClient.Close()

		localNode, err := os.Hostname()
		if err != nil {
			localNode = "server"
		}

		evCh, errCh := dockerClient.WatchEvents(ctx)
		streamErrs = errCh
		go func() {
			for ev := range evCh {
				merged <- aggregator.TaggedEvent{RuntimeEvent: ev, NodeID: localNode}
			}
		}()
		log.WithField("host", cfg.DockerHost).Info("Watching local Docker events")
	}

	go store.Run(ctx)
	go engine.Run(ctx)
	go monitor.Run(ctx, merged, streamErrs)

	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	log.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Shutdown did not complete cleanly")
	}
}

// setupLogging configures the logger based on config
func setupLogging(level string, jsonFormat bool) *logrus.Logger {
	log := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if jsonFormat {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return log
}
