package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/internal/client"
	"github.com/bergpinheiro/dashdocker/internal/collector"
	"github.com/bergpinheiro/dashdocker/internal/config"
	"github.com/bergpinheiro/dashdocker/internal/docker"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.LoadAgentFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := setupLogging(cfg.LogLevel, cfg.LogJSON)
	log.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"node_id": cfg.NodeID,
	}).Info("DashDocker agent starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	dockerClient, err := docker.NewClient(cfg.DockerHost, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Docker client")
	}
	defer dockerClient.Close()

	if err := dockerClient.Ping(ctx); err != nil {
		log.WithError(err).Fatal("Docker daemon unreachable")
	}
	log.Info("Connected to Docker daemon")

	client.Version = version
	wsClient := client.NewWebSocketClient(cfg, log)

	go func() {
		if err := wsClient.Run(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Error("WebSocket client stopped with error")
			cancel()
		}
	}()

	coll := collector.New(log, dockerClient, wsClient, cfg.NodeID, cfg.PollInterval, cfg.EventWindow)
	go coll.Run(ctx)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	log.Info("Shutting down gracefully...")
	cancel()
	wsClient.Stop()
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
