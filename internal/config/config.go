package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ServerConfig holds all aggregator server configuration.
type ServerConfig struct {
	// HTTP
	ListenAddr string

	// Aggregation timing
	NodeTimeout     time.Duration
	CleanupInterval time.Duration
	RecentWindow    time.Duration

	// Local Docker event stream (in addition to agent-pushed events, for
	// single-host deployments where the server sits next to a daemon)
	LocalEvents bool
	DockerHost  string

	// Alerting
	AlertEvalInterval time.Duration

	// WhatsApp notifications (disabled when WahaURL or NotifyPhone empty)
	WahaURL     string
	WahaAPIKey  string
	WahaSession string
	NotifyPhone string

	// Logging
	LogLevel string
	LogJSON  bool
}

// LoadServerFromEnv loads server configuration from environment variables.
func LoadServerFromEnv() (*ServerConfig, error) {
	cfg := &ServerConfig{
		ListenAddr: getEnvOrDefault("LISTEN_ADDR", ":3001"),

		NodeTimeout:     getEnvDuration("NODE_TIMEOUT", 30*time.Second),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 10*time.Second),
		RecentWindow:    getEnvDuration("EVENT_RECENT_WINDOW", 30*time.Second),

		LocalEvents: getEnvBool("LOCAL_DOCKER_EVENTS", false),
		DockerHost:  getEnvOrDefault("DOCKER_HOST", "unix:///var/run/docker.sock"),

		AlertEvalInterval: getEnvDuration("ALERT_EVAL_INTERVAL", 30*time.Second),

		WahaURL:     os.Getenv("WAHA_URL"),
		WahaAPIKey:  os.Getenv("WAHA_API_KEY"),
		WahaSession: getEnvOrDefault("WAHA_SESSION", "default"),
		NotifyPhone: os.Getenv("NOTIFY_PHONE"),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", true),
	}

	if cfg.NodeTimeout <= 0 {
		return nil, fmt.Errorf("NODE_TIMEOUT must be positive")
	}
	if cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}

	return cfg, nil
}

// AgentConfig holds all node agent configuration.
type AgentConfig struct {
	// Server connection
	ServerURL string

	// Node identity. Defaults to the hostname.
	NodeID string

	// Docker connection
	DockerHost string

	// TLS towards the server
	InsecureSkipVerify bool

	// Collection timing
	PollInterval time.Duration
	EventWindow  time.Duration

	// Reconnection (exponential backoff)
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// Logging
	LogLevel string
	LogJSON  bool
}

// LoadAgentFromEnv loads agent configuration from environment variables.
func LoadAgentFromEnv() (*AgentConfig, error) {
	cfg := &AgentConfig{
		ServerURL: os.Getenv("SERVER_URL"),
		NodeID:    os.Getenv("NODE_ID"),

		DockerHost: getEnvOrDefault("DOCKER_HOST", "unix:///var/run/docker.sock"),

		InsecureSkipVerify: getEnvBool("INSECURE_SKIP_VERIFY", false),

		PollInterval: getEnvDuration("POLL_INTERVAL", 5*time.Second),
		EventWindow:  getEnvDuration("EVENT_WINDOW", 5*time.Second),

		ReconnectInitial: getEnvDuration("RECONNECT_INITIAL", 1*time.Second),
		ReconnectMax:     getEnvDuration("RECONNECT_MAX", 60*time.Second),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", true),
	}

	if cfg.NodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("NODE_ID not set and hostname unavailable: %w", err)
		}
		cfg.NodeID = hostname
	}

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("SERVER_URL is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}

	return cfg, nil
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns environment variable as boolean
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns environment variable as duration
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
