package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/internal/stats"
	dashtypes "github.com/bergpinheiro/dashdocker/pkg/types"
)

// Client wraps the Docker client with the collection primitives the agent
// needs.
type Client struct {
	cli *client.Client
	log *logrus.Logger
}

// NewClient creates a Docker client for the given host. An empty host or
// the standard socket path uses the environment defaults.
func NewClient(dockerHost string, log *logrus.Logger) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if dockerHost != "" && dockerHost != "unix:///var/run/docker.sock" {
		opts = append(opts, client.WithHost(dockerHost))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Client{cli: cli, log: log}, nil
}

// Close closes the Docker client.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping verifies the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// ListContainers returns every container on the host, running or not,
// normalized to snapshots.
func (c *Client) ListContainers(ctx context.Context) ([]dashtypes.ContainerSnapshot, error) {
	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	now := time.Now()
	snapshots := make([]dashtypes.ContainerSnapshot, 0, len(containers))
	for _, ct := range containers {
		snapshots = append(snapshots, toSnapshot(ct, now))
	}
	return snapshots, nil
}

func toSnapshot(ct container.Summary, now time.Time) dashtypes.ContainerSnapshot {
	name := ""
	if len(ct.Names) > 0 {
		name = strings.TrimPrefix(ct.Names[0], "/")
	}

	// The list endpoint carries no start time, so creation is the only
	// anchor for a rendered uptime.
	uptime := ""
	if ct.State == "running" && ct.Created > 0 {
		uptime = stats.Uptime(time.Unix(ct.Created, 0), now)
	}

	ports := make([]dashtypes.PortMapping, 0, len(ct.Ports))
	for _, p := range ct.Ports {
		ports = append(ports, dashtypes.PortMapping{
			IP:          p.IP,
			PrivatePort: p.PrivatePort,
			PublicPort:  p.PublicPort,
			Type:        p.Type,
		})
	}

	return dashtypes.ContainerSnapshot{
		ID:      ct.ID,
		Name:    name,
		Image:   ct.Image,
		State:   ct.State,
		Status:  ct.Status,
		Health:  parseHealth(ct.Status),
		Created: ct.Created,
		Uptime:  uptime,
		Ports:   ports,
		Labels:  ct.Labels,
		Command: ct.Command,
	}
}

// parseHealth extracts the healthcheck verdict from the status string.
// The list endpoint does not expose health as a field, only as a suffix
// like "Up 5 minutes (healthy)".
func parseHealth(status string) string {
	switch {
	case strings.Contains(status, "(healthy)"):
		return "healthy"
	case strings.Contains(status, "(unhealthy)"):
		return "unhealthy"
	case strings.Contains(status, "(health: starting)"):
		return "starting"
	}
	return ""
}

// ContainerStats takes one non-streaming stats reading and normalizes it.
// The single reading carries the previous sample, so no local state is
// needed for rates.
func (c *Client) ContainerStats(ctx context.Context, containerID string) (dashtypes.ResourceStats, error) {
	resp, err := c.cli.ContainerStats(ctx, containerID, false)
	if err != nil {
		return dashtypes.ResourceStats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return dashtypes.ResourceStats{}, fmt.Errorf("failed to decode stats: %w", err)
	}

	return stats.Calculate(&raw), nil
}

// RecentEvents queries container events in the [since, until] window.
// The engine closes the stream once the bounded query is drained.
func (c *Client) RecentEvents(ctx context.Context, since, until time.Time) ([]dashtypes.RuntimeEvent, error) {
	f := filters.NewArgs(filters.Arg("type", "container"))

	eventCh, errCh := c.cli.Events(ctx, events.ListOptions{
		Since:   fmt.Sprintf("%d", since.Unix()),
		Until:   fmt.Sprintf("%d", until.Unix()),
		Filters: f,
	})

	collected := make([]dashtypes.RuntimeEvent, 0)
	for {
		select {
		case <-ctx.Done():
			return collected, ctx.Err()
		case err := <-errCh:
			// io.EOF marks the end of a bounded query.
			if err != nil && !errors.Is(err, io.EOF) {
				return collected, fmt.Errorf("event query failed: %w", err)
			}
			return collected, nil
		case msg := <-eventCh:
			collected = append(collected, toRuntimeEvent(msg))
		}
	}
}

// WatchEvents opens a live container event stream.
func (c *Client) WatchEvents(ctx context.Context) (<-chan dashtypes.RuntimeEvent, <-chan error) {
	f := filters.NewArgs(filters.Arg("type", "container"))
	eventCh, errCh := c.cli.Events(ctx, events.ListOptions{Filters: f})

	out := make(chan dashtypes.RuntimeEvent)
	go func() {
		defer close(out)
		for msg := range eventCh {
			select {
			case out <- toRuntimeEvent(msg):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

func toRuntimeEvent(msg events.Message) dashtypes.RuntimeEvent {
	return dashtypes.RuntimeEvent{
		Type:       string(msg.Type),
		Action:     string(msg.Action),
		ID:         msg.Actor.ID,
		From:       msg.From,
		Time:       msg.Time,
		TimeNano:   msg.TimeNano,
		Attributes: msg.Actor.Attributes,
	}
}
