package service

import (
	"strings"

	"github.com/bergpinheiro/dashdocker/internal/aggregator"
)

// SwarmServiceLabel is set by the engine on every task container of a
// swarm service.
const SwarmServiceLabel = "com.docker.swarm.service.name"

// FindContainers resolves a lookup term to containers across the cluster.
// Resolution order, first match set wins:
//
//  1. exact container ID
//  2. swarm service label
//  3. swarm task naming, "<service>.<slot>.<taskid>"
//  4. container name substring
//
// The tiers keep a service named "db" from accidentally matching a
// container named "redis-db-backup" when real swarm tasks exist.
func FindContainers(containers []aggregator.TaggedContainer, term string) []aggregator.TaggedContainer {
	if term == "" {
		return []aggregator.TaggedContainer{}
	}

	for _, c := range containers {
		if c.ID == term {
			return []aggregator.TaggedContainer{c}
		}
	}

	byLabel := make([]aggregator.TaggedContainer, 0)
	for _, c := range containers {
		if c.Labels[SwarmServiceLabel] == term {
			byLabel = append(byLabel, c)
		}
	}
	if len(byLabel) > 0 {
		return byLabel
	}

	byTaskName := make([]aggregator.TaggedContainer, 0)
	for _, c := range containers {
		if isSwarmTaskOf(c.Name, term) {
			byTaskName = append(byTaskName, c)
		}
	}
	if len(byTaskName) > 0 {
		return byTaskName
	}

	bySubstring := make([]aggregator.TaggedContainer, 0)
	for _, c := range containers {
		if strings.Contains(c.Name, term) {
			bySubstring = append(bySubstring, c)
		}
	}
	return bySubstring
}

// isSwarmTaskOf reports whether name follows the swarm task convention
// for the given service, e.g. "web.3.x8kdq0" for service "web".
func isSwarmTaskOf(name, svc string) bool {
	rest, ok := strings.CutPrefix(name, svc+".")
	if !ok {
		return false
	}
	parts := strings.Split(rest, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}
	for _, r := range parts[0] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
