package config

import (
	"time"
)

// CurrentConfigVersion is the latest configuration schema version. Bump
// this when adding fields that require migration.
const CurrentConfigVersion = 1

// AdminConfig is the configuration for the admin agent that anchors a
// workspace: it owns the rendezvous registry workers dial into.
type AdminConfig struct {
	Version     int             `yaml:"version,omitempty"`
	Name        string          `yaml:"name"`
	WorkspaceID string          `yaml:"workspace_id"`
	Identity    IdentityConfig  `yaml:"identity,omitempty"`
	Network     NetworkConfig   `yaml:"network"`
	Discovery   DiscoveryConfig `yaml:"discovery,omitempty"`
	Topic       string          `yaml:"topic,omitempty"`
	Telemetry   TelemetryConfig `yaml:"telemetry,omitempty"`
}

// WorkerConfig is the configuration for a member agent joining an
// existing admin's workspace.
type WorkerConfig struct {
	Version     int             `yaml:"version,omitempty"`
	Name        string          `yaml:"name"`
	WorkspaceID string          `yaml:"workspace_id"`
	AdminAddr   string          `yaml:"admin_addr"`
	Identity    IdentityConfig  `yaml:"identity,omitempty"`
	Network     NetworkConfig   `yaml:"network"`
	Discovery   DiscoveryConfig `yaml:"discovery,omitempty"`
	Topic       string          `yaml:"topic,omitempty"`
	Telemetry   TelemetryConfig `yaml:"telemetry,omitempty"`
}

// WorkspaceConfig describes an entire workspace for the single-process
// embedding path: one admin plus the workers it should spawn, so a caller
// can bring up a whole swarm from one file instead of one process per
// agent.
type WorkspaceConfig struct {
	Version int            `yaml:"version,omitempty"`
	Admin   AdminConfig    `yaml:"admin"`
	Workers []WorkerConfig `yaml:"workers,omitempty"`
}

// IdentityConfig holds identity-related configuration. AgentSwarm
// identities are generated fresh and held in memory; KeyFile is accepted
// for forward compatibility with a future persisted-identity mode but is
// not read by the current loader.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file,omitempty"`
}

// NetworkConfig holds transport and listener configuration.
type NetworkConfig struct {
	ListenAddresses       []string `yaml:"listen_addresses,omitempty"`
	Port                  int      `yaml:"port,omitempty"`
	ResourceLimitsEnabled bool     `yaml:"resource_limits_enabled,omitempty"`
}

// DiscoveryConfig holds peer-discovery configuration.
type DiscoveryConfig struct {
	// Network namespaces the mDNS DNS-SD service type so unrelated
	// workspaces on the same LAN don't see each other's peers over mDNS. The
	// rendezvous namespace is the workspace_id, not this field.
	Network          string        `yaml:"network,omitempty"`
	MDNSEnabled      *bool         `yaml:"mdns_enabled,omitempty"`
	AnnounceInterval time.Duration `yaml:"announce_interval,omitempty"`
}

// IsMDNSEnabled returns whether mDNS/DNS-SD local discovery is enabled.
// Defaults to true when not explicitly set in config.
func (d *DiscoveryConfig) IsMDNSEnabled() bool {
	if d.MDNSEnabled == nil {
		return true
	}
	return *d.MDNSEnabled
}

// TelemetryConfig holds observability settings. All features are disabled
// by default (opt-in).
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address,omitempty"` // default: "127.0.0.1:9091"
}
