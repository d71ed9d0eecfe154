package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shurlinet/agentswarm/internal/validate"
	"github.com/shurlinet/agentswarm/pkg/overlay"
)

// checkConfigFilePermissions returns an error, rejecting the load, if a
// config file has overly permissive permissions (any group/world bits).
// Config files can carry admin dial
// addresses and workspace topology.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %s has overly permissive mode %04o; expected 0600 — fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// rawDiscovery mirrors DiscoveryConfig but with AnnounceInterval as a
// string, since yaml.v3 does not unmarshal duration literals directly.
type rawDiscovery struct {
	Network          string `yaml:"network,omitempty"`
	MDNSEnabled      *bool  `yaml:"mdns_enabled,omitempty"`
	AnnounceInterval string `yaml:"announce_interval,omitempty"`
}

func (r rawDiscovery) resolve() (DiscoveryConfig, error) {
	d := DiscoveryConfig{Network: r.Network, MDNSEnabled: r.MDNSEnabled}
	if r.AnnounceInterval != "" {
		interval, err := time.ParseDuration(r.AnnounceInterval)
		if err != nil {
			return DiscoveryConfig{}, fmt.Errorf("invalid announce_interval: %w", err)
		}
		d.AnnounceInterval = interval
	}
	return d, nil
}

// LoadAdminConfig loads admin agent configuration from a YAML file.
func LoadAdminConfig(path string) (*AdminConfig, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw struct {
		Version     int             `yaml:"version,omitempty"`
		Name        string          `yaml:"name"`
		WorkspaceID string          `yaml:"workspace_id"`
		Identity    IdentityConfig  `yaml:"identity,omitempty"`
		Network     NetworkConfig   `yaml:"network"`
		Discovery   rawDiscovery    `yaml:"discovery,omitempty"`
		Topic       string          `yaml:"topic,omitempty"`
		Telemetry   TelemetryConfig `yaml:"telemetry,omitempty"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	version := raw.Version
	if version == 0 {
		version = 1
	}
	if version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade agentswarm", ErrConfigVersionTooNew, version, CurrentConfigVersion)
	}

	discovery, err := raw.Discovery.resolve()
	if err != nil {
		return nil, err
	}

	return &AdminConfig{
		Version:     version,
		Name:        raw.Name,
		WorkspaceID: raw.WorkspaceID,
		Identity:    raw.Identity,
		Network:     raw.Network,
		Discovery:   discovery,
		Topic:       raw.Topic,
		Telemetry:   raw.Telemetry,
	}, nil
}

// LoadWorkerConfig loads worker agent configuration from a YAML file.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw struct {
		Version     int             `yaml:"version,omitempty"`
		Name        string          `yaml:"name"`
		WorkspaceID string          `yaml:"workspace_id"`
		AdminAddr   string          `yaml:"admin_addr"`
		Identity    IdentityConfig  `yaml:"identity,omitempty"`
		Network     NetworkConfig   `yaml:"network"`
		Discovery   rawDiscovery    `yaml:"discovery,omitempty"`
		Topic       string          `yaml:"topic,omitempty"`
		Telemetry   TelemetryConfig `yaml:"telemetry,omitempty"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	version := raw.Version
	if version == 0 {
		version = 1
	}
	if version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade agentswarm", ErrConfigVersionTooNew, version, CurrentConfigVersion)
	}

	discovery, err := raw.Discovery.resolve()
	if err != nil {
		return nil, err
	}

	return &WorkerConfig{
		Version:     version,
		Name:        raw.Name,
		WorkspaceID: raw.WorkspaceID,
		AdminAddr:   raw.AdminAddr,
		Identity:    raw.Identity,
		Network:     raw.Network,
		Discovery:   discovery,
		Topic:       raw.Topic,
		Telemetry:   raw.Telemetry,
	}, nil
}

// LoadWorkspaceConfig loads a combined admin+workers workspace file for the
// single-process embedding path.
func LoadWorkspaceConfig(path string) (*WorkspaceConfig, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw struct {
		Version int `yaml:"version,omitempty"`
		Admin   struct {
			Name        string          `yaml:"name"`
			WorkspaceID string          `yaml:"workspace_id"`
			Identity    IdentityConfig  `yaml:"identity,omitempty"`
			Network     NetworkConfig   `yaml:"network"`
			Discovery   rawDiscovery    `yaml:"discovery,omitempty"`
			Topic       string          `yaml:"topic,omitempty"`
			Telemetry   TelemetryConfig `yaml:"telemetry,omitempty"`
		} `yaml:"admin"`
		Workers []struct {
			Name        string          `yaml:"name"`
			WorkspaceID string          `yaml:"workspace_id"`
			Identity    IdentityConfig  `yaml:"identity,omitempty"`
			Network     NetworkConfig   `yaml:"network"`
			Discovery   rawDiscovery    `yaml:"discovery,omitempty"`
			Topic       string          `yaml:"topic,omitempty"`
			Telemetry   TelemetryConfig `yaml:"telemetry,omitempty"`
		} `yaml:"workers,omitempty"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	version := raw.Version
	if version == 0 {
		version = 1
	}
	if version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade agentswarm", ErrConfigVersionTooNew, version, CurrentConfigVersion)
	}

	adminDiscovery, err := raw.Admin.Discovery.resolve()
	if err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}

	cfg := &WorkspaceConfig{
		Version: version,
		Admin: AdminConfig{
			Version:     version,
			Name:        raw.Admin.Name,
			WorkspaceID: raw.Admin.WorkspaceID,
			Identity:    raw.Admin.Identity,
			Network:     raw.Admin.Network,
			Discovery:   adminDiscovery,
			Topic:       raw.Admin.Topic,
			Telemetry:   raw.Admin.Telemetry,
		},
	}

	for i, w := range raw.Workers {
		workerDiscovery, err := w.Discovery.resolve()
		if err != nil {
			return nil, fmt.Errorf("workers[%d]: %w", i, err)
		}
		cfg.Workers = append(cfg.Workers, WorkerConfig{
			Version:     version,
			Name:        w.Name,
			WorkspaceID: w.WorkspaceID,
			Identity:    w.Identity,
			Network:     w.Network,
			Discovery:   workerDiscovery,
			Topic:       w.Topic,
			Telemetry:   w.Telemetry,
		})
	}

	return cfg, nil
}

// ValidateAdminConfig validates admin agent configuration.
func ValidateAdminConfig(cfg *AdminConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := validate.WorkspaceID(cfg.WorkspaceID); err != nil {
		return fmt.Errorf("workspace_id: %w", err)
	}
	if cfg.Topic != "" {
		if err := validate.Topic(cfg.Topic); err != nil {
			return fmt.Errorf("topic: %w", err)
		}
	}
	return nil
}

// ValidateWorkerConfig validates worker agent configuration.
func ValidateWorkerConfig(cfg *WorkerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := validate.WorkspaceID(cfg.WorkspaceID); err != nil {
		return fmt.Errorf("workspace_id: %w", err)
	}
	if cfg.AdminAddr == "" {
		return fmt.Errorf("admin_addr is required")
	}
	if cfg.Topic != "" {
		if err := validate.Topic(cfg.Topic); err != nil {
			return fmt.Errorf("topic: %w", err)
		}
	}
	return nil
}

// ValidateWorkspaceConfig validates a combined workspace file.
func ValidateWorkspaceConfig(cfg *WorkspaceConfig) error {
	if err := ValidateAdminConfig(&cfg.Admin); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	for i := range cfg.Workers {
		w := &cfg.Workers[i]
		if w.WorkspaceID == "" {
			w.WorkspaceID = cfg.Admin.WorkspaceID
		}
		if w.Name == "" {
			return fmt.Errorf("workers[%d]: name is required", i)
		}
		if err := validate.WorkspaceID(w.WorkspaceID); err != nil {
			return fmt.Errorf("workers[%d]: workspace_id: %w", i, err)
		}
		if w.Topic != "" {
			if err := validate.Topic(w.Topic); err != nil {
				return fmt.Errorf("workers[%d]: topic: %w", i, err)
			}
		}
	}
	return nil
}

// FindConfigFile searches for an agentswarm config file in standard
// locations. Search order: explicitPath (if given), ./agentswarm.yaml,
// ~/.config/agentswarm/config.yaml, /etc/agentswarm/config.yaml
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{"agentswarm.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "agentswarm", "config.yaml"))
	}
	searchPaths = append(searchPaths, filepath.Join("/etc", "agentswarm", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w; searched:\n  %s\n\nuse --config <path>", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// Topic resolves a config's topic string to an overlay.Topic, falling back
// to overlay.DefaultTopic when unset.
func Topic(name string) overlay.Topic {
	if name == "" {
		return overlay.DefaultTopic
	}
	return overlay.Topic(name)
}
