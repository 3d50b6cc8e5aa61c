package config

import (
	"fmt"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/go-containerregistry/pkg/name"
	coretypes "github.com/projecteru2/core/types"
)

// Config holds global Playpen configuration for both services.
type Config struct {
	// RootDir is the base directory for build contexts and scaffolding.
	// Env: PLAYPEN_ROOT_DIR. Default: /var/lib/playpen.
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// RunDir is the base directory for runtime state (instance index, locks).
	// Contents are ephemeral and reconciled against the container runtime.
	// Env: PLAYPEN_RUN_DIR. Default: /var/lib/playpen/run.
	RunDir string `json:"run_dir" mapstructure:"run_dir"`

	// FactoryAddr is the factory HTTP listen address. Default: :8000.
	FactoryAddr string `json:"factory_addr" mapstructure:"factory_addr"`
	// RegistryAddr is the registry HTTP listen address. Default: :8100.
	RegistryAddr string `json:"registry_addr" mapstructure:"registry_addr"`
	// RegistryURL is the registry base URL as reachable from inside a
	// spawned instance. Default: http://host.docker.internal:8100.
	RegistryURL string `json:"registry_url" mapstructure:"registry_url"`
	// PublicHost is the address instances advertise to the registry:
	// the host's address as reachable by game clients. Default: 127.0.0.1.
	PublicHost string `json:"public_host" mapstructure:"public_host"`

	// DockerBinary is the path or name of the docker CLI. Default: "docker".
	DockerBinary string `json:"docker_binary" mapstructure:"docker_binary"`
	// BaseImage is the scaffold runtime image. Must be a valid image
	// reference. Default: node:22-alpine.
	BaseImage string `json:"base_image" mapstructure:"base_image"`

	// PortRangeStart / PortRangeEnd bound the host port pool (inclusive).
	PortRangeStart int `json:"port_range_start" mapstructure:"port_range_start"`
	PortRangeEnd   int `json:"port_range_end" mapstructure:"port_range_end"`
	// MaxInstances caps concurrently non-terminal instances.
	MaxInstances int `json:"max_instances" mapstructure:"max_instances"`

	// CPULimit is the per-instance CPU ceiling in cores. Default: 0.5.
	CPULimit float64 `json:"cpu_limit" mapstructure:"cpu_limit"`
	// MemoryLimit is the per-instance memory ceiling as a human string
	// ("256m", "1G"). Default: 256m.
	MemoryLimit string `json:"memory_limit" mapstructure:"memory_limit"`

	// BuildTimeoutSeconds bounds image build + container start. Default: 120.
	BuildTimeoutSeconds int `json:"build_timeout_seconds" mapstructure:"build_timeout_seconds"`
	// StopTimeoutSeconds is the graceful-stop window before SIGKILL. Default: 10.
	StopTimeoutSeconds int `json:"stop_timeout_seconds" mapstructure:"stop_timeout_seconds"`

	// IdleTimeoutSeconds is how long an instance may sit at zero occupancy
	// before the idle manager stops it. Default: 900.
	IdleTimeoutSeconds int `json:"idle_timeout_seconds" mapstructure:"idle_timeout_seconds"`
	// IdleCheckSeconds is the idle manager sampling interval. Default: 60.
	IdleCheckSeconds int `json:"idle_check_seconds" mapstructure:"idle_check_seconds"`

	// HeartbeatIntervalSeconds is handed to spawned instances; must stay
	// below HeartbeatTimeoutSeconds. Default: 10.
	HeartbeatIntervalSeconds int `json:"heartbeat_interval_seconds" mapstructure:"heartbeat_interval_seconds"`
	// HeartbeatTimeoutSeconds is the registry staleness threshold. Default: 30.
	HeartbeatTimeoutSeconds int `json:"heartbeat_timeout_seconds" mapstructure:"heartbeat_timeout_seconds"`
	// EvictionIntervalSeconds is the registry sweep period. Default: 15.
	EvictionIntervalSeconds int `json:"eviction_interval_seconds" mapstructure:"eviction_interval_seconds"`

	// MaxArtifactBytes caps uploaded artifact size. Default: 1 MiB.
	MaxArtifactBytes int64 `json:"max_artifact_bytes" mapstructure:"max_artifact_bytes"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		RootDir:                  "/var/lib/playpen",
		RunDir:                   "/var/lib/playpen/run",
		FactoryAddr:              ":8000",
		RegistryAddr:             ":8100",
		RegistryURL:              "http://host.docker.internal:8100",
		PublicHost:               "127.0.0.1",
		DockerBinary:             "docker",
		BaseImage:                "node:22-alpine",
		PortRangeStart:           30000,
		PortRangeEnd:             30099,
		MaxInstances:             20,
		CPULimit:                 0.5,
		MemoryLimit:              "256m",
		BuildTimeoutSeconds:      120,
		StopTimeoutSeconds:       10,
		IdleTimeoutSeconds:       900,
		IdleCheckSeconds:         60,
		HeartbeatIntervalSeconds: 10,
		HeartbeatTimeoutSeconds:  30,
		EvictionIntervalSeconds:  15,
		MaxArtifactBytes:         1 << 20,
	}
}

// Validate checks cross-field constraints not expressible as defaults.
func (c *Config) Validate() error {
	if _, err := name.ParseReference(c.BaseImage); err != nil {
		return fmt.Errorf("invalid base_image %q: %w", c.BaseImage, err)
	}
	if c.PortRangeStart <= 0 || c.PortRangeEnd < c.PortRangeStart {
		return fmt.Errorf("invalid port range [%d, %d]", c.PortRangeStart, c.PortRangeEnd)
	}
	if c.MaxInstances <= 0 {
		return fmt.Errorf("max_instances must be positive, got %d", c.MaxInstances)
	}
	if _, err := c.MemoryLimitBytes(); err != nil {
		return err
	}
	if c.HeartbeatIntervalSeconds >= c.HeartbeatTimeoutSeconds {
		return fmt.Errorf("heartbeat interval %ds must be below timeout %ds",
			c.HeartbeatIntervalSeconds, c.HeartbeatTimeoutSeconds)
	}
	return nil
}

// MemoryLimitBytes parses MemoryLimit into bytes.
func (c *Config) MemoryLimitBytes() (int64, error) {
	b, err := units.RAMInBytes(c.MemoryLimit)
	if err != nil {
		return 0, fmt.Errorf("invalid memory_limit %q: %w", c.MemoryLimit, err)
	}
	return b, nil
}

// BuildTimeout returns the image build + start deadline.
func (c *Config) BuildTimeout() time.Duration {
	return time.Duration(c.BuildTimeoutSeconds) * time.Second
}

// StopTimeout returns the graceful-stop window.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// IdleTimeout returns the zero-occupancy reclamation threshold.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// IdleCheckInterval returns the idle manager sampling period.
func (c *Config) IdleCheckInterval() time.Duration {
	return time.Duration(c.IdleCheckSeconds) * time.Second
}

// HeartbeatTimeout returns the registry staleness threshold.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

// EvictionInterval returns the registry sweep period.
func (c *Config) EvictionInterval() time.Duration {
	return time.Duration(c.EvictionIntervalSeconds) * time.Second
}

// IndexFile returns the instance index store path.
func (c *Config) IndexFile() string { return filepath.Join(c.dbDir(), "instances.json") }

// IndexLock returns the instance index lock path.
func (c *Config) IndexLock() string { return filepath.Join(c.dbDir(), "instances.lock") }

// BuildDir returns the per-instance image build context directory.
func (c *Config) BuildDir(id string) string {
	return filepath.Join(c.RootDir, "builds", id)
}

// BuildsRoot returns the base directory holding all build contexts.
func (c *Config) BuildsRoot() string { return filepath.Join(c.RootDir, "builds") }

func (c *Config) dbDir() string { return filepath.Join(c.RunDir, "db") }
