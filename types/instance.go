package types

import "time"

// InstanceState represents the lifecycle state of a game server instance
// from the orchestrator's perspective.
type InstanceState string

const (
	InstanceStateCreating InstanceState = "creating" // record written, image build / container start in flight
	InstanceStateRunning  InstanceState = "running"  // container alive, scaffold is serving
	InstanceStateStopped  InstanceState = "stopped"  // container exited or was stopped
	InstanceStateError    InstanceState = "error"    // build or start failed; terminal until delete
)

// InstanceConfig describes the declared configuration for a new instance.
type InstanceConfig struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MaxPlayers  int    `json:"max_players"`

	// Resource ceilings, fixed at creation time.
	CPU    float64 `json:"cpu"`    // cores
	Memory int64   `json:"memory"` // bytes
}

// ResourceUsage is a point-in-time sample from the container runtime.
// Refreshed on inspect, never persisted.
type ResourceUsage struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryUsed int64   `json:"memory_used"` // bytes
	NetInput   int64   `json:"net_input"`   // bytes received
	NetOutput  int64   `json:"net_output"`  // bytes sent
}

// Instance is the runtime record for a game server instance, persisted by
// the orchestrator index.
type Instance struct {
	ID     string         `json:"id"`
	State  InstanceState  `json:"state"`
	Config InstanceConfig `json:"config"`

	// Port is reserved from the pool at creation and released on delete
	// (or on a failed create). Zero means no port is held.
	Port int `json:"port,omitempty"`

	// ContainerID is the runtime-assigned identity; empty until the
	// container has been started at least once.
	ContainerID string `json:"container_id,omitempty"`

	// Image is the tag of the per-instance isolation image.
	Image string `json:"image,omitempty"`

	// Populated on inspect only.
	Usage      *ResourceUsage `json:"usage,omitempty"`
	RecentLogs []string       `json:"recent_logs,omitempty"`

	// Timestamps.
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// Terminal reports whether the instance no longer counts against the
// instance cap. Only the error state qualifies: a stopped instance still
// holds its port and can be restarted, so it keeps its capacity slot
// until deleted.
func (i *Instance) Terminal() bool {
	return i.State == InstanceStateError
}
