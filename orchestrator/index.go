package orchestrator

import (
	"errors"

	"github.com/playpenhq/playpen/types"
)

var (
	ErrNotFound          = errors.New("instance not found")
	ErrNotRunning        = errors.New("instance not running")
	ErrResourceExhausted = errors.New("instance cap or port pool exhausted")
)

// InstanceRecord is the persisted record for a single instance.
type InstanceRecord struct {
	types.Instance

	// ContextDir is the build context used for this instance's image,
	// persisted so delete can clean up even after a config change.
	ContextDir string `json:"context_dir,omitempty"`
}

// InstanceIndex is the top-level store structure for the orchestrator.
// Ports maps reserved host port → owning instance ID; keeping it inside the
// same index makes check-and-reserve atomic under the store lock.
type InstanceIndex struct {
	Instances map[string]*InstanceRecord `json:"instances"`
	Ports     map[int]string             `json:"ports"`
}

// Init implements storage.Initer.
func (idx *InstanceIndex) Init() {
	if idx.Instances == nil {
		idx.Instances = make(map[string]*InstanceRecord)
	}
	if idx.Ports == nil {
		idx.Ports = make(map[int]string)
	}
}

// nonTerminalCount counts instances that hold capacity (creating, running,
// or stopped; error-state instances release their slot).
func (idx *InstanceIndex) nonTerminalCount() int {
	n := 0
	for _, rec := range idx.Instances {
		if rec != nil && !rec.Terminal() {
			n++
		}
	}
	return n
}

// imageRefCount counts records referencing the given image tag.
func (idx *InstanceIndex) imageRefCount(tag string) int {
	n := 0
	for _, rec := range idx.Instances {
		if rec != nil && rec.Image == tag {
			n++
		}
	}
	return n
}

// reservePort claims the lowest free port in [start, end] for id.
// Must be called inside a store Update.
func (idx *InstanceIndex) reservePort(start, end int, id string) (int, error) {
	for p := start; p <= end; p++ {
		if _, taken := idx.Ports[p]; !taken {
			idx.Ports[p] = id
			return p, nil
		}
	}
	return 0, ErrResourceExhausted
}

// releasePort frees the port held by id, if any. Must be called inside a
// store Update.
func (idx *InstanceIndex) releasePort(port int, id string) {
	if owner, ok := idx.Ports[port]; ok && owner == id {
		delete(idx.Ports, port)
	}
}
