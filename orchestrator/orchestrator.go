// Package orchestrator owns game server instance records and drives their
// lifecycle against the container runtime. It is the single writer of the
// instance index; all other components observe instances through it.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/playpenhq/playpen/config"
	"github.com/playpenhq/playpen/lock"
	"github.com/playpenhq/playpen/storage"
	storejson "github.com/playpenhq/playpen/storage/json"
	"github.com/playpenhq/playpen/types"
	"github.com/playpenhq/playpen/utils"
)

// Orchestrator implements instance lifecycle on top of a Runtime.
type Orchestrator struct {
	conf     *config.Config
	store    storage.Store[InstanceIndex]
	runtime  Runtime
	memLimit int64

	// Per-instance mutexes serialize lifecycle operations on one ID;
	// operations on different IDs run concurrently.
	mu      sync.Mutex
	idLocks map[string]*sync.Mutex

	// wg tracks in-flight background build/starts so shutdown can let
	// them finish instead of leaving records stuck in "creating".
	wg sync.WaitGroup
}

// New creates an Orchestrator. Directories and the index lock are created
// eagerly so the first create does not race on setup.
func New(conf *config.Config, runtime Runtime) (*Orchestrator, error) {
	if err := utils.EnsureDirs(conf.BuildsRoot()); err != nil {
		return nil, fmt.Errorf("ensure dirs: %w", err)
	}
	if err := storejson.EnsureDir(conf.IndexFile()); err != nil {
		return nil, fmt.Errorf("ensure index dir: %w", err)
	}
	memLimit, err := conf.MemoryLimitBytes()
	if err != nil {
		return nil, err
	}
	locker := lock.NewFile(conf.IndexLock())
	return &Orchestrator{
		conf:     conf,
		store:    storejson.New[InstanceIndex](conf.IndexFile(), locker),
		runtime:  runtime,
		memLimit: memLimit,
		idLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// Wait blocks until all in-flight build/starts have settled.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) idLock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		o.idLocks[id] = l
	}
	return l
}

func (o *Orchestrator) dropIDLock(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.idLocks, id)
}

// Create reserves a port and writes a "creating" record, then builds the
// image and starts the container in the background. Reservation is atomic:
// cap check and port claim happen inside one index update, so concurrent
// creates can neither exceed the cap nor share a port. The returned record
// is in state "creating"; callers observe the terminal outcome via Inspect.
func (o *Orchestrator) Create(ctx context.Context, def *types.Definition) (*types.Instance, error) {
	id, err := utils.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("generate instance ID: %w", err)
	}

	now := time.Now()
	var created types.Instance
	err = o.store.Update(ctx, func(idx *InstanceIndex) error {
		if idx.nonTerminalCount() >= o.conf.MaxInstances {
			return ErrResourceExhausted
		}
		port, err := idx.reservePort(o.conf.PortRangeStart, o.conf.PortRangeEnd, id)
		if err != nil {
			return err
		}
		rec := &InstanceRecord{
			Instance: types.Instance{
				ID:        id,
				State:     types.InstanceStateCreating,
				Config:    def.Config,
				Port:      port,
				Image:     def.ImageTag,
				CreatedAt: now,
				UpdatedAt: now,
			},
			ContextDir: def.ContextDir,
		}
		idx.Instances[id] = rec
		created = rec.Instance
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.wg.Add(1)
	go o.buildAndStart(id, created.Port, def)

	return &created, nil
}

// buildAndStart runs the blocking part of create under the build timeout.
// Failure is terminal: the record moves to "error" and the port is released
// so the reservation cannot leak; the record itself stays for inspection.
func (o *Orchestrator) buildAndStart(id string, port int, def *types.Definition) {
	defer o.wg.Done()

	l := o.idLock(id)
	l.Lock()
	defer l.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), o.conf.BuildTimeout())
	defer cancel()
	logger := log.WithFunc("orchestrator.buildAndStart")
	// Failure handling must outlive the build deadline, or a timed-out
	// build would also fail the index update and strand the record.
	failCtx := context.WithoutCancel(ctx)

	if err := o.runtime.Build(ctx, def.ImageTag, def.ContextDir); err != nil {
		logger.Warnf(ctx, "build %s (%s): %v", id, def.ImageTag, err)
		o.failCreate(failCtx, id, port)
		return
	}

	containerID, err := o.runtime.Start(ctx, o.containerSpec(id, port, def.ImageTag, def.Config))
	if err != nil {
		logger.Warnf(ctx, "start %s: %v", id, err)
		o.failCreate(failCtx, id, port)
		return
	}

	if err := o.updateRecord(ctx, id, func(rec *InstanceRecord) {
		now := time.Now()
		rec.State = types.InstanceStateRunning
		rec.ContainerID = containerID
		rec.UpdatedAt = now
		rec.StartedAt = &now
	}); err != nil {
		// The index doesn't know the container is up; tear it down so
		// the next create starts from a clean slate.
		logger.Warnf(ctx, "record start of %s: %v", id, err)
		_ = o.runtime.Remove(failCtx, containerID)
		o.failCreate(failCtx, id, port)
		return
	}
	logger.Infof(ctx, "instance %s running on port %d", id, port)
}

func (o *Orchestrator) containerSpec(id string, port int, image string, cfg types.InstanceConfig) ContainerSpec {
	return ContainerSpec{
		Name:     "playpen-" + id,
		Image:    image,
		HostPort: port,
		CPU:      o.cpuLimit(cfg),
		Memory:   o.memoryLimit(cfg),
		Env: map[string]string{
			"GAME_PORT":             fmt.Sprintf("%d", ContainerPort),
			"PUBLIC_HOST":           o.conf.PublicHost,
			"PUBLIC_PORT":           fmt.Sprintf("%d", port),
			"ROOM_NAME":             cfg.Name,
			"ROOM_DESCRIPTION":      cfg.Description,
			"MAX_PLAYERS":           fmt.Sprintf("%d", cfg.MaxPlayers),
			"REGISTRY_URL":          o.conf.RegistryURL,
			"HEARTBEAT_INTERVAL_MS": fmt.Sprintf("%d", o.conf.HeartbeatIntervalSeconds*1000),
		},
	}
}

func (o *Orchestrator) cpuLimit(cfg types.InstanceConfig) float64 {
	if cfg.CPU > 0 {
		return cfg.CPU
	}
	return o.conf.CPULimit
}

func (o *Orchestrator) memoryLimit(cfg types.InstanceConfig) int64 {
	if cfg.Memory > 0 {
		return cfg.Memory
	}
	return o.memLimit
}

// failCreate transitions a creating instance to error and releases its port.
func (o *Orchestrator) failCreate(ctx context.Context, id string, port int) {
	if err := o.store.Update(ctx, func(idx *InstanceIndex) error {
		rec := idx.Instances[id]
		if rec == nil {
			return ErrNotFound
		}
		rec.State = types.InstanceStateError
		rec.UpdatedAt = time.Now()
		idx.releasePort(port, id)
		rec.Port = 0
		return nil
	}); err != nil {
		log.WithFunc("orchestrator.failCreate").Warnf(ctx, "mark %s error: %v", id, err)
	}
}

// Inspect returns a detached copy of the instance, refreshed with live
// resource usage and recent logs from the runtime.
func (o *Orchestrator) Inspect(ctx context.Context, id string) (*types.Instance, error) {
	rec, err := o.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	inst := rec.Instance

	if inst.State == types.InstanceStateRunning {
		if !o.runtime.Running(ctx, inst.ContainerID) {
			// Stale record: the container died behind our back.
			o.reconcileStopped(ctx, id)
			inst.State = types.InstanceStateStopped
		} else {
			if usage, err := o.runtime.Stats(ctx, inst.ContainerID); err == nil {
				inst.Usage = usage
			}
		}
	}
	if inst.ContainerID != "" {
		if lines, err := o.runtime.Logs(ctx, inst.ContainerID, defaultLogLines); err == nil {
			inst.RecentLogs = lines
		}
	}
	return &inst, nil
}

const defaultLogLines = 50

const (
	startConfirmTimeout  = 15 * time.Second
	startConfirmInterval = 500 * time.Millisecond
)

// List returns detached copies of all records. No runtime calls are made;
// use Inspect for live state.
func (o *Orchestrator) List(ctx context.Context) ([]*types.Instance, error) {
	var result []*types.Instance
	return result, o.store.With(ctx, func(idx *InstanceIndex) error {
		for _, rec := range idx.Instances {
			if rec == nil {
				continue
			}
			inst := rec.Instance
			result = append(result, &inst)
		}
		return nil
	})
}

// Logs returns up to maxLines of the most recent container output.
func (o *Orchestrator) Logs(ctx context.Context, id string, maxLines int) ([]string, error) {
	rec, err := o.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ContainerID == "" {
		return nil, nil
	}
	if maxLines <= 0 {
		maxLines = defaultLogLines
	}
	return o.runtime.Logs(ctx, rec.ContainerID, maxLines)
}

// Stop requests graceful termination within the configured grace period,
// then transitions to "stopped". Idempotent when already stopped.
func (o *Orchestrator) Stop(ctx context.Context, id string) error {
	l := o.idLock(id)
	l.Lock()
	defer l.Unlock()

	rec, err := o.loadRecord(ctx, id)
	if err != nil {
		return err
	}
	switch rec.State {
	case types.InstanceStateStopped:
		return nil
	case types.InstanceStateRunning:
		if err := o.runtime.Stop(ctx, rec.ContainerID, o.conf.StopTimeout()); err != nil {
			return fmt.Errorf("stop container: %w", err)
		}
		return o.reconcileStopped(ctx, id)
	default:
		return fmt.Errorf("%w: state %s", ErrNotRunning, rec.State)
	}
}

// Start restarts a stopped instance's existing container. It does not
// rebuild the image; error-state instances can only be deleted.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	l := o.idLock(id)
	l.Lock()
	defer l.Unlock()

	rec, err := o.loadRecord(ctx, id)
	if err != nil {
		return err
	}
	switch rec.State {
	case types.InstanceStateRunning:
		return nil
	case types.InstanceStateStopped:
		if rec.ContainerID == "" {
			return fmt.Errorf("%w: no container to start", ErrNotRunning)
		}
		if err := o.runtime.Restart(ctx, rec.ContainerID); err != nil {
			return fmt.Errorf("restart container: %w", err)
		}
		if err := utils.WaitFor(ctx, startConfirmTimeout, startConfirmInterval, func() (bool, error) {
			return o.runtime.Running(ctx, rec.ContainerID), nil
		}); err != nil {
			return fmt.Errorf("container did not come up: %w", err)
		}
		return o.updateRecord(ctx, id, func(rec *InstanceRecord) {
			now := time.Now()
			rec.State = types.InstanceStateRunning
			rec.UpdatedAt = now
			rec.StartedAt = &now
		})
	default:
		return fmt.Errorf("cannot start instance in state %s", rec.State)
	}
}

// Delete stops the instance if needed, removes the container and (when no
// other instance shares it) the image and build context, releases the port,
// and drops the record. Irreversible.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	l := o.idLock(id)
	l.Lock()
	defer l.Unlock()

	rec, err := o.loadRecord(ctx, id)
	if err != nil {
		return err
	}
	logger := log.WithFunc("orchestrator.Delete")

	if rec.ContainerID != "" {
		if err := o.runtime.Remove(ctx, rec.ContainerID); err != nil {
			logger.Warnf(ctx, "remove container of %s: %v", id, err)
		}
	}

	var lastImageRef bool
	if err := o.store.Update(ctx, func(idx *InstanceIndex) error {
		r := idx.Instances[id]
		if r == nil {
			return ErrNotFound
		}
		idx.releasePort(r.Port, id)
		delete(idx.Instances, id)
		lastImageRef = rec.Image != "" && idx.imageRefCount(rec.Image) == 0
		return nil
	}); err != nil {
		return err
	}

	if lastImageRef {
		if err := o.runtime.RemoveImage(ctx, rec.Image); err != nil {
			logger.Warnf(ctx, "remove image %s: %v", rec.Image, err)
		}
		if rec.ContextDir != "" {
			if err := os.RemoveAll(rec.ContextDir); err != nil {
				logger.Warnf(ctx, "remove build context %s: %v", rec.ContextDir, err)
			}
		}
	}
	o.dropIDLock(id)
	return nil
}

func (o *Orchestrator) loadRecord(ctx context.Context, id string) (InstanceRecord, error) {
	var rec InstanceRecord
	return rec, o.store.With(ctx, func(idx *InstanceIndex) error {
		r, err := utils.LookupCopy(idx.Instances, id)
		if err != nil {
			return ErrNotFound
		}
		rec = r
		return nil
	})
}

func (o *Orchestrator) updateRecord(ctx context.Context, id string, mutate func(*InstanceRecord)) error {
	return o.store.Update(ctx, func(idx *InstanceIndex) error {
		rec := idx.Instances[id]
		if rec == nil {
			return ErrNotFound
		}
		mutate(rec)
		return nil
	})
}

func (o *Orchestrator) reconcileStopped(ctx context.Context, id string) error {
	return o.updateRecord(ctx, id, func(rec *InstanceRecord) {
		now := time.Now()
		rec.State = types.InstanceStateStopped
		rec.UpdatedAt = now
		rec.StoppedAt = &now
	})
}

// PoolStats summarizes port pool utilization.
type PoolStats struct {
	PortsUsed  int `json:"ports_used"`
	PortsTotal int `json:"ports_total"`
}

// Stats returns instance counts by state and pool utilization.
func (o *Orchestrator) Stats(ctx context.Context) (map[types.InstanceState]int, PoolStats, error) {
	counts := make(map[types.InstanceState]int)
	pool := PoolStats{PortsTotal: o.conf.PortRangeEnd - o.conf.PortRangeStart + 1}
	return counts, pool, o.store.With(ctx, func(idx *InstanceIndex) error {
		for _, rec := range idx.Instances {
			if rec != nil {
				counts[rec.State]++
			}
		}
		pool.PortsUsed = len(idx.Ports)
		return nil
	})
}

// ContextKeys returns the build-context directory names referenced by any
// instance record. Used by gc to spare live contexts.
func (o *Orchestrator) ContextKeys(ctx context.Context) (map[string]struct{}, error) {
	used := make(map[string]struct{})
	return used, o.store.With(ctx, func(idx *InstanceIndex) error {
		for _, rec := range idx.Instances {
			if rec != nil && rec.ContextDir != "" {
				used[filepath.Base(rec.ContextDir)] = struct{}{}
			}
		}
		return nil
	})
}
