package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/playpenhq/playpen/utils"
)

// ErrNotFound is returned for a server that is absent or already evicted.
// Heartbeat callers treat it as a signal to re-register.
var ErrNotFound = errors.New("server not found")

// ServerRecord is one registered game server. Records live only in memory
// and are rebuilt from registration traffic after a restart.
type ServerRecord struct {
	ServerID       string            `json:"server_id"`
	IP             string            `json:"ip"`
	Port           int               `json:"port"`
	Name           string            `json:"name"`
	MaxPlayers     int               `json:"max_players"`
	CurrentPlayers int               `json:"current_players"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	LastHeartbeat  time.Time         `json:"last_heartbeat"`
	RegisteredAt   time.Time         `json:"registered_at"`
	// UptimeSeconds is derived at read time from RegisteredAt.
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// Registration is the input to Register.
type Registration struct {
	IP             string            `json:"ip"`
	Port           int               `json:"port"`
	Name           string            `json:"name"`
	MaxPlayers     int               `json:"max_players"`
	CurrentPlayers int               `json:"current_players"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Registry owns all ServerRecords. All mutation goes through its lock;
// clients interact over HTTP only.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*ServerRecord

	timeout time.Duration
	sweep   time.Duration
	now     func() time.Time

	lastSweep time.Time
}

// New creates a Registry with the given staleness timeout and sweep period.
func New(timeout, sweep time.Duration) *Registry {
	return &Registry{
		servers: make(map[string]*ServerRecord),
		timeout: timeout,
		sweep:   sweep,
		now:     time.Now,
	}
}

// Register upserts a server keyed by its ip:port address. Re-registration
// from the same address refreshes every field but keeps the original
// registration time so uptime survives reconnects.
func (r *Registry) Register(ctx context.Context, reg *Registration) (*ServerRecord, error) {
	if reg.IP == "" || reg.Port <= 0 {
		return nil, fmt.Errorf("invalid address %s:%d", reg.IP, reg.Port)
	}
	id := utils.AddressID(fmt.Sprintf("%s:%d", reg.IP, reg.Port))
	now := r.now()

	r.mu.Lock()
	rec, ok := r.servers[id]
	if !ok {
		rec = &ServerRecord{ServerID: id, RegisteredAt: now}
		r.servers[id] = rec
	}
	rec.IP = reg.IP
	rec.Port = reg.Port
	rec.Name = reg.Name
	rec.MaxPlayers = reg.MaxPlayers
	rec.CurrentPlayers = reg.CurrentPlayers
	rec.Metadata = reg.Metadata
	rec.LastHeartbeat = now
	out := r.snapshot(rec, now)
	r.mu.Unlock()

	if !ok {
		log.WithFunc("registry.Register").Infof(ctx, "registered %s (%s) at %s:%d", reg.Name, utils.ShortID(id), reg.IP, reg.Port)
	}
	return out, nil
}

// Heartbeat refreshes liveness and occupancy for a server. Returns
// ErrNotFound once the server has been evicted.
func (r *Registry) Heartbeat(_ context.Context, serverID string, currentPlayers int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.servers[serverID]
	if !ok {
		return fmt.Errorf("heartbeat %s: %w", utils.ShortID(serverID), ErrNotFound)
	}
	rec.LastHeartbeat = r.now()
	if currentPlayers >= 0 {
		rec.CurrentPlayers = currentPlayers
	}
	return nil
}

// Get returns a detached copy of one server, or ErrNotFound if it is
// absent or stale.
func (r *Registry) Get(_ context.Context, serverID string) (*ServerRecord, error) {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.servers[serverID]
	if !ok || r.stale(rec, now) {
		return nil, fmt.Errorf("get %s: %w", utils.ShortID(serverID), ErrNotFound)
	}
	return r.snapshot(rec, now), nil
}

// List returns detached copies of all non-stale servers. Stale entries are
// skipped here and removed by the eviction loop.
func (r *Registry) List(_ context.Context) []*ServerRecord {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServerRecord, 0, len(r.servers))
	for _, rec := range r.servers {
		if r.stale(rec, now) {
			continue
		}
		out = append(out, r.snapshot(rec, now))
	}
	return out
}

// Deregister removes a server. Removing an unknown server is a no-op.
func (r *Registry) Deregister(ctx context.Context, serverID string) {
	r.mu.Lock()
	_, ok := r.servers[serverID]
	delete(r.servers, serverID)
	r.mu.Unlock()
	if ok {
		log.WithFunc("registry.Deregister").Infof(ctx, "deregistered %s", utils.ShortID(serverID))
	}
}

// Count returns the number of non-stale servers.
func (r *Registry) Count() int {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.servers {
		if !r.stale(rec, now) {
			n++
		}
	}
	return n
}

// Evict removes every stale server and returns how many were dropped.
// Candidates are collected under the read lock, then re-checked under the
// write lock so a heartbeat arriving mid-sweep is never lost.
func (r *Registry) Evict(ctx context.Context) int {
	now := r.now()

	r.mu.Lock()
	r.lastSweep = now
	r.mu.Unlock()

	r.mu.RLock()
	var candidates []string
	for id, rec := range r.servers {
		if r.stale(rec, now) {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return 0
	}

	logger := log.WithFunc("registry.Evict")
	evicted := 0
	r.mu.Lock()
	for _, id := range candidates {
		rec, ok := r.servers[id]
		if !ok || !r.stale(rec, r.now()) {
			continue
		}
		delete(r.servers, id)
		evicted++
		logger.Warnf(ctx, "evicted %s (%s), last heartbeat %s ago",
			rec.Name, utils.ShortID(id), now.Sub(rec.LastHeartbeat).Truncate(time.Second))
	}
	r.mu.Unlock()
	return evicted
}

// RunEviction sweeps periodically until ctx is cancelled.
func (r *Registry) RunEviction(ctx context.Context) error {
	logger := log.WithFunc("registry.RunEviction")
	logger.Infof(ctx, "eviction loop started, timeout %s, every %s", r.timeout, r.sweep)
	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof(ctx, "eviction loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Evict(ctx)
		}
	}
}

// LastSweep returns when the eviction sweep last ran; zero before the
// first sweep.
func (r *Registry) LastSweep() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSweep
}

func (r *Registry) stale(rec *ServerRecord, now time.Time) bool {
	return now.Sub(rec.LastHeartbeat) > r.timeout
}

// snapshot copies rec and fills derived fields. Callers must hold the lock.
func (r *Registry) snapshot(rec *ServerRecord, now time.Time) *ServerRecord {
	cp := *rec
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.UptimeSeconds = int64(now.Sub(rec.RegisteredAt) / time.Second)
	return &cp
}
