package manager

import (
	"context"
	"sync"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/playpenhq/playpen/config"
	"github.com/playpenhq/playpen/registry"
	"github.com/playpenhq/playpen/types"
	"github.com/playpenhq/playpen/utils"
)

// Instances is the slice of orchestrator behavior the idle manager needs.
type Instances interface {
	List(ctx context.Context) ([]*types.Instance, error)
	Stop(ctx context.Context, id string) error
}

// Occupancy reports live player counts, normally the registry client.
type Occupancy interface {
	List(ctx context.Context) ([]*registry.ServerRecord, error)
}

// IdleInfo describes one instance currently at zero occupancy.
type IdleInfo struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	IdleSince time.Time     `json:"idle_since"`
	IdleFor   time.Duration `json:"idle_for"`
}

// Manager reclaims instances that sit at zero occupancy past the idle
// timeout. It stops them rather than deleting, so operators can restart or
// clean up explicitly.
type Manager struct {
	conf *config.Config
	orch Instances
	occ  Occupancy

	mu        sync.Mutex
	idleSince map[string]time.Time
	now       func() time.Time
}

// New creates an idle manager.
func New(conf *config.Config, orch Instances, occ Occupancy) *Manager {
	return &Manager{
		conf:      conf,
		orch:      orch,
		occ:       occ,
		idleSince: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Run samples occupancy periodically until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	logger := log.WithFunc("manager.Run")
	logger.Infof(ctx, "idle manager started, timeout %s, every %s", m.conf.IdleTimeout(), m.conf.IdleCheckInterval())
	ticker := time.NewTicker(m.conf.IdleCheckInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof(ctx, "idle manager stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one reclamation pass: refresh idle clocks from current
// occupancy, then stop every instance idle past the timeout.
func (m *Manager) Check(ctx context.Context) {
	logger := log.WithFunc("manager.Check")

	insts, err := m.orch.List(ctx)
	if err != nil {
		logger.Warnf(ctx, "list instances: %v", err)
		return
	}
	servers, err := m.occ.List(ctx)
	if err != nil {
		// Without occupancy data a busy instance looks idle. Skip the
		// pass rather than stop players mid-game.
		logger.Warnf(ctx, "registry unreachable, skipping pass: %v", err)
		return
	}

	playersByPort := make(map[int]int, len(servers))
	for _, s := range servers {
		playersByPort[s.Port] = s.CurrentPlayers
	}

	now := m.now()
	var reap []string

	m.mu.Lock()
	live := make(map[string]bool, len(insts))
	for _, inst := range insts {
		live[inst.ID] = true
		if inst.State != types.InstanceStateRunning {
			delete(m.idleSince, inst.ID)
			continue
		}
		// An instance that never registered has no entry and counts as
		// idle from the moment it is first observed.
		if playersByPort[inst.Port] > 0 {
			delete(m.idleSince, inst.ID)
			continue
		}
		since, ok := m.idleSince[inst.ID]
		if !ok {
			m.idleSince[inst.ID] = now
			continue
		}
		if now.Sub(since) > m.conf.IdleTimeout() {
			reap = append(reap, inst.ID)
		}
	}
	// Forget instances that were stopped or deleted out of band.
	for id := range m.idleSince {
		if !live[id] {
			delete(m.idleSince, id)
		}
	}
	m.mu.Unlock()

	for _, id := range reap {
		logger.Infof(ctx, "stopping idle instance %s", utils.ShortID(id))
		if err := m.orch.Stop(ctx, id); err != nil {
			logger.Warnf(ctx, "stop idle instance %s: %v", utils.ShortID(id), err)
			continue
		}
		m.mu.Lock()
		delete(m.idleSince, id)
		m.mu.Unlock()
	}
}

// Idle returns the instances currently at zero occupancy. Ordering is
// unspecified.
func (m *Manager) Idle(insts []*types.Instance) []IdleInfo {
	now := m.now()
	byID := make(map[string]*types.Instance, len(insts))
	for _, inst := range insts {
		byID[inst.ID] = inst
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]IdleInfo, 0, len(m.idleSince))
	for id, since := range m.idleSince {
		info := IdleInfo{ID: id, IdleSince: since, IdleFor: now.Sub(since)}
		if inst, ok := byID[id]; ok {
			info.Name = inst.Config.Name
		}
		out = append(out, info)
	}
	return out
}
