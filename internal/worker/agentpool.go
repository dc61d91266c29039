// Package worker implements the Worker actor and its AgentPool collaborator:
// bead dispatch to agents, heartbeat-tracked health, and pluggable
// assignment policy.
package worker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lprior-repo/oya-sub008/internal/ids"
	"github.com/lprior-repo/oya-sub008/internal/resilience"
)

// AgentState is an agent's lifecycle state, owned exclusively by the AgentPool.
type AgentState int

const (
	Idle AgentState = iota
	Busy
	Draining
	Unhealthy
	Dead
)

// AgentHandle is the pool's view of one worker agent.
type AgentHandle struct {
	ID            ids.AgentID
	State         AgentState
	CurrentBead   ids.BeadID
	LastHeartbeat time.Time
	Capabilities  []string
	missedBeats   int
}

// ErrNoCapacity is returned by AssignBead when no agent is available.
var ErrNoCapacity = errors.New("worker: no capacity")

// ErrRateLimited is returned by AssignBead when the pool's admission limiter
// has no tokens available; the caller should leave the bead queued and retry.
var ErrRateLimited = errors.New("worker: dispatch rate limited")

// AssignmentPolicy picks an agent for a bead from the idle pool.
type AssignmentPolicy interface {
	Pick(idle []*AgentHandle, bead ids.BeadID) *AgentHandle
}

// FIFOPolicy returns the first idle agent found (map iteration order is
// randomized by Go; callers wanting a stable FIFO should use RoundRobin).
type FIFOPolicy struct{}

func (FIFOPolicy) Pick(idle []*AgentHandle, _ ids.BeadID) *AgentHandle {
	if len(idle) == 0 {
		return nil
	}
	return idle[0]
}

// RoundRobinPolicy cycles through idle agents in a stable order (ascending
// AgentID).
type RoundRobinPolicy struct {
	mu   sync.Mutex
	next int
}

func (p *RoundRobinPolicy) Pick(idle []*AgentHandle, _ ids.BeadID) *AgentHandle {
	if len(idle) == 0 {
		return nil
	}
	sorted := append([]*AgentHandle(nil), idle...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	p.mu.Lock()
	defer p.mu.Unlock()
	a := sorted[p.next%len(sorted)]
	p.next++
	return a
}

// PriorityPolicy picks the agent with the most capabilities (a coarse proxy
// for "most capable" when no explicit priority field is modeled).
type PriorityPolicy struct{}

func (PriorityPolicy) Pick(idle []*AgentHandle, _ ids.BeadID) *AgentHandle {
	var best *AgentHandle
	for _, a := range idle {
		if best == nil || len(a.Capabilities) > len(best.Capabilities) {
			best = a
		}
	}
	return best
}

// AffinityPolicy prefers a bead's pinned agent if idle, otherwise falls back.
type AffinityPolicy struct {
	Preference map[ids.BeadID]ids.AgentID
	Fallback   AssignmentPolicy
}

func (p AffinityPolicy) Pick(idle []*AgentHandle, bead ids.BeadID) *AgentHandle {
	if pref, ok := p.Preference[bead]; ok {
		for _, a := range idle {
			if a.ID == pref {
				return a
			}
		}
	}
	fallback := p.Fallback
	if fallback == nil {
		fallback = FIFOPolicy{}
	}
	return fallback.Pick(idle, bead)
}

// AgentPool holds every known agent and dispatches beads to idle ones.
type AgentPool struct {
	mu      sync.Mutex
	agents  map[ids.AgentID]*AgentHandle
	policy  AssignmentPolicy
	monitor *HealthMonitor
	limiter *resilience.RateLimiter
}

// NewAgentPool constructs a pool using policy for assignment and monitor for
// heartbeat tracking.
func NewAgentPool(policy AssignmentPolicy, monitor *HealthMonitor) *AgentPool {
	if policy == nil {
		policy = FIFOPolicy{}
	}
	return &AgentPool{agents: make(map[ids.AgentID]*AgentHandle), policy: policy, monitor: monitor}
}

// WithAdmissionLimiter fronts AssignBead with a token-bucket + sliding window
// limiter, bounding how fast beads are admitted onto the pool regardless of
// how many agents are idle. A nil limiter (the default) disables admission
// control and assigns purely on capacity.
func (p *AgentPool) WithAdmissionLimiter(limiter *resilience.RateLimiter) *AgentPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiter = limiter
	return p
}

// RegisterAgent adds a new agent to the pool as Idle. A LastHeartbeat the
// handle already carries is kept; a zero one is set to now.
func (p *AgentPool) RegisterAgent(handle *AgentHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	handle.State = Idle
	if handle.LastHeartbeat.IsZero() {
		handle.LastHeartbeat = time.Now()
	}
	p.agents[handle.ID] = handle
}

// AssignBead picks an idle agent for bead per the configured policy and
// marks it Busy, or returns ErrNoCapacity. If an admission limiter is set
// and has no tokens available, ErrRateLimited is returned without touching
// any agent, so the bead stays queued for the next dispatch attempt.
func (p *AgentPool) AssignBead(bead ids.BeadID) (ids.AgentID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limiter != nil && !p.limiter.Allow() {
		return "", ErrRateLimited
	}

	idle := make([]*AgentHandle, 0)
	for _, a := range p.agents {
		if a.State == Idle {
			idle = append(idle, a)
		}
	}
	chosen := p.policy.Pick(idle, bead)
	if chosen == nil {
		return "", ErrNoCapacity
	}
	chosen.State = Busy
	chosen.CurrentBead = bead
	return chosen.ID, nil
}

// CompleteBead moves an agent back to Idle.
func (p *AgentPool) CompleteBead(agentID ids.AgentID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.agents[agentID]; ok {
		a.State = Idle
		a.CurrentBead = ""
	}
}

// Heartbeat records a liveness signal for agentID, clearing its miss counter.
func (p *AgentPool) Heartbeat(agentID ids.AgentID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[agentID]
	if !ok {
		return
	}
	a.LastHeartbeat = time.Now()
	a.missedBeats = 0
}

// Get returns the handle for agentID.
func (p *AgentPool) Get(agentID ids.AgentID) (*AgentHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[agentID]
	return a, ok
}

// Remove drops an agent from the pool (used once it is declared Dead).
func (p *AgentPool) Remove(agentID ids.AgentID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.agents, agentID)
}

// Snapshot returns a copy of every agent handle for monitoring sweeps.
func (p *AgentPool) Snapshot() []*AgentHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*AgentHandle, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a)
	}
	return out
}
