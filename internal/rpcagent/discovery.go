package rpcagent

import (
	"sync"
	"time"
)

// AgentInfo is everything the registry knows about one remote agent.
type AgentInfo struct {
	ID           string
	Name         string
	BaseURL      string
	Description  string
	Capabilities []string
	Metadata     map[string]any
	Online       bool
	LastSeen     time.Time
}

// Registry is a concurrency-safe directory of known remote agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]AgentInfo
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]AgentInfo)}
}

// Register adds or replaces an agent record.
func (r *Registry) Register(agent AgentInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.ID] = agent
}

// Unregister removes an agent record.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// Find looks up an agent by ID.
func (r *Registry) Find(agentID string) (AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return AgentInfo{}, &AgentNotFoundError{AgentID: agentID}
	}
	return agent, nil
}

// FindByCapability returns all online agents advertising capability.
func (r *Registry) FindByCapability(capability string) []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []AgentInfo
	for _, agent := range r.agents {
		if !agent.Online {
			continue
		}
		for _, c := range agent.Capabilities {
			if c == capability {
				matches = append(matches, agent)
				break
			}
		}
	}
	return matches
}

// ListAll returns every registered agent, online or not.
func (r *Registry) ListAll() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentInfo, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, agent)
	}
	return out
}

// ListOnline returns only online agents.
func (r *Registry) ListOnline() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []AgentInfo
	for _, agent := range r.agents {
		if agent.Online {
			out = append(out, agent)
		}
	}
	return out
}

// UpdateStatus flips an agent's online flag and stamps LastSeen.
func (r *Registry) UpdateStatus(agentID string, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return &AgentNotFoundError{AgentID: agentID}
	}
	agent.Online = online
	agent.LastSeen = time.Now().UTC()
	r.agents[agentID] = agent
	return nil
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Clear removes every registered agent.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]AgentInfo)
}
