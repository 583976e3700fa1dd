package observer

import "sync"

// AgentState is the agent's high-level activity state, distinct from
// (but updated in lockstep with) the scheduler's finer-grained RunState.
type AgentState string

const (
	AgentIdle       AgentState = "idle"
	AgentStreaming  AgentState = "streaming"
	AgentTool       AgentState = "tool"
	AgentCancelling AgentState = "cancelling"
)

// StateMonitor tracks one thread's high-level agent state and an
// open-ended set of boolean flags (e.g. "near_limit", "degraded").
type StateMonitor struct {
	mu    sync.Mutex
	state AgentState
	flags map[string]bool
}

// NewStateMonitor constructs a monitor starting in AgentIdle.
func NewStateMonitor() *StateMonitor {
	return &StateMonitor{state: AgentIdle, flags: make(map[string]bool)}
}

// SetState updates the tracked agent state.
func (m *StateMonitor) SetState(state AgentState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// SetFlag sets or clears a named flag.
func (m *StateMonitor) SetFlag(name string, value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[name] = value
}

// Snapshot returns the current state and a copy of the flag map.
func (m *StateMonitor) Snapshot() (AgentState, map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	flags := make(map[string]bool, len(m.flags))
	for k, v := range m.flags {
		flags[k] = v
	}
	return m.state, flags
}
