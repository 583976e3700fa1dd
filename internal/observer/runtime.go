package observer

import (
	"sync"

	"github.com/coreagent/enginectl/pkg/models"
)

// ModelInfo is the subset of a model's catalog entry the runtime needs.
type ModelInfo struct {
	ContextLimit int64
}

// ModelCatalog resolves a model name to its published context window,
// used to size ContextMonitor for each thread.
type ModelCatalog interface {
	Info(model string) (ModelInfo, bool)
}

// threadState is the per-thread monitor tree.
type threadState struct {
	model   string
	tokens  *TokenMonitor
	context *ContextMonitor
	state   *StateMonitor
}

// AgentRuntime composes TokenMonitor, CostCalculator, ContextMonitor,
// and StateMonitor into the single tree spec.md §4.6 describes, scoped
// per thread. It satisfies middleware.RuntimeObserver.
type AgentRuntime struct {
	mu      sync.Mutex
	threads map[string]*threadState
	cost    *CostCalculator
	catalog ModelCatalog
}

// NewAgentRuntime constructs a runtime against a cost calculator and
// model catalog (either may be nil: cost/context-limit reporting then
// degrades to zero rather than failing).
func NewAgentRuntime(cost *CostCalculator, catalog ModelCatalog) *AgentRuntime {
	return &AgentRuntime{threads: make(map[string]*threadState), cost: cost, catalog: catalog}
}

// BindModel records which model a thread is using, so RecordCompletion
// can resolve cost and context-window sizing for it. Call this once a
// run's model is known (typically at run start); it's a no-op safe to
// call repeatedly as the model changes turn to turn.
func (r *AgentRuntime) BindModel(threadID, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.threadFor(threadID)
	ts.model = model
	if r.catalog != nil {
		if info, ok := r.catalog.Info(model); ok {
			ts.context.ContextLimit = info.ContextLimit
		}
	}
}

func (r *AgentRuntime) threadFor(threadID string) *threadState {
	ts, ok := r.threads[threadID]
	if !ok {
		ts = &threadState{tokens: NewTokenMonitor(), context: NewContextMonitor(0), state: NewStateMonitor()}
		r.threads[threadID] = ts
	}
	return ts
}

// SetAgentState updates a thread's high-level activity state.
func (r *AgentRuntime) SetAgentState(threadID string, state AgentState) {
	r.mu.Lock()
	ts := r.threadFor(threadID)
	r.mu.Unlock()
	ts.state.SetState(state)
}

// RecordCompletion folds one LLM response's usage into the thread's
// running totals and returns the resulting context-window snapshot.
func (r *AgentRuntime) RecordCompletion(threadID string, usage models.Usage) models.ContextUsage {
	r.mu.Lock()
	ts := r.threadFor(threadID)
	r.mu.Unlock()

	ts.tokens.Record(RawUsage{
		InputTokens:      &usage.Input,
		OutputTokens:     &usage.Output,
		ReasoningTokens:  &usage.Reasoning,
		CacheReadTokens:  &usage.CacheRead,
		CacheWriteTokens: &usage.CacheCreation,
	})

	total := ts.tokens.Total()
	snapshot := ts.context.Snapshot(0, total.Total)
	ts.state.SetFlag("near_limit", snapshot.NearLimit)
	return snapshot
}

// StatusEvent produces the status RunEvent for a thread's current
// monitor state, or nil if the thread has never recorded a completion.
func (r *AgentRuntime) StatusEvent(threadID string) *models.RunEvent {
	r.mu.Lock()
	ts, ok := r.threads[threadID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	state, _ := ts.state.Snapshot()
	total := ts.tokens.Total()
	contextUsage := ts.context.Snapshot(0, total.Total)

	return &models.RunEvent{
		Type:       models.RunEventStatus,
		AgentState: string(state),
		Tokens:     &total,
		Context:    &contextUsage,
	}
}

// EstimateCost computes the cumulative fixed-point cost for a thread
// against its bound model, or a zero Breakdown if the thread or its
// model is unknown.
func (r *AgentRuntime) EstimateCost(threadID string) Breakdown {
	r.mu.Lock()
	ts, ok := r.threads[threadID]
	r.mu.Unlock()
	if !ok || r.cost == nil {
		return Breakdown{}
	}
	return r.cost.Estimate(ts.model, ts.tokens.Total())
}
