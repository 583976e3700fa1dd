// Package scheduler implements the queue-mode run scheduler described
// in spec.md §4.3: the state machine that drives one user turn through
// the middleware stack, dispatching tool calls and draining queued
// messages at safe points, until the run reaches idle.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coreagent/enginectl/internal/middleware"
	"github.com/coreagent/enginectl/internal/queue"
	"github.com/coreagent/enginectl/pkg/models"
)

// RunState is one of the six states a run occupies (spec §4.3).
type RunState string

const (
	RunIdle          RunState = "idle"
	RunStreaming     RunState = "streaming"
	RunAwaitingTools RunState = "awaiting_tools"
	RunDraining      RunState = "draining"
	RunCancelling    RunState = "cancelling"
	RunFailed        RunState = "failed"
)

// CompletionChunk is one piece of a streamed LLM response, analogous to
// the teacher's CompletionChunk but scoped to this package so scheduler
// has no compile-time dependency on a specific provider SDK (spec §4.2:
// "the core never depends on a specific provider SDK").
type CompletionChunk struct {
	Text     string
	ToolCall *models.ToolCall
	Usage    *models.Usage
	Done     bool
	Err      error
}

// Provider streams a completion for a model request. Concrete
// implementations adapt a specific LLM SDK (Anthropic, OpenAI, ...).
type Provider interface {
	Complete(ctx context.Context, req *middleware.ModelRequest) (<-chan CompletionChunk, error)
}

// ToolExecutor performs the actual side effect of one tool invocation,
// beneath all middleware wrapping.
type ToolExecutor interface {
	Execute(ctx context.Context, inv *middleware.ToolInvocation) (*models.ToolResult, error)
}

// ToolExecutorFunc adapts a plain function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, inv *middleware.ToolInvocation) (*models.ToolResult, error)

func (f ToolExecutorFunc) Execute(ctx context.Context, inv *middleware.ToolInvocation) (*models.ToolResult, error) {
	return f(ctx, inv)
}

// Config parameterizes a Scheduler.
type Config struct {
	Model              string
	MaxTokens          int
	MaxIterations      int // 0 = unlimited
	ParallelToolLimit  int // default 8, per spec §5
}

// DefaultConfig returns spec-default scheduling parameters.
func DefaultConfig() Config {
	return Config{MaxTokens: 4096, MaxIterations: 50, ParallelToolLimit: 8}
}

// Scheduler drives runs for many threads, enforcing at most one active
// run per thread at a time (spec §5: "a new run cannot start until the
// previous reaches idle, except via the interrupt queue").
type Scheduler struct {
	chain        *middleware.Chain
	provider     Provider
	toolExecutor ToolExecutor
	queues       *queue.Manager
	cfg          Config

	mu      sync.Mutex
	running map[string]*activeRun // threadID -> run

	// taskDrainer, when set, lets dispatchTools relay a running
	// sub-agent's events onto the parent run's stream live instead of
	// only learning the final tool result once it completes.
	taskDrainer TaskDrainer
}

// TaskDrainer exposes a running sub-agent's event buffer, keyed by the
// parent tool_call_id that spawned it. Satisfied by *middleware.Task.
type TaskDrainer interface {
	Drain(parentToolCallID string) (<-chan *models.RunEvent, bool)
}

// SetTaskDrainer wires the Task middleware's buffer into the
// scheduler so sub-agent events are relayed live (spec §4.1's
// "task_"-prefixed event stream) rather than only surfacing the
// sub-agent's final text once its tool call returns.
func (s *Scheduler) SetTaskDrainer(d TaskDrainer) { s.taskDrainer = d }

type activeRun struct {
	runID  string
	state  RunState
	cancel context.CancelFunc
	seq    *seqCounter
	events chan<- *models.RunEvent
}

// EmitStatus implements middleware.StatusSink: Monitor calls this
// after every model response, and the scheduler folds it into the
// active run's own event stream (with the same seq counter every other
// event on that run uses) if one is still active for threadID.
func (s *Scheduler) EmitStatus(threadID string, event *models.RunEvent) {
	s.mu.Lock()
	run, ok := s.running[threadID]
	s.mu.Unlock()
	if !ok || event == nil {
		return
	}
	s.emit(run.events, run.runID, run.seq, event)
}

// New constructs a Scheduler.
func New(chain *middleware.Chain, provider Provider, toolExecutor ToolExecutor, queues *queue.Manager, cfg Config) *Scheduler {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.ParallelToolLimit <= 0 {
		cfg.ParallelToolLimit = DefaultConfig().ParallelToolLimit
	}
	return &Scheduler{
		chain:        chain,
		provider:     provider,
		toolExecutor: toolExecutor,
		queues:       queues,
		cfg:          cfg,
		running:      make(map[string]*activeRun),
	}
}

// seqCounter issues strictly monotonic sequence numbers scoped to one
// run (spec §4.3 ordering guarantees).
type seqCounter struct{ n uint64 }

func (c *seqCounter) next() uint64 { return atomic.AddUint64(&c.n, 1) - 1 }

// Run admits a message onto threadID and drives the run to idle,
// failed, or cancelled, streaming RunEvents on the returned channel.
// The channel is closed when the run reaches a terminal state. Returns
// an error immediately, without starting a run, if the thread already
// has an active run (spec §5 strict seriality).
func (s *Scheduler) Run(ctx context.Context, threadID, runID, message string) (<-chan *models.RunEvent, error) {
	return s.RunWithHistory(ctx, threadID, runID, message, nil)
}

// RunWithHistory is Run, but seeds the request with prior conversation
// turns before appending the new user message. Callers that reconstruct
// a thread's history from durable storage (run_events replay plus any
// summary.Store records) use this to continue a conversation across
// separate Run calls; Run itself is just RunWithHistory with no history.
func (s *Scheduler) RunWithHistory(ctx context.Context, threadID, runID, message string, history []middleware.Message) (<-chan *models.RunEvent, error) {
	s.mu.Lock()
	if _, busy := s.running[threadID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler: thread %s already has an active run", threadID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan *models.RunEvent, 64)
	seq := &seqCounter{}
	s.running[threadID] = &activeRun{runID: runID, state: RunStreaming, cancel: cancel, seq: seq, events: events}
	s.mu.Unlock()

	go func() {
		defer close(events)
		defer s.finishRun(threadID)
		s.driveRun(runCtx, threadID, runID, message, history, seq, events)
	}()

	return events, nil
}

// Cancel requests cancellation of the active run on threadID, if any.
func (s *Scheduler) Cancel(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.running[threadID]
	if !ok {
		return false
	}
	run.state = RunCancelling
	run.cancel()
	return true
}

func (s *Scheduler) finishRun(threadID string) {
	s.mu.Lock()
	delete(s.running, threadID)
	s.mu.Unlock()
}

func (s *Scheduler) setState(threadID string, state RunState) {
	s.mu.Lock()
	if run, ok := s.running[threadID]; ok {
		run.state = state
	}
	s.mu.Unlock()
}

// State returns the current RunState for a thread's active run, or
// RunIdle if none is active.
func (s *Scheduler) State(threadID string) RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.running[threadID]; ok {
		return run.state
	}
	return RunIdle
}

func (s *Scheduler) driveRun(ctx context.Context, threadID, runID, message string, history []middleware.Message, seq *seqCounter, events chan<- *models.RunEvent) {
	if err := s.chain.RunBeforeAgent(ctx, threadID); err != nil {
		s.emitError(events, runID, seq, models.ErrorKindInternalBug, err)
		s.setState(threadID, RunFailed)
		return
	}
	defer s.chain.RunAfterAgent(ctx, threadID)

	messages := make([]middleware.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, middleware.Message{Role: "user", Content: message})

	req := &middleware.ModelRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		Tools:     s.chain.Tools(),
		Messages:  messages,
	}
	ctx = middleware.WithThreadID(ctx, threadID)

	iteration := 0
	for {
		if ctx.Err() != nil {
			s.setState(threadID, RunCancelling)
			s.emit(events, runID, seq, &models.RunEvent{Type: models.RunEventCancelled})
			s.setState(threadID, RunIdle)
			return
		}
		if s.cfg.MaxIterations > 0 && iteration >= s.cfg.MaxIterations {
			s.emitError(events, runID, seq, models.ErrorKindInternalBug, fmt.Errorf("exceeded max iterations %d", s.cfg.MaxIterations))
			s.setState(threadID, RunFailed)
			return
		}
		iteration++

		s.setState(threadID, RunStreaming)
		resp, err := s.chain.RunModelCall(ctx, req, s.terminalModelCall(threadID, runID, seq, events))
		if err != nil {
			if ctx.Err() != nil {
				s.emit(events, runID, seq, &models.RunEvent{Type: models.RunEventCancelled})
				s.setState(threadID, RunIdle)
				return
			}
			s.emitError(events, runID, seq, models.ErrorKindTransient, err)
			s.setState(threadID, RunFailed)
			return
		}

		if len(resp.ToolCalls) == 0 {
			req.Messages = append(req.Messages, middleware.Message{Role: "assistant", Content: resp.Text})
			s.setState(threadID, RunDraining)

			injected := s.drainQueues(threadID)
			if len(injected) == 0 {
				s.emit(events, runID, seq, &models.RunEvent{Type: models.RunEventDone})
				s.setState(threadID, RunIdle)
				return
			}
			req.Messages = append(req.Messages, injected...)
			continue
		}

		req.Messages = append(req.Messages, middleware.Message{Role: "assistant", Content: resp.Text, ToolCalls: resp.ToolCalls})
		s.setState(threadID, RunAwaitingTools)

		results := s.dispatchTools(ctx, threadID, runID, resp.ToolCalls, seq, events)
		req.Messages = append(req.Messages, middleware.Message{Role: "tool", ToolResults: results})
	}
}

// terminalModelCall adapts the configured Provider into the chain's
// terminal ModelCallFunc, emitting text RunEvents as the stream
// arrives and aggregating the full response for the middleware chain.
func (s *Scheduler) terminalModelCall(threadID, runID string, seq *seqCounter, events chan<- *models.RunEvent) middleware.ModelCallFunc {
	return func(ctx context.Context, req *middleware.ModelRequest) (*middleware.ModelResponse, error) {
		chunks, err := s.provider.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		var resp middleware.ModelResponse
		for chunk := range chunks {
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if chunk.Text != "" {
				resp.Text += chunk.Text
				s.emit(events, runID, seq, &models.RunEvent{Type: models.RunEventText, TextDelta: chunk.Text})
			}
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
			if chunk.Done {
				break
			}
		}
		return &resp, nil
	}
}

// dispatchTools runs every tool call through the middleware chain
// concurrently, bounded by ParallelToolLimit, emitting a tool_call
// event before dispatch and a tool_result event on completion. Within
// one assistant message, tool_call events precede their paired
// tool_result (spec §4.3); results are collected in a fixed slot per
// call so ordering in the returned slice always matches the call order
// even though completion order may differ.
func (s *Scheduler) dispatchTools(ctx context.Context, threadID, runID string, calls []models.ToolCall, seq *seqCounter, events chan<- *models.RunEvent) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))

	for _, tc := range calls {
		s.emit(events, runID, seq, &models.RunEvent{Type: models.RunEventToolCall, ToolCallID: tc.ID, ToolName: tc.Name, ToolArgs: string(tc.Input)})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ParallelToolLimit)

	for i, tc := range calls {
		i, tc := i, tc
		g.Go(func() error {
			if tc.Name == "task" && s.taskDrainer != nil {
				stopRelay := s.relaySubAgentEvents(gctx, tc.ID, runID, seq, events)
				defer stopRelay()
			}
			inv := &middleware.ToolInvocation{ThreadID: threadID, RunID: runID, ToolCallID: tc.ID, ToolName: tc.Name, Args: argsFromRawMessage(tc.Input)}
			res, err := s.chain.RunToolCall(gctx, inv, func(ctx context.Context, inv *middleware.ToolInvocation) (*models.ToolResult, error) {
				return s.toolExecutor.Execute(ctx, inv)
			})
			if err != nil {
				res = &models.ToolResult{ToolCallID: tc.ID, Content: err.Error(), IsError: true}
			}
			results[i] = *res
			s.emit(events, runID, seq, &models.RunEvent{Type: models.RunEventToolResult, ToolCallID: res.ToolCallID, ToolContent: res.Content, ToolIsError: res.IsError})
			return nil
		})
	}
	_ = g.Wait() // dispatchTools never fails the run: individual tool errors surface as IsError results.

	return results
}

// relaySubAgentEvents polls for the Task middleware's event buffer for
// one parent_tool_call_id and, once found, forwards every event it
// produces onto the parent run's stream, rewritten into the task_-
// prefixed taxonomy and stamped with seq numbers from the parent run's
// own counter -- so the whole stream, sub-agent activity included,
// shares one globally ordered sequence interleaved by emission time
// rather than buffered until the sub-agent completes. The returned
// stop function blocks until the relay goroutine has exited, so the
// caller can safely emit the tool_result event right after without a
// race against in-flight sub-agent events.
func (s *Scheduler) relaySubAgentEvents(ctx context.Context, parentToolCallID, runID string, seq *seqCounter, events chan<- *models.RunEvent) (stop func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		var buf <-chan *models.RunEvent
		for {
			if ch, ok := s.taskDrainer.Drain(parentToolCallID); ok {
				buf = ch
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
		for event := range buf {
			s.emit(events, runID, seq, middleware.PrefixSubAgentEvent(event, parentToolCallID))
		}
	}()
	return func() { <-done }
}

// drainQueues drains followup and collect at the draining boundary,
// returning synthetic user messages for injection (spec §4.4).
func (s *Scheduler) drainQueues(threadID string) []middleware.Message {
	if s.queues == nil {
		return nil
	}
	entries, err := s.queues.DrainForInjection(threadID, queue.DrainEnteringDraining)
	if err != nil || len(entries) == 0 {
		return nil
	}
	out := make([]middleware.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, middleware.Message{Role: "user", Content: e.Content, Attachments: e.Attachments})
	}
	return out
}

func (s *Scheduler) emit(events chan<- *models.RunEvent, runID string, seq *seqCounter, event *models.RunEvent) {
	event.RunID = runID
	event.Seq = seq.next()
	event.CreatedAt = time.Now()
	events <- event
}

func (s *Scheduler) emitError(events chan<- *models.RunEvent, runID string, seq *seqCounter, kind models.ErrorKind, err error) {
	s.emit(events, runID, seq, &models.RunEvent{Type: models.RunEventError, ErrorKind: kind, ErrorMessage: err.Error()})
}

// argsFromRawMessage decodes a tool call's raw JSON input into the
// map[string]any shape middleware.ToolInvocation.Args expects. A
// malformed payload degrades to an empty map rather than failing the
// run outright; FileSystem/Command/etc. middlewares validate their own
// required keys and return an error ToolResult when they're missing.
func argsFromRawMessage(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
