package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreagent/enginectl/internal/engineconfig"
	"github.com/coreagent/enginectl/internal/jobs"
	"github.com/coreagent/enginectl/internal/llmbridge"
	"github.com/coreagent/enginectl/internal/middleware"
	"github.com/coreagent/enginectl/internal/observer"
	"github.com/coreagent/enginectl/internal/queue"
	"github.com/coreagent/enginectl/internal/sandboxsession"
	"github.com/coreagent/enginectl/internal/scheduler"
	"github.com/coreagent/enginectl/internal/store"
	"github.com/coreagent/enginectl/internal/summary"
)

// app holds every long-lived component the HTTP server dispatches
// against, wired once at startup (spec §4: middleware stack, scheduler,
// sandbox manager, memory manager, runtime observer, queue manager, all
// sharing the one durable store).
type app struct {
	cfg *engineconfig.Config

	store    *store.Store
	sandbox  *sandboxsession.SandboxManager
	queues   *queue.Manager
	runtime  *observer.AgentRuntime
	jobs     jobs.Store
	chain    *middleware.Chain
	sched    *scheduler.Scheduler
	warnings *warningLog

	mu       sync.Mutex
	lastRun  map[string]string // threadID -> most recent runID, for the stream/after endpoint
}

// warningLog is a tiny in-memory ring of the most recent compaction
// warnings per thread, satisfying summary.WarningSink. Warnings are
// advisory (spec §4.5: "LLM summarization failed, conversation left
// untouched") so losing old ones on restart is acceptable.
type warningLog struct {
	mu       sync.Mutex
	byThread map[string][]string
}

func newWarningLog() *warningLog {
	return &warningLog{byThread: make(map[string][]string)}
}

func (w *warningLog) Warn(threadID, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	entries := append(w.byThread[threadID], message)
	if len(entries) > 20 {
		entries = entries[len(entries)-20:]
	}
	w.byThread[threadID] = entries
}

func (w *warningLog) recent(threadID string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.byThread[threadID]...)
}

// buildApp loads configuration and wires every component. The Task
// middleware's SubAgentRunner is the scheduler itself, which doesn't
// exist yet when the chain is built, so Task is constructed first with
// a nil runner and patched once the scheduler comes into being; Task is
// likewise registered as the scheduler's drainer only after
// construction (spec §4.1 sub-agent event relay).
func buildApp(ctx context.Context, appName, projectDir, dbPath string, logger *slog.Logger) (*app, error) {
	cfg, err := engineconfig.Load(appName, projectDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sandboxMgr := sandboxsession.NewSandboxManager(nil, st, st, st, logger, sandboxsession.WithRemote(false))
	sandboxMgr.Start(ctx)

	jobStore := jobs.NewMemoryStore()
	queues := queue.NewManager()

	provider, err := llmbridge.NewAnthropicProvider(cfg.Agent.APIKey, cfg.Agent.BaseURL, cfg.Agent.Model)
	if err != nil {
		return nil, fmt.Errorf("construct anthropic provider: %w", err)
	}

	estimator := newTokenEstimator()
	compactSettings := cfg.Agent.Memory.Compaction.CompactSettings(cfg.Agent.ContextLimit)
	compactor := summary.NewCompactor(provider, st, estimator.Estimate, compactSettings)
	warnings := newWarningLog()
	memManager := summary.NewManager(compactor, warnings)
	memManager.PruneSettings = cfg.Agent.Memory.Pruning.PruneSettings()

	catalog := newStaticModelCatalog()
	costCalc := observer.NewCostCalculator()
	seedCostCalculator(costCalc)
	runtime := observer.NewAgentRuntime(costCalc, catalog)

	backend := newSandboxBackend(sandboxMgr)

	// Monitor and Task both need a collaborator (the scheduler) that
	// doesn't exist until after the chain it belongs to is built, so
	// both are constructed with a nil collaborator and patched once
	// the scheduler comes into being (the scheduler itself satisfies
	// both middleware.StatusSink and middleware.SubAgentRunner).
	monitor := middleware.NewMonitor(runtime, nil)
	task := middleware.NewTask(nil)

	chain := middleware.NewChain(
		monitor,
		middleware.NewPromptCaching(),
		middleware.NewFileSystem(backend, cfg.Agent.WorkspaceRoot),
		middleware.NewCommand(backend, jobStore, middleware.DangerousCommandHook()),
		middleware.NewMemory(memManager),
		middleware.NewQueue(queues),
		middleware.NewTodo(),
		task,
	)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Model = cfg.Agent.Model
	if cfg.Agent.MaxTokens > 0 {
		schedCfg.MaxTokens = cfg.Agent.MaxTokens
	}

	sched := scheduler.New(chain, provider, unhandledToolExecutor{}, queues, schedCfg)
	sched.SetTaskDrainer(task)
	task.Runner = sched
	monitor.Sink = sched

	a := &app{
		cfg:      cfg,
		store:    st,
		sandbox:  sandboxMgr,
		queues:   queues,
		runtime:  runtime,
		jobs:     jobStore,
		chain:    chain,
		sched:    sched,
		warnings: warnings,
		lastRun:  make(map[string]string),
	}

	return a, nil
}

func (a *app) noteRun(threadID, runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastRun[threadID] = runID
}

func (a *app) currentRun(threadID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.lastRun[threadID]
	return id, ok
}

func (a *app) close() {
	a.sandbox.Stop()
	_ = a.store.Close()
}

// shutdownTimeout is how long graceful shutdown waits for in-flight
// runs before the process exits anyway (mirrors the teacher's 30s
// shutdown budget in cmd/nexus's serve handler).
const shutdownTimeout = 30 * time.Second
