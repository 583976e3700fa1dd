// Package queue implements the per-thread, mode-routed message inbox
// described in spec.md §4.4: five logical queues (interrupt, steer,
// followup, collect, backlog) that admit messages arriving while a run
// is in progress and drain them at scheduler-defined safe points.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/coreagent/enginectl/pkg/models"
)

// DrainPoint identifies which scheduler transition is requesting a
// drain, since different queues drain at different points.
type DrainPoint string

const (
	// DrainSafePoint is the boundary between LLM messages where steer
	// entries may be injected.
	DrainSafePoint DrainPoint = "safe_point"
	// DrainEnteringDraining fires when the run transitions into
	// draining: followup and collect both flush here.
	DrainEnteringDraining DrainPoint = "entering_draining"
	// DrainExplicitFlush fires on an explicit external flush request,
	// draining collect (always) and backlog (only if requested).
	DrainExplicitFlush DrainPoint = "explicit_flush"
	// DrainExplicitBacklog fires on an explicit backlog-release
	// request; only the backlog queue drains.
	DrainExplicitBacklog DrainPoint = "explicit_backlog"
)

// ThreadQueue holds the five per-thread queues and the thread's current
// queue_mode. Safe for concurrent use: a single mutex guards all queue
// mutations (spec §5 concurrency policy: "per-thread mutex around
// queue mutations; non-blocking enqueue, blocking drain only at safe
// points").
type ThreadQueue struct {
	mu   sync.Mutex
	mode models.QueueMode
	next uint64

	interrupt []models.QueueEntry
	steer     []models.QueueEntry
	followup  []models.QueueEntry
	collect   []models.QueueEntry
	backlog   []models.QueueEntry
}

// NewThreadQueue constructs a queue defaulted to steer mode (spec §6.2
// default `queue_mode`).
func NewThreadQueue() *ThreadQueue {
	return &ThreadQueue{mode: models.QueueModeSteer}
}

// SetMode changes the thread's queue_mode, affecting how future
// Enqueue calls route.
func (q *ThreadQueue) SetMode(mode models.QueueMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mode = mode
}

// Mode returns the current queue_mode.
func (q *ThreadQueue) Mode() models.QueueMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mode
}

// Enqueue admits a message according to the thread's current
// queue_mode and returns its sequence index (monotonic per thread, not
// reset across drains). Non-blocking by construction: it only appends
// to an in-memory slice under the thread's mutex (spec §4.4 contract).
func (q *ThreadQueue) Enqueue(content string, attachments []models.Attachment) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq := q.next
	q.next++
	entry := models.QueueEntry{
		Content:     content,
		EnqueuedAt:  time.Now(),
		Attachments: attachments,
		Seq:         seq,
	}

	switch q.mode {
	case models.QueueModeInterrupt:
		entry.Target = models.QueueInterrupt
		q.interrupt = append(q.interrupt, entry)
	case models.QueueModeFollowup:
		entry.Target = models.QueueFollowup
		q.followup = append(q.followup, entry)
	case models.QueueModeCollect:
		entry.Target = models.QueueCollect
		q.collect = append(q.collect, entry)
	case models.QueueModeSteerBacklog:
		// steer_backlog routes to both steer and backlog for
		// observability/auditability (spec §4.4) -- the same logical
		// message is appended to each queue independently so each can
		// be drained (and audited) on its own schedule.
		steerEntry := entry
		steerEntry.Target = models.QueueSteer
		q.steer = append(q.steer, steerEntry)
		backlogEntry := entry
		backlogEntry.Target = models.QueueBacklog
		q.backlog = append(q.backlog, backlogEntry)
	case models.QueueModeSteer:
		fallthrough
	default:
		entry.Target = models.QueueSteer
		q.steer = append(q.steer, entry)
	}

	return seq
}

// DrainForInjection returns, in FIFO order, the messages that should be
// injected at the given drain point, removing them from their queues.
// Multiple queues may drain at the same point (e.g. followup and
// collect both drain at DrainEnteringDraining).
func (q *ThreadQueue) DrainForInjection(point DrainPoint) []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []models.QueueEntry
	switch point {
	case DrainSafePoint:
		out = append(out, q.steer...)
		q.steer = nil
	case DrainEnteringDraining:
		out = append(out, q.followup...)
		q.followup = nil
		out = append(out, q.collect...)
		q.collect = nil
	case DrainExplicitFlush:
		out = append(out, q.collect...)
		q.collect = nil
	case DrainExplicitBacklog:
		out = append(out, q.backlog...)
		q.backlog = nil
	}
	return out
}

// DrainInterrupt immediately drains the interrupt queue. Unlike other
// queues, callers are expected to check HasInterrupt (or inspect the
// returned slice) on every scheduler tick, since interrupt messages
// cancel the current stream rather than waiting for a safe point.
func (q *ThreadQueue) DrainInterrupt() []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.interrupt
	q.interrupt = nil
	return out
}

// HasInterrupt reports whether an interrupt message is pending without
// draining it.
func (q *ThreadQueue) HasInterrupt() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.interrupt) > 0
}

// DrainBacklog is an alias for DrainForInjection(DrainExplicitBacklog),
// provided for callers that only ever want the backlog queue.
func (q *ThreadQueue) DrainBacklog() []models.QueueEntry {
	return q.DrainForInjection(DrainExplicitBacklog)
}

// Depths reports the current length of each queue, for diagnostics and
// the runtime observer's status events.
func (q *ThreadQueue) Depths() map[models.QueueTarget]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return map[models.QueueTarget]int{
		models.QueueInterrupt: len(q.interrupt),
		models.QueueSteer:     len(q.steer),
		models.QueueFollowup:  len(q.followup),
		models.QueueCollect:   len(q.collect),
		models.QueueBacklog:   len(q.backlog),
	}
}

// Manager owns one ThreadQueue per thread, created lazily on first use.
type Manager struct {
	mu      sync.Mutex
	threads map[string]*ThreadQueue
}

// NewManager constructs an empty queue manager.
func NewManager() *Manager {
	return &Manager{threads: make(map[string]*ThreadQueue)}
}

// ForThread returns (creating if necessary) the ThreadQueue for a
// thread ID.
func (m *Manager) ForThread(threadID string) *ThreadQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	tq, ok := m.threads[threadID]
	if !ok {
		tq = NewThreadQueue()
		m.threads[threadID] = tq
	}
	return tq
}

// Enqueue is a convenience wrapper around ForThread(threadID).Enqueue.
func (m *Manager) Enqueue(threadID, content string, attachments []models.Attachment) uint64 {
	return m.ForThread(threadID).Enqueue(content, attachments)
}

// DrainForInjection is a convenience wrapper around
// ForThread(threadID).DrainForInjection, returning an error if the
// thread has never enqueued anything (nothing to drain and nothing to
// route to, so callers likely passed a stale thread ID).
func (m *Manager) DrainForInjection(threadID string, point DrainPoint) ([]models.QueueEntry, error) {
	m.mu.Lock()
	tq, ok := m.threads[threadID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("queue: unknown thread %q", threadID)
	}
	return tq.DrainForInjection(point), nil
}
