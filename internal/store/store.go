// Package store implements the durable relational store described in
// spec.md §6.3: chat_sessions, abstract_terminals, sandbox_leases,
// summaries, and run_events, backed by embedded SQLite with WAL mode
// and foreign-key enforcement. It also persists the Thread entity
// itself (spec.md §3) in a `threads` table: §6.3's schema list omits it
// since a thread's durability already follows from owning a
// chat_sessions row, but `GET/POST/DELETE /api/threads` (§6.1) need
// thread metadata (created_at, preview) to survive independently of
// whether a session currently exists for it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/coreagent/enginectl/internal/sandboxsession"
	"github.com/coreagent/enginectl/internal/summary"
	"github.com/coreagent/enginectl/pkg/models"
)

// Store is the embedded durable store backing the sandbox session
// layer, the memory manager's SummaryStore, and the run-event log.
type Store struct {
	db *sql.DB

	// threadLocks serializes writers to the same thread's summary rows,
	// satisfying spec §4.5's "row-level locking" durability guarantee
	// while leaving different threads free to write concurrently.
	mu          sync.Mutex
	threadLocks map[string]*sync.Mutex
}

// Open creates (if necessary) and opens a SQLite database at path,
// applying WAL journaling, foreign-key enforcement, and synchronous
// commit (fsync on every commit, per spec §4.5/§6.3 durability
// requirements).
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite writer serialization; WAL allows concurrent readers regardless.

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, threadLocks: make(map[string]*sync.Mutex)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			preview TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			session_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL UNIQUE,
			terminal_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_active_at DATETIME NOT NULL,
			policy_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS abstract_terminals (
			terminal_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL UNIQUE,
			lease_id TEXT NOT NULL,
			state_json TEXT NOT NULL,
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sandbox_leases (
			lease_id TEXT PRIMARY KEY,
			provider_name TEXT NOT NULL,
			instance_json TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			thread_id TEXT NOT NULL,
			slot_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (thread_id, slot_index)
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			data_json TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			thread_id TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_thread ON run_events (thread_id, run_id, seq)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) lockFor(threadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.threadLocks[threadID]
	if !ok {
		l = &sync.Mutex{}
		s.threadLocks[threadID] = l
	}
	return l
}

// --- threads ---

// ThreadRecord is the durable row backing the Thread entity (spec §3).
type ThreadRecord struct {
	ThreadID  string
	CreatedAt time.Time
	Preview   string
}

// CreateThread persists a new thread. Called on explicit client
// creation (POST /api/threads), never implicitly.
func (s *Store) CreateThread(ctx context.Context, threadID, preview string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO threads (thread_id, created_at, preview) VALUES (?, ?, ?)`,
		threadID, createdAt, preview)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	return nil
}

// GetThread returns nil, nil when no thread with that ID exists.
func (s *Store) GetThread(ctx context.Context, threadID string) (*ThreadRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT thread_id, created_at, preview FROM threads WHERE thread_id = ?`, threadID)
	var rec ThreadRecord
	if err := row.Scan(&rec.ThreadID, &rec.CreatedAt, &rec.Preview); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &rec, nil
}

// ListThreads returns every thread, most recently created first.
func (s *Store) ListThreads(ctx context.Context) ([]*ThreadRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT thread_id, created_at, preview FROM threads ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []*ThreadRecord
	for rows.Next() {
		var rec ThreadRecord
		if err := rows.Scan(&rec.ThreadID, &rec.CreatedAt, &rec.Preview); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// UpdateThreadPreview overwrites the preview excerpt, e.g. once the
// first user message of a thread is known.
func (s *Store) UpdateThreadPreview(ctx context.Context, threadID, preview string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE threads SET preview = ? WHERE thread_id = ?`, preview, threadID)
	if err != nil {
		return fmt.Errorf("update thread preview: %w", err)
	}
	return nil
}

// DeleteThread removes a thread and every row that references it
// (chat_sessions/abstract_terminals cascade via their own thread_id
// columns; sandbox_leases are lease-identified and may be shared, so
// they are left for the sandbox manager to tear down explicitly).
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete thread: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM run_events WHERE thread_id = ?`, []any{threadID}},
		{`DELETE FROM summaries WHERE thread_id = ?`, []any{threadID}},
		{`DELETE FROM abstract_terminals WHERE thread_id = ?`, []any{threadID}},
		{`DELETE FROM chat_sessions WHERE thread_id = ?`, []any{threadID}},
		{`DELETE FROM threads WHERE thread_id = ?`, []any{threadID}},
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("delete thread: %w", err)
		}
	}
	return tx.Commit()
}

// --- sandboxsession.SessionStore ---

var _ sandboxsession.SessionStore = (*Store)(nil)

func (s *Store) CreateSession(ctx context.Context, rec *sandboxsession.ChatSessionRecord) error {
	policyJSON, err := json.Marshal(rec.Policy)
	if err != nil {
		return fmt.Errorf("marshal session policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (session_id, thread_id, terminal_id, status, created_at, last_active_at, policy_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.ThreadID, rec.TerminalID, string(rec.Status),
		rec.CreatedAt, rec.LastActiveAt, string(policyJSON),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSessionByThread(ctx context.Context, threadID string) (*sandboxsession.ChatSessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, thread_id, terminal_id, status, created_at, last_active_at, policy_json
		FROM chat_sessions WHERE thread_id = ?`, threadID)

	var rec sandboxsession.ChatSessionRecord
	var status, policyJSON string
	if err := row.Scan(&rec.SessionID, &rec.ThreadID, &rec.TerminalID, &status, &rec.CreatedAt, &rec.LastActiveAt, &policyJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get session by thread: %w", err)
	}
	rec.Status = sandboxsession.SessionStatus(status)
	if err := json.Unmarshal([]byte(policyJSON), &rec.Policy); err != nil {
		return nil, fmt.Errorf("unmarshal session policy: %w", err)
	}
	return &rec, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status sandboxsession.SessionStatus, lastActiveAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET status = ?, last_active_at = ? WHERE session_id = ?`,
		string(status), lastActiveAt, sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// --- sandboxsession.TerminalStore ---

func (s *Store) CreateTerminal(ctx context.Context, terminalID, threadID, leaseID string, state sandboxsession.TerminalState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal terminal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO abstract_terminals (terminal_id, thread_id, lease_id, state_json, version)
		VALUES (?, ?, ?, ?, ?)`,
		terminalID, threadID, leaseID, string(stateJSON), state.Version,
	)
	if err != nil {
		return fmt.Errorf("create terminal: %w", err)
	}
	return nil
}

func (s *Store) GetTerminalByThread(ctx context.Context, threadID string) (*sandboxsession.AbstractTerminal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT terminal_id, lease_id, state_json
		FROM abstract_terminals WHERE thread_id = ?`, threadID)

	var terminalID, leaseID, stateJSON string
	if err := row.Scan(&terminalID, &leaseID, &stateJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get terminal by thread: %w", err)
	}

	var state sandboxsession.TerminalState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("unmarshal terminal state: %w", err)
	}
	return sandboxsession.NewAbstractTerminal(terminalID, threadID, leaseID, state, s), nil
}

func (s *Store) UpdateTerminalState(ctx context.Context, terminalID string, state sandboxsession.TerminalState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal terminal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE abstract_terminals SET state_json = ?, version = ? WHERE terminal_id = ?`,
		string(stateJSON), state.Version, terminalID,
	)
	if err != nil {
		return fmt.Errorf("update terminal state: %w", err)
	}
	return nil
}

// --- sandboxsession.LeaseStore ---

func (s *Store) CreateLease(ctx context.Context, leaseID, providerName string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sandbox_leases (lease_id, provider_name, instance_json) VALUES (?, ?, NULL)`, leaseID, providerName)
	if err != nil {
		return fmt.Errorf("create lease: %w", err)
	}
	return nil
}

func (s *Store) GetLease(ctx context.Context, leaseID string) (*sandboxsession.LeaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT lease_id, provider_name, instance_json
		FROM sandbox_leases WHERE lease_id = ?`, leaseID)

	var rec sandboxsession.LeaseRecord
	var instanceJSON sql.NullString
	if err := row.Scan(&rec.LeaseID, &rec.ProviderName, &instanceJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get lease: %w", err)
	}
	if instanceJSON.Valid {
		var inst sandboxsession.Instance
		if err := json.Unmarshal([]byte(instanceJSON.String), &inst); err != nil {
			return nil, fmt.Errorf("unmarshal lease instance: %w", err)
		}
		rec.Instance = &inst
	}
	return &rec, nil
}

func (s *Store) UpdateLeaseInstance(ctx context.Context, leaseID string, instance *sandboxsession.Instance) error {
	if instance == nil {
		_, err := s.db.ExecContext(ctx, `UPDATE sandbox_leases SET instance_json = NULL WHERE lease_id = ?`, leaseID)
		if err != nil {
			return fmt.Errorf("clear lease instance: %w", err)
		}
		return nil
	}
	instanceJSON, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("marshal lease instance: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sandbox_leases SET instance_json = ? WHERE lease_id = ?`, string(instanceJSON), leaseID)
	if err != nil {
		return fmt.Errorf("update lease instance: %w", err)
	}
	return nil
}

// --- summary.Store ---

var _ summary.Store = (*Store)(nil)

// estimateTokens is a coarse chars/4 heuristic used only for the
// durable row's token_count column (spec §6.3 schema); the memory
// manager's own token accounting goes through summary.TokenEstimator.
func estimateTokens(content string) int64 {
	return int64(len(content)/4 + 1)
}

func (s *Store) Append(ctx context.Context, threadID, content string) (int, error) {
	lock := s.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	var next int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(slot_index) + 1, 0) FROM summaries WHERE thread_id = ?`, threadID)
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("append summary: resolve slot: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO summaries (thread_id, slot_index, content, token_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		threadID, next, content, estimateTokens(content), time.Now())
	if err != nil {
		return 0, fmt.Errorf("append summary: %w", err)
	}
	return next, nil
}

func (s *Store) LoadAll(ctx context.Context, threadID string) ([]summary.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT thread_id, slot_index, content FROM summaries WHERE thread_id = ? ORDER BY slot_index ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("load summaries: %w", err)
	}
	defer rows.Close()

	var out []summary.Record
	for rows.Next() {
		var r summary.Record
		if err := rows.Scan(&r.ThreadID, &r.SlotIndex, &r.Content); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- run_events ---

// AppendRunEvent persists one RunEvent for replay (spec §6.1
// "runs/stream?after=seq").
func (s *Store) AppendRunEvent(ctx context.Context, threadID string, event *models.RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, seq, event_type, data_json, created_at, thread_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Seq, string(event.Type), string(payload), event.CreatedAt, threadID,
	)
	if err != nil {
		return fmt.Errorf("append run event: %w", err)
	}
	return nil
}

// ListRunEventsAfter returns every event for runID with Seq > afterSeq,
// in sequence order, for stream-replay on reconnect.
func (s *Store) ListRunEventsAfter(ctx context.Context, runID string, afterSeq uint64) ([]*models.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_json FROM run_events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`, runID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	var out []*models.RunEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		var event models.RunEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("unmarshal run event: %w", err)
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}

// ListRunEventsForThread returns every event ever recorded for
// threadID across all its runs, in run/seq order, for reconstructing a
// thread's full conversation history on process restart (spec §6.1 "GET
// /api/threads/{id}" returning the full thread with messages).
func (s *Store) ListRunEventsForThread(ctx context.Context, threadID string) ([]*models.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_json FROM run_events WHERE thread_id = ? ORDER BY created_at ASC, seq ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list run events for thread: %w", err)
	}
	defer rows.Close()

	var out []*models.RunEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		var event models.RunEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("unmarshal run event: %w", err)
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}
