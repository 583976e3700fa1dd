package models

import "time"

// Thread is the durable conversation identity. It owns exactly one
// ChatSession at a time and is destroyed only by explicit deletion.
type Thread struct {
	ThreadID  string    `json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
	Preview   string    `json:"preview"`
}

// ErrorKind classifies run/tool-level failures per the error handling
// design (spec §7). It is data, not a Go error type, so it can be
// serialized onto a RunEvent and surfaced to an LLM as tool_result
// content.
type ErrorKind string

const (
	ErrorKindInvalidInput  ErrorKind = "invalid_input"
	ErrorKindPolicyDenied  ErrorKind = "policy_denied"
	ErrorKindTransient     ErrorKind = "transient"
	ErrorKindProviderFatal ErrorKind = "provider_fatal"
	ErrorKindInternalBug   ErrorKind = "internal_bug"
	ErrorKindCancelled     ErrorKind = "cancelled"
)

// RunEventType enumerates the transient RunEvent variants (spec §3).
type RunEventType string

const (
	RunEventText           RunEventType = "text"
	RunEventToolCall       RunEventType = "tool_call"
	RunEventToolResult     RunEventType = "tool_result"
	RunEventStatus         RunEventType = "status"
	RunEventTaskStart      RunEventType = "task_start"
	RunEventTaskText       RunEventType = "task_text"
	RunEventTaskToolCall   RunEventType = "task_tool_call"
	RunEventTaskToolResult RunEventType = "task_tool_result"
	RunEventTaskDone       RunEventType = "task_done"
	RunEventDone           RunEventType = "done"
	RunEventError          RunEventType = "error"
	RunEventCancelled      RunEventType = "cancelled"
)

// RunEvent is one item in the streamed output of a run. Every event
// carries a monotonically increasing Seq scoped to its RunID (spec §8).
type RunEvent struct {
	RunID     string       `json:"run_id"`
	Seq       uint64       `json:"seq"`
	Type      RunEventType `json:"type"`
	CreatedAt time.Time    `json:"created_at"`

	// text
	TextDelta string `json:"text_delta,omitempty"`

	// tool_call
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolArgs   string `json:"tool_args,omitempty"`

	// tool_result
	ToolContent string `json:"tool_content,omitempty"`
	ToolIsError bool   `json:"tool_is_error,omitempty"`

	// status
	AgentState string `json:"agent_state,omitempty"`
	Tokens     *Usage `json:"tokens,omitempty"`
	Context    *ContextUsage `json:"context,omitempty"`

	// sub-agent events carry the parent tool_call_id they report through.
	ParentToolCallID string `json:"parent_tool_call_id,omitempty"`

	// error / cancelled
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Usage mirrors the six token buckets the runtime observer tracks.
type Usage struct {
	Input          int64 `json:"input"`
	Output         int64 `json:"output"`
	Reasoning      int64 `json:"reasoning"`
	CacheRead      int64 `json:"cache_read"`
	CacheCreation  int64 `json:"cache_creation"`
	Total          int64 `json:"total"`
}

// ContextUsage summarizes context-window pressure for a ContextMonitor.
type ContextUsage struct {
	MessageCount  int     `json:"message_count"`
	TokenEstimate int64   `json:"token_estimate"`
	ContextLimit  int64   `json:"context_limit"`
	NearLimit     bool    `json:"near_limit"`
	UsageRatio    float64 `json:"usage_ratio"`
}

// QueueTarget is the sum-type tag for the five queue-manager destinations
// (spec §4.4).
type QueueTarget string

const (
	QueueInterrupt QueueTarget = "interrupt"
	QueueSteer     QueueTarget = "steer"
	QueueFollowup  QueueTarget = "followup"
	QueueCollect   QueueTarget = "collect"
	QueueBacklog   QueueTarget = "backlog"
)

// QueueMode selects the routing policy applied to messages arriving
// while a run is in progress.
type QueueMode string

const (
	QueueModeSteer        QueueMode = "steer"
	QueueModeFollowup     QueueMode = "followup"
	QueueModeCollect      QueueMode = "collect"
	QueueModeSteerBacklog QueueMode = "steer_backlog"
	QueueModeInterrupt    QueueMode = "interrupt"
)

// QueueEntry is a single pending message awaiting injection into a run.
type QueueEntry struct {
	Content     string       `json:"content"`
	Target      QueueTarget  `json:"target"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Seq         uint64       `json:"seq"`
}
