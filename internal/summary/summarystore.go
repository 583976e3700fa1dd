package summary

import (
	"context"

	"github.com/coreagent/enginectl/internal/middleware"
)

// Record is one persisted summary slot for a thread.
type Record struct {
	ThreadID  string
	SlotIndex int
	Content   string
}

// Store is the durable summary ledger contract (spec §4.5): append-only
// per thread, replayable into a reconstructed conversation view.
// Concrete implementations (see internal/store) must fsync on commit
// and serialize concurrent writers to the same thread via row-level
// locking, while allowing different threads to proceed independently.
type Store interface {
	// Append persists content as the next slot for threadID and
	// returns its slot index.
	Append(ctx context.Context, threadID, content string) (int, error)
	// LoadAll returns every summary recorded for threadID, in slot
	// order.
	LoadAll(ctx context.Context, threadID string) ([]Record, error)
}

// RebuildConversation replays every summary slot for threadID into the
// summarized conversation view a restarted process would see (spec
// §4.5: "rebuild_conversation(thread_id, checkpointer) -> messages").
// Each slot becomes one synthetic system message, in slot order,
// followed by tail, the most recent un-summarized messages the caller
// is holding in memory (e.g. loaded from the message store).
func RebuildConversation(ctx context.Context, store Store, threadID string, tail []middleware.Message) ([]middleware.Message, error) {
	records, err := store.LoadAll(ctx, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]middleware.Message, 0, len(records)+len(tail))
	for _, r := range records {
		out = append(out, middleware.Message{Role: "system", Content: r.Content})
	}
	out = append(out, tail...)
	return out, nil
}
