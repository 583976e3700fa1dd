package main

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/coreagent/enginectl/internal/middleware"
)

// tokenEstimator wraps a tiktoken cl100k_base encoder (a Claude-compatible
// approximation, same choice the pack's own token counter makes) behind
// the summary.TokenEstimator function shape, falling back to a char/4
// heuristic if the encoder failed to load.
type tokenEstimator struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

func newTokenEstimator() *tokenEstimator {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &tokenEstimator{}
	}
	return &tokenEstimator{encoder: enc}
}

func (e *tokenEstimator) count(text string) int64 {
	if e.encoder == nil {
		return int64(len(text)/4 + 1)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return int64(len(e.encoder.Encode(text, nil, nil)))
}

// Estimate implements summary.TokenEstimator, counting the visible text
// content of each message plus a small fixed per-message overhead for
// role/formatting (mirroring the pack's own message-overhead estimate).
func (e *tokenEstimator) Estimate(messages []middleware.Message) int64 {
	var total int64
	for _, m := range messages {
		total += 10
		total += e.count(m.Content)
	}
	return total
}
