package main

import (
	"testing"

	"github.com/coreagent/enginectl/internal/middleware"
)

// Constructed directly rather than via newTokenEstimator to exercise
// the char/4 fallback path without depending on network access to
// fetch the cl100k_base encoder.
func fallbackEstimator() *tokenEstimator {
	return &tokenEstimator{}
}

func TestTokenEstimatorFallbackCountsPerMessageOverhead(t *testing.T) {
	e := fallbackEstimator()
	messages := []middleware.Message{
		{Role: "user", Content: "hi"},
	}
	got := e.Estimate(messages)
	want := int64(10) + e.count("hi")
	if got != want {
		t.Errorf("Estimate = %d, want %d", got, want)
	}
}

func TestTokenEstimatorFallbackScalesWithMessageCount(t *testing.T) {
	e := fallbackEstimator()
	one := e.Estimate([]middleware.Message{{Role: "user", Content: "hello"}})
	two := e.Estimate([]middleware.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hello"},
	})
	if two <= one {
		t.Errorf("expected two messages to estimate higher than one: %d vs %d", two, one)
	}
}

func TestTokenEstimatorFallbackCountIsPositiveForEmptyText(t *testing.T) {
	e := fallbackEstimator()
	if got := e.count(""); got <= 0 {
		t.Errorf("count(\"\") = %d, want > 0", got)
	}
}
