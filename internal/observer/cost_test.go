package observer

import (
	"testing"

	"github.com/coreagent/enginectl/pkg/models"
)

func TestCostCalculator_ExactMatchWins(t *testing.T) {
	c := NewCostCalculator()
	c.SetPrice("claude-opus-4", ModelPrice{Input: 15, Output: 75})
	c.SetPrice("claude", ModelPrice{Input: 1, Output: 1})

	b := c.Estimate("claude-opus-4", models.Usage{Input: 1_000_000, Output: 1_000_000})
	if USD(b.Input) != 15 || USD(b.Output) != 75 {
		t.Errorf("exact match breakdown = %+v, want input=15 output=75 (USD)", b)
	}
}

func TestCostCalculator_AliasResolvesToCanonical(t *testing.T) {
	c := NewCostCalculator()
	c.SetPrice("claude-opus-4-20250101", ModelPrice{Input: 15})
	c.SetAlias("opus", "claude-opus-4-20250101")

	b := c.Estimate("opus", models.Usage{Input: 1_000_000})
	if USD(b.Input) != 15 {
		t.Errorf("alias resolution gave input cost %v, want 15", USD(b.Input))
	}
}

func TestCostCalculator_LongestPrefixWins(t *testing.T) {
	c := NewCostCalculator()
	c.SetPrice("claude", ModelPrice{Input: 1})
	c.SetPrice("claude-opus", ModelPrice{Input: 15})

	b := c.Estimate("claude-opus-4-20250101", models.Usage{Input: 1_000_000})
	if USD(b.Input) != 15 {
		t.Errorf("expected longest-prefix match (claude-opus), got input cost %v", USD(b.Input))
	}
}

func TestCostCalculator_UnknownModelReturnsZero(t *testing.T) {
	c := NewCostCalculator()
	b := c.Estimate("does-not-exist", models.Usage{Input: 1_000_000})
	if b.Total != 0 {
		t.Errorf("Total = %d, want 0 for unknown model", b.Total)
	}
}
