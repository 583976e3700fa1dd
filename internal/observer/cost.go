package observer

import (
	"strings"
	"sync"

	"github.com/coreagent/enginectl/pkg/models"
)

// microUSDScale is fixed-point scale: prices are stored as
// micro-USD (1e-6 USD) per 1M tokens, so every multiply/divide in
// Estimate stays integer arithmetic and never accumulates float
// rounding error across a long-running thread's cumulative cost.
const microUSDScale = 1_000_000

// ModelPrice is a model's per-bucket price, expressed in USD per 1M
// tokens (e.g. 3.00 means $3.00 per million input tokens).
type ModelPrice struct {
	Input         float64
	Output        float64
	Reasoning     float64
	CacheRead     float64
	CacheCreation float64
}

// Breakdown is the fixed-point cost for one usage sample, in micro-USD.
type Breakdown struct {
	Input         int64
	Output        int64
	Reasoning     int64
	CacheRead     int64
	CacheCreation int64
	Total         int64
}

// USD converts a micro-USD amount to a float for display.
func USD(microUSD int64) float64 {
	return float64(microUSD) / microUSDScale
}

// CostCalculator resolves a model name to a price and computes cost in
// fixed-point micro-USD. Resolution order: exact match, then alias
// map, then longest-prefix match (spec §4.6).
type CostCalculator struct {
	mu      sync.RWMutex
	exact   map[string]ModelPrice
	aliases map[string]string
}

// NewCostCalculator constructs an empty calculator.
func NewCostCalculator() *CostCalculator {
	return &CostCalculator{exact: make(map[string]ModelPrice), aliases: make(map[string]string)}
}

// SetPrice registers the exact price for a model name.
func (c *CostCalculator) SetPrice(model string, price ModelPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exact[model] = price
}

// SetAlias registers alias as resolving to the price under
// canonicalModel.
func (c *CostCalculator) SetAlias(alias, canonicalModel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[alias] = canonicalModel
}

// Resolve returns the price for model using exact -> alias ->
// longest-prefix-match resolution, and whether a price was found.
func (c *CostCalculator) Resolve(model string) (ModelPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.exact[model]; ok {
		return p, true
	}
	if canonical, ok := c.aliases[model]; ok {
		if p, ok := c.exact[canonical]; ok {
			return p, true
		}
	}

	var best string
	var bestPrice ModelPrice
	found := false
	for name, p := range c.exact {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best, bestPrice, found = name, p, true
		}
	}
	return bestPrice, found
}

// Estimate computes the fixed-point cost for usage against the
// resolved price for model. Returns zero cost if the model is unknown.
func (c *CostCalculator) Estimate(model string, usage models.Usage) Breakdown {
	price, ok := c.Resolve(model)
	if !ok {
		return Breakdown{}
	}

	b := Breakdown{
		Input:         bucketCost(usage.Input, price.Input),
		Output:        bucketCost(usage.Output, price.Output),
		Reasoning:     bucketCost(usage.Reasoning, price.Reasoning),
		CacheRead:     bucketCost(usage.CacheRead, price.CacheRead),
		CacheCreation: bucketCost(usage.CacheCreation, price.CacheCreation),
	}
	b.Total = b.Input + b.Output + b.Reasoning + b.CacheRead + b.CacheCreation
	return b
}

// bucketCost computes tokens * (usdPerMillion) in micro-USD, using only
// integer arithmetic after converting the float price to a fixed-point
// micro-USD-per-token-million rate once.
func bucketCost(tokens int64, usdPerMillion float64) int64 {
	microUSDPerMillion := int64(usdPerMillion*microUSDScale + 0.5)
	return (tokens * microUSDPerMillion) / microUSDScale
}
