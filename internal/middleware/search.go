package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreagent/enginectl/pkg/models"
)

// SearchProvider is one entry in the ordered fallback chain Search
// tries for both search and fetch operations.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string) (string, error)
	Fetch(ctx context.Context, url string) (string, error)
}

// Search injects {web_search, web_fetch} tools, trying each configured
// provider in order (primary -> secondary -> tertiary) and only failing
// once every provider has failed (spec §4.1).
type Search struct {
	NoOp
	Providers []SearchProvider
}

// NewSearch constructs Search with a strictly ordered provider chain.
func NewSearch(providers ...SearchProvider) *Search {
	return &Search{Providers: providers}
}

func (m *Search) Name() string { return "search" }

func (m *Search) ToolSchemas() []ToolSchema {
	return []ToolSchema{
		{Name: "web_search", Description: "Search the web for a query string."},
		{Name: "web_fetch", Description: "Fetch the content of a URL."},
	}
}

func (m *Search) WrapToolCall(ctx context.Context, inv *ToolInvocation, next ToolCallFunc) (*models.ToolResult, error) {
	switch inv.ToolName {
	case "web_search":
		query, _ := inv.Args["query"].(string)
		return m.tryChain(inv.ToolCallID, func(p SearchProvider) (string, error) { return p.Search(ctx, query) })
	case "web_fetch":
		url, _ := inv.Args["url"].(string)
		return m.tryChain(inv.ToolCallID, func(p SearchProvider) (string, error) { return p.Fetch(ctx, url) })
	default:
		return next(ctx, inv)
	}
}

func (m *Search) tryChain(toolCallID string, call func(SearchProvider) (string, error)) (*models.ToolResult, error) {
	var errs []string
	for _, p := range m.Providers {
		content, err := call(p)
		if err == nil {
			return &models.ToolResult{ToolCallID: toolCallID, Content: content}, nil
		}
		errs = append(errs, fmt.Sprintf("%s: %v", p.Name(), err))
	}
	return &models.ToolResult{
		ToolCallID: toolCallID,
		Content:    "all search providers failed: " + strings.Join(errs, "; "),
		IsError:    true,
	}, nil
}
