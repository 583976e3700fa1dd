package middleware

import (
	"context"
	"errors"
	"testing"
)

type fakeSearchProvider struct {
	name       string
	searchErr  error
	searchResp string
}

func (p *fakeSearchProvider) Name() string { return p.name }
func (p *fakeSearchProvider) Search(ctx context.Context, query string) (string, error) {
	return p.searchResp, p.searchErr
}
func (p *fakeSearchProvider) Fetch(ctx context.Context, url string) (string, error) {
	return "", nil
}

func TestSearch_FallsBackToSecondaryProvider(t *testing.T) {
	mw := NewSearch(
		&fakeSearchProvider{name: "primary", searchErr: errors.New("down")},
		&fakeSearchProvider{name: "secondary", searchResp: "result from secondary"},
	)
	inv := &ToolInvocation{ToolCallID: "tc1", ToolName: "web_search", Args: map[string]any{"query": "go generics"}}

	res, err := mw.WrapToolCall(context.Background(), inv, passthroughTerminal)
	if err != nil {
		t.Fatalf("WrapToolCall() error = %v", err)
	}
	if res.IsError {
		t.Errorf("unexpected error result: %s", res.Content)
	}
	if res.Content != "result from secondary" {
		t.Errorf("Content = %q, want secondary provider's result", res.Content)
	}
}

func TestSearch_FailsOnlyWhenAllProvidersFail(t *testing.T) {
	mw := NewSearch(
		&fakeSearchProvider{name: "primary", searchErr: errors.New("down")},
		&fakeSearchProvider{name: "secondary", searchErr: errors.New("also down")},
	)
	inv := &ToolInvocation{ToolCallID: "tc1", ToolName: "web_search", Args: map[string]any{"query": "go generics"}}

	res, err := mw.WrapToolCall(context.Background(), inv, passthroughTerminal)
	if err != nil {
		t.Fatalf("WrapToolCall() error = %v", err)
	}
	if !res.IsError {
		t.Error("expected error result when every provider fails")
	}
}
