package main

import "testing"

func TestReplaceFirstReplacesOnlyFirstOccurrence(t *testing.T) {
	got, n := replaceFirst("foo bar foo", "foo", "baz")
	if n != 1 {
		t.Fatalf("expected 1 replacement, got %d", n)
	}
	if got != "baz bar foo" {
		t.Errorf("got %q, want %q", got, "baz bar foo")
	}
}

func TestReplaceFirstReportsNoMatch(t *testing.T) {
	got, n := replaceFirst("foo bar", "missing", "x")
	if n != 0 {
		t.Fatalf("expected 0 replacements, got %d", n)
	}
	if got != "foo bar" {
		t.Errorf("unexpected mutation on no match: %q", got)
	}
}

func TestStaticModelCatalogKnownModel(t *testing.T) {
	catalog := newStaticModelCatalog()
	info, ok := catalog.Info("claude-sonnet-4-20250514")
	if !ok {
		t.Fatalf("expected known model to resolve")
	}
	if info.ContextLimit != 200_000 {
		t.Errorf("context limit = %d, want 200000", info.ContextLimit)
	}
}

func TestStaticModelCatalogUnknownModel(t *testing.T) {
	catalog := newStaticModelCatalog()
	if _, ok := catalog.Info("not-a-real-model"); ok {
		t.Fatalf("expected unknown model to not resolve")
	}
}
