package middleware

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreagent/enginectl/pkg/models"
)

// SkillLibrary resolves a skill name to the prompt fragment that should
// be spliced into the system prompt on the next turn.
type SkillLibrary interface {
	Load(name string) (fragment string, ok bool)
}

// Skill implements progressive disclosure: a load_skill(name) tool call
// returns a fragment that is remembered per session and spliced into
// the system prompt on the session's next model call (spec §4.1).
type Skill struct {
	NoOp
	Library SkillLibrary

	mu     sync.Mutex
	loaded map[string][]string // threadID -> ordered skill names loaded this session
}

// NewSkill constructs the Skill middleware against a library.
func NewSkill(library SkillLibrary) *Skill {
	return &Skill{Library: library, loaded: make(map[string][]string)}
}

func (m *Skill) Name() string { return "skill" }

func (m *Skill) ToolSchemas() []ToolSchema {
	return []ToolSchema{{Name: "load_skill", Description: "Load a named skill, splicing its instructions into the system prompt."}}
}

func (m *Skill) WrapToolCall(ctx context.Context, inv *ToolInvocation, next ToolCallFunc) (*models.ToolResult, error) {
	if inv.ToolName != "load_skill" {
		return next(ctx, inv)
	}

	name, _ := inv.Args["name"].(string)
	fragment, ok := m.Library.Load(name)
	if !ok {
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: "unknown skill: " + name, IsError: true}, nil
	}

	m.mu.Lock()
	m.loaded[inv.ThreadID] = append(m.loaded[inv.ThreadID], name)
	m.mu.Unlock()

	return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: fmt.Sprintf("loaded skill %q", name)}, nil
}

// WrapModelCall splices every skill loaded so far this session into the
// outbound system prompt, ahead of the base system prompt.
func (m *Skill) WrapModelCall(ctx context.Context, req *ModelRequest, next ModelCallFunc) (*ModelResponse, error) {
	threadID := ThreadIDFromContext(ctx)
	m.mu.Lock()
	names := append([]string(nil), m.loaded[threadID]...)
	m.mu.Unlock()

	if len(names) == 0 {
		return next(ctx, req)
	}

	augmented := *req
	for _, name := range names {
		if fragment, ok := m.Library.Load(name); ok {
			augmented.System = fragment + "\n\n" + augmented.System
		}
	}
	return next(ctx, &augmented)
}
