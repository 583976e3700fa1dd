package middleware

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/coreagent/enginectl/pkg/models"
)

// FileBackend is the pluggable adapter FileSystem delegates to -- a
// local filesystem in development, a sandbox-provider proxy in
// production (spec §4.1: "Backend is pluggable").
type FileBackend interface {
	Read(ctx context.Context, path string) (string, error)
	Write(ctx context.Context, path, content string) error
	Edit(ctx context.Context, path, oldText, newText string) error
	List(ctx context.Context, path string) ([]string, error)
}

// FileSystem injects {read_file, write_file, edit_file, list_dir} and
// rejects non-absolute paths and paths outside WorkspaceRoot unless
// explicitly whitelisted (spec §4.1).
type FileSystem struct {
	NoOp
	Backend       FileBackend
	WorkspaceRoot string
	ReadOnly      bool
	Whitelist     []string // additional absolute path prefixes allowed outside WorkspaceRoot
}

// NewFileSystem constructs the middleware bound to a backend and a
// workspace root.
func NewFileSystem(backend FileBackend, workspaceRoot string) *FileSystem {
	return &FileSystem{Backend: backend, WorkspaceRoot: workspaceRoot}
}

func (m *FileSystem) Name() string { return "filesystem" }

func (m *FileSystem) ToolSchemas() []ToolSchema {
	return []ToolSchema{
		{Name: "read_file", Description: "Read a file's contents by absolute path."},
		{Name: "write_file", Description: "Write content to a file by absolute path."},
		{Name: "edit_file", Description: "Replace a substring in a file by absolute path."},
		{Name: "list_dir", Description: "List entries in a directory by absolute path."},
	}
}

// pathError is the structured "invalid path" error spec §4.1 requires,
// including a corrective suggestion.
type pathError struct {
	Path       string
	Reason     string
	Suggestion string
}

func (e *pathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s (suggestion: %s)", e.Path, e.Reason, e.Suggestion)
}

func (m *FileSystem) validatePath(path string) error {
	if path == "" || path == "." || path == ".." || !filepath.IsAbs(path) {
		return &pathError{
			Path:       path,
			Reason:     "path must be absolute",
			Suggestion: fmt.Sprintf("use an absolute path rooted at %s", m.WorkspaceRoot),
		}
	}
	clean := filepath.Clean(path)
	if m.withinWorkspace(clean) || m.withinWhitelist(clean) {
		return nil
	}
	return &pathError{
		Path:       path,
		Reason:     fmt.Sprintf("path escapes workspace root %s and is not whitelisted", m.WorkspaceRoot),
		Suggestion: fmt.Sprintf("request a path under %s, or add it to the whitelist", m.WorkspaceRoot),
	}
}

func (m *FileSystem) withinWorkspace(clean string) bool {
	if m.WorkspaceRoot == "" {
		return true
	}
	root := filepath.Clean(m.WorkspaceRoot)
	return clean == root || strings.HasPrefix(clean, root+string(filepath.Separator))
}

func (m *FileSystem) withinWhitelist(clean string) bool {
	for _, prefix := range m.Whitelist {
		p := filepath.Clean(prefix)
		if clean == p || strings.HasPrefix(clean, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (m *FileSystem) WrapToolCall(ctx context.Context, inv *ToolInvocation, next ToolCallFunc) (*models.ToolResult, error) {
	switch inv.ToolName {
	case "read_file", "write_file", "edit_file", "list_dir":
	default:
		return next(ctx, inv)
	}

	path, _ := inv.Args["path"].(string)
	if err := m.validatePath(path); err != nil {
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: err.Error(), IsError: true}, nil
	}

	if m.ReadOnly && (inv.ToolName == "write_file" || inv.ToolName == "edit_file") {
		return &models.ToolResult{
			ToolCallID: inv.ToolCallID,
			Content:    fmt.Sprintf("workspace is read-only: cannot %s", inv.ToolName),
			IsError:    true,
		}, nil
	}

	switch inv.ToolName {
	case "read_file":
		content, err := m.Backend.Read(ctx, path)
		if err != nil {
			return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: err.Error(), IsError: true}, nil
		}
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: content}, nil
	case "write_file":
		content, _ := inv.Args["content"].(string)
		if err := m.Backend.Write(ctx, path, content); err != nil {
			return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: err.Error(), IsError: true}, nil
		}
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: "ok"}, nil
	case "edit_file":
		oldText, _ := inv.Args["old_text"].(string)
		newText, _ := inv.Args["new_text"].(string)
		if err := m.Backend.Edit(ctx, path, oldText, newText); err != nil {
			return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: err.Error(), IsError: true}, nil
		}
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: "ok"}, nil
	case "list_dir":
		entries, err := m.Backend.List(ctx, path)
		if err != nil {
			return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: err.Error(), IsError: true}, nil
		}
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: strings.Join(entries, "\n")}, nil
	}
	return next(ctx, inv)
}
