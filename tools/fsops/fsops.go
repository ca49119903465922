// Package fsops provides the filesystem tools the tool-execution loop
// wires into a run's ToolRegistry: read, write, list, delete and stat,
// all sandboxed to one workspace root per session.
package fsops

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	agentcore "github.com/havenrun/agentcore"
)

const maxReadBytes = 8000

// Read, Write, List, Delete, Stat each implement agentcore.Tool against
// a single sandboxed workspace root. They are idempotent except Write
// and Delete, which mutate the filesystem and are therefore never
// retried by the tool loop on failure.
type Read struct{ root string }
type Write struct{ root string }
type List struct{ root string }
type Delete struct{ root string }
type Stat struct{ root string }
type Glob struct{ root string }

// New returns the full fsops tool set rooted at workspacePath. Callers
// register whichever subset a run's ToolPolicy should expose.
func New(workspacePath string) []agentcore.Tool {
	return []agentcore.Tool{
		&Read{root: workspacePath},
		&Write{root: workspacePath},
		&List{root: workspacePath},
		&Delete{root: workspacePath},
		&Stat{root: workspacePath},
		&Glob{root: workspacePath},
	}
}

func resolve(root, path string) (string, error) {
	if path == "" {
		path = "."
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("fsops: absolute paths not allowed: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("fsops: path traversal not allowed: %s", path)
	}
	resolved := filepath.Join(root, path)
	if !strings.HasPrefix(resolved, root) {
		return "", fmt.Errorf("fsops: path escapes workspace: %s", path)
	}
	return resolved, nil
}

func pathArg(args string) (string, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(args), &p); err != nil {
		return "", fmt.Errorf("fsops: invalid args: %w", err)
	}
	return p.Path, nil
}

func (t *Read) Definition() agentcore.ToolDefinition {
	return agentcore.ToolDefinition{
		Name:        "fs_read",
		Description: "Read a file from the workspace. Content is truncated past 8000 characters.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string", "description": "File path relative to workspace"}},
			"required":   []string{"path"},
		},
	}
}

func (t *Read) Idempotent() bool { return true }

func (t *Read) Execute(ctx context.Context, args string) (string, error) {
	path, err := pathArg(args)
	if err != nil {
		return "", err
	}
	resolved, err := resolve(t.root, path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("fsops: read: %w", err)
	}
	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n... (truncated)"
	}
	return content, nil
}

func (t *Write) Definition() agentcore.ToolDefinition {
	return agentcore.ToolDefinition{
		Name:        "fs_write",
		Description: "Write content to a file in the workspace, creating parent directories as needed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "File path relative to workspace"},
				"content": map[string]any{"type": "string", "description": "Content to write"},
			},
			"required": []string{"path", "content"},
		},
	}
}

func (t *Write) Idempotent() bool { return false }

func (t *Write) Execute(ctx context.Context, args string) (string, error) {
	var p struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(args), &p); err != nil {
		return "", fmt.Errorf("fsops: invalid args: %w", err)
	}
	resolved, err := resolve(t.root, p.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("fsops: mkdir: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(p.Content), 0o644); err != nil {
		return "", fmt.Errorf("fsops: write: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(p.Content), filepath.Base(resolved)), nil
}

func (t *List) Definition() agentcore.ToolDefinition {
	return agentcore.ToolDefinition{
		Name:        "fs_list",
		Description: "List files and directories under a workspace path, one entry per line (type-prefixed).",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string", "description": "Directory path relative to workspace, empty for root"}},
		},
	}
}

func (t *List) Idempotent() bool { return true }

func (t *List) Execute(ctx context.Context, args string) (string, error) {
	path, err := pathArg(args)
	if err != nil {
		return "", err
	}
	resolved, err := resolve(t.root, path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("fsops: list: %w", err)
	}
	var b strings.Builder
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		fmt.Fprintf(&b, "%s\t%s\n", kind, e.Name())
	}
	return b.String(), nil
}

func (t *Delete) Definition() agentcore.ToolDefinition {
	return agentcore.ToolDefinition{
		Name:        "fs_delete",
		Description: "Delete a file or empty directory from the workspace.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string", "description": "File or directory path relative to workspace"}},
			"required":   []string{"path"},
		},
	}
}

func (t *Delete) Idempotent() bool { return false }

func (t *Delete) Execute(ctx context.Context, args string) (string, error) {
	path, err := pathArg(args)
	if err != nil {
		return "", err
	}
	resolved, err := resolve(t.root, path)
	if err != nil {
		return "", err
	}
	if err := os.Remove(resolved); err != nil {
		return "", fmt.Errorf("fsops: delete: %w", err)
	}
	return fmt.Sprintf("deleted %s", filepath.Base(resolved)), nil
}

func (t *Stat) Definition() agentcore.ToolDefinition {
	return agentcore.ToolDefinition{
		Name:        "fs_stat",
		Description: "Get metadata (name, size, type, modified time) for a workspace path.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string", "description": "File or directory path relative to workspace"}},
			"required":   []string{"path"},
		},
	}
}

func (t *Stat) Idempotent() bool { return true }

func (t *Stat) Execute(ctx context.Context, args string) (string, error) {
	path, err := pathArg(args)
	if err != nil {
		return "", err
	}
	resolved, err := resolve(t.root, path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("fsops: stat: %w", err)
	}
	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	out, _ := json.Marshal(map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"type":     kind,
		"modified": info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
	})
	return string(out), nil
}

func (t *Glob) Definition() agentcore.ToolDefinition {
	return agentcore.ToolDefinition{
		Name:        "fs_glob",
		Description: "Match files in the workspace against a glob pattern, newest first. Useful for finding the latest file in a directory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string", "description": "Glob pattern relative to workspace, e.g. 'reports/*.txt'"},
			},
			"required": []string{"pattern"},
		},
	}
}

func (t *Glob) Idempotent() bool { return true }

func (t *Glob) Execute(ctx context.Context, args string) (string, error) {
	var p struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal([]byte(args), &p); err != nil {
		return "", fmt.Errorf("fsops: invalid args: %w", err)
	}
	if filepath.IsAbs(p.Pattern) || strings.Contains(p.Pattern, "..") {
		return "", fmt.Errorf("fsops: pattern escapes workspace: %s", p.Pattern)
	}
	matches, err := filepath.Glob(filepath.Join(t.root, p.Pattern))
	if err != nil {
		return "", fmt.Errorf("fsops: glob: %w", err)
	}

	type entry struct {
		path    string
		modTime int64
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(t.root, m)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: rel, modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime > entries[j].modTime })

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintln(&b, e.path)
	}
	return b.String(), nil
}
