package fsops

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	agentcore "github.com/havenrun/agentcore"
)

func TestReadWriteRoundTrip(t *testing.T) {
	root := t.TempDir()
	tools := New(root)

	writeArgs, _ := json.Marshal(map[string]string{"path": "notes/a.txt", "content": "hello"})
	writeTool := findTool(tools, "fs_write")
	if _, err := writeTool.Execute(context.Background(), string(writeArgs)); err != nil {
		t.Fatalf("write: %v", err)
	}

	readArgs, _ := json.Marshal(map[string]string{"path": "notes/a.txt"})
	readTool := findTool(tools, "fs_read")
	out, err := readTool.Execute(context.Background(), string(readArgs))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out != "hello" {
		t.Fatalf("got %q, want %q", out, "hello")
	}
}

func TestPathTraversalRejected(t *testing.T) {
	root := t.TempDir()
	tools := New(root)
	readTool := findTool(tools, "fs_read")

	args, _ := json.Marshal(map[string]string{"path": "../escape.txt"})
	if _, err := readTool.Execute(context.Background(), string(args)); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestAbsolutePathRejected(t *testing.T) {
	root := t.TempDir()
	tools := New(root)
	readTool := findTool(tools, "fs_read")

	args, _ := json.Marshal(map[string]string{"path": "/etc/passwd"})
	if _, err := readTool.Execute(context.Background(), string(args)); err == nil {
		t.Fatal("expected absolute path to be rejected")
	}
}

func TestReadTruncatesLargeFiles(t *testing.T) {
	root := t.TempDir()
	big := make([]byte, maxReadBytes+500)
	for i := range big {
		big[i] = 'x'
	}
	if err := os.WriteFile(filepath.Join(root, "big.txt"), big, 0o644); err != nil {
		t.Fatal(err)
	}

	tools := New(root)
	readTool := findTool(tools, "fs_read")
	args, _ := json.Marshal(map[string]string{"path": "big.txt"})
	out, err := readTool.Execute(context.Background(), string(args))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) >= len(big) {
		t.Fatalf("expected truncation, got %d bytes", len(out))
	}
}

func TestListAndStat(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	tools := New(root)
	listTool := findTool(tools, "fs_list")
	out, err := listTool.Execute(context.Background(), `{"path":""}`)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty listing")
	}

	statTool := findTool(tools, "fs_stat")
	args, _ := json.Marshal(map[string]string{"path": "f.txt"})
	statOut, err := statTool.Execute(context.Background(), string(args))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(statOut), &meta); err != nil {
		t.Fatalf("decode stat: %v", err)
	}
	if meta["type"] != "file" {
		t.Fatalf("got type %v, want file", meta["type"])
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tools := New(root)
	deleteTool := findTool(tools, "fs_delete")
	args, _ := json.Marshal(map[string]string{"path": "f.txt"})
	if _, err := deleteTool.Execute(context.Background(), string(args)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "f.txt")); !os.IsNotExist(err) {
		t.Fatal("expected file to be gone")
	}
}

func TestIdempotencyFlags(t *testing.T) {
	root := t.TempDir()
	tools := New(root)
	want := map[string]bool{
		"fs_read":   true,
		"fs_write":  false,
		"fs_list":   true,
		"fs_delete": false,
		"fs_stat":   true,
		"fs_glob":   true,
	}
	for _, tool := range tools {
		name := tool.Definition().Name
		if tool.Idempotent() != want[name] {
			t.Errorf("%s: idempotent=%v, want %v", name, tool.Idempotent(), want[name])
		}
	}
}

func TestGlobOrdersNewestFirst(t *testing.T) {
	root := t.TempDir()
	older := filepath.Join(root, "reports")
	if err := os.MkdirAll(older, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(older, "a.txt"), []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(older, "b.txt"), []byte("2"), 0o644); err != nil {
		t.Fatal(err)
	}

	tools := New(root)
	globTool := findTool(tools, "fs_glob")
	args, _ := json.Marshal(map[string]string{"pattern": "reports/*.txt"})
	out, err := globTool.Execute(context.Background(), string(args))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "b.txt") {
		t.Fatalf("got %v, want b.txt first", lines)
	}
}

func findTool(tools []agentcore.Tool, name string) agentcore.Tool {
	for _, t := range tools {
		if t.Definition().Name == name {
			return t
		}
	}
	return nil
}
