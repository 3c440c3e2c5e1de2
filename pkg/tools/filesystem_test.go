package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func toolByName(t *testing.T, root, name string) Tool {
	t.Helper()
	for _, tool := range Filesystem(root) {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("no tool %q", name)
	return nil
}

func TestWriteThenRead(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	write := toolByName(t, root, "write_file")
	if _, err := write.Execute(ctx, map[string]interface{}{
		"path":    "notes/hello.txt",
		"content": "hello",
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	read := toolByName(t, root, "read_file")
	got, err := read.Execute(ctx, map[string]interface{}{"path": "notes/hello.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "hello" {
		t.Fatalf("read back %q", got)
	}
}

func TestEscapeRejected(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	read := toolByName(t, root, "read_file")
	tests := []string{
		"../outside.txt",
		"a/../../outside.txt",
		"/etc/passwd",
	}
	for _, path := range tests {
		if _, err := read.Execute(ctx, map[string]interface{}{"path": path}); err == nil {
			t.Fatalf("expected rejection for %q", path)
		}
	}
}

func TestListDir(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	list := toolByName(t, root, "list_dir")
	out, err := list.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "FILE: a.txt") || !strings.Contains(out, "DIR:  sub") {
		t.Fatalf("unexpected listing:\n%s", out)
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	reg := NewRegistry()
	for _, tool := range Filesystem(t.TempDir()) {
		reg.Register(tool)
	}

	defs := reg.Definitions()
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name > defs[i].Name {
			t.Fatalf("definitions not sorted: %s > %s", defs[i-1].Name, defs[i].Name)
		}
	}

	if _, ok := reg.Get("read_file"); !ok {
		t.Fatal("read_file not registered")
	}
}
