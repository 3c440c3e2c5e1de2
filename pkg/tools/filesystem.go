package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem returns the file tools, all confined to root. Paths are
// resolved relative to root and anything escaping it is rejected.
func Filesystem(root string) []Tool {
	fs := &fsRoot{root: root}
	return []Tool{
		&readFileTool{fs},
		&writeFileTool{fs},
		&listDirTool{fs},
	}
}

type fsRoot struct {
	root string
}

// resolve maps a model-supplied path into the root and rejects escapes.
func (f *fsRoot) resolve(raw string) (string, error) {
	rootAbs, err := filepath.Abs(f.root)
	if err != nil {
		return "", fmt.Errorf("invalid root: %w", err)
	}

	path := raw
	if !filepath.IsAbs(path) {
		path = filepath.Join(rootAbs, path)
	}
	path = filepath.Clean(path)

	if path != rootAbs && !strings.HasPrefix(path, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("access denied: %q is outside the workspace", raw)
	}
	return path, nil
}

// --- read_file ---

type readFileTool struct {
	fs *fsRoot
}

func (t *readFileTool) Name() string        { return "read_file" }
func (t *readFileTool) Description() string { return "Read the contents of a file in the workspace" }

func (t *readFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, relative to the workspace",
			},
		},
		"required": []string{"path"},
	}
}

func (t *readFileTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", fmt.Errorf("path is required")
	}
	safe, err := t.fs.resolve(path)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(safe)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(content), nil
}

// --- write_file ---

type writeFileTool struct {
	fs *fsRoot
}

func (t *writeFileTool) Name() string        { return "write_file" }
func (t *writeFileTool) Description() string { return "Write content to a file in the workspace" }

func (t *writeFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, relative to the workspace",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *writeFileTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", fmt.Errorf("path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return "", fmt.Errorf("content is required")
	}
	safe, err := t.fs.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(safe), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(safe, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return "File written successfully.", nil
}

// --- list_dir ---

type listDirTool struct {
	fs *fsRoot
}

func (t *listDirTool) Name() string        { return "list_dir" }
func (t *listDirTool) Description() string { return "List files and directories in the workspace" }

func (t *listDirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list, relative to the workspace",
			},
		},
	}
}

func (t *listDirTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	safe, err := t.fs.resolve(path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(safe)
	if err != nil {
		return "", fmt.Errorf("read directory: %w", err)
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			b.WriteString("DIR:  ")
		} else {
			b.WriteString("FILE: ")
		}
		b.WriteString(entry.Name())
		b.WriteByte('\n')
	}
	return b.String(), nil
}
