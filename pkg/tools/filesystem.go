package tools

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// workspace path handling is grounded on the teacher's filesystem.go
// validatePath/isWithinWorkspace: a tool restricted to a workspace rejects
// paths that lexically resolve outside it. Symlinks are not resolved, so a
// link inside the workspace that points outside it is not caught.

func validatePath(path, workspace string, restrict bool) (string, error) {
	if workspace == "" {
		return path, nil
	}

	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}

	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath, err = filepath.Abs(filepath.Join(absWorkspace, path))
		if err != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
	}

	if restrict && !isWithinWorkspace(absPath, absWorkspace) {
		return "", fmt.Errorf("access denied: path is outside the workspace")
	}

	return absPath, nil
}

func isWithinWorkspace(candidate, workspace string) bool {
	rel, err := filepath.Rel(filepath.Clean(workspace), filepath.Clean(candidate))
	return err == nil && filepath.IsLocal(rel)
}

// ReadFileTool reads a file's contents, relative to a workspace root.
// Grounded on the teacher's ReadFileTool in pkg/tools/filesystem.go.
type ReadFileTool struct {
	Workspace string
	Restrict  bool
}

func NewReadFileTool(workspace string, restrict bool) *ReadFileTool {
	return &ReadFileTool{Workspace: workspace, Restrict: restrict}
}

type readFileArgs struct {
	Path string `json:"path"`
}

func (t *ReadFileTool) Describe() Description {
	return Description{
		Name:        "read_file",
		Description: "Read the full contents of a text file.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "File path, absolute or relative to the workspace."},
			},
			"required": []string{"path"},
		},
	}
}

func (t *ReadFileTool) Validate(rawArgs map[string]any) (any, error) {
	path, _ := rawArgs["path"].(string)
	if path == "" {
		return nil, &ToolError{Message: "path is required"}
	}
	resolved, err := validatePath(path, t.Workspace, t.Restrict)
	if err != nil {
		return nil, &ToolPermissionError{Message: err.Error()}
	}
	return readFileArgs{Path: resolved}, nil
}

func (t *ReadFileTool) CheckAllowlistDenylist(args any) core.ToolPermission {
	return core.PermissionUnset
}

func (t *ReadFileTool) Invoke(ctx InvokeContext, args any) (<-chan StreamItem, error) {
	a := args.(readFileArgs)
	out := make(chan StreamItem, 1)
	go func() {
		defer close(out)
		data, err := os.ReadFile(a.Path)
		if err != nil {
			out <- StreamItem{Kind: StreamDone, Result: ErrorResult(fmt.Sprintf("could not read %s: %s", a.Path, err), &ToolError{Message: err.Error()})}
			return
		}
		out <- StreamItem{Kind: StreamDone, Result: NewResult(string(data))}
	}()
	return out, nil
}

func (t *ReadFileTool) GetCallDisplay(args any) string {
	a, ok := args.(readFileArgs)
	if !ok {
		return "read_file"
	}
	return fmt.Sprintf("read_file(%s)", a.Path)
}

func (t *ReadFileTool) GetResultDisplay(result Result) string {
	return result.ForLLM
}

// WriteFileTool overwrites a file's contents. Grounded on the teacher's
// copy_file.go/filesystem.go write helpers, narrowed to a single
// write-whole-file operation for this core's minimal builtin set.
type WriteFileTool struct {
	Workspace string
	Restrict  bool
}

func NewWriteFileTool(workspace string, restrict bool) *WriteFileTool {
	return &WriteFileTool{Workspace: workspace, Restrict: restrict}
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Describe() Description {
	return Description{
		Name:        "write_file",
		Description: "Create or overwrite a text file with the given content.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
	}
}

func (t *WriteFileTool) Validate(rawArgs map[string]any) (any, error) {
	path, _ := rawArgs["path"].(string)
	content, _ := rawArgs["content"].(string)
	if path == "" {
		return nil, &ToolError{Message: "path is required"}
	}
	resolved, err := validatePath(path, t.Workspace, t.Restrict)
	if err != nil {
		return nil, &ToolPermissionError{Message: err.Error()}
	}
	return writeFileArgs{Path: resolved, Content: content}, nil
}

func (t *WriteFileTool) CheckAllowlistDenylist(args any) core.ToolPermission {
	return core.PermissionUnset
}

func (t *WriteFileTool) Invoke(ctx InvokeContext, args any) (<-chan StreamItem, error) {
	a := args.(writeFileArgs)
	out := make(chan StreamItem, 1)
	go func() {
		defer close(out)
		if err := os.MkdirAll(filepath.Dir(a.Path), 0o755); err != nil {
			out <- StreamItem{Kind: StreamDone, Result: ErrorResult(err.Error(), &ToolError{Message: err.Error()})}
			return
		}
		if err := os.WriteFile(a.Path, []byte(a.Content), 0o644); err != nil {
			out <- StreamItem{Kind: StreamDone, Result: ErrorResult(err.Error(), &ToolError{Message: err.Error()})}
			return
		}
		out <- StreamItem{Kind: StreamDone, Result: NewResult(fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path))}
	}()
	return out, nil
}

func (t *WriteFileTool) GetCallDisplay(args any) string {
	a, ok := args.(writeFileArgs)
	if !ok {
		return "write_file"
	}
	return fmt.Sprintf("write_file(%s)", a.Path)
}

func (t *WriteFileTool) GetResultDisplay(result Result) string {
	return result.ForLLM
}
