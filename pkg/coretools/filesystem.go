package coretools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/diegosucaria/deedee-sub000/pkg/toolexecutor"
)

const (
	defaultReadBytes = 200000
	maxListEntries   = 500
)

type readFileParams struct {
	Path     string `json:"path"`
	MaxBytes int64  `json:"max_bytes"`
}

type writeFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append"`
}

type editFileParams struct {
	Path       string `json:"path"`
	Search     string `json:"search"`
	Replace    string `json:"replace"`
	ReplaceAll bool   `json:"replace_all"`
}

type listFilesParams struct {
	Path string `json:"path"`
}

func filesystemTools(root string) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read a file from the assistant's file area",
			Family:      toolexecutor.FamilyFilesystem,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "Relative file path", Required: true},
				{Name: "max_bytes", Type: "integer", Description: "Maximum bytes to read", Default: defaultReadBytes},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p readFileParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				target, err := resolvePath(root, p.Path)
				if err != nil {
					return nil, err
				}
				if p.MaxBytes <= 0 {
					p.MaxBytes = defaultReadBytes
				}
				data, truncated, err := readFileWithLimit(target, p.MaxBytes)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"path":      p.Path,
					"content":   string(data),
					"truncated": truncated,
					"bytes":     len(data),
				}, nil
			},
		},
		{
			Name:        "write_file",
			Description: "Create, overwrite or append to a file in the assistant's file area",
			Family:      toolexecutor.FamilyFilesystem,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "Relative file path", Required: true},
				{Name: "content", Type: "string", Description: "File content", Required: true},
				{Name: "append", Type: "boolean", Description: "Append instead of overwriting", Default: false},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p writeFileParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				target, err := resolvePath(root, p.Path)
				if err != nil {
					return nil, err
				}
				if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
					return nil, err
				}
				flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
				if p.Append {
					flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
				}
				f, err := os.OpenFile(target, flag, 0644)
				if err != nil {
					return nil, err
				}
				if _, err := f.WriteString(p.Content); err != nil {
					f.Close()
					return nil, err
				}
				if err := f.Close(); err != nil {
					return nil, err
				}
				return map[string]interface{}{"path": p.Path, "bytes": len(p.Content), "append": p.Append}, nil
			},
		},
		{
			Name:        "edit_file",
			Description: "Replace text in a file in the assistant's file area",
			Family:      toolexecutor.FamilyFilesystem,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "Relative file path", Required: true},
				{Name: "search", Type: "string", Description: "Text to search for", Required: true},
				{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
				{Name: "replace_all", Type: "boolean", Description: "Replace every occurrence", Default: false},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p editFileParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if p.Search == "" {
					return nil, fmt.Errorf("search is required")
				}
				target, err := resolvePath(root, p.Path)
				if err != nil {
					return nil, err
				}
				data, err := os.ReadFile(target)
				if err != nil {
					return nil, err
				}
				content := string(data)

				occurrences := strings.Count(content, p.Search)
				if occurrences == 0 {
					return nil, fmt.Errorf("search text not found")
				}
				if p.ReplaceAll {
					content = strings.ReplaceAll(content, p.Search, p.Replace)
				} else {
					occurrences = 1
					content = strings.Replace(content, p.Search, p.Replace, 1)
				}
				if err := os.WriteFile(target, []byte(content), 0644); err != nil {
					return nil, err
				}
				return map[string]interface{}{"path": p.Path, "occurrences": occurrences}, nil
			},
		},
		{
			Name:        "list_files",
			Description: "List entries of a directory in the assistant's file area",
			Family:      toolexecutor.FamilyFilesystem,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "Relative directory path; empty for the root"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p listFilesParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				dir := filepath.Clean(root)
				if strings.TrimSpace(p.Path) != "" && p.Path != "." {
					resolved, err := resolvePath(root, p.Path)
					if err != nil {
						return nil, err
					}
					dir = resolved
				}
				entries, err := os.ReadDir(dir)
				if err != nil {
					return nil, err
				}

				type entry struct {
					Name  string `json:"name"`
					IsDir bool   `json:"is_dir"`
					Size  int64  `json:"size,omitempty"`
				}
				out := make([]entry, 0, len(entries))
				for _, e := range entries {
					if len(out) == maxListEntries {
						break
					}
					item := entry{Name: e.Name(), IsDir: e.IsDir()}
					if info, err := e.Info(); err == nil && !e.IsDir() {
						item.Size = info.Size()
					}
					out = append(out, item)
				}
				sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
				return map[string]interface{}{"path": p.Path, "entries": out, "truncated": len(entries) > maxListEntries}, nil
			},
		},
	}
}

// resolvePath maps a model-supplied path into root, rejecting escapes.
func resolvePath(root string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	root = filepath.Clean(root)
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the file area", pathValue)
	}
	return candidate, nil
}

func readFileWithLimit(path string, maxBytes int64) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > maxBytes {
		return data[:maxBytes], true, nil
	}
	return data, false, nil
}
