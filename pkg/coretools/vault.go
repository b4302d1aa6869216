package coretools

import (
	"context"

	"github.com/diegosucaria/deedee-sub000/pkg/toolexecutor"
)

type searchNotesParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type notePathParams struct {
	Path string `json:"path"`
}

type writeNoteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append"`
}

type listNotesParams struct {
	Pattern string `json:"pattern"`
}

func vaultTools(v NoteVault) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "search_notes",
			Description: "Search the knowledge vault of markdown notes by keywords",
			Family:      toolexecutor.FamilyVault,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "query", Type: "string", Description: "Keywords to search for", Required: true},
				{Name: "limit", Type: "integer", Description: "Maximum passages to return", Default: 5},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p searchNotesParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if p.Limit <= 0 {
					p.Limit = 5
				}
				results, err := v.Search(ctx, p.Query, p.Limit)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"results": results, "count": len(results)}, nil
			},
		},
		{
			Name:        "read_note",
			Description: "Read a note from the knowledge vault",
			Family:      toolexecutor.FamilyVault,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "Relative path ending in .md", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p notePathParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				return v.ReadNote(p.Path)
			},
		},
		{
			Name:        "write_note",
			Description: "Create, replace or append to a note in the knowledge vault",
			Family:      toolexecutor.FamilyVault,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "path", Type: "string", Description: "Relative path ending in .md", Required: true},
				{Name: "content", Type: "string", Description: "Markdown content", Required: true},
				{Name: "append", Type: "boolean", Description: "Append instead of replacing", Default: false},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p writeNoteParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				created, err := v.WriteNote(p.Path, p.Content, p.Append)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"path": p.Path, "created": created}, nil
			},
		},
		{
			Name:        "list_notes",
			Description: "List notes in the knowledge vault, optionally filtered by a glob pattern",
			Family:      toolexecutor.FamilyVault,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "pattern", Type: "string", Description: "Glob such as projects/*.md"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p listNotesParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				notes, err := v.ListNotes(p.Pattern)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"notes": notes, "count": len(notes)}, nil
			},
		},
	}
}
