package coretools

import (
	"context"

	"github.com/diegosucaria/deedee-sub000/pkg/toolexecutor"
)

type rememberParams struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

type recallParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type forgetParams struct {
	ID string `json:"id"`
}

func memoryTools(store FactStore) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "remember",
			Description: "Store a fact about the user for later recall",
			Family:      toolexecutor.FamilyMemory,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "content", Type: "string", Description: "The fact, as one self-contained sentence", Required: true},
				{Name: "tags", Type: "array", Description: "Optional tags such as family, health, work"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p rememberParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				fact, err := store.Remember(ctx, p.Content, p.Tags)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"id": fact.ID, "stored": true}, nil
			},
		},
		{
			Name:        "recall",
			Description: "Look up remembered facts matching all words of a query; an empty query lists recent facts",
			Family:      toolexecutor.FamilyMemory,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "query", Type: "string", Description: "Words to match", Required: true},
				{Name: "limit", Type: "integer", Description: "Maximum facts to return", Default: 10},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p recallParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				facts, err := store.Recall(ctx, p.Query, p.Limit)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"facts": facts, "count": len(facts)}, nil
			},
		},
		{
			Name:        "forget",
			Description: "Delete a remembered fact by id",
			Family:      toolexecutor.FamilyMemory,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "id", Type: "string", Description: "Fact id returned by remember or recall", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p forgetParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if err := store.Forget(ctx, p.ID); err != nil {
					return nil, err
				}
				return map[string]interface{}{"id": p.ID, "deleted": true}, nil
			},
		},
	}
}
