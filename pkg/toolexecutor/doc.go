// Package toolexecutor resolves a tool call to a built-in capability or to the
// federation registry, runs it, and normalizes the outcome.
//
// Invariants:
//   - Built-in tools are matched by exact name first and always shadow a
//     federated tool with the same name.
//   - Built-in parameters are schema-validated before the handler runs.
//   - Every expected failure (unknown tool, bad arguments, timeout, handler or
//     provider error) comes back as a ToolResult with Success false. Only a
//     handler panic is returned as an error.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.Options{Federation: registry})
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Family:      toolexecutor.FamilyMessaging,
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
//			return params["text"], nil
//		},
//	})
//	result, err := exec.Execute(ctx, "echo", map[string]interface{}{"text": "hi"}, nil)
package toolexecutor
