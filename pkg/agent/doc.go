// Package agent runs conversation turns: it routes a message to a model
// tier, loops over tool calls through toolexecutor, and replies through the
// chat's channel.
//
// Invariants:
// - Turns of one chat are serialized through a commandqueue chat lane.
// - Only the first tool call of a model step is executed.
// - A failed turn leaves no trace in the conversation log.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	result, _ := runner.HandleMessage(ctx, channels.InboundMessage{
//		Channel: "console",
//		ChatID:  "console",
//		Text:    "hello",
//	})
//	_ = result
package agent
