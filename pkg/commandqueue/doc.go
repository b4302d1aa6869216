// Package commandqueue runs tasks on named lanes with FIFO ordering per lane.
//
// The agent gives every chat its own lane so two inbound messages for the same
// chat never interleave their turns, while different chats proceed in parallel.
//
// Invariants:
//   - Tasks in the same lane execute in FIFO order, one at a time unless the
//     lane's concurrency was raised.
//   - Tasks in different lanes may execute concurrently.
//   - A panicking task fails with an error; it never takes the process down.
//   - Idle dynamic lanes are dropped so per-chat lanes do not accumulate.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.EnqueueWithContext(ctx, commandqueue.ChatLane("42"), func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
