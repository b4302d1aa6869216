// Package memory stores short facts the assistant has been asked to remember.
//
// Invariants:
//   - Fact ids are unique and stable; Forget of an unknown id is ErrFactNotFound.
//   - Recall matches every query term case-insensitively against content and tags.
//   - Store operations emit tracing spans.
//
// Usage:
//
//	store, _ := memory.Open("/data/memory.db")
//	defer store.Close()
//	fact, _ := store.Remember(ctx, "Ana is allergic to peanuts", []string{"family"})
//	facts, _ := store.Recall(ctx, "peanuts", 5)
package memory
