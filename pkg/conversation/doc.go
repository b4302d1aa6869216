// Package conversation persists chat history as one append-only JSONL file per chat.
//
// Every message carries a per-chat sequence number. The turn controller records
// the last sequence number before a turn starts and calls RollbackAfter when the
// turn fails, so a chat log only ever contains complete turns.
//
// Model turns are stored verbatim, including opaque continuation bytes some
// model APIs require to be echoed back on the next request. The mapping between
// stored roles and the roles each model API expects lives in roles.go.
package conversation
