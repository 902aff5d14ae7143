// Package conversation provides the append-only conversation store.
//
// # Conversation keys
//
// A two-party thread is addressed by a key derived deterministically from
// the unordered pair of participant ids:
//
//	Key("c1", "w1") == Key("w1", "c1") == "conv:c1_w1"
//
// The pair is sorted byte-wise, a total order, so the same two users always
// map to the same collection no matter who sends first.
//
// # Ordering
//
// Persisted order is arrival order at the store, not client-side timestamps.
// Append holds a per-key lock across its read-modify-write so concurrent
// senders on one key serialize instead of losing updates; appends to
// different keys never contend.
//
// Messages are immutable once appended. There is no edit or delete.
package conversation
