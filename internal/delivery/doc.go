// Package delivery holds the canonical scheduling state: the channel
// registry and the pending-delivery store.
//
// # Mutation domain
//
// Operator commands and timer firings both mutate this state. To keep
// them from interleaving on the same record, the registry and the store
// share one mutex (the State struct). A timer firing takes the same lock
// an operator command would; nothing inside the lock performs network IO.
//
// # Durability
//
// Every mutation rewrites the full snapshot (channels.json and
// deliveries.json) via tmp+rename. This is a deliberate simplicity over
// incremental-log durability tradeoff: write volume is tiny (one operator).
// An append-only journal with compaction would be the next step if that
// ever changes. A failed write is logged and the in-memory mutation
// stands; a failed read at startup degrades to an empty state.
package delivery
