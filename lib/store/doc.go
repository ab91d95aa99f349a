// Package store provides the save/load API over the container codec,
// including the merge engine that reconciles an in-memory database with
// a possibly-existing container.
//
// The package focuses on:
//   - Save with two explicit modes: update (the default, never
//     destructive) and overwrite (doubly gated by an acknowledgement
//     flag, replacing the container wholesale via a temp-file rename)
//   - The merge policy for update mode: new subtrees are attached,
//     series-name collisions append traces behind the stored rows after
//     a shape check, stored metadata always wins over conflicting
//     in-memory metadata
//   - Failure isolation: each top-level experiment commits in its own
//     transaction, shape mismatches abort only the colliding series, and
//     subtree errors are collected and returned after the whole
//     operation rather than raised on the first occurrence
//   - A Report of non-fatal warnings and counters, so callers decide how
//     to surface collisions and conflicts
//
// Thread-safety: Save and Load follow the single-writer model — one
// writer process per container at a time; arbitration between processes
// is a caller responsibility (external file locking).
package store
