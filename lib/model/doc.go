// Package model defines the in-memory hierarchy for side-channel
// measurement data: a Database owns Experiments, an Experiment owns
// Series, a Series owns Traces.
//
// The package focuses on:
//   - Typed sample buffers (Samples) with a closed set of element types
//   - The per-series shape invariant: every trace in a series has the
//     same sample count and element type, fixed by the first trace
//     (enforced by CheckShape, shared with the streaming writer)
//   - Tagged metadata values (Value) with a closed set of kinds, so a
//     container can stay self-describing without dynamic typing
//   - Idempotent get-or-create accessors that report an explicit
//     Outcome (created / found / found with conflicting metadata) and
//     never overwrite existing metadata
//
// The model performs no I/O. Persistence lives in lib/container (codec)
// and lib/store (merge engine); incremental capture in lib/stream. Once
// a database is saved, the in-memory objects and the on-disk container
// are independent copies.
//
// Thread-safety: entities are plain structs without internal locking,
// matching the single-writer model of the persistence layer. Confine a
// hierarchy to one goroutine or synchronize externally.
package model
