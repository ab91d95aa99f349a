// Package stream implements incremental, crash-safe trace capture
// directly into a container. A Writer is a session object for
// long-running measurement campaigns where building the whole hierarchy
// in memory first is not an option.
//
// Lifecycle: Open creates or opens the container, get-or-creates the
// experiment group and creates a fresh series group with a committed
// count of zero and a session id. Append validates and stages traces;
// Flush is the durability checkpoint that writes all staged rows and
// advances the committed count in one atomic transaction; Close
// performs a final flush, finalizes the capture time range and makes
// the session terminal. Callers choose the flush frequency, trading
// crash-recovery granularity against I/O overhead.
//
// After a crash, reopening the container surfaces exactly the traces
// committed by the last successful flush — the decoder reads only
// committed rows.
//
// One writer per container: an in-process registry rejects a second
// Open on the same path, and the container's file lock holds off other
// processes while the session lives. Anything beyond that (stale-lock
// arbitration, distributed capture) is a caller responsibility.
package stream
