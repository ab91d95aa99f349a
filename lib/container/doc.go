// Package container maps the measurement hierarchy onto a single-file
// hierarchical store built on bbolt. It is a pure codec: it knows how
// one experiment or series is laid out as groups (buckets), datasets
// (indexed rows) and attributes (tagged values), but carries no merge
// policy and no session state — that is lib/store and lib/stream.
//
// Layout: one top-level group per experiment, one subgroup per series.
// A series holds its sample rows keyed by big-endian trace index, a
// parallel auxiliary dataset for the optional per-trace fields
// (stimulus, response, key, timestamp — absence is a flag, never an
// empty payload), its metadata as tagged attribute values, the reference
// shape, and a committed trace count.
//
// The committed count is the crash-recovery contract: AppendTraces
// writes rows and advances the count inside one transaction, and
// DecodeSeries reads exactly the committed rows. Whatever an interrupted
// writer left beyond that count is never surfaced.
//
// Malformed structure on read (missing dataset, wrong record length,
// unknown type tag) is reported as *CodecError; the codec never repairs
// a file.
package container
