package container

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// --------------------------------------------------------------------------
// Constants and Bucket Layout
// --------------------------------------------------------------------------

// Constants for the container format identity
const (
	formatMarker  = "tracevault" // File format identifier
	formatVersion = 1            // Container format version

	openTimeout = 1 * time.Second // bbolt file-lock timeout
)

// Bucket names. Layout:
//
//	meta                       format marker and version
//	experiments/
//	  <experiment>/
//	    attrs/<key>            tagged metadata value
//	    series/
//	      <series>/
//	        attrs/<key>        tagged metadata value
//	        samples/<idx>      raw little-endian sample row
//	        aux/<idx>          auxiliary record (stimulus/response/key/timestamp)
//	        shape              reference shape (sample count + element type)
//	        committed          committed trace count
//	        session            capture session id (streaming only)
//	        ts_first, ts_last  capture time range (finalized on close)
var (
	bucketMeta        = []byte("meta")
	bucketExperiments = []byte("experiments")
	bucketAttrs       = []byte("attrs")
	bucketSeries      = []byte("series")
	bucketSamples     = []byte("samples")
	bucketAux         = []byte("aux")
)

// Reserved keys inside a series bucket. These never appear as user
// metadata because user metadata lives in the attrs sub-bucket.
var (
	keyFormat    = []byte("format")
	keyVersion   = []byte("version")
	keyShape     = []byte("shape")
	keyCommitted = []byte("committed")
	keySession   = []byte("session")
	keyTsFirst   = []byte("ts_first")
	keyTsLast    = []byte("ts_last")
)

// --------------------------------------------------------------------------
// Codec Error
// --------------------------------------------------------------------------

// CodecError reports malformed on-disk structure: a missing required
// bucket or key, a length that does not match the recorded shape, or an
// unknown type tag. It is non-retryable and the codec performs no
// repair; the caller decides whether other subtrees can still be used.
type CodecError struct {
	Path   string // container path of the offending group, e.g. "aes/power"
	Reason string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("container: malformed group %q: %s", e.Path, e.Reason)
}

// --------------------------------------------------------------------------
// Container
// --------------------------------------------------------------------------

// Container is an open handle on a single-file hierarchical store. The
// file holds one top-level group per experiment, one subgroup per
// series, sample rows keyed by trace index and tagged attributes for
// metadata (see the bucket layout above).
//
// Thread-safety: a container follows the single-writer model of bbolt;
// one Update transaction runs at a time and the file is lock-protected
// against other processes.
type Container struct {
	db   *bolt.DB
	path string
}

// Open opens the container at path, creating and initializing it if it
// does not exist. An existing file must carry the expected format marker
// and version.
func Open(path string) (*Container, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening container %s: %w", path, err)
	}

	// Initialize or verify the self-description.
	err = db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			// Initialize only a genuinely fresh file; a bbolt file with
			// other content is not a container.
			foreign := false
			_ = tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
				foreign = true
				return nil
			})
			if foreign {
				return &CodecError{Path: "meta", Reason: "missing format marker"}
			}
			meta, err := tx.CreateBucket(bucketMeta)
			if err != nil {
				return err
			}
			if err := meta.Put(keyFormat, []byte(formatMarker)); err != nil {
				return err
			}
			if err := meta.Put(keyVersion, []byte{formatVersion}); err != nil {
				return err
			}
			_, err = tx.CreateBucket(bucketExperiments)
			return err
		}

		if string(meta.Get(keyFormat)) != formatMarker {
			return &CodecError{Path: "meta", Reason: "missing or foreign format marker"}
		}
		if v := meta.Get(keyVersion); len(v) != 1 || v[0] != formatVersion {
			return &CodecError{Path: "meta", Reason: fmt.Sprintf("unsupported format version %v", v)}
		}
		if tx.Bucket(bucketExperiments) == nil {
			return &CodecError{Path: "experiments", Reason: "missing experiments group"}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Container{db: db, path: path}, nil
}

// Close closes the container file and releases its lock.
func (c *Container) Close() error {
	return c.db.Close()
}

// Path returns the filesystem path of the container.
func (c *Container) Path() string {
	return c.path
}

// Update runs fn inside a writable transaction. All writes in fn commit
// atomically and durably, or not at all.
func (c *Container) Update(fn func(tx *bolt.Tx) error) error {
	return c.db.Update(fn)
}

// View runs fn inside a read-only transaction.
func (c *Container) View(fn func(tx *bolt.Tx) error) error {
	return c.db.View(fn)
}
