package stream

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/scalab/tracevault/lib/container"
	"github.com/scalab/tracevault/lib/model"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var log = logrus.WithField("component", "stream")

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	metricAppends       = metrics.NewCounter("tracevault_stream_appends_total")
	metricFlushes       = metrics.NewCounter("tracevault_stream_flushes_total")
	metricFlushedTraces = metrics.NewCounter("tracevault_stream_flushed_traces_total")
)

// --------------------------------------------------------------------------
// In-Process Writer Registry
// --------------------------------------------------------------------------

// openWriters guards against two sessions writing the same container
// from within one process. Arbitration between processes stays a caller
// responsibility (the container file lock rejects a second opener, but
// only while the first holds the file).
var openWriters = xsync.NewMapOf[string, *Writer]()

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// InvalidStateError is returned when a method is called on a writer
// session in the wrong lifecycle state. This is a programmer error.
type InvalidStateError struct {
	Op string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("stream: %s called on a closed writer", e.Op)
}

// --------------------------------------------------------------------------
// Writer Options
// --------------------------------------------------------------------------

// WriterOptions configures an Open call. All fields are optional.
type WriterOptions struct {
	// ExperimentMetadata is written if the experiment group is created
	// by this session. On an existing experiment, missing keys are added
	// and conflicting keys keep the stored value (with a warning).
	ExperimentMetadata model.Metadata
	// SeriesMetadata is written on the fresh series group.
	SeriesMetadata model.Metadata
	// Shape presets the reference shape. If nil, the first appended
	// trace fixes it.
	Shape *model.Shape
}

// --------------------------------------------------------------------------
// Streaming Writer
// --------------------------------------------------------------------------

// Writer is a streaming capture session: it appends traces one at a time
// into a fresh series group and makes them durable in explicit flush
// checkpoints. Traces appended before the last successful Flush are
// guaranteed recoverable after a crash; traces appended after it are
// not. The session is Open → Closed, terminal; it is not reusable.
//
// Thread-safety: a writer belongs to one capture goroutine. Append,
// Flush and Close are synchronous and may block on storage I/O.
type Writer struct {
	c       *container.Container
	absPath string

	experiment string
	series     string
	path       string // experiment/series, for error reporting
	session    string

	ref       *model.Shape
	committed uint64
	staged    []model.Trace
	tsFirst   time.Time
	tsLast    time.Time
	closed    bool
}

// Open creates or opens the container at path, get-or-creates the
// experiment group and creates a fresh series group for this session.
// It fails if the series name is already taken — resuming another
// session's series would interleave two captures — or if another writer
// in this process already has the container open.
func Open(path, experiment, series string, opts *WriterOptions) (*Writer, error) {
	if experiment == "" || series == "" {
		return nil, fmt.Errorf("stream: experiment and series names must be non-empty")
	}
	if opts == nil {
		opts = &WriterOptions{}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		absPath:    abs,
		experiment: experiment,
		series:     series,
		path:       experiment + "/" + series,
		session:    uuid.NewString(),
		ref:        opts.Shape,
	}
	if _, loaded := openWriters.LoadOrStore(abs, w); loaded {
		return nil, fmt.Errorf("stream: a writer for %s is already open in this process", path)
	}

	c, err := container.Open(path)
	if err != nil {
		openWriters.Delete(abs)
		return nil, err
	}
	w.c = c

	err = c.Update(func(tx *bolt.Tx) error {
		eb := container.ExperimentBucket(tx, experiment)
		if eb == nil {
			eb, err = container.CreateExperiment(tx, experiment)
			if err != nil {
				return err
			}
			for k, v := range opts.ExperimentMetadata {
				if err := container.PutAttr(eb, k, v); err != nil {
					return err
				}
			}
		} else if err := reconcileAttrs(eb, experiment, opts.ExperimentMetadata); err != nil {
			return err
		}

		if container.SeriesBucket(eb, series) != nil {
			return fmt.Errorf("stream: series %q already exists in experiment %q", series, experiment)
		}
		sb, err := container.CreateSeries(eb, series)
		if err != nil {
			return err
		}
		for k, v := range opts.SeriesMetadata {
			if err := container.PutAttr(sb, k, v); err != nil {
				return err
			}
		}
		if err := container.WriteSession(sb, w.session); err != nil {
			return err
		}
		if opts.Shape != nil {
			return container.WriteShape(sb, *opts.Shape)
		}
		return nil
	})
	if err != nil {
		openWriters.Delete(abs)
		_ = c.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"path":    path,
		"series":  w.path,
		"session": w.session,
	}).Info("streaming session opened")
	return w, nil
}

// reconcileAttrs applies the get-or-create metadata rule to an existing
// experiment group: missing keys are added, conflicts keep the stored
// value.
func reconcileAttrs(group *bolt.Bucket, path string, meta model.Metadata) error {
	if len(meta) == 0 {
		return nil
	}
	stored, err := container.ReadAttrs(group, path)
	if err != nil {
		return err
	}
	for k, v := range meta {
		old, ok := stored[k]
		if !ok {
			if err := container.PutAttr(group, k, v); err != nil {
				return err
			}
			continue
		}
		if !old.Equal(v) {
			log.WithField("path", path).Warnf("metadata key %q differs (stored %s, new %s), keeping stored value", k, old, v)
		}
	}
	return nil
}

// Append validates the trace against the series reference shape and
// stages it. The first append fixes the reference if no preset shape was
// given. Append alone guarantees no durability; call Flush for the
// crash-safety checkpoint.
func (w *Writer) Append(t model.Trace) error {
	if w.closed {
		return &InvalidStateError{Op: "Append"}
	}
	if w.ref == nil {
		shape := t.Samples.Shape()
		w.ref = &shape
	} else if err := model.CheckShape(*w.ref, t.Samples); err != nil {
		return err
	}

	w.staged = append(w.staged, t)
	if ts := t.Timestamp; !ts.IsZero() {
		if w.tsFirst.IsZero() || ts.Before(w.tsFirst) {
			w.tsFirst = ts
		}
		if ts.After(w.tsLast) {
			w.tsLast = ts
		}
	}
	metricAppends.Inc()
	return nil
}

// Flush durably writes all staged traces and atomically advances the
// committed count to match. On return the traces survive a crash.
func (w *Writer) Flush() error {
	if w.closed {
		return &InvalidStateError{Op: "Flush"}
	}
	return w.flushStaged()
}

func (w *Writer) flushStaged() error {
	if len(w.staged) == 0 {
		return nil
	}
	n := len(w.staged)
	err := w.c.Update(func(tx *bolt.Tx) error {
		sb, err := w.seriesBucket(tx)
		if err != nil {
			return err
		}
		return container.AppendTraces(sb, w.path, w.staged)
	})
	if err != nil {
		return err
	}
	w.committed += uint64(n)
	w.staged = w.staged[:0]
	metricFlushes.Inc()
	metricFlushedTraces.Add(n)
	log.WithFields(logrus.Fields{
		"series":    w.path,
		"flushed":   n,
		"committed": w.committed,
	}).Debug("flush checkpoint")
	return nil
}

// Close performs a final flush, finalizes the trailing metadata of the
// series (capture time range) and closes the container. The writer is
// not reusable afterwards; only Committed and Staged stay callable.
func (w *Writer) Close() error {
	if w.closed {
		return &InvalidStateError{Op: "Close"}
	}

	err := w.flushStaged()
	if err == nil && w.committed > 0 && !w.tsFirst.IsZero() {
		err = w.c.Update(func(tx *bolt.Tx) error {
			sb, serr := w.seriesBucket(tx)
			if serr != nil {
				return serr
			}
			return container.WriteTimeRange(sb, w.tsFirst, w.tsLast)
		})
	}

	w.closed = true
	openWriters.Delete(w.absPath)
	if cerr := w.c.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"series":    w.path,
		"committed": w.committed,
	}).Info("streaming session closed")
	return nil
}

// Committed returns the number of traces durably committed so far. It is
// a no-op query and stays callable on a closed writer.
func (w *Writer) Committed() uint64 { return w.committed }

// Staged returns the number of appended-but-unflushed traces.
func (w *Writer) Staged() int { return len(w.staged) }

// Session returns the capture session id recorded on the series group.
func (w *Writer) Session() string { return w.session }

// seriesBucket resolves this session's series group inside a
// transaction.
func (w *Writer) seriesBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	eb := container.ExperimentBucket(tx, w.experiment)
	if eb == nil {
		return nil, &container.CodecError{Path: w.path, Reason: "experiment group vanished"}
	}
	sb := container.SeriesBucket(eb, w.series)
	if sb == nil {
		return nil, &container.CodecError{Path: w.path, Reason: "series group vanished"}
	}
	return sb, nil
}
