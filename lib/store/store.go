package store

import (
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/scalab/tracevault/lib/container"
	"github.com/scalab/tracevault/lib/model"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var log = logrus.WithField("component", "store")

// --------------------------------------------------------------------------
// Save Modes and Options
// --------------------------------------------------------------------------

// Mode selects how Save treats an existing container.
type Mode string

const (
	// ModeUpdate merges the in-memory database into the existing
	// container without discarding prior data. This is the default.
	ModeUpdate Mode = "update"
	// ModeOverwrite replaces the container wholesale. It must be
	// acknowledged with OverwriteOK; defaults must never destroy
	// previously captured measurements.
	ModeOverwrite Mode = "overwrite"
)

// SaveOptions configures a Save call.
type SaveOptions struct {
	Mode        Mode
	OverwriteOK bool
}

// DefaultSaveOptions returns the safe defaults (update mode).
func DefaultSaveOptions() *SaveOptions {
	return &SaveOptions{Mode: ModeUpdate}
}

// UnsafeOverwriteError is returned when overwrite mode is requested
// without the acknowledgement flag. No filesystem access has happened;
// the target path is neither created nor modified.
type UnsafeOverwriteError struct {
	Path string
}

func (e *UnsafeOverwriteError) Error() string {
	return fmt.Sprintf("overwrite of %q requested without OverwriteOK; use update mode to merge instead", e.Path)
}

// --------------------------------------------------------------------------
// Save / Load API
// --------------------------------------------------------------------------

// Save persists the database to the container at path.
//
// In update mode a missing container is simply written; an existing one
// is merged: new experiments and series are attached, a series-name
// collision appends the in-memory traces behind the stored ones (after
// a shape check), and on-disk metadata is never silently overwritten.
// Errors local to one subtree are collected and returned after the
// whole operation, so one bad series never silently drops unrelated
// data. The returned Report lists the collected warnings and is non-nil
// whenever a merge ran, even if some subtrees failed.
//
// In overwrite mode the existing container is replaced wholesale; this
// requires opts.OverwriteOK and fails with *UnsafeOverwriteError before
// touching the filesystem otherwise.
func Save(db *model.Database, path string, opts *SaveOptions) (*Report, error) {
	if opts == nil {
		opts = DefaultSaveOptions()
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeUpdate
	}

	switch mode {
	case ModeOverwrite:
		if !opts.OverwriteOK {
			return nil, &UnsafeOverwriteError{Path: path}
		}
		return overwrite(db, path)
	case ModeUpdate:
		return update(db, path)
	default:
		return nil, fmt.Errorf("unknown save mode %q", mode)
	}
}

// Load decodes the whole container at path into a fresh database.
func Load(path string) (*model.Database, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("loading container: %w", err)
	}
	c, err := container.Open(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var db *model.Database
	err = c.View(func(tx *bolt.Tx) error {
		var err error
		db, err = container.DecodeDatabase(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// --------------------------------------------------------------------------
// Overwrite Path
// --------------------------------------------------------------------------

// overwrite encodes the database into a fresh temporary container and
// renames it over the target, so a failure mid-write leaves the old
// container untouched.
func overwrite(db *model.Database, path string) (*Report, error) {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	c, err := container.Open(tmp)
	if err != nil {
		return nil, err
	}
	err = c.Update(func(tx *bolt.Tx) error {
		return container.EncodeDatabase(tx, db)
	})
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("replacing container %s: %w", path, err)
	}

	report := &Report{}
	for _, name := range db.ExperimentNames() {
		report.NewExperiments++
		report.NewSeries += db.Experiment(name).Len()
	}
	log.WithField("path", path).Info("container replaced")
	return report, nil
}

// --------------------------------------------------------------------------
// Update (Merge) Path
// --------------------------------------------------------------------------

// update reconciles the database with the container at path. Each
// top-level experiment is written in its own transaction: a failure in
// one experiment rolls back only that experiment and never corrupts
// previously committed ones.
func update(db *model.Database, path string) (*Report, error) {
	c, err := container.Open(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	report := &Report{}
	var merged *multierror.Error

	for _, name := range db.ExperimentNames() {
		e := db.Experiment(name)
		err := c.Update(func(tx *bolt.Tx) error {
			if container.ExperimentBucket(tx, name) == nil {
				if err := container.EncodeExperiment(tx, e); err != nil {
					return err
				}
				report.NewExperiments++
				report.NewSeries += e.Len()
				return nil
			}
			return mergeExperiment(tx, e, report, &merged)
		})
		if err != nil {
			merged = multierror.Append(merged, fmt.Errorf("experiment %q: %w", name, err))
		}
	}
	return report, merged.ErrorOrNil()
}

// mergeExperiment unions one in-memory experiment into its existing
// on-disk group. Shape mismatches abort only the colliding series: the
// error is collected, the series is skipped, and the rest of the
// experiment still commits in this transaction.
func mergeExperiment(tx *bolt.Tx, e *model.Experiment, report *Report, merged **multierror.Error) error {
	b := container.ExperimentBucket(tx, e.Name)
	if err := mergeAttrs(b, e.Name, e.Metadata, report); err != nil {
		return err
	}

	for _, sname := range e.SeriesNames() {
		s := e.Series(sname)
		sb := container.SeriesBucket(b, sname)
		if sb == nil {
			if err := container.EncodeSeries(b, s); err != nil {
				return err
			}
			report.NewSeries++
			continue
		}

		path := e.Name + "/" + sname
		report.warnf(path, "series already exists, appending %d traces", s.Len())

		if err := mergeSeries(sb, path, s, report); err != nil {
			if _, ok := err.(*model.ShapeMismatchError); ok {
				*merged = multierror.Append(*merged, fmt.Errorf("series %q: %w", path, err))
				continue
			}
			return err
		}
		report.MergedSeries++
		report.AppendedTraces += s.Len()
	}
	return nil
}

// mergeSeries appends the in-memory traces of s behind the stored rows,
// subject to the shape validator comparing the in-memory reference shape
// against the stored dataset's shape.
func mergeSeries(sb *bolt.Bucket, path string, s *model.Series, report *Report) error {
	_, memOK := s.RefShape()
	diskShape, diskOK, err := container.ReadShape(sb, path)
	if err != nil {
		return err
	}
	if memOK && diskOK {
		if err := model.CheckShape(diskShape, s.Trace(0).Samples); err != nil {
			return err
		}
	}

	if err := mergeAttrs(sb, path, s.Metadata, report); err != nil {
		return err
	}
	return container.AppendTraces(sb, path, s.Traces())
}

// mergeAttrs adds metadata keys that are missing on disk. Keys present
// on both sides with differing values keep the stored value and emit a
// warning; stored metadata is never silently overwritten.
func mergeAttrs(group *bolt.Bucket, path string, meta model.Metadata, report *Report) error {
	stored, err := container.ReadAttrs(group, path)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := meta[k]
		old, ok := stored[k]
		if !ok {
			if err := container.PutAttr(group, k, v); err != nil {
				return err
			}
			continue
		}
		if !old.Equal(v) {
			report.warnf(path, "metadata key %q differs (stored %s, new %s), keeping stored value", k, old, v)
		}
	}
	return nil
}
