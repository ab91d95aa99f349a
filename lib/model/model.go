package model

import (
	"fmt"
	"sort"
	"time"
)

// --------------------------------------------------------------------------
// Trace
// --------------------------------------------------------------------------

// Trace is one captured measurement: a typed sample buffer plus optional
// auxiliary fields. Stimulus describes the input fed to the target,
// Response the observed output and Key any secret material associated
// with the measurement (white-box scenarios). A nil auxiliary field
// means "absent" and is preserved as such by the container.
//
// A trace is immutable once added to a series; callers populate the
// optional fields before handing it over.
type Trace struct {
	Samples   Samples
	Stimulus  []byte
	Response  []byte
	Key       []byte
	Timestamp time.Time
}

// NewTrace creates a trace with the capture timestamp set to now. The
// timestamp can be overridden before the trace is added to a series.
func NewTrace(samples Samples) Trace {
	return Trace{Samples: samples, Timestamp: time.Now()}
}

// Equal reports whether two traces carry the same samples, auxiliary
// fields and timestamp.
func (t Trace) Equal(other Trace) bool {
	return t.Samples.Equal(other.Samples) &&
		bytesEqual(t.Stimulus, other.Stimulus) &&
		bytesEqual(t.Response, other.Response) &&
		bytesEqual(t.Key, other.Key) &&
		t.Timestamp.Equal(other.Timestamp)
}

// bytesEqual treats nil and empty as distinct: an absent field is not an
// empty one.
func bytesEqual(a, b []byte) bool {
	if (a == nil) != (b == nil) || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Series
// --------------------------------------------------------------------------

// Series is a shape-homogeneous ordered collection of traces under one
// name. The reference shape is fixed by the first trace accepted and
// enforced on every subsequent addition. A series owns its traces;
// traces have no existence outside a series.
type Series struct {
	Name     string
	Metadata Metadata

	traces []Trace
}

// NewSeries creates an empty series with the given name and metadata
// (nil metadata is allowed).
func NewSeries(name string, metadata Metadata) *Series {
	if metadata == nil {
		metadata = Metadata{}
	}
	return &Series{Name: name, Metadata: metadata}
}

// RefShape returns the reference shape of the series. The boolean is
// false while the series is empty and the shape therefore not yet fixed.
func (s *Series) RefShape() (Shape, bool) {
	if len(s.traces) == 0 {
		return Shape{}, false
	}
	return s.traces[0].Samples.Shape(), true
}

// AddTrace appends a trace to the series. The first trace fixes the
// reference shape; any later trace that differs in length or element
// type is rejected with a *ShapeMismatchError and the series is left
// unchanged.
func (s *Series) AddTrace(t Trace) error {
	if ref, ok := s.RefShape(); ok {
		if err := CheckShape(ref, t.Samples); err != nil {
			return err
		}
	}
	s.traces = append(s.traces, t)
	return nil
}

// RemoveTrace removes and returns the trace at the given index.
func (s *Series) RemoveTrace(i int) (Trace, error) {
	if i < 0 || i >= len(s.traces) {
		return Trace{}, fmt.Errorf("trace index %d out of range [0, %d)", i, len(s.traces))
	}
	t := s.traces[i]
	s.traces = append(s.traces[:i], s.traces[i+1:]...)
	return t, nil
}

// Len returns the number of traces in the series.
func (s *Series) Len() int { return len(s.traces) }

// Trace returns the trace at the given index.
func (s *Series) Trace(i int) Trace { return s.traces[i] }

// Traces returns the traces in capture order. The returned slice is a
// copy; the traces themselves are owned by the series.
func (s *Series) Traces() []Trace {
	cp := make([]Trace, len(s.traces))
	copy(cp, s.traces)
	return cp
}

// --------------------------------------------------------------------------
// Experiment
// --------------------------------------------------------------------------

// Experiment is a named collection of series sharing a target/device
// context. Series names are unique within the experiment.
type Experiment struct {
	Name     string
	Metadata Metadata

	series map[string]*Series
}

// NewExperiment creates an empty experiment with the given name and
// metadata (nil metadata is allowed).
func NewExperiment(name string, metadata Metadata) *Experiment {
	if metadata == nil {
		metadata = Metadata{}
	}
	return &Experiment{Name: name, Metadata: metadata, series: map[string]*Series{}}
}

// AddSeries attaches a series to the experiment. Fails if the name is
// already taken.
func (e *Experiment) AddSeries(s *Series) error {
	if _, ok := e.series[s.Name]; ok {
		return fmt.Errorf("series %q already exists in experiment %q", s.Name, e.Name)
	}
	e.series[s.Name] = s
	return nil
}

// RemoveSeries detaches and returns the series with the given name.
func (e *Experiment) RemoveSeries(name string) (*Series, error) {
	s, ok := e.series[name]
	if !ok {
		return nil, fmt.Errorf("series %q not found in experiment %q", name, e.Name)
	}
	delete(e.series, name)
	return s, nil
}

// Series returns the series with the given name, or nil.
func (e *Experiment) Series(name string) *Series { return e.series[name] }

// Len returns the number of series in the experiment.
func (e *Experiment) Len() int { return len(e.series) }

// SeriesNames returns the series names in sorted order, so that callers
// iterating the experiment are deterministic.
func (e *Experiment) SeriesNames() []string {
	names := make([]string, 0, len(e.series))
	for name := range e.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetOrCreateSeries returns the series with the given name, creating it
// if necessary. The operation is idempotent by name. If the series
// exists and the supplied metadata differs from the stored metadata, the
// stored metadata is kept and the outcome reports the conflict.
func (e *Experiment) GetOrCreateSeries(name string, metadata Metadata) (*Series, Outcome) {
	if s, ok := e.series[name]; ok {
		if metadata != nil && !s.Metadata.Equal(metadata) {
			return s, OutcomeFoundConflicting
		}
		return s, OutcomeFound
	}
	s := NewSeries(name, metadata)
	e.series[name] = s
	return s, OutcomeCreated
}

// --------------------------------------------------------------------------
// Database
// --------------------------------------------------------------------------

// Database is the root collection of experiments and the root of
// ownership. It has no metadata of its own beyond its children.
type Database struct {
	experiments map[string]*Experiment
}

// NewDatabase creates an empty database.
func NewDatabase() *Database {
	return &Database{experiments: map[string]*Experiment{}}
}

// AddExperiment attaches an experiment to the database. Fails if the
// name is already taken.
func (d *Database) AddExperiment(e *Experiment) error {
	if _, ok := d.experiments[e.Name]; ok {
		return fmt.Errorf("experiment %q already exists", e.Name)
	}
	d.experiments[e.Name] = e
	return nil
}

// RemoveExperiment detaches and returns the experiment with the given
// name.
func (d *Database) RemoveExperiment(name string) (*Experiment, error) {
	e, ok := d.experiments[name]
	if !ok {
		return nil, fmt.Errorf("experiment %q not found", name)
	}
	delete(d.experiments, name)
	return e, nil
}

// Experiment returns the experiment with the given name, or nil.
func (d *Database) Experiment(name string) *Experiment { return d.experiments[name] }

// Len returns the number of experiments in the database.
func (d *Database) Len() int { return len(d.experiments) }

// ExperimentNames returns the experiment names in sorted order.
func (d *Database) ExperimentNames() []string {
	names := make([]string, 0, len(d.experiments))
	for name := range d.experiments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetOrCreateExperiment returns the experiment with the given name,
// creating it if necessary. Same idempotency and metadata-conflict rules
// as Experiment.GetOrCreateSeries.
func (d *Database) GetOrCreateExperiment(name string, metadata Metadata) (*Experiment, Outcome) {
	if e, ok := d.experiments[name]; ok {
		if metadata != nil && !e.Metadata.Equal(metadata) {
			return e, OutcomeFoundConflicting
		}
		return e, OutcomeFound
	}
	e := NewExperiment(name, metadata)
	d.experiments[name] = e
	return e, OutcomeCreated
}

// --------------------------------------------------------------------------
// Get-Or-Create Outcomes
// --------------------------------------------------------------------------

// Outcome tells a caller of a get-or-create accessor what actually
// happened, so conflict handling is an explicit decision rather than a
// side channel.
type Outcome uint8

const (
	// OutcomeCreated: the entity did not exist and was created.
	OutcomeCreated Outcome = iota + 1
	// OutcomeFound: the entity existed with matching (or omitted) metadata.
	OutcomeFound
	// OutcomeFoundConflicting: the entity existed and the supplied
	// metadata differs from the stored metadata; the stored metadata was
	// kept.
	OutcomeFoundConflicting
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeFound:
		return "found"
	case OutcomeFoundConflicting:
		return "found with conflicting metadata"
	default:
		return "unknown"
	}
}
