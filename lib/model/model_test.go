package model

import (
	"errors"
	"testing"
	"time"
)

// makeTrace creates a float32 trace of the given length with a fixed
// ramp pattern.
func makeTrace(length int) Trace {
	v := make([]float32, length)
	for i := range v {
		v[i] = float32(i)
	}
	return NewTrace(Float32Samples(v))
}

func TestShapeValidation(t *testing.T) {
	s := NewSeries("power", nil)

	for i := 0; i < 3; i++ {
		if err := s.AddTrace(makeTrace(1000)); err != nil {
			t.Fatalf("adding trace %d: %v", i, err)
		}
	}

	ref, ok := s.RefShape()
	if !ok {
		t.Fatal("expected reference shape to be fixed")
	}
	if ref.Length != 1000 || ref.Type != SampleFloat32 {
		t.Errorf("unexpected reference shape %v", ref)
	}

	// A trace one sample short must be rejected and leave the series
	// unchanged.
	err := s.AddTrace(makeTrace(999))
	var mismatch *ShapeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ShapeMismatchError, got %v", err)
	}
	if mismatch.Expected.Length != 1000 || mismatch.Actual.Length != 999 {
		t.Errorf("mismatch reports wrong shapes: %v", mismatch)
	}
	if s.Len() != 3 {
		t.Errorf("series changed by rejected trace: %d traces", s.Len())
	}

	// Same length but different element type must also be rejected.
	wrongType := NewTrace(Float64Samples(make([]float64, 1000)))
	if err := s.AddTrace(wrongType); !errors.As(err, &mismatch) {
		t.Fatalf("expected ShapeMismatchError for element type, got %v", err)
	}
}

func TestShapeHomogeneity(t *testing.T) {
	s := NewSeries("em", nil)
	_ = s.AddTrace(makeTrace(64))
	_ = s.AddTrace(makeTrace(64))
	_ = s.AddTrace(makeTrace(128)) // rejected

	ref, _ := s.RefShape()
	for i := 0; i < s.Len(); i++ {
		if s.Trace(i).Samples.Shape() != ref {
			t.Errorf("trace %d violates the reference shape", i)
		}
	}
}

func TestGetOrCreate(t *testing.T) {
	db := NewDatabase()

	meta := Metadata{"device": TextValue("stm32f4")}

	e, outcome := db.GetOrCreateExperiment("aes", meta)
	if outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", outcome)
	}

	// Idempotent by name with matching metadata.
	again, outcome := db.GetOrCreateExperiment("aes", meta)
	if outcome != OutcomeFound {
		t.Errorf("expected found, got %s", outcome)
	}
	if again != e {
		t.Error("get-or-create returned a different experiment")
	}

	// Conflicting metadata is reported but never overwrites.
	_, outcome = db.GetOrCreateExperiment("aes", Metadata{"device": TextValue("cw308")})
	if outcome != OutcomeFoundConflicting {
		t.Errorf("expected conflicting outcome, got %s", outcome)
	}
	if v, _ := e.Metadata["device"].Text(); v != "stm32f4" {
		t.Errorf("existing metadata overwritten: %q", v)
	}

	s, outcome := e.GetOrCreateSeries("power", nil)
	if outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", outcome)
	}
	if s2, outcome := e.GetOrCreateSeries("power", nil); outcome != OutcomeFound || s2 != s {
		t.Errorf("series get-or-create not idempotent (outcome %s)", outcome)
	}
}

func TestUniqueNames(t *testing.T) {
	db := NewDatabase()
	if err := db.AddExperiment(NewExperiment("rv32i", nil)); err != nil {
		t.Fatal(err)
	}
	if err := db.AddExperiment(NewExperiment("rv32i", nil)); err == nil {
		t.Error("duplicate experiment name accepted")
	}

	e := db.Experiment("rv32i")
	if err := e.AddSeries(NewSeries("fixed", nil)); err != nil {
		t.Fatal(err)
	}
	if err := e.AddSeries(NewSeries("fixed", nil)); err == nil {
		t.Error("duplicate series name accepted")
	}
}

func TestRemove(t *testing.T) {
	db := NewDatabase()
	e, _ := db.GetOrCreateExperiment("aes", nil)
	s, _ := e.GetOrCreateSeries("power", nil)
	_ = s.AddTrace(makeTrace(16))
	_ = s.AddTrace(makeTrace(16))

	if _, err := s.RemoveTrace(5); err == nil {
		t.Error("out-of-range trace removal accepted")
	}
	if _, err := s.RemoveTrace(0); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 trace after removal, got %d", s.Len())
	}

	if _, err := e.RemoveSeries("nope"); err == nil {
		t.Error("removing unknown series succeeded")
	}
	if _, err := e.RemoveSeries("power"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.RemoveExperiment("aes"); err != nil {
		t.Fatal(err)
	}
	if db.Len() != 0 {
		t.Errorf("expected empty database, got %d experiments", db.Len())
	}
}

func TestTraceTimestampDefault(t *testing.T) {
	before := time.Now()
	tr := NewTrace(Float32Samples([]float32{1, 2, 3}))
	after := time.Now()

	if tr.Timestamp.Before(before) || tr.Timestamp.After(after) {
		t.Errorf("default timestamp %v not taken at construction time", tr.Timestamp)
	}

	// Overridable.
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.Timestamp = fixed
	if !tr.Timestamp.Equal(fixed) {
		t.Error("timestamp override lost")
	}
}

func TestTraceEqualAuxPresence(t *testing.T) {
	a := makeTrace(8)
	b := a

	if !a.Equal(b) {
		t.Fatal("identical traces not equal")
	}

	// An absent field and an empty one are different things.
	b.Stimulus = []byte{}
	if a.Equal(b) {
		t.Error("nil and empty stimulus treated as equal")
	}
}
