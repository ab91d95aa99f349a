package stream

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/scalab/tracevault/lib/model"
	"github.com/scalab/tracevault/lib/store"
)

func rampTrace(length int, offset float32) model.Trace {
	v := make([]float32, length)
	for i := range v {
		v[i] = offset + float32(i)
	}
	return model.NewTrace(model.Float32Samples(v))
}

func TestCrashRecoversCommittedTraces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.tv")

	w, err := Open(path, "aes", "power", nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 50; i++ {
		if err := w.Append(rampTrace(100, float32(i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if w.Committed() != 50 {
		t.Fatalf("expected 50 committed traces, got %d", w.Committed())
	}

	for i := 50; i < 60; i++ {
		if err := w.Append(rampTrace(100, float32(i))); err != nil {
			t.Fatal(err)
		}
	}
	if w.Staged() != 10 {
		t.Fatalf("expected 10 staged traces, got %d", w.Staged())
	}

	// Simulate a crash before the next flush: the process dies, taking
	// the staged buffer with it. Closing the underlying container
	// without flushing and clearing the registry is exactly what a
	// process restart looks like to the file.
	if err := w.c.Close(); err != nil {
		t.Fatal(err)
	}
	openWriters.Delete(w.absPath)

	back, err := store.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s := back.Experiment("aes").Series("power")
	if s == nil {
		t.Fatal("series missing after recovery")
	}
	if s.Len() != 50 {
		t.Errorf("expected exactly 50 recovered traces, got %d", s.Len())
	}
	if !s.Trace(49).Samples.Equal(rampTrace(100, 49).Samples) {
		t.Error("last committed trace corrupted by recovery")
	}
}

func TestCloseFlushesAndFinalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.tv")

	w, err := Open(path, "aes", "power", &WriterOptions{
		SeriesMetadata: model.Metadata{"probe": model.TextValue("cw501")},
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		if err := w.Append(rampTrace(32, float32(i))); err != nil {
			t.Fatal(err)
		}
	}
	// No explicit flush: Close must perform the final one.
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if w.Committed() != 7 {
		t.Errorf("expected 7 committed after close, got %d", w.Committed())
	}

	back, err := store.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s := back.Experiment("aes").Series("power")
	if s.Len() != 7 {
		t.Errorf("expected 7 traces, got %d", s.Len())
	}
	if v, _ := s.Metadata["probe"].Text(); v != "cw501" {
		t.Errorf("series metadata lost: %q", v)
	}
}

func TestClosedWriterRejectsOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.tv")

	w, err := Open(path, "aes", "power", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = w.Append(rampTrace(8, 0))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	var invalid *InvalidStateError
	if err := w.Append(rampTrace(8, 0)); !errors.As(err, &invalid) {
		t.Errorf("Append on closed writer: expected InvalidStateError, got %v", err)
	}
	if err := w.Flush(); !errors.As(err, &invalid) {
		t.Errorf("Flush on closed writer: expected InvalidStateError, got %v", err)
	}
	if err := w.Close(); !errors.As(err, &invalid) {
		t.Errorf("second Close: expected InvalidStateError, got %v", err)
	}

	// No-op queries stay callable.
	if w.Committed() != 1 || w.Staged() != 0 {
		t.Error("queries on closed writer report wrong counts")
	}
}

func TestAppendValidatesShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.tv")

	w, err := Open(path, "aes", "power", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Append(rampTrace(1000, 0)); err != nil {
		t.Fatal(err)
	}

	var mismatch *model.ShapeMismatchError
	if err := w.Append(rampTrace(999, 0)); !errors.As(err, &mismatch) {
		t.Fatalf("expected ShapeMismatchError, got %v", err)
	}
	if w.Staged() != 1 {
		t.Errorf("rejected trace was staged anyway: %d staged", w.Staged())
	}
}

func TestPresetShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.tv")

	shape := model.Shape{Length: 256, Type: model.SampleInt16}
	w, err := Open(path, "aes", "em", &WriterOptions{Shape: &shape})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// The preset reference applies to the very first append.
	var mismatch *model.ShapeMismatchError
	if err := w.Append(rampTrace(256, 0)); !errors.As(err, &mismatch) {
		t.Errorf("float32 trace accepted against int16 preset: %v", err)
	}

	if err := w.Append(model.NewTrace(model.Int16Samples(make([]int16, 256)))); err != nil {
		t.Errorf("matching trace rejected: %v", err)
	}
}

func TestFreshSeriesRequired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.tv")

	w, err := Open(path, "aes", "power", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = w.Append(rampTrace(8, 0))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path, "aes", "power", nil); err == nil {
		t.Error("second session on an existing series accepted")
	}

	// A different series under the same experiment is fine.
	w2, err := Open(path, "aes", "power2", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w2.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSingleWriterPerPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.tv")

	w, err := Open(path, "aes", "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if _, err := Open(path, "aes", "b", nil); err == nil {
		t.Error("second in-process writer on the same container accepted")
	}
}

func TestOpenValidatesNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.tv")

	if _, err := Open(path, "", "power", nil); err == nil {
		t.Error("empty experiment name accepted")
	}
	if _, err := Open(path, "aes", "", nil); err == nil {
		t.Error("empty series name accepted")
	}
}
