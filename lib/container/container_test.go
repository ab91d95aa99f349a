package container

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/scalab/tracevault/lib/model"
	bolt "go.etcd.io/bbolt"
)

// buildDatabase creates a database exercising all metadata kinds and
// both present and absent auxiliary fields.
func buildDatabase(t *testing.T) *model.Database {
	t.Helper()

	db := model.NewDatabase()
	e, _ := db.GetOrCreateExperiment("aes", model.Metadata{
		"device":  model.TextValue("stm32f4"),
		"clock":   model.IntValue(168000000),
		"shunt":   model.FloatValue(0.5),
		"cooled":  model.BoolValue(false),
		"firmwid": model.BytesValue([]byte{0xde, 0xad}),
	})
	s, _ := e.GetOrCreateSeries("power", model.Metadata{"probe": model.TextValue("cw501")})

	full := model.NewTrace(model.Float32Samples([]float32{1, 2, 3, 4}))
	full.Stimulus = []byte{0x01, 0x02}
	full.Response = []byte{0x03}
	full.Key = []byte{0x10, 0x11, 0x12}
	if err := s.AddTrace(full); err != nil {
		t.Fatal(err)
	}

	bare := model.Trace{Samples: model.Float32Samples([]float32{5, 6, 7, 8})}
	if err := s.AddTrace(bare); err != nil {
		t.Fatal(err)
	}
	return db
}

// writeDatabase encodes db into a fresh container file and returns its
// path.
func writeDatabase(t *testing.T, db *model.Database) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "f.tv")
	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Update(func(tx *bolt.Tx) error {
		return EncodeDatabase(tx, db)
	}); err != nil {
		t.Fatal(err)
	}
	return path
}

func readDatabase(t *testing.T, path string) *model.Database {
	t.Helper()

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var db *model.Database
	if err := c.View(func(tx *bolt.Tx) error {
		var err error
		db, err = DecodeDatabase(tx)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestDatabaseRoundTrip(t *testing.T) {
	orig := buildDatabase(t)
	path := writeDatabase(t, orig)
	back := readDatabase(t, path)

	if back.Len() != 1 {
		t.Fatalf("expected 1 experiment, got %d", back.Len())
	}
	e := back.Experiment("aes")
	if e == nil {
		t.Fatal("experiment missing after round trip")
	}
	if !e.Metadata.Equal(orig.Experiment("aes").Metadata) {
		t.Error("experiment metadata changed in round trip")
	}

	s := e.Series("power")
	if s == nil || s.Len() != 2 {
		t.Fatalf("series missing or wrong length after round trip")
	}
	if !s.Metadata.Equal(orig.Experiment("aes").Series("power").Metadata) {
		t.Error("series metadata changed in round trip")
	}

	for i := 0; i < 2; i++ {
		want := orig.Experiment("aes").Series("power").Trace(i)
		got := s.Trace(i)
		if !got.Equal(want) {
			t.Errorf("trace %d changed in round trip", i)
		}
	}

	// Presence and absence of auxiliary fields must survive exactly.
	if s.Trace(1).Stimulus != nil || s.Trace(1).Response != nil || s.Trace(1).Key != nil {
		t.Error("absent auxiliary fields resurfaced as non-nil")
	}
}

func TestEmptySeriesRoundTrip(t *testing.T) {
	db := model.NewDatabase()
	e, _ := db.GetOrCreateExperiment("aes", nil)
	e.GetOrCreateSeries("pending", model.Metadata{"note": model.TextValue("not captured yet")})

	back := readDatabase(t, writeDatabase(t, db))

	s := back.Experiment("aes").Series("pending")
	if s == nil {
		t.Fatal("empty series missing after round trip")
	}
	if s.Len() != 0 {
		t.Errorf("phantom traces in empty series: %d", s.Len())
	}
	if _, ok := s.RefShape(); ok {
		t.Error("empty series has a fixed shape")
	}
}

func TestDecodeReadsOnlyCommittedRows(t *testing.T) {
	path := writeDatabase(t, buildDatabase(t))

	// An interrupted writer can leave rows beyond the committed count.
	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	err = c.Update(func(tx *bolt.Tx) error {
		sb := SeriesBucket(ExperimentBucket(tx, "aes"), "power")
		orphan := model.Float32Samples([]float32{9, 9, 9, 9})
		if err := sb.Bucket(bucketSamples).Put(rowKey(2), orphan.Raw()); err != nil {
			return err
		}
		return sb.Bucket(bucketAux).Put(rowKey(2), encodeAux(model.Trace{}))
	})
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		t.Fatal(err)
	}

	back := readDatabase(t, path)
	if got := back.Experiment("aes").Series("power").Len(); got != 2 {
		t.Errorf("expected 2 committed traces, got %d", got)
	}
}

func TestCodecErrors(t *testing.T) {
	corrupt := func(t *testing.T, fn func(sb *bolt.Bucket) error) string {
		t.Helper()
		path := writeDatabase(t, buildDatabase(t))
		c, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		err = c.Update(func(tx *bolt.Tx) error {
			return fn(SeriesBucket(ExperimentBucket(tx, "aes"), "power"))
		})
		if cerr := c.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			t.Fatal(err)
		}
		return path
	}

	expectCodecError := func(t *testing.T, path string) {
		t.Helper()
		c, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
		err = c.View(func(tx *bolt.Tx) error {
			_, err := DecodeDatabase(tx)
			return err
		})
		var cerr *CodecError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected CodecError, got %v", err)
		}
	}

	t.Run("MissingCommittedCount", func(t *testing.T) {
		expectCodecError(t, corrupt(t, func(sb *bolt.Bucket) error {
			return sb.Delete(keyCommitted)
		}))
	})

	t.Run("MissingShape", func(t *testing.T) {
		expectCodecError(t, corrupt(t, func(sb *bolt.Bucket) error {
			return sb.Delete(keyShape)
		}))
	})

	t.Run("MissingRow", func(t *testing.T) {
		expectCodecError(t, corrupt(t, func(sb *bolt.Bucket) error {
			return sb.Bucket(bucketSamples).Delete(rowKey(0))
		}))
	})

	t.Run("RowLengthMismatch", func(t *testing.T) {
		expectCodecError(t, corrupt(t, func(sb *bolt.Bucket) error {
			return sb.Bucket(bucketSamples).Put(rowKey(0), []byte{1, 2, 3})
		}))
	})

	t.Run("UnknownAttrKind", func(t *testing.T) {
		expectCodecError(t, corrupt(t, func(sb *bolt.Bucket) error {
			return sb.Bucket(bucketAttrs).Put([]byte("probe"), []byte{0x7f, 1, 2})
		}))
	})
}

func TestForeignFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.db")

	// A bbolt file that is not a tracevault container.
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucket([]byte("unrelated"))
		return err
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path); err == nil {
		t.Error("foreign file opened as a container")
	}
}
