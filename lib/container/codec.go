package container

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/scalab/tracevault/lib/model"
	bolt "go.etcd.io/bbolt"
)

// --------------------------------------------------------------------------
// Group Navigation
// --------------------------------------------------------------------------

// ExperimentNames returns the names of all top-level experiment groups
// in sorted (bucket) order.
func ExperimentNames(tx *bolt.Tx) []string {
	var names []string
	root := tx.Bucket(bucketExperiments)
	if root == nil {
		return nil
	}
	_ = root.ForEachBucket(func(k []byte) error {
		names = append(names, string(k))
		return nil
	})
	return names
}

// ExperimentBucket returns the group of the named experiment, or nil if
// it does not exist.
func ExperimentBucket(tx *bolt.Tx, name string) *bolt.Bucket {
	root := tx.Bucket(bucketExperiments)
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(name))
}

// CreateExperiment creates an empty experiment group. Fails if the name
// is already taken.
func CreateExperiment(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	root := tx.Bucket(bucketExperiments)
	if root == nil {
		return nil, &CodecError{Path: "experiments", Reason: "missing experiments group"}
	}
	b, err := root.CreateBucket([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("creating experiment group %q: %w", name, err)
	}
	if _, err := b.CreateBucket(bucketAttrs); err != nil {
		return nil, err
	}
	if _, err := b.CreateBucket(bucketSeries); err != nil {
		return nil, err
	}
	return b, nil
}

// SeriesNames returns the names of all series groups of an experiment in
// sorted (bucket) order.
func SeriesNames(exp *bolt.Bucket) []string {
	var names []string
	root := exp.Bucket(bucketSeries)
	if root == nil {
		return nil
	}
	_ = root.ForEachBucket(func(k []byte) error {
		names = append(names, string(k))
		return nil
	})
	return names
}

// SeriesBucket returns the group of the named series, or nil if it does
// not exist.
func SeriesBucket(exp *bolt.Bucket, name string) *bolt.Bucket {
	root := exp.Bucket(bucketSeries)
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(name))
}

// CreateSeries creates an empty series group with a committed count of
// zero. Fails if the name is already taken.
func CreateSeries(exp *bolt.Bucket, name string) (*bolt.Bucket, error) {
	root := exp.Bucket(bucketSeries)
	if root == nil {
		return nil, &CodecError{Path: name, Reason: "missing series group"}
	}
	b, err := root.CreateBucket([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("creating series group %q: %w", name, err)
	}
	for _, sub := range [][]byte{bucketAttrs, bucketSamples, bucketAux} {
		if _, err := b.CreateBucket(sub); err != nil {
			return nil, err
		}
	}
	if err := b.Put(keyCommitted, encodeUint64(0)); err != nil {
		return nil, err
	}
	return b, nil
}

// --------------------------------------------------------------------------
// Attributes (tagged metadata values)
// --------------------------------------------------------------------------

// PutAttr stores one metadata value on a group.
func PutAttr(group *bolt.Bucket, key string, v model.Value) error {
	attrs := group.Bucket(bucketAttrs)
	if attrs == nil {
		return &CodecError{Path: key, Reason: "missing attrs group"}
	}
	return attrs.Put([]byte(key), encodeValue(v))
}

// ReadAttrs decodes all metadata values of a group.
func ReadAttrs(group *bolt.Bucket, path string) (model.Metadata, error) {
	attrs := group.Bucket(bucketAttrs)
	if attrs == nil {
		return nil, &CodecError{Path: path, Reason: "missing attrs group"}
	}
	meta := model.Metadata{}
	err := attrs.ForEach(func(k, v []byte) error {
		val, err := decodeValue(v, path, string(k))
		if err != nil {
			return err
		}
		meta[string(k)] = val
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func writeAttrs(group *bolt.Bucket, meta model.Metadata) error {
	for key, v := range meta {
		if err := PutAttr(group, key, v); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Series Dataset Primitives
// --------------------------------------------------------------------------

// ReadShape returns the stored reference shape of a series group. The
// boolean is false if the shape is not yet fixed (empty series).
func ReadShape(sb *bolt.Bucket, path string) (model.Shape, bool, error) {
	raw := sb.Get(keyShape)
	if raw == nil {
		return model.Shape{}, false, nil
	}
	if len(raw) != 5 {
		return model.Shape{}, false, &CodecError{Path: path, Reason: "shape record has wrong length"}
	}
	shape := model.Shape{
		Length: int(binary.BigEndian.Uint32(raw)),
		Type:   model.SampleType(raw[4]),
	}
	if !shape.Type.Valid() {
		return model.Shape{}, false, &CodecError{Path: path, Reason: fmt.Sprintf("unknown sample type tag %d", raw[4])}
	}
	return shape, true, nil
}

// WriteShape fixes the reference shape of a series group.
func WriteShape(sb *bolt.Bucket, shape model.Shape) error {
	raw := make([]byte, 5)
	binary.BigEndian.PutUint32(raw, uint32(shape.Length))
	raw[4] = byte(shape.Type)
	return sb.Put(keyShape, raw)
}

// ReadCommitted returns the committed trace count of a series group.
// Rows beyond this count are not part of the recoverable dataset.
func ReadCommitted(sb *bolt.Bucket, path string) (uint64, error) {
	raw := sb.Get(keyCommitted)
	if raw == nil {
		return 0, &CodecError{Path: path, Reason: "missing committed count"}
	}
	if len(raw) != 8 {
		return 0, &CodecError{Path: path, Reason: "committed count has wrong length"}
	}
	return binary.BigEndian.Uint64(raw), nil
}

// AppendTraces writes traces as rows after the currently committed ones
// and advances the committed count, all within the caller's transaction.
// If the series shape is not yet fixed, the first trace fixes it. The
// caller is responsible for shape validation.
func AppendTraces(sb *bolt.Bucket, path string, traces []model.Trace) error {
	if len(traces) == 0 {
		return nil
	}
	committed, err := ReadCommitted(sb, path)
	if err != nil {
		return err
	}
	if _, ok, err := ReadShape(sb, path); err != nil {
		return err
	} else if !ok {
		if err := WriteShape(sb, traces[0].Samples.Shape()); err != nil {
			return err
		}
	}

	samples := sb.Bucket(bucketSamples)
	aux := sb.Bucket(bucketAux)
	if samples == nil || aux == nil {
		return &CodecError{Path: path, Reason: "missing samples or aux dataset"}
	}
	for i, t := range traces {
		key := rowKey(committed + uint64(i))
		if err := samples.Put(key, t.Samples.Raw()); err != nil {
			return err
		}
		if err := aux.Put(key, encodeAux(t)); err != nil {
			return err
		}
	}
	return sb.Put(keyCommitted, encodeUint64(committed+uint64(len(traces))))
}

// WriteSession records the capture session id of a streaming series.
func WriteSession(sb *bolt.Bucket, id string) error {
	return sb.Put(keySession, []byte(id))
}

// ReadSession returns the capture session id, if any.
func ReadSession(sb *bolt.Bucket) (string, bool) {
	raw := sb.Get(keySession)
	if raw == nil {
		return "", false
	}
	return string(raw), true
}

// WriteTimeRange records the first and last capture timestamps of a
// streaming series, finalized when the session closes.
func WriteTimeRange(sb *bolt.Bucket, first, last time.Time) error {
	if err := sb.Put(keyTsFirst, encodeUint64(uint64(first.UnixNano()))); err != nil {
		return err
	}
	return sb.Put(keyTsLast, encodeUint64(uint64(last.UnixNano())))
}

// --------------------------------------------------------------------------
// Encode (memory -> container)
// --------------------------------------------------------------------------

// EncodeDatabase writes a whole database into an empty container.
func EncodeDatabase(tx *bolt.Tx, db *model.Database) error {
	for _, name := range db.ExperimentNames() {
		if err := EncodeExperiment(tx, db.Experiment(name)); err != nil {
			return err
		}
	}
	return nil
}

// EncodeExperiment attaches a whole experiment subtree as a new
// top-level group. Fails if the name is already taken.
func EncodeExperiment(tx *bolt.Tx, e *model.Experiment) error {
	b, err := CreateExperiment(tx, e.Name)
	if err != nil {
		return err
	}
	if err := writeAttrs(b, e.Metadata); err != nil {
		return err
	}
	for _, name := range e.SeriesNames() {
		if err := EncodeSeries(b, e.Series(name)); err != nil {
			return err
		}
	}
	return nil
}

// EncodeSeries attaches a whole series as a new group under an existing
// experiment. Fails if the name is already taken.
func EncodeSeries(exp *bolt.Bucket, s *model.Series) error {
	b, err := CreateSeries(exp, s.Name)
	if err != nil {
		return err
	}
	if err := writeAttrs(b, s.Metadata); err != nil {
		return err
	}
	return AppendTraces(b, s.Name, s.Traces())
}

// --------------------------------------------------------------------------
// Decode (container -> memory)
// --------------------------------------------------------------------------

// DecodeDatabase reconstructs the full hierarchy from the container.
func DecodeDatabase(tx *bolt.Tx) (*model.Database, error) {
	db := model.NewDatabase()
	for _, name := range ExperimentNames(tx) {
		e, err := DecodeExperiment(tx, name)
		if err != nil {
			return nil, err
		}
		if err := db.AddExperiment(e); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// DecodeExperiment reconstructs one experiment subtree.
func DecodeExperiment(tx *bolt.Tx, name string) (*model.Experiment, error) {
	b := ExperimentBucket(tx, name)
	if b == nil {
		return nil, &CodecError{Path: name, Reason: "experiment group not found"}
	}
	meta, err := ReadAttrs(b, name)
	if err != nil {
		return nil, err
	}
	e := model.NewExperiment(name, meta)
	for _, sname := range SeriesNames(b) {
		s, err := DecodeSeries(SeriesBucket(b, sname), sname, name+"/"+sname)
		if err != nil {
			return nil, err
		}
		if err := e.AddSeries(s); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// DecodeSeries reconstructs one series from its group. It reads exactly
// the committed rows; anything a crashed writer may have left beyond the
// committed count is ignored.
func DecodeSeries(sb *bolt.Bucket, name, path string) (*model.Series, error) {
	if sb == nil {
		return nil, &CodecError{Path: path, Reason: "series group not found"}
	}
	meta, err := ReadAttrs(sb, path)
	if err != nil {
		return nil, err
	}
	s := model.NewSeries(name, meta)

	committed, err := ReadCommitted(sb, path)
	if err != nil {
		return nil, err
	}
	if committed == 0 {
		return s, nil
	}

	shape, ok, err := ReadShape(sb, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &CodecError{Path: path, Reason: "committed rows but no shape record"}
	}
	rowLen := shape.Length * shape.Type.Size()

	samples := sb.Bucket(bucketSamples)
	aux := sb.Bucket(bucketAux)
	if samples == nil || aux == nil {
		return nil, &CodecError{Path: path, Reason: "missing samples or aux dataset"}
	}

	for i := uint64(0); i < committed; i++ {
		key := rowKey(i)
		rawRow := samples.Get(key)
		if rawRow == nil {
			return nil, &CodecError{Path: path, Reason: fmt.Sprintf("missing committed row %d", i)}
		}
		if len(rawRow) != rowLen {
			return nil, &CodecError{Path: path, Reason: fmt.Sprintf("row %d has %d bytes, shape requires %d", i, len(rawRow), rowLen)}
		}
		buf, err := model.SamplesFromRaw(shape.Type, rawRow)
		if err != nil {
			return nil, &CodecError{Path: path, Reason: err.Error()}
		}
		t := model.Trace{Samples: buf}
		rawAux := aux.Get(key)
		if rawAux == nil {
			return nil, &CodecError{Path: path, Reason: fmt.Sprintf("missing auxiliary record %d", i)}
		}
		if err := decodeAux(rawAux, path, &t); err != nil {
			return nil, err
		}
		if err := s.AddTrace(t); err != nil {
			return nil, &CodecError{Path: path, Reason: err.Error()}
		}
	}
	return s, nil
}

// --------------------------------------------------------------------------
// Record Codecs
// --------------------------------------------------------------------------

// Bit flags marking which auxiliary fields are present on a trace. An
// absent field is stored as an unset flag, never as an empty payload, so
// presence and absence round-trip exactly.
const (
	auxHasTimestamp byte = 1 << 0
	auxHasStimulus  byte = 1 << 1
	auxHasResponse  byte = 1 << 2
	auxHasKey       byte = 1 << 3
)

// encodeAux packs the optional per-trace fields into one record: a flags
// byte, then the timestamp, then length-prefixed payloads for each
// present field.
func encodeAux(t model.Trace) []byte {
	var flags byte
	size := 1
	if !t.Timestamp.IsZero() {
		flags |= auxHasTimestamp
		size += 8
	}
	for _, f := range [][]byte{t.Stimulus, t.Response, t.Key} {
		if f != nil {
			size += 4 + len(f)
		}
	}
	if t.Stimulus != nil {
		flags |= auxHasStimulus
	}
	if t.Response != nil {
		flags |= auxHasResponse
	}
	if t.Key != nil {
		flags |= auxHasKey
	}

	raw := make([]byte, size)
	raw[0] = flags
	pos := 1
	if flags&auxHasTimestamp != 0 {
		binary.BigEndian.PutUint64(raw[pos:], uint64(t.Timestamp.UnixNano()))
		pos += 8
	}
	for _, f := range [][]byte{t.Stimulus, t.Response, t.Key} {
		if f == nil {
			continue
		}
		binary.BigEndian.PutUint32(raw[pos:], uint32(len(f)))
		pos += 4
		copy(raw[pos:], f)
		pos += len(f)
	}
	return raw
}

// decodeAux unpacks an auxiliary record into the trace.
func decodeAux(raw []byte, path string, t *model.Trace) error {
	if len(raw) < 1 {
		return &CodecError{Path: path, Reason: "empty auxiliary record"}
	}
	flags := raw[0]
	pos := 1

	if flags&auxHasTimestamp != 0 {
		if len(raw) < pos+8 {
			return &CodecError{Path: path, Reason: "truncated auxiliary timestamp"}
		}
		t.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(raw[pos:])))
		pos += 8
	}

	readField := func() ([]byte, error) {
		if len(raw) < pos+4 {
			return nil, &CodecError{Path: path, Reason: "truncated auxiliary field length"}
		}
		n := int(binary.BigEndian.Uint32(raw[pos:]))
		pos += 4
		if len(raw) < pos+n {
			return nil, &CodecError{Path: path, Reason: "truncated auxiliary field payload"}
		}
		f := make([]byte, n)
		copy(f, raw[pos:pos+n])
		pos += n
		return f, nil
	}

	var err error
	if flags&auxHasStimulus != 0 {
		if t.Stimulus, err = readField(); err != nil {
			return err
		}
	}
	if flags&auxHasResponse != 0 {
		if t.Response, err = readField(); err != nil {
			return err
		}
	}
	if flags&auxHasKey != 0 {
		if t.Key, err = readField(); err != nil {
			return err
		}
	}
	return nil
}

// encodeValue packs a tagged metadata value: a kind byte followed by the
// payload.
func encodeValue(v model.Value) []byte {
	switch v.Kind() {
	case model.KindInt:
		raw := make([]byte, 9)
		raw[0] = byte(model.KindInt)
		i, _ := v.Int()
		binary.BigEndian.PutUint64(raw[1:], uint64(i))
		return raw
	case model.KindFloat:
		raw := make([]byte, 9)
		raw[0] = byte(model.KindFloat)
		f, _ := v.Float()
		binary.BigEndian.PutUint64(raw[1:], math.Float64bits(f))
		return raw
	case model.KindBool:
		b, _ := v.Bool()
		if b {
			return []byte{byte(model.KindBool), 1}
		}
		return []byte{byte(model.KindBool), 0}
	case model.KindText:
		s, _ := v.Text()
		return append([]byte{byte(model.KindText)}, s...)
	case model.KindBytes:
		b, _ := v.Bytes()
		return append([]byte{byte(model.KindBytes)}, b...)
	default:
		// Unset values are never produced by the model constructors.
		return []byte{0}
	}
}

// decodeValue is the inverse of encodeValue. A kind tag the codec does
// not know is a CodecError, not a silent fallback.
func decodeValue(raw []byte, path, key string) (model.Value, error) {
	if len(raw) < 1 {
		return model.Value{}, &CodecError{Path: path, Reason: fmt.Sprintf("empty value for attribute %q", key)}
	}
	switch model.ValueKind(raw[0]) {
	case model.KindInt:
		if len(raw) != 9 {
			return model.Value{}, &CodecError{Path: path, Reason: fmt.Sprintf("attribute %q: int value has wrong length", key)}
		}
		return model.IntValue(int64(binary.BigEndian.Uint64(raw[1:]))), nil
	case model.KindFloat:
		if len(raw) != 9 {
			return model.Value{}, &CodecError{Path: path, Reason: fmt.Sprintf("attribute %q: float value has wrong length", key)}
		}
		return model.FloatValue(math.Float64frombits(binary.BigEndian.Uint64(raw[1:]))), nil
	case model.KindBool:
		if len(raw) != 2 {
			return model.Value{}, &CodecError{Path: path, Reason: fmt.Sprintf("attribute %q: bool value has wrong length", key)}
		}
		return model.BoolValue(raw[1] != 0), nil
	case model.KindText:
		return model.TextValue(string(raw[1:])), nil
	case model.KindBytes:
		return model.BytesValue(raw[1:]), nil
	default:
		return model.Value{}, &CodecError{Path: path, Reason: fmt.Sprintf("attribute %q: unknown value kind %d", key, raw[0])}
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// rowKey encodes a trace index as a big-endian key so rows iterate in
// capture order.
func rowKey(i uint64) []byte {
	return encodeUint64(i)
}

func encodeUint64(v uint64) []byte {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, v)
	return raw
}
