package engine

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"go.deltaset.dev/core/blob"
)

// The blob wire format is a sequential stream: a fixed header (magic,
// format version, blob kind), then per-type sections ordered by type name.
// Snapshots carry each type's schema and its records, chunked into shards
// bounded by the engine's target shard size. Deltas carry every
// type's schema, removed ordinals, and added records; forward and reverse
// deltas share the format and differ only in their header kind. Readers
// never seek.

var blobMagic = [4]byte{'D', 'S', 'E', 'T'}

const blobFormatVersion byte = 0x01

// WriteSnapshot serializes the state under population as a snapshot blob.
func (w *WriteEngine) WriteSnapshot(out io.Writer) error {
	var bw = bufio.NewWriter(out)
	writeHeader(bw, blob.Snapshot)

	writeUvarint(bw, uint64(len(w.order)))
	for _, name := range w.order {
		var wt = w.types[name]
		writeSchema(bw, wt.schema)
		w.writeShards(bw, wt.cur)
	}
	return bw.Flush()
}

// WriteDelta serializes the edit script transitioning the prior state to
// the state under population.
func (w *WriteEngine) WriteDelta(out io.Writer) error {
	return w.writeDelta(out, blob.Delta)
}

// WriteReverseDelta serializes the edit script transitioning the state
// under population back to the prior state.
func (w *WriteEngine) WriteReverseDelta(out io.Writer) error {
	return w.writeDelta(out, blob.ReverseDelta)
}

func (w *WriteEngine) writeDelta(out io.Writer, kind blob.Kind) error {
	var bw = bufio.NewWriter(out)
	writeHeader(bw, kind)

	writeUvarint(bw, uint64(len(w.order)))
	for _, name := range w.order {
		var wt = w.types[name]
		var from, to = wt.prev, wt.cur
		if kind == blob.ReverseDelta {
			from, to = to, from
		}
		writeSchema(bw, wt.schema)

		// Removed: ordinals of |from| whose record is not in |to|.
		var removed []int
		for ordinal, rec := range from.byOrdinal {
			if rec == nil {
				continue
			}
			if _, ok := to.byKey[string(rec)]; !ok {
				removed = append(removed, ordinal)
			}
		}
		writeUvarint(bw, uint64(len(removed)))
		for _, ordinal := range removed {
			writeUvarint(bw, uint64(ordinal))
		}

		// Added: records of |to| not in |from|, with their ordinals.
		var added []int
		for ordinal, rec := range to.byOrdinal {
			if rec == nil {
				continue
			}
			if _, ok := from.byKey[string(rec)]; !ok {
				added = append(added, ordinal)
			}
		}
		writeUvarint(bw, uint64(len(added)))
		for _, ordinal := range added {
			writeUvarint(bw, uint64(ordinal))
			writeRecord(bw, to.byOrdinal[ordinal])
		}
	}
	return bw.Flush()
}

func (w *WriteEngine) writeShards(bw *bufio.Writer, rs *recordSet) {
	// Chunk records into shards of bounded encoded size.
	type shard struct{ ordinals []int }
	var (
		shards  []shard
		current shard
		size    int64
	)
	for ordinal, rec := range rs.byOrdinal {
		if rec == nil {
			continue
		}
		current.ordinals = append(current.ordinals, ordinal)
		if size += int64(len(rec)); size >= w.targetMaxTypeShardSize {
			shards, current, size = append(shards, current), shard{}, 0
		}
	}
	if len(current.ordinals) != 0 {
		shards = append(shards, current)
	}

	writeUvarint(bw, uint64(len(shards)))
	for _, s := range shards {
		writeUvarint(bw, uint64(len(s.ordinals)))
		for _, ordinal := range s.ordinals {
			writeUvarint(bw, uint64(ordinal))
			writeRecord(bw, rs.byOrdinal[ordinal])
		}
	}
}

// ReadSnapshot materializes the ReadEngine from a snapshot blob. The
// engine must be empty.
func (re *ReadEngine) ReadSnapshot(in io.Reader) error {
	if len(re.types) != 0 {
		return errors.New("cannot read a snapshot into a non-empty read engine")
	}
	var br = bufio.NewReader(in)

	if err := readHeader(br, blob.Snapshot); err != nil {
		return err
	}

	numTypes, err := binary.ReadUvarint(br)
	if err != nil {
		return errors.WithMessage(err, "reading type count")
	}
	for i := uint64(0); i != numTypes; i++ {
		schema, err := readSchema(br)
		if err != nil {
			return err
		}
		var rt = &readType{schema: schema, byKey: make(map[string]int)}
		if _, ok := re.types[schema.Name]; ok {
			return fmt.Errorf("snapshot repeats type %s", schema.Name)
		}
		re.types[schema.Name] = rt
		re.order = append(re.order, schema.Name)

		numShards, err := binary.ReadUvarint(br)
		if err != nil {
			return errors.WithMessagef(err, "reading shard count of %s", schema.Name)
		}
		for s := uint64(0); s != numShards; s++ {
			numRecords, err := binary.ReadUvarint(br)
			if err != nil {
				return errors.WithMessagef(err, "reading record count of %s", schema.Name)
			}
			for r := uint64(0); r != numRecords; r++ {
				ordinal, rec, err := readOrdinalRecord(br)
				if err != nil {
					return errors.WithMessagef(err, "reading record of %s", schema.Name)
				}
				rt.add(ordinal, rec)
			}
		}
	}
	sort.Strings(re.order)
	return nil
}

// ApplyDelta applies a forward or reverse delta blob, transitioning the
// engine to the adjacent state. Removals are applied before additions, so
// a delta may reuse ordinals it frees.
func (re *ReadEngine) ApplyDelta(in io.Reader) error {
	var br = bufio.NewReader(in)

	if err := readHeader(br, blob.Delta); err != nil {
		return err
	}

	numTypes, err := binary.ReadUvarint(br)
	if err != nil {
		return errors.WithMessage(err, "reading type count")
	}
	for i := uint64(0); i != numTypes; i++ {
		schema, err := readSchema(br)
		if err != nil {
			return err
		}
		var rt, ok = re.types[schema.Name]
		if !ok {
			// Type introduced by this delta.
			rt = &readType{schema: schema, byKey: make(map[string]int)}
			re.types[schema.Name] = rt
			re.order = append(re.order, schema.Name)
			sort.Strings(re.order)
		} else if !rt.schema.Equal(schema) {
			return fmt.Errorf("delta schema of type %s differs from engine schema", schema.Name)
		}

		numRemoved, err := binary.ReadUvarint(br)
		if err != nil {
			return errors.WithMessagef(err, "reading removal count of %s", schema.Name)
		}
		for r := uint64(0); r != numRemoved; r++ {
			ordinal, err := binary.ReadUvarint(br)
			if err != nil {
				return errors.WithMessagef(err, "reading removal of %s", schema.Name)
			}
			if err = rt.remove(int(ordinal)); err != nil {
				return err
			}
		}

		numAdded, err := binary.ReadUvarint(br)
		if err != nil {
			return errors.WithMessagef(err, "reading addition count of %s", schema.Name)
		}
		for a := uint64(0); a != numAdded; a++ {
			ordinal, rec, err := readOrdinalRecord(br)
			if err != nil {
				return errors.WithMessagef(err, "reading addition of %s", schema.Name)
			}
			if ordinal < len(rt.byOrdinal) && rt.byOrdinal[ordinal] != nil {
				return fmt.Errorf("delta addition of %s collides at ordinal %d", schema.Name, ordinal)
			}
			rt.add(ordinal, rec)
		}
	}
	return nil
}

func writeHeader(bw *bufio.Writer, kind blob.Kind) {
	bw.Write(blobMagic[:])
	bw.WriteByte(blobFormatVersion)
	bw.WriteByte(byte(kind))
}

func readHeader(br *bufio.Reader, expect blob.Kind) error {
	var h [6]byte
	if _, err := io.ReadFull(br, h[:]); err != nil {
		return errors.WithMessage(err, "reading blob header")
	}
	if [4]byte{h[0], h[1], h[2], h[3]} != blobMagic {
		return errors.New("not a dataset blob (bad magic)")
	}
	if h[4] != blobFormatVersion {
		return fmt.Errorf("unsupported blob format version %#x", h[4])
	}

	var kind = blob.Kind(h[5])
	if kind < blob.Snapshot || kind > blob.ReverseDelta {
		return fmt.Errorf("invalid blob kind (%d)", h[5])
	}
	switch expect {
	case blob.Snapshot:
		if kind != blob.Snapshot {
			return fmt.Errorf("expected a snapshot blob (got %s)", kind)
		}
	default:
		if kind != blob.Delta && kind != blob.ReverseDelta {
			return fmt.Errorf("expected a delta blob (got %s)", kind)
		}
	}
	return nil
}

func writeSchema(bw *bufio.Writer, schema Schema) {
	writeUvarint(bw, uint64(len(schema.Name)))
	bw.WriteString(schema.Name)
	writeUvarint(bw, uint64(len(schema.Fields)))
	for _, f := range schema.Fields {
		writeUvarint(bw, uint64(len(f.Name)))
		bw.WriteString(f.Name)
		bw.WriteByte(byte(f.Type))
	}
}

func readSchema(br *bufio.Reader) (Schema, error) {
	var schema Schema
	var err error

	if schema.Name, err = readString(br); err != nil {
		return Schema{}, errors.WithMessage(err, "reading schema name")
	}
	numFields, err := binary.ReadUvarint(br)
	if err != nil {
		return Schema{}, errors.WithMessagef(err, "reading field count of %s", schema.Name)
	}
	for i := uint64(0); i != numFields; i++ {
		var f Field
		if f.Name, err = readString(br); err != nil {
			return Schema{}, errors.WithMessagef(err, "reading field name of %s", schema.Name)
		}
		t, err := br.ReadByte()
		if err != nil {
			return Schema{}, errors.WithMessagef(err, "reading field type of %s", schema.Name)
		}
		f.Type = FieldType(t)
		schema.Fields = append(schema.Fields, f)
	}
	if err = schema.Validate(); err != nil {
		return Schema{}, err
	}
	return schema, nil
}

func writeRecord(bw *bufio.Writer, rec []byte) {
	writeUvarint(bw, uint64(len(rec)))
	bw.Write(rec)
}

func readOrdinalRecord(br *bufio.Reader) (int, []byte, error) {
	var ordinal, err = binary.ReadUvarint(br)
	if err != nil {
		return 0, nil, err
	}
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, nil, err
	}
	var rec = make([]byte, n)
	if _, err = io.ReadFull(br, rec); err != nil {
		return 0, nil, err
	}
	return int(ordinal), rec, nil
}

func readString(br *bufio.Reader) (string, error) {
	var n, err = binary.ReadUvarint(br)
	if err != nil {
		return "", err
	}
	var b = make([]byte, n)
	if _, err = io.ReadFull(br, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeUvarint(bw *bufio.Writer, v uint64) {
	var scratch [binary.MaxVarintLen64]byte
	bw.Write(scratch[:binary.PutUvarint(scratch[:], v)])
}
