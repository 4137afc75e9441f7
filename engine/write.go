package engine

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// DefaultTargetMaxTypeShardSize is the default sizing hint for encoded
// type shards within snapshot blobs.
const DefaultTargetMaxTypeShardSize = 16 * 1024 * 1024

// WriteEngine is the mutable staging engine for the next dataset state.
//
// A cycle against a WriteEngine is:
//
//	PrepareForNextCycle()       // the last populated state becomes the prior
//	Add(...) ...                // populate the next state
//	HasChangedSinceLastCycle()  // is there a delta to produce?
//	WriteSnapshot / WriteDelta / WriteReverseDelta
//	MarkCycleComplete()         // on commit of the produced state
//
// ResetToLastPrepareForNextCycle discards populated records, returning the
// engine to its state immediately after the last prepare. After a reset
// (no-delta or failed cycle) the engine remains prepared, so the next
// prepare is a no-op and population runs against the same prior state.
type WriteEngine struct {
	targetMaxTypeShardSize int64
	order                  []string
	types                  map[string]*writeType
	prepared               bool
	populated              bool
	dirty                  bool
}

type writeType struct {
	schema   Schema
	prev     *recordSet // State of the last completed cycle.
	cur      *recordSet // State under population.
	nextFree int        // Scan hint for new-record ordinal assignment.
}

// recordSet holds encoded records by ordinal, with a value-equality index.
type recordSet struct {
	byOrdinal [][]byte // nil marks an ordinal hole.
	byKey     map[string]int
}

func newRecordSet(maxOrdinal int) *recordSet {
	return &recordSet{
		byOrdinal: make([][]byte, maxOrdinal),
		byKey:     make(map[string]int),
	}
}

func (rs *recordSet) add(ordinal int, rec []byte) {
	for len(rs.byOrdinal) <= ordinal {
		rs.byOrdinal = append(rs.byOrdinal, nil)
	}
	rs.byOrdinal[ordinal] = rec
	rs.byKey[string(rec)] = ordinal
}

// NewWriteEngine returns an empty WriteEngine.
func NewWriteEngine() *WriteEngine {
	return &WriteEngine{
		targetMaxTypeShardSize: DefaultTargetMaxTypeShardSize,
		types:                  make(map[string]*writeType),
	}
}

// SetTargetMaxTypeShardSize sets the sizing hint which bounds the encoded
// size of type shards within written snapshots.
func (w *WriteEngine) SetTargetMaxTypeShardSize(size int64) {
	if size <= 0 {
		panic("target shard size must be positive")
	}
	w.targetMaxTypeShardSize = size
}

// InitializeType registers a record type with the engine. Initializing an
// already-registered type is a no-op if the schemas agree, and an error
// otherwise.
func (w *WriteEngine) InitializeType(schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	if wt, ok := w.types[schema.Name]; ok {
		if !wt.schema.Equal(schema) {
			return fmt.Errorf("type %s already initialized with a different schema", schema.Name)
		}
		return nil
	}
	w.types[schema.Name] = &writeType{
		schema: schema,
		prev:   newRecordSet(0),
		cur:    newRecordSet(0),
	}
	w.order = append(w.order, schema.Name)
	sort.Strings(w.order)
	return nil
}

// Schemas returns the engine's registered schemas, ordered by type name.
func (w *WriteEngine) Schemas() []Schema {
	var out = make([]Schema, 0, len(w.order))
	for _, name := range w.order {
		out = append(out, w.types[name].schema)
	}
	return out
}

// PrepareForNextCycle rotates the last populated state into the prior
// state and readies an empty state for population. It is idempotent:
// after a reset (no-delta or failed cycle) the engine is still prepared,
// and a repeated prepare is a no-op.
func (w *WriteEngine) PrepareForNextCycle() {
	if w.prepared {
		return
	}
	for _, wt := range w.types {
		wt.prev = wt.cur
		wt.cur = newRecordSet(len(wt.prev.byOrdinal))
		wt.nextFree = 0
	}
	w.prepared, w.dirty = true, false
}

// Add encodes |values| under the named type's schema and adds the record
// to the state under population, returning its ordinal. Value-identical
// records dedupe to a single ordinal. A record which was also present in
// the prior state keeps its prior ordinal; new records take ordinal holes
// of the prior state, or extend it.
func (w *WriteEngine) Add(typeName string, values ...interface{}) (int, error) {
	if !w.prepared {
		return 0, errors.New("write engine is not prepared for a cycle")
	}
	var wt, ok = w.types[typeName]
	if !ok {
		return 0, fmt.Errorf("unknown type %s", typeName)
	}

	var rec, err = wt.schema.encodeRecord(values...)
	if err != nil {
		return 0, err
	}
	var key = string(rec)

	w.populated, w.dirty = true, true

	if ordinal, ok := wt.cur.byKey[key]; ok {
		return ordinal, nil // Already added this cycle.
	}

	if ordinal, ok := wt.prev.byKey[key]; ok {
		wt.cur.add(ordinal, rec)
		return ordinal, nil
	}

	// A new record takes the first ordinal which is a hole of both the
	// prior state and the state under population. Ordinals freed by
	// records dropped this cycle are not reused until the next cycle.
	// Free slots are only consumed during a cycle, so the scan hint is
	// monotone until the next prepare or reset.
	var ordinal = wt.nextFree
	for {
		var prevFree = ordinal >= len(wt.prev.byOrdinal) || wt.prev.byOrdinal[ordinal] == nil
		var curFree = ordinal >= len(wt.cur.byOrdinal) || wt.cur.byOrdinal[ordinal] == nil
		if prevFree && curFree {
			break
		}
		ordinal++
	}
	wt.nextFree = ordinal + 1

	wt.cur.add(ordinal, rec)
	return ordinal, nil
}

// HasChangedSinceLastCycle returns whether the state under population
// differs from the prior state. A cycle which populated nothing at all is
// unchanged: the prior state carries forward, rather than being read as a
// removal of every record.
func (w *WriteEngine) HasChangedSinceLastCycle() bool {
	if !w.dirty {
		return false
	}
	for _, wt := range w.types {
		if len(wt.cur.byKey) != len(wt.prev.byKey) {
			return true
		}
		for key := range wt.cur.byKey {
			if _, ok := wt.prev.byKey[key]; !ok {
				return true
			}
		}
	}
	return false
}

// ResetToLastPrepareForNextCycle discards all records populated since the
// last prepare.
func (w *WriteEngine) ResetToLastPrepareForNextCycle() {
	for _, wt := range w.types {
		wt.cur = newRecordSet(len(wt.prev.byOrdinal))
		wt.nextFree = 0
	}
	w.dirty = false
}

// MarkCycleComplete records that the populated state was produced and
// announced. The next PrepareForNextCycle rotates it into the prior state.
func (w *WriteEngine) MarkCycleComplete() {
	w.prepared = false
}

// RestoreFrom rehydrates the engine from a materialized ReadEngine, so
// that the next produced delta is continuous with the restored state.
// The engine must never have been prepared or populated, and the read
// engine's schemas must agree with the engine's wherever they overlap.
func (w *WriteEngine) RestoreFrom(re *ReadEngine) error {
	if w.prepared || w.populated {
		return errors.New("cannot restore into a non-empty write engine")
	}

	for _, name := range w.order {
		var wt = w.types[name]
		var rt, ok = re.types[name]
		if !ok {
			continue // Type is new since the restored state.
		}
		if !rt.schema.Equal(wt.schema) {
			return fmt.Errorf("restored schema of type %s differs", name)
		}

		var cur = newRecordSet(len(rt.byOrdinal))
		for ordinal, rec := range rt.byOrdinal {
			if rec != nil {
				cur.add(ordinal, rec)
			}
		}
		wt.cur = cur
	}
	return nil
}
