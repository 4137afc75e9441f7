package engine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func itemSchema() Schema {
	return Schema{
		Name: "Item",
		Fields: []Field{
			{Name: "ID", Type: Int},
			{Name: "Name", Type: String},
		},
	}
}

func populatedEngine(t *testing.T, records ...[]interface{}) *WriteEngine {
	var w = NewWriteEngine()
	require.NoError(t, w.InitializeType(itemSchema()))
	w.PrepareForNextCycle()

	for _, rec := range records {
		var _, err = w.Add("Item", rec...)
		require.NoError(t, err)
	}
	return w
}

func readSnapshotOf(t *testing.T, w *WriteEngine) *ReadEngine {
	var buf bytes.Buffer
	require.NoError(t, w.WriteSnapshot(&buf))

	var re = NewReadEngine()
	require.NoError(t, re.ReadSnapshot(&buf))
	return re
}

func TestSnapshotRoundTrip(t *testing.T) {
	var w = populatedEngine(t,
		[]interface{}{int64(1), "one"},
		[]interface{}{int64(2), "two"},
	)
	var re = readSnapshotOf(t, w)

	require.Equal(t, 2, re.Len("Item"))
	require.Equal(t, []Schema{itemSchema()}, re.Schemas())

	var values, err = re.Get("Item", 0)
	require.NoError(t, err)
	require.Equal(t, []interface{}{int64(1), "one"}, values)

	ordinal, ok := re.FindOrdinal("Item", int64(2), "two")
	require.True(t, ok)
	require.Equal(t, 1, ordinal)

	_, ok = re.FindOrdinal("Item", int64(3), "three")
	require.False(t, ok)
}

func TestValueIdenticalRecordsDedupe(t *testing.T) {
	var w = populatedEngine(t)

	var o1, err = w.Add("Item", int64(1), "one")
	require.NoError(t, err)
	o2, err := w.Add("Item", int64(1), "one")
	require.NoError(t, err)
	require.Equal(t, o1, o2)

	o3, err := w.Add("Item", int64(2), "two")
	require.NoError(t, err)
	require.NotEqual(t, o1, o3)
}

func TestOrdinalStabilityAcrossCycles(t *testing.T) {
	var w = populatedEngine(t,
		[]interface{}{int64(1), "one"},
		[]interface{}{int64(2), "two"},
	)
	w.MarkCycleComplete()
	w.PrepareForNextCycle()

	// A record carried across cycles keeps its ordinal; the dropped
	// record's ordinal is not reused until the following cycle.
	var o2, err = w.Add("Item", int64(2), "two")
	require.NoError(t, err)
	require.Equal(t, 1, o2)

	o3, err := w.Add("Item", int64(3), "three")
	require.NoError(t, err)
	require.Equal(t, 2, o3)

	w.MarkCycleComplete()
	w.PrepareForNextCycle()

	// Ordinal 0 was freed by the prior cycle, and is now reused.
	_, err = w.Add("Item", int64(2), "two")
	require.NoError(t, err)
	o4, err := w.Add("Item", int64(4), "four")
	require.NoError(t, err)
	require.Equal(t, 0, o4)
}

func TestHasChangedAndReset(t *testing.T) {
	var w = populatedEngine(t, []interface{}{int64(1), "one"})
	w.MarkCycleComplete()
	w.PrepareForNextCycle()

	// Nothing populated yet: the prior state carries forward.
	require.False(t, w.HasChangedSinceLastCycle())

	var _, err = w.Add("Item", int64(1), "one")
	require.NoError(t, err)
	require.False(t, w.HasChangedSinceLastCycle())

	_, err = w.Add("Item", int64(2), "two")
	require.NoError(t, err)
	require.True(t, w.HasChangedSinceLastCycle())

	// Reset discards populated records; an identical re-population then
	// reports no change.
	w.ResetToLastPrepareForNextCycle()
	_, err = w.Add("Item", int64(1), "one")
	require.NoError(t, err)
	require.False(t, w.HasChangedSinceLastCycle())
}

func TestDeltaRoundTrip(t *testing.T) {
	var w = populatedEngine(t,
		[]interface{}{int64(1), "one"},
		[]interface{}{int64(2), "two"},
	)
	var prior = readSnapshotOf(t, w)

	w.MarkCycleComplete()
	w.PrepareForNextCycle()
	for _, rec := range [][]interface{}{
		{int64(1), "one"},
		{int64(2), "two-changed"},
		{int64(3), "three"},
	} {
		var _, err = w.Add("Item", rec...)
		require.NoError(t, err)
	}
	var next = readSnapshotOf(t, w)

	var delta, reverse bytes.Buffer
	require.NoError(t, w.WriteDelta(&delta))
	require.NoError(t, w.WriteReverseDelta(&reverse))

	// The forward delta transitions prior => next.
	var forward = prior.Copy()
	require.NoError(t, forward.ApplyDelta(&delta))
	require.Equal(t,
		ChecksumOfCommonSchemas(next, prior),
		ChecksumOfCommonSchemas(forward, prior))

	// The reverse delta transitions next => prior.
	var backward = next.Copy()
	require.NoError(t, backward.ApplyDelta(&reverse))
	require.Equal(t,
		ChecksumOfCommonSchemas(prior, next),
		ChecksumOfCommonSchemas(backward, next))

	// And the forward-applied engine matches record-for-record.
	ordinal, ok := forward.FindOrdinal("Item", int64(2), "two-changed")
	require.True(t, ok)
	var values, err = next.Get("Item", ordinal)
	require.NoError(t, err)
	require.Equal(t, []interface{}{int64(2), "two-changed"}, values)

	_, ok = forward.FindOrdinal("Item", int64(2), "two")
	require.False(t, ok)
}

func TestCopyIsIndependent(t *testing.T) {
	var w = populatedEngine(t, []interface{}{int64(1), "one"})
	var re = readSnapshotOf(t, w)
	var cp = re.Copy()

	w.MarkCycleComplete()
	w.PrepareForNextCycle()
	var _, err = w.Add("Item", int64(2), "two")
	require.NoError(t, err)

	var delta bytes.Buffer
	require.NoError(t, w.WriteDelta(&delta))
	require.NoError(t, cp.ApplyDelta(&delta))

	// The original engine is untouched by the copy's application.
	require.Equal(t, 1, re.Len("Item"))
	require.Equal(t, 1, cp.Len("Item"))
	_, ok := re.FindOrdinal("Item", int64(1), "one")
	require.True(t, ok)
}

func TestChecksumRestrictsToCommonSchemas(t *testing.T) {
	var w1 = populatedEngine(t, []interface{}{int64(1), "one"})
	var re1 = readSnapshotOf(t, w1)

	// A second engine carries an additional type with identical Item data.
	var w2 = NewWriteEngine()
	require.NoError(t, w2.InitializeType(itemSchema()))
	require.NoError(t, w2.InitializeType(Schema{
		Name:   "Extra",
		Fields: []Field{{Name: "V", Type: Int}},
	}))
	w2.PrepareForNextCycle()
	var _, err = w2.Add("Item", int64(1), "one")
	require.NoError(t, err)
	_, err = w2.Add("Extra", int64(7))
	require.NoError(t, err)
	var re2 = readSnapshotOf(t, w2)

	// Restricted to common schemas, the engines agree; unrestricted
	// checksums of re2 differ.
	require.Equal(t,
		ChecksumOfCommonSchemas(re1, re2),
		ChecksumOfCommonSchemas(re2, re1))
	require.NotEqual(t,
		ChecksumOfCommonSchemas(re2, re2),
		ChecksumOfCommonSchemas(re2, re1))
}

func TestRestoreFrom(t *testing.T) {
	var w = populatedEngine(t,
		[]interface{}{int64(1), "one"},
		[]interface{}{int64(2), "two"},
	)
	var re = readSnapshotOf(t, w)

	var fresh = NewWriteEngine()
	require.NoError(t, fresh.InitializeType(itemSchema()))
	require.NoError(t, fresh.RestoreFrom(re))

	// The restored engine continues the chain: an identical population
	// reports no change, and ordinals are preserved.
	fresh.PrepareForNextCycle()
	var o, err = fresh.Add("Item", int64(2), "two")
	require.NoError(t, err)
	require.Equal(t, 1, o)
	_, err = fresh.Add("Item", int64(1), "one")
	require.NoError(t, err)
	require.False(t, fresh.HasChangedSinceLastCycle())

	// Restoring into a used engine is refused.
	require.Error(t, fresh.RestoreFrom(re))
}

func TestRestoreFromSchemaMismatch(t *testing.T) {
	var w = populatedEngine(t, []interface{}{int64(1), "one"})
	var re = readSnapshotOf(t, w)

	var fresh = NewWriteEngine()
	require.NoError(t, fresh.InitializeType(Schema{
		Name:   "Item",
		Fields: []Field{{Name: "Renamed", Type: Int}},
	}))
	require.Error(t, fresh.RestoreFrom(re))
}

func TestSnapshotSharding(t *testing.T) {
	var w = NewWriteEngine()
	w.SetTargetMaxTypeShardSize(16) // Tiny shards.
	require.NoError(t, w.InitializeType(itemSchema()))
	w.PrepareForNextCycle()

	for i := int64(0); i != 100; i++ {
		var _, err = w.Add("Item", i, "some-record-name")
		require.NoError(t, err)
	}
	var re = readSnapshotOf(t, w)
	require.Equal(t, 100, re.Len("Item"))
}

func TestInitializeTypeConflicts(t *testing.T) {
	var w = NewWriteEngine()
	require.NoError(t, w.InitializeType(itemSchema()))
	require.NoError(t, w.InitializeType(itemSchema())) // Idempotent.

	require.Error(t, w.InitializeType(Schema{
		Name:   "Item",
		Fields: []Field{{Name: "Other", Type: Bool}},
	}))
	require.Error(t, w.InitializeType(Schema{Name: "NoFields"}))
}

func TestRecordEncodingRoundTrip(t *testing.T) {
	var schema = Schema{
		Name: "All",
		Fields: []Field{
			{Name: "I", Type: Int},
			{Name: "F", Type: Float},
			{Name: "B", Type: Bool},
			{Name: "S", Type: String},
			{Name: "Y", Type: Bytes},
		},
	}
	var rec, err = schema.encodeRecord(int64(-42), 3.5, true, "hello", []byte{0xde, 0xad})
	require.NoError(t, err)

	values, err := schema.decodeRecord(rec)
	require.NoError(t, err)
	require.Equal(t, []interface{}{int64(-42), 3.5, true, "hello", []byte{0xde, 0xad}}, values)

	// Wrong arity and wrong types are rejected.
	_, err = schema.encodeRecord(int64(1))
	require.Error(t, err)
	_, err = schema.encodeRecord("not-an-int", 3.5, true, "hello", []byte{})
	require.Error(t, err)
}
