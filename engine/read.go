package engine

import (
	"fmt"
)

// ReadEngine is the immutable materialization of one published dataset
// state. It is built by reading a snapshot blob, and advanced to an
// adjacent state by applying a delta blob. Records are encoded bytes:
// access by ordinal and value-equality lookup are single index lookups.
// Neither is allocation-free: Get decodes into a new value slice, and
// FindOrdinal encodes its probe values into a new record buffer.
type ReadEngine struct {
	order []string
	types map[string]*readType
}

type readType struct {
	schema    Schema
	byOrdinal [][]byte // nil marks an ordinal hole.
	byKey     map[string]int
}

// NewReadEngine returns an empty ReadEngine.
func NewReadEngine() *ReadEngine {
	return &ReadEngine{types: make(map[string]*readType)}
}

// Schemas returns the engine's schemas, ordered by type name.
func (re *ReadEngine) Schemas() []Schema {
	var out = make([]Schema, 0, len(re.order))
	for _, name := range re.order {
		out = append(out, re.types[name].schema)
	}
	return out
}

// Len returns the number of records of the named type.
func (re *ReadEngine) Len(typeName string) int {
	if rt, ok := re.types[typeName]; ok {
		return len(rt.byKey)
	}
	return 0
}

// Get decodes and returns the record of |typeName| at |ordinal|.
func (re *ReadEngine) Get(typeName string, ordinal int) ([]interface{}, error) {
	var rt, ok = re.types[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown type %s", typeName)
	}
	if ordinal < 0 || ordinal >= len(rt.byOrdinal) || rt.byOrdinal[ordinal] == nil {
		return nil, fmt.Errorf("type %s has no record at ordinal %d", typeName, ordinal)
	}
	return rt.schema.decodeRecord(rt.byOrdinal[ordinal])
}

// FindOrdinal returns the ordinal of the record of |typeName| holding
// exactly |values|, if one exists.
func (re *ReadEngine) FindOrdinal(typeName string, values ...interface{}) (int, bool) {
	var rt, ok = re.types[typeName]
	if !ok {
		return 0, false
	}
	var rec, err = rt.schema.encodeRecord(values...)
	if err != nil {
		return 0, false
	}
	ordinal, ok := rt.byKey[string(rec)]
	return ordinal, ok
}

// Copy returns a deep copy of the ReadEngine.
func (re *ReadEngine) Copy() *ReadEngine {
	var out = NewReadEngine()
	out.order = append(out.order, re.order...)

	for name, rt := range re.types {
		var cp = &readType{
			schema:    rt.schema,
			byOrdinal: make([][]byte, len(rt.byOrdinal)),
			byKey:     make(map[string]int, len(rt.byKey)),
		}
		copy(cp.byOrdinal, rt.byOrdinal)
		for key, ordinal := range rt.byKey {
			cp.byKey[key] = ordinal
		}
		out.types[name] = cp
	}
	return out
}

func (rt *readType) add(ordinal int, rec []byte) {
	for len(rt.byOrdinal) <= ordinal {
		rt.byOrdinal = append(rt.byOrdinal, nil)
	}
	rt.byOrdinal[ordinal] = rec
	rt.byKey[string(rec)] = ordinal
}

func (rt *readType) remove(ordinal int) error {
	if ordinal < 0 || ordinal >= len(rt.byOrdinal) || rt.byOrdinal[ordinal] == nil {
		return fmt.Errorf("type %s has no record at ordinal %d", rt.schema.Name, ordinal)
	}
	delete(rt.byKey, string(rt.byOrdinal[ordinal]))
	rt.byOrdinal[ordinal] = nil
	return nil
}
