package engine

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// Mapper maps Go struct values to engine records, deriving a Schema from
// each struct type's exported fields.
type Mapper struct {
	engine *WriteEngine
	byType map[reflect.Type]*typeMapping
	order  []reflect.Type
}

type typeMapping struct {
	schema Schema
	fields []int // Indices of mapped struct fields.
}

// NewMapper returns a Mapper bound to |engine|.
func NewMapper(engine *WriteEngine) *Mapper {
	return &Mapper{
		engine: engine,
		byType: make(map[reflect.Type]*typeMapping),
	}
}

// Engine returns the WriteEngine the Mapper is bound to.
func (m *Mapper) Engine() *WriteEngine { return m.engine }

// InitializeType derives a Schema from the struct type of |instance| and
// registers it with the engine. It is a no-op for an already-initialized
// type.
func (m *Mapper) InitializeType(instance interface{}) (Schema, error) {
	var t = reflect.TypeOf(instance)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return Schema{}, fmt.Errorf("cannot derive a schema from %T", instance)
	}
	if tm, ok := m.byType[t]; ok {
		return tm.schema, nil
	}

	var tm = &typeMapping{schema: Schema{Name: t.Name()}}
	for i := 0; i != t.NumField(); i++ {
		var f = t.Field(i)
		if f.PkgPath != "" {
			continue // Unexported.
		}
		var ft, err = fieldTypeOf(f.Type)
		if err != nil {
			return Schema{}, errors.WithMessagef(err, "field %s.%s", t.Name(), f.Name)
		}
		tm.schema.Fields = append(tm.schema.Fields, Field{Name: f.Name, Type: ft})
		tm.fields = append(tm.fields, i)
	}

	if err := m.engine.InitializeType(tm.schema); err != nil {
		return Schema{}, err
	}
	m.byType[t] = tm
	m.order = append(m.order, t)
	return tm.schema, nil
}

// Add maps |o| to a record and adds it to the engine's state under
// population, returning its ordinal. The struct type is initialized on
// first use.
func (m *Mapper) Add(o interface{}) (int, error) {
	var v = reflect.ValueOf(o)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return 0, fmt.Errorf("cannot map %T to a record", o)
	}

	var tm, ok = m.byType[v.Type()]
	if !ok {
		if _, err := m.InitializeType(o); err != nil {
			return 0, err
		}
		tm = m.byType[v.Type()]
	}

	var values = make([]interface{}, 0, len(tm.fields))
	for _, i := range tm.fields {
		values = append(values, v.Field(i).Interface())
	}
	return m.engine.Add(tm.schema.Name, values...)
}

// Fork returns a new Mapper over a new, empty WriteEngine carrying the
// same registered data model. The forked engine inherits the original's
// shard sizing hint.
func (m *Mapper) Fork() (*Mapper, error) {
	var engine = NewWriteEngine()
	engine.SetTargetMaxTypeShardSize(m.engine.targetMaxTypeShardSize)

	var out = NewMapper(engine)
	for _, t := range m.order {
		var tm = m.byType[t]
		if err := engine.InitializeType(tm.schema); err != nil {
			return nil, err
		}
		out.byType[t] = &typeMapping{schema: tm.schema, fields: append([]int(nil), tm.fields...)}
		out.order = append(out.order, t)
	}
	return out, nil
}

func fieldTypeOf(t reflect.Type) (FieldType, error) {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return Int, nil
	case reflect.Float32, reflect.Float64:
		return Float, nil
	case reflect.Bool:
		return Bool, nil
	case reflect.String:
		return String, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return Bytes, nil
		}
	}
	return 0, fmt.Errorf("unsupported field type %s", t)
}
