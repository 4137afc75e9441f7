// Package engine implements the in-memory columnar dataset engines: a
// mutable write engine which stages the next dataset state and computes
// deltas against the prior one, and an immutable read engine which
// materializes a published state, supports O(1) record access by ordinal
// and value-equality lookup, and applies deltas to advance between
// adjacent states.
package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// FieldType enumerates the value types a record field may hold.
type FieldType byte

const (
	Int FieldType = iota
	Float
	Bool
	String
	Bytes
)

// Validate returns an error if the FieldType is unknown.
func (t FieldType) Validate() error {
	if t > Bytes {
		return fmt.Errorf("invalid FieldType (%d)", t)
	}
	return nil
}

func (t FieldType) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Bytes:
		return "bytes"
	default:
		return fmt.Sprintf("FieldType(%d)", byte(t))
	}
}

// Field is a single named, typed field of a Schema.
type Field struct {
	Name string
	Type FieldType
}

// Schema describes a record type: its name and its ordered fields.
type Schema struct {
	Name   string
	Fields []Field
}

// Validate returns an error if the Schema is malformed.
func (s Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema has no name")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %s has no fields", s.Name)
	}
	var seen = make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %s has an unnamed field", s.Name)
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("schema %s repeats field %s", s.Name, f.Name)
		}
		seen[f.Name] = struct{}{}

		if err := f.Type.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Equal returns whether two Schemas are identical.
func (s Schema) Equal(other Schema) bool {
	if s.Name != other.Name || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// encodeRecord encodes |values| under the Schema into a compact record.
// Records holding equal values encode to equal bytes, which is what makes
// byte equality usable for record identity.
func (s Schema) encodeRecord(values ...interface{}) ([]byte, error) {
	if len(values) != len(s.Fields) {
		return nil, fmt.Errorf("schema %s requires %d values (got %d)", s.Name, len(s.Fields), len(values))
	}

	var buf bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte

	for i, f := range s.Fields {
		switch f.Type {
		case Int:
			var v, err = asInt64(values[i])
			if err != nil {
				return nil, fmt.Errorf("schema %s field %s: %w", s.Name, f.Name, err)
			}
			buf.Write(scratch[:binary.PutVarint(scratch[:], v)])
		case Float:
			var v, ok = values[i].(float64)
			if !ok {
				if v32, ok32 := values[i].(float32); ok32 {
					v, ok = float64(v32), true
				}
			}
			if !ok {
				return nil, fmt.Errorf("schema %s field %s: not a float: %T", s.Name, f.Name, values[i])
			}
			binary.BigEndian.PutUint64(scratch[:8], math.Float64bits(v))
			buf.Write(scratch[:8])
		case Bool:
			var v, ok = values[i].(bool)
			if !ok {
				return nil, fmt.Errorf("schema %s field %s: not a bool: %T", s.Name, f.Name, values[i])
			}
			if v {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		case String:
			var v, ok = values[i].(string)
			if !ok {
				return nil, fmt.Errorf("schema %s field %s: not a string: %T", s.Name, f.Name, values[i])
			}
			buf.Write(scratch[:binary.PutUvarint(scratch[:], uint64(len(v)))])
			buf.WriteString(v)
		case Bytes:
			var v, ok = values[i].([]byte)
			if !ok {
				return nil, fmt.Errorf("schema %s field %s: not bytes: %T", s.Name, f.Name, values[i])
			}
			buf.Write(scratch[:binary.PutUvarint(scratch[:], uint64(len(v)))])
			buf.Write(v)
		}
	}
	return buf.Bytes(), nil
}

// decodeRecord decodes a record encoded under the Schema back to values.
func (s Schema) decodeRecord(rec []byte) ([]interface{}, error) {
	var values = make([]interface{}, 0, len(s.Fields))
	var r = bytes.NewReader(rec)

	for _, f := range s.Fields {
		switch f.Type {
		case Int:
			var v, err = binary.ReadVarint(r)
			if err != nil {
				return nil, fmt.Errorf("schema %s field %s: %w", s.Name, f.Name, err)
			}
			values = append(values, v)
		case Float:
			var b [8]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, fmt.Errorf("schema %s field %s: %w", s.Name, f.Name, err)
			}
			values = append(values, math.Float64frombits(binary.BigEndian.Uint64(b[:])))
		case Bool:
			var b, err = r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("schema %s field %s: %w", s.Name, f.Name, err)
			}
			values = append(values, b != 0)
		case String, Bytes:
			var n, err = binary.ReadUvarint(r)
			if err != nil {
				return nil, fmt.Errorf("schema %s field %s: %w", s.Name, f.Name, err)
			}
			var b = make([]byte, n)
			if _, err = io.ReadFull(r, b); err != nil {
				return nil, fmt.Errorf("schema %s field %s: %w", s.Name, f.Name, err)
			}
			if f.Type == String {
				values = append(values, string(b))
			} else {
				values = append(values, b)
			}
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("schema %s: %d trailing record bytes", s.Name, r.Len())
	}
	return values, nil
}

func asInt64(v interface{}) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}
