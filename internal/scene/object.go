package scene

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math/big"
	"strconv"
)

// ErrMalformedObject is returned when a payload is not a JSON object with a
// usable "id".
var ErrMalformedObject = errors.New("malformed object")

const idField = "id"

// ID is a client-assigned object identifier: either a JSON string or a JSON
// number. IDs of different kinds never compare equal, so 1 and "1" are
// distinct objects. Numbers keep their literal text and compare by exact
// value, so 5 equals 5.0 and integers beyond float64 precision stay distinct.
type ID struct {
	str   string
	num   json.Number
	key   string
	isNum bool
}

// StringID builds a string identifier.
func StringID(s string) ID {
	return ID{str: s}
}

// NumberID builds a numeric identifier from a float.
func NumberID(n float64) ID {
	id, _ := numberID(json.Number(strconv.FormatFloat(n, 'f', -1, 64)))
	return id
}

func numberID(n json.Number) (ID, error) {
	key, ok := exactKey(n)
	if !ok {
		return ID{}, fmt.Errorf("%w: invalid number %q", ErrMalformedObject, n)
	}
	return ID{num: n, key: key, isNum: true}, nil
}

func (id ID) IsNumber() bool {
	return id.isNum
}

func (id ID) Equal(other ID) bool {
	if id.isNum != other.isNum {
		return false
	}
	if id.isNum {
		return id.key == other.key
	}
	return id.str == other.str
}

// String returns the id as the client wrote it.
func (id ID) String() string {
	if id.isNum {
		return id.num.String()
	}
	return id.str
}

func (id ID) value() any {
	if id.isNum {
		return id.num
	}
	return id.str
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value())
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var raw any
	if err := decodeExact(data, &raw); err != nil {
		return err
	}
	parsed, err := idFromValue(raw)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func idFromValue(v any) (ID, error) {
	switch value := v.(type) {
	case string:
		if value == "" {
			return ID{}, fmt.Errorf("%w: empty id", ErrMalformedObject)
		}
		return StringID(value), nil
	case json.Number:
		return numberID(value)
	case nil:
		return ID{}, fmt.Errorf("%w: id is null", ErrMalformedObject)
	default:
		return ID{}, fmt.Errorf("%w: id must be a string or number, got %T", ErrMalformedObject, v)
	}
}

// decodeExact unmarshals a single JSON value keeping numbers as json.Number.
func decodeExact(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// exactKey is the canonical form of a JSON number's exact value.
func exactKey(n json.Number) (string, bool) {
	r, ok := new(big.Rat).SetString(string(n))
	if !ok {
		return "", false
	}
	return r.RatString(), true
}

// Object is an opaque client record. Only ID is interpreted; Fields holds
// every other key of the wire object as decoded JSON values, with numbers
// kept as json.Number so they re-encode unchanged.
type Object struct {
	ID     ID
	Fields map[string]any
}

// NewObject builds an object from an id and its remaining fields. An "id"
// key in fields is ignored.
func NewObject(id ID, fields map[string]any) Object {
	obj := Object{ID: id, Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		if k == idField {
			continue
		}
		obj.Fields[k] = v
	}
	return obj
}

// ParseObject decodes a wire payload. The payload must be a JSON object whose
// "id" is a non-empty string or a number.
func ParseObject(data []byte) (Object, error) {
	var fields map[string]any
	if err := decodeExact(data, &fields); err != nil {
		return Object{}, fmt.Errorf("%w: %v", ErrMalformedObject, err)
	}
	if fields == nil {
		return Object{}, fmt.Errorf("%w: payload is not an object", ErrMalformedObject)
	}
	raw, ok := fields[idField]
	if !ok {
		return Object{}, fmt.Errorf("%w: missing id", ErrMalformedObject)
	}
	id, err := idFromValue(raw)
	if err != nil {
		return Object{}, err
	}
	delete(fields, idField)
	return Object{ID: id, Fields: fields}, nil
}

func (o Object) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(o.Fields)+1)
	maps.Copy(flat, o.Fields)
	flat[idField] = o.ID.value()
	return json.Marshal(flat)
}

func (o *Object) UnmarshalJSON(data []byte) error {
	parsed, err := ParseObject(data)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Equal reports structural equality: same id and the same value for every
// field. JSON numbers compare by exact value.
func (o Object) Equal(other Object) bool {
	if !o.ID.Equal(other.ID) {
		return false
	}
	return valuesEqual(o.Fields, other.Fields)
}

func valuesEqual(a, b any) bool {
	if ka, ok := numericKey(a); ok {
		kb, ok := numericKey(b)
		return ok && ka == kb
	}
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !valuesEqual(xv, yv) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case nil:
		return b == nil
	default:
		return false
	}
}

// numericKey normalizes decoded and Go-native numbers to one exact form.
func numericKey(v any) (string, bool) {
	switch n := v.(type) {
	case json.Number:
		return exactKey(n)
	case float64:
		return exactKey(json.Number(strconv.FormatFloat(n, 'f', -1, 64)))
	case int:
		return exactKey(json.Number(strconv.Itoa(n)))
	case int64:
		return exactKey(json.Number(strconv.FormatInt(n, 10)))
	default:
		return "", false
	}
}

// Clone deep-copies the field tree so later changes to either copy stay local.
func (o Object) Clone() Object {
	cloned := Object{ID: o.ID, Fields: make(map[string]any, len(o.Fields))}
	for k, v := range o.Fields {
		cloned.Fields[k] = cloneValue(v)
	}
	return cloned
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, inner := range value {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, inner := range value {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}
