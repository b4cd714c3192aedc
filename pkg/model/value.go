package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// Kind is the variant tag of a Value
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// maxValueDepth bounds recursion when decoding untrusted blackboard payloads.
const maxValueDepth = 512

// Value is a closed tagged variant over JSON data: null, bool, number,
// string, sequence or mapping. The zero Value is null.
//
// Mappings keep the key order the server sent. Numbers keep their literal
// text so large integers and precise floats display exactly as received.
type Value struct {
	kind   Kind
	b      bool
	s      string // string payload, or number literal
	items  []Value
	fields []Field
}

// Field is one key/value entry of a mapping
type Field struct {
	Key   string
	Value Value
}

// Null returns the null value
func Null() Value { return Value{} }

// NewBool wraps a boolean
func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }

// NewNumber wraps a JSON number literal. The literal is not validated.
func NewNumber(literal string) Value { return Value{kind: KindNumber, s: literal} }

// NewInt is a convenience for integer numbers
func NewInt(n int64) Value { return NewNumber(strconv.FormatInt(n, 10)) }

// NewString wraps a string
func NewString(s string) Value { return Value{kind: KindString, s: s} }

// NewSequence builds an ordered sequence
func NewSequence(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindSequence, items: items}
}

// NewMapping builds a mapping. Later duplicates overwrite the value of the
// first occurrence and keep its position.
func NewMapping(fields ...Field) Value {
	out := make([]Field, 0, len(fields))
	index := make(map[string]int, len(fields))
	for _, f := range fields {
		if i, ok := index[f.Key]; ok {
			out[i].Value = f.Value
			continue
		}
		index[f.Key] = len(out)
		out = append(out, f)
	}
	return Value{kind: KindMapping, fields: out}
}

// Kind returns the variant tag
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsComposite reports whether v is a sequence or a mapping
func (v Value) IsComposite() bool {
	return v.kind == KindSequence || v.kind == KindMapping
}

// Bool returns the boolean payload (false for other kinds)
func (v Value) Bool() bool { return v.kind == KindBool && v.b }

// Number returns the number literal ("" for other kinds)
func (v Value) Number() string {
	if v.kind != KindNumber {
		return ""
	}
	return v.s
}

// Float parses the number literal
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.s, 64)
	return f, err == nil
}

// Str returns the string payload ("" for other kinds)
func (v Value) Str() string {
	if v.kind != KindString {
		return ""
	}
	return v.s
}

// Items returns the elements of a sequence
func (v Value) Items() []Value {
	if v.kind != KindSequence {
		return nil
	}
	return v.items
}

// Fields returns the entries of a mapping in server order
func (v Value) Fields() []Field {
	if v.kind != KindMapping {
		return nil
	}
	return v.fields
}

// Len returns the element count of a composite, the rune count of a
// string, and 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.items)
	case KindMapping:
		return len(v.fields)
	case KindString:
		return utf8.RuneCountInString(v.s)
	default:
		return 0
	}
}

// Get looks up a mapping key
func (v Value) Get(key string) (Value, bool) {
	for _, f := range v.Fields() {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Lookup resolves a path produced by Path.Child/Path.Index against v.
func (v Value) Lookup(p Path) (Value, bool) {
	segs := p.Segments()
	if len(segs) == 0 || segs[0] != string(RootPath) {
		return Value{}, false
	}
	cur := v
	for _, seg := range segs[1:] {
		switch cur.kind {
		case KindMapping:
			next, ok := cur.Get(seg)
			if !ok {
				return Value{}, false
			}
			cur = next
		case KindSequence:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(cur.items) {
				return Value{}, false
			}
			cur = cur.items[i]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// Equal reports deep equality, including mapping key order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber, KindString:
		return v.s == o.s
	case KindSequence:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for i := range v.fields {
			if v.fields[i].Key != o.fields[i].Key || !v.fields[i].Value.Equal(o.fields[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON encodes the value, keeping mapping order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(v.s)
	case KindString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindSequence:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMapping:
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("cannot encode value of kind %v", v.kind)
	}
	return nil
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue decodes a single JSON document. Key order is taken from the
// token stream rather than unmarshalling into map[string]any.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec, 0)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("unexpected trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder, depth int) (Value, error) {
	if depth > maxValueDepth {
		return Value{}, fmt.Errorf("JSON nesting exceeds %d levels", maxValueDepth)
	}
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return NewBool(t), nil
	case json.Number:
		return NewNumber(t.String()), nil
	case string:
		return NewString(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return NewSequence(items...), nil
		case '{':
			var fields []Field
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected object key %v", keyTok)
				}
				val, err := decodeValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				fields = append(fields, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return NewMapping(fields...), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

// NormalizeBlackboard applies the server conventions for the blackboard
// field: the payload usually arrives as a JSON-encoded string, which is
// decoded; a string that is not JSON is kept as-is; null becomes an empty
// mapping.
func NormalizeBlackboard(v Value) Value {
	if v.kind == KindString {
		if parsed, err := ParseValue([]byte(v.s)); err == nil {
			v = parsed
		}
	}
	if v.kind == KindNull {
		return NewMapping()
	}
	return v
}
