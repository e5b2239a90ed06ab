// Package fragment models the intermediate tree that manifest parsers
// produce before dependency extraction. A fragment is either a string
// leaf, an ordered sequence, or a record with unique keys. Parsers build
// fragments; extractors flatten them to plain data and pattern-match the
// result. The tree is always finite and acyclic by construction.
package fragment

import (
	"errors"
	"fmt"
)

// MaxDepth bounds fragment nesting during flattening. Real build files
// stay in single digits; the ceiling only matters for adversarial input.
const MaxDepth = 64

// ErrTooDeep is returned by Flatten when a tree exceeds MaxDepth.
// Callers treat it as "skip this fragment" rather than a hard failure.
var ErrTooDeep = errors.New("fragment: nesting exceeds max depth")

// Fragment is a node in the parsed manifest tree.
type Fragment interface {
	fragmentNode()
}

// String is a leaf holding a single text value.
type String struct {
	Value string
}

// Array is an ordered sequence of child fragments.
type Array struct {
	Items []Fragment
}

// Record is a string-keyed mapping with unique keys. Field order is
// insertion order; Set on an existing key replaces the value in place.
type Record struct {
	fields []Field
}

// Field is one key/value pair of a Record.
type Field struct {
	Key   string
	Value Fragment
}

func (*String) fragmentNode() {}
func (*Array) fragmentNode()  {}
func (*Record) fragmentNode() {}

// NewString returns a string leaf.
func NewString(v string) *String {
	return &String{Value: v}
}

// NewArray returns a sequence of the given items.
func NewArray(items ...Fragment) *Array {
	return &Array{Items: items}
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{}
}

// Set stores value under key, replacing any existing entry without
// moving it.
func (r *Record) Set(key string, value Fragment) {
	for i := range r.fields {
		if r.fields[i].Key == key {
			r.fields[i].Value = value
			return
		}
	}
	r.fields = append(r.fields, Field{Key: key, Value: value})
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (Fragment, bool) {
	for i := range r.fields {
		if r.fields[i].Key == key {
			return r.fields[i].Value, true
		}
	}
	return nil, false
}

// Keys returns the record's keys in insertion order.
func (r *Record) Keys() []string {
	keys := make([]string, len(r.fields))
	for i, f := range r.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the record's fields in insertion order.
func (r *Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.fields)
}

// Flatten converts a fragment tree to plain data: string leaves become
// strings, arrays become []any, records become map[string]any. Values
// that are already plain pass through unchanged, so flattening an
// already-flattened value is the identity. The element count of every
// sequence and the key set of every record are preserved.
func Flatten(v any) (any, error) {
	return flatten(v, 0)
}

func flatten(v any, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}

	switch node := v.(type) {
	case *String:
		return node.Value, nil

	case *Array:
		items := make([]any, len(node.Items))
		for i, item := range node.Items {
			flat, err := flatten(item, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = flat
		}
		return items, nil

	case *Record:
		out := make(map[string]any, len(node.fields))
		for _, f := range node.fields {
			flat, err := flatten(f.Value, depth+1)
			if err != nil {
				return nil, err
			}
			out[f.Key] = flat
		}
		return out, nil

	case string:
		return node, nil

	case []any:
		items := make([]any, len(node))
		for i, item := range node {
			flat, err := flatten(item, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = flat
		}
		return items, nil

	case map[string]any:
		out := make(map[string]any, len(node))
		for key, item := range node {
			flat, err := flatten(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[key] = flat
		}
		return out, nil

	case nil:
		return nil, nil

	default:
		return nil, fmt.Errorf("fragment: cannot flatten %T", v)
	}
}
