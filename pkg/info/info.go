// Package info implements the ordered, typed key-value container used to pass
// settings into every coupling operation and to report results out of them.
//
// Values are one of int, float64, bool, string, a nested *Info, or []int.
// Insertion order is preserved and is the order used by [Info.Print] and by
// the wire encoding. Every value crossing the API boundary is copied deeply,
// so an Info returned by a getter never aliases the one stored.
package info

import (
	"fmt"
	"math"
	"iter"
	"slices"
)

// Kind tags the type of a stored value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindDouble
	KindBool
	KindString
	KindInfo
	KindIntList
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindInfo:
		return "CoSimIO-Info"
	case KindIntList:
		return "int_list"
	default:
		return "invalid"
	}
}

// Value lists the types an [Info] can hold.
type Value interface {
	int | float64 | bool | string | *Info | []int
}

type entry struct {
	kind Kind
	val  any
}

// Info is an ordered mapping from keys to typed values. The zero value is
// an empty Info ready to use.
type Info struct {
	keys    []string
	entries map[string]entry
}

// New returns an empty Info.
func New() *Info {
	return &Info{entries: make(map[string]entry)}
}

// Set stores val under key. An existing key keeps its position and takes
// the new value and type.
func Set[T Value](in *Info, key string, val T) {
	in.set(key, kindOf(val), cloneValue(val))
}

// Get returns the value stored under key.
//
// It fails with [ErrKeyNotFound] if key is absent and with
// [ErrTypeMismatch] if the stored value is not a T.
func Get[T Value](in *Info, key string) (T, error) {
	var zero T
	if in == nil {
		return zero, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	e, ok := in.entries[key]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	val, ok := e.val.(T)
	if !ok {
		return zero, fmt.Errorf(
			"%w: %q holds %s, requested %s",
			ErrTypeMismatch, key, e.kind, kindOf(zero),
		)
	}
	return cloneValue(val), nil
}

// GetOr behaves like [Get] but returns def when key is absent. A stored
// value of another type is still an error.
func GetOr[T Value](in *Info, key string, def T) (T, error) {
	if !in.Has(key) {
		return def, nil
	}
	return Get[T](in, key)
}

func (in *Info) set(key string, kind Kind, val any) {
	if in.entries == nil {
		in.entries = make(map[string]entry)
	}
	if _, exists := in.entries[key]; !exists {
		in.keys = append(in.keys, key)
	}
	in.entries[key] = entry{kind: kind, val: val}
}

// Validate reports an [ErrOutOfRange] error for the first int, nested or
// listed, that does not fit in 32 bits. Partners store ints as 32-bit values.
func (in *Info) Validate() error {
	if in == nil {
		return nil
	}
	for _, key := range in.keys {
		switch val := in.entries[key].val.(type) {
		case int:
			if err := checkInt(int64(val)); err != nil {
				return fmt.Errorf("%q: %w", key, err)
			}
		case []int:
			for i, v := range val {
				if err := checkInt(int64(v)); err != nil {
					return fmt.Errorf("%q[%d]: %w", key, i, err)
				}
			}
		case *Info:
			if err := val.Validate(); err != nil {
				return fmt.Errorf("%q.%w", key, err)
			}
		}
	}
	return nil
}

func checkInt(v int64) error {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}
	return nil
}

// Has reports whether key is set.
func (in *Info) Has(key string) bool {
	if in == nil {
		return false
	}
	_, ok := in.entries[key]
	return ok
}

// KindOf returns the kind stored under key.
func (in *Info) KindOf(key string) (Kind, bool) {
	if in == nil {
		return KindInvalid, false
	}
	e, ok := in.entries[key]
	return e.kind, ok
}

// Size is the number of distinct keys.
func (in *Info) Size() int {
	if in == nil {
		return 0
	}
	return len(in.keys)
}

// Keys returns the keys in insertion order.
func (in *Info) Keys() []string {
	if in == nil {
		return nil
	}
	return slices.Clone(in.keys)
}

// Erase removes key and reports whether it was present.
func (in *Info) Erase(key string) bool {
	if !in.Has(key) {
		return false
	}
	delete(in.entries, key)
	in.keys = slices.DeleteFunc(in.keys, func(k string) bool { return k == key })
	return true
}

// Clear removes every entry.
func (in *Info) Clear() {
	in.keys = nil
	in.entries = make(map[string]entry)
}

// Copy returns a deep copy of the Info.
func (in *Info) Copy() *Info {
	out := New()
	if in == nil {
		return out
	}
	out.keys = slices.Clone(in.keys)
	for key, e := range in.entries {
		out.entries[key] = entry{kind: e.kind, val: cloneAny(e.val)}
	}
	return out
}

// All iterates over the entries in insertion order. Values are copies.
func (in *Info) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		if in == nil {
			return
		}
		for _, key := range in.keys {
			if !yield(key, cloneAny(in.entries[key].val)) {
				return
			}
		}
	}
}

func kindOf(val any) Kind {
	switch val.(type) {
	case int:
		return KindInt
	case float64:
		return KindDouble
	case bool:
		return KindBool
	case string:
		return KindString
	case *Info:
		return KindInfo
	case []int:
		return KindIntList
	default:
		return KindInvalid
	}
}

func cloneValue[T Value](val T) T {
	return cloneAny(val).(T)
}

func cloneAny(val any) any {
	switch typed := val.(type) {
	case *Info:
		return typed.Copy()
	case []int:
		if typed == nil {
			return []int{}
		}
		return slices.Clone(typed)
	default:
		return val
	}
}
