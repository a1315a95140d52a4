// Package journal implements the append-only recorded-entry log and the
// tree serializer used to snapshot agent state for both storage and
// replay (spec §4.4, §9 "Cycles in serialized graphs").
package journal

import (
	"fmt"
	"reflect"
)

// Identifier resolves a live object to a stable journal id when it is
// both a Recorder and present in the Agency's registry. Returning ok
// == false tells the serializer to encode the value by value instead of
// by reference — the "identify" operation from spec §4.1.
type Identifier interface {
	Identify(obj any) (journalID string, ok bool)
}

// Recorder is implemented by anything that emits journal entries and can
// be externalized by a stable journal id.
type Recorder interface {
	JournalID() string
}

// Ref marks the first occurrence of a shared object in a serialized
// tree; Deref marks subsequent occurrences of the same object, per the
// design note: "first occurrence emits Ref(n, value); subsequent
// occurrences emit Deref(n)."
type Ref struct {
	N     int `msgpack:"ref"`
	Value any `msgpack:"value"`
}

// Deref references a previously-seen Ref by its sequence number.
type Deref struct {
	N int `msgpack:"deref"`
}

// External marks a value that was replaced by a recorder's stable
// journal id during externalization.
type External struct {
	JournalID string `msgpack:"journal_id"`
}

// Serializer converts live object graphs into tree form: cycles become
// Ref/Deref pairs, and any live Recorder known to ids is externalized.
type Serializer struct {
	ids Identifier
}

// NewSerializer builds a Serializer that externalizes recorders known to
// ids. ids may be nil, in which case nothing is externalized.
func NewSerializer(ids Identifier) *Serializer {
	return &Serializer{ids: ids}
}

// Convert performs the two-pass identity scan then linearization
// described in spec §9: first it walks the graph recording which
// pointers are visited more than once, then it serializes, emitting Ref
// on first occurrence of a repeated pointer and Deref afterward.
func (s *Serializer) Convert(v any) any {
	counts := map[any]int{}
	s.countVisits(v, counts, map[any]bool{})
	refSeq := 0
	return s.convert(v, counts, map[any]int{}, &refSeq)
}

// Freeze substitutes stable ids for any Recorder in output without doing
// cycle detection — used for journal entry outputs, which the design
// treats as a one-shot externalization ("freeze output, substituting
// stable ids for any recorder").
func (s *Serializer) Freeze(v any) any {
	if s.ids != nil {
		if id, ok := s.identify(v); ok {
			return External{JournalID: id}
		}
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = s.Freeze(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		for _, k := range rv.MapKeys() {
			out[fmt.Sprint(k.Interface())] = s.Freeze(rv.MapIndex(k).Interface())
		}
		return out
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			if rv.Type().Field(i).IsExported() {
				out[rv.Type().Field(i).Name] = s.Freeze(rv.Field(i).Interface())
			}
		}
		return out
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return s.Freeze(rv.Elem().Interface())
	default:
		return v
	}
}

func (s *Serializer) identify(v any) (string, bool) {
	if s.ids == nil {
		return "", false
	}
	if r, ok := v.(Recorder); ok {
		return s.ids.Identify(r)
	}
	return "", false
}

func pointerKey(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
		return rv.Pointer(), true
	default:
		return nil, false
	}
}

func (s *Serializer) countVisits(v any, counts map[any]int, visiting map[any]bool) {
	if key, ok := pointerKey(v); ok {
		counts[key]++
		if visiting[key] {
			return // already descending into this pointer; cycle
		}
		visiting[key] = true
		defer delete(visiting, key)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if !rv.IsNil() {
			s.countVisits(rv.Elem().Interface(), counts, visiting)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			s.countVisits(rv.Index(i).Interface(), counts, visiting)
		}
	case reflect.Map:
		for _, k := range rv.MapKeys() {
			s.countVisits(rv.MapIndex(k).Interface(), counts, visiting)
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if rv.Type().Field(i).IsExported() {
				s.countVisits(rv.Field(i).Interface(), counts, visiting)
			}
		}
	}
}

// convert serializes v, wrapping the first occurrence of any pointer
// visited more than once (per counts) in a Ref and every later
// occurrence in a Deref. The Ref's sequence number is reserved in seen
// *before* descending into the value's children, so a self-referencing
// cycle resolves to a Deref instead of recursing forever.
func (s *Serializer) convert(v any, counts, seen map[any]int, refSeq *int) any {
	if id, ok := s.identify(v); ok {
		return External{JournalID: id}
	}

	key, hasKey := pointerKey(v)
	repeated := hasKey && counts[key] > 1
	if repeated {
		if n, already := seen[key]; already {
			return Deref{N: n}
		}
	}

	var n int
	if repeated {
		*refSeq++
		n = *refSeq
		seen[key] = n
	}

	rv := reflect.ValueOf(v)
	var body any
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		body = s.convert(rv.Elem().Interface(), counts, seen, refSeq)
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = s.convert(rv.Index(i).Interface(), counts, seen, refSeq)
		}
		body = out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		for _, k := range rv.MapKeys() {
			out[fmt.Sprint(k.Interface())] = s.convert(rv.MapIndex(k).Interface(), counts, seen, refSeq)
		}
		body = out
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			if rv.Type().Field(i).IsExported() {
				out[rv.Type().Field(i).Name] = s.convert(rv.Field(i).Interface(), counts, seen, refSeq)
			}
		}
		body = out
	default:
		body = v
	}

	if repeated {
		return Ref{N: n, Value: body}
	}
	return body
}

// Unserialize resolves Ref/Deref pairs and External handles back into a
// live tree. replicas resolves a journal id to its replay-local replica;
// it is used only during replay (spec §4.4 step 2).
func Unserialize(v any, replicas map[string]any) any {
	refs := map[int]any{}
	return unserialize(v, replicas, refs)
}

func unserialize(v any, replicas map[string]any, refs map[int]any) any {
	switch t := v.(type) {
	case Ref:
		val := unserialize(t.Value, replicas, refs)
		refs[t.N] = val
		return val
	case Deref:
		return refs[t.N]
	case External:
		return replicas[t.JournalID]
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = unserialize(e, replicas, refs)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = unserialize(e, replicas, refs)
		}
		return out
	default:
		return v
	}
}
