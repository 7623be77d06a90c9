// Package pipeline implements the lazy, composable dataflow model that
// drives content discovery.
//
// A pipeline is a tagged tree of stages interpreted by Run: flat sequences
// chain node output streams depth-first, nested sub-pipelines branch
// (fan-out without fan-in), Loop re-invokes a sub-pipeline until a pass
// produces nothing, and Switch dispatches on a record field. Evaluation is
// pull-based: no node computes output until the consumer asks for the next
// record.
package pipeline

import "fmt"

// Record is the unit of data flowing between nodes: an ordered mapping
// from field name to value with no fixed schema. Fields accumulate as the
// record threads through nodes. Nodes that mutate a record must do so on a
// Clone, never in place on the caller's copy.
type Record struct {
	keys []string
	vals map[string]any
}

// NewRecord returns an empty record.
func NewRecord() Record {
	return Record{vals: make(map[string]any)}
}

// Set stores a field value, preserving first-insertion order for Keys.
func (r *Record) Set(key string, val any) {
	if r.vals == nil {
		r.vals = make(map[string]any)
	}
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = val
}

// Get returns a field value and whether it is present.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// String returns a field's string form, or "" when absent.
func (r Record) String(key string) string {
	v, ok := r.vals[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Has reports whether a field is present.
func (r Record) Has(key string) bool {
	_, ok := r.vals[key]
	return ok
}

// Delete removes a field if present.
func (r *Record) Delete(key string) {
	if _, ok := r.vals[key]; !ok {
		return
	}
	delete(r.vals, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.keys)
}

// Clone returns a private copy the caller may mutate freely. Values are
// copied shallowly; shared accumulator references are intentional.
func (r Record) Clone() Record {
	out := Record{
		keys: make([]string, len(r.keys)),
		vals: make(map[string]any, len(r.vals)),
	}
	copy(out.keys, r.keys)
	for k, v := range r.vals {
		out.vals[k] = v
	}
	return out
}
