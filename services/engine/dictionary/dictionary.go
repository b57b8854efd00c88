// Package dictionary provides bidirectional string<->int32 interning used
// to turn field names and string predicate values into dense integers the
// rest of the engine can compare, hash, and pack into bitmaps cheaply.
package dictionary

import "fmt"

// Dictionary interns strings to dense, non-negative int32 ids.
//
// Description:
//
//	Built incrementally during compilation via Encode, then treated as
//	immutable for the remaining lifetime of the compiled model. Ids are
//	assigned in registration order starting at 0 and are never reused or
//	renumbered, so encode(decode(i)) == i holds for every id ever issued.
//
// Thread Safety:
//
//	Not safe for concurrent Encode calls; the compiler that builds a
//	Dictionary is single-threaded (spec §5). Once compilation finishes,
//	Lookup and Decode are read-only and safe for unbounded concurrent use
//	by any number of evaluator goroutines sharing the model.
type Dictionary struct {
	toID   map[string]int32
	toName []string
}

// New returns an empty Dictionary ready for Encode calls.
func New() *Dictionary {
	return &Dictionary{
		toID: make(map[string]int32),
	}
}

// NewWithCapacity returns an empty Dictionary pre-sized for n entries, to
// avoid incremental map growth when the approximate final size is known
// (e.g. the number of distinct field names in a rule source).
func NewWithCapacity(n int) *Dictionary {
	return &Dictionary{
		toID:   make(map[string]int32, n),
		toName: make([]string, 0, n),
	}
}

// Encode interns s, returning its id. Repeated calls with the same s return
// the same id. Fail-free: there is no invalid input string.
func (d *Dictionary) Encode(s string) int32 {
	if id, ok := d.toID[s]; ok {
		return id
	}
	id := int32(len(d.toName))
	d.toID[s] = id
	d.toName = append(d.toName, s)
	return id
}

// Lookup returns the id previously assigned to s, without interning it.
// Used on the runtime event-encoding path, where an unseen string must
// produce a miss (spec §4.6/§4.7 EncodingMiss) rather than grow the
// dictionary.
func (d *Dictionary) Lookup(s string) (int32, bool) {
	id, ok := d.toID[s]
	return id, ok
}

// Decode returns the string previously interned under id, or ("", false)
// if id was never issued by this Dictionary.
func (d *Dictionary) Decode(id int32) (string, bool) {
	if id < 0 || int(id) >= len(d.toName) {
		return "", false
	}
	return d.toName[id], true
}

// MustDecode is Decode but panics on an unknown id. Reserved for internal
// invariant checks (e.g. printing a predicate whose fieldId was assigned by
// this same Dictionary) — never called on untrusted input.
func (d *Dictionary) MustDecode(id int32) string {
	s, ok := d.Decode(id)
	if !ok {
		panic(fmt.Sprintf("dictionary: id %d was never issued", id))
	}
	return s
}

// Len returns the number of distinct strings interned so far.
func (d *Dictionary) Len() int {
	return len(d.toName)
}

// Snapshot returns the dictionary's entries in id order, for serialization.
// The returned slice must not be mutated by the caller.
func (d *Dictionary) Snapshot() []string {
	return d.toName
}

// FromSnapshot rebuilds a Dictionary from an ordered list of strings
// previously produced by Snapshot, preserving ids exactly (round-trip for
// model deserialization, spec §6/§8 property 10).
func FromSnapshot(names []string) *Dictionary {
	d := &Dictionary{
		toID:   make(map[string]int32, len(names)),
		toName: make([]string, len(names)),
	}
	copy(d.toName, names)
	for i, s := range names {
		d.toID[s] = int32(i)
	}
	return d
}
