package event

import (
	"fmt"

	"github.com/heliosrules/helios/services/engine/dictionary"
)

// Attr is one flattened, encoded event attribute (spec §4.6). Numeric and
// string forms are kept side by side because operators split along that
// line: EQUAL_TO/NOT_EQUAL_TO/IS_ANY_OF/IS_NONE_OF compare the dictionary
// id for strings, while CONTAINS/STARTS_WITH/ENDS_WITH/REGEX always compare
// the decoded string regardless of whether it resolved to a dictionary id
// (spec §7 EncodingMiss: "CONTAINS/REGEX fall back to decoded-string
// operations").
type Attr struct {
	IsString    bool
	StringID    int32
	HasStringID bool // false on an EncodingMiss: the string has no dictionary id
	Raw         string

	IsNumeric bool
	Num       float64

	IsBool bool
	Bool   bool

	// Elements holds per-element encodings when the source attribute was a
	// slice (spec §6: arrays are "only meaningful to CONTAINS and
	// IS_ANY_OF on event side").
	Elements []Attr
}

// Encoded is an event projected into dictionary space: fieldId ->
// encoded value (spec §3 EngineModel "Event Encoder"). Fields absent from
// the event are simply missing from Attrs, never present with a null
// marker (spec §4.6 "Missing fields are absent, not null").
type Encoded struct {
	EventID   string
	EventType string
	Attrs     map[int32]Attr
}

// Encoder projects events into an EngineModel's dictionary space. It holds
// no per-event state and is safe for concurrent use by many goroutines —
// the thread-local piece of the hot path lives in
// services/engine/evaluate's EvaluationContext, not here.
type Encoder struct {
	FieldDict *dictionary.Dictionary
	ValueDict *dictionary.Dictionary
}

// New returns an Encoder bound to the given field/value dictionaries.
func New(fieldDict, valueDict *dictionary.Dictionary) *Encoder {
	return &Encoder{FieldDict: fieldDict, ValueDict: valueDict}
}

// Encode flattens and encodes ev. A flattened attribute whose field name
// has no entry in FieldDict is dropped — no compiled predicate can
// reference a field the compiler never saw, so keeping it would only cost
// memory.
func (enc *Encoder) Encode(ev *Event) *Encoded {
	flat := flatten(ev.Attributes)
	out := &Encoded{
		EventID:   ev.EventID,
		EventType: ev.EventType,
		Attrs:     make(map[int32]Attr, len(flat)),
	}
	for name, v := range flat {
		fieldID, ok := enc.FieldDict.Lookup(name)
		if !ok {
			continue
		}
		out.Attrs[fieldID] = enc.encodeValue(v)
	}
	return out
}

func (enc *Encoder) encodeValue(v any) Attr {
	switch val := v.(type) {
	case string:
		a := Attr{IsString: true, Raw: val}
		if id, ok := enc.ValueDict.Lookup(val); ok {
			a.StringID = id
			a.HasStringID = true
		}
		return a
	case bool:
		return Attr{IsBool: true, Bool: val}
	case int:
		return Attr{IsNumeric: true, Num: float64(val)}
	case int32:
		return Attr{IsNumeric: true, Num: float64(val)}
	case int64:
		return Attr{IsNumeric: true, Num: float64(val)}
	case float32:
		return Attr{IsNumeric: true, Num: float64(val)}
	case float64:
		return Attr{IsNumeric: true, Num: val}
	case []any:
		elems := make([]Attr, len(val))
		for i, e := range val {
			elems[i] = enc.encodeValue(e)
		}
		return Attr{Elements: elems}
	default:
		// Unrecognized scalar types (e.g. a custom Stringer) degrade to
		// their string form so CONTAINS/REGEX still has something to
		// operate on; equality-style operators simply never match since
		// HasStringID stays false.
		return Attr{IsString: true, Raw: fmt.Sprintf("%v", val)}
	}
}
