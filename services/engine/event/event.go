// Package event defines the incoming Event type and the C6 encoder that
// projects an event's attributes into dictionary space for the evaluator.
package event

import "strings"

// Event is a single incoming occurrence to be matched against the compiled
// ruleset (spec §3/§6). Attributes may be scalars (string, bool, any
// numeric type), slices of scalars, or nested maps — nested maps are
// flattened into dotted-uppercased field paths before encoding.
type Event struct {
	EventID    string
	EventType  string
	Attributes map[string]any
}

// flatten walks attrs depth-first, producing one entry per leaf scalar or
// slice keyed by its dotted-uppercased path (spec §4.6: "Flattens nested
// maps by dotted-uppercased path"). Map keys are upper-cased individually
// so "user.id" and "USER.ID" land on the same flattened path.
func flatten(attrs map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", attrs)
	return out
}

func flattenInto(out map[string]any, prefix string, attrs map[string]any) {
	for k, v := range attrs {
		path := strings.ToUpper(k)
		if prefix != "" {
			path = prefix + "." + path
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, path, nested)
			continue
		}
		out[path] = v
	}
}
