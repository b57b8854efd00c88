package evaluate

import (
	"strings"

	"github.com/heliosrules/helios/services/engine/event"
	"github.com/heliosrules/helios/services/engine/model"
	"github.com/heliosrules/helios/services/engine/predicate"
)

// evaluateField runs every predicate registered on fieldId against attr
// (spec §4.7, C7). present reports whether fieldId actually occurred in the
// encoded event — IS_NULL/IS_NOT_NULL are the only operators that care about
// its absence; every other operator is false when the field is absent.
//
// eligible is the eligiblePredicateSet computed once per evaluate call (spec
// §4.10 step 1); nil means no base-condition filter is active. A predicate
// excluded by eligible is skipped entirely — not even evaluated, not counted.
func evaluateField(m *model.EngineModel, ctx *Context, fieldID int32, attr event.Attr, present bool, eligible map[int32]struct{}) {
	for _, pid := range m.FieldToPredicates[fieldID] {
		if eligible != nil {
			if _, ok := eligible[pid]; !ok {
				continue
			}
		}
		p := m.Predicates[pid]
		ctx.PredicatesEvaluated++
		if evalOperator(p, attr, present, ctx) {
			ctx.TruePredicates[pid] = struct{}{}
		}
	}
}

// EvalStatic evaluates a single EQUAL_TO/IS_ANY_OF predicate against attr,
// with no Context required — the base-condition cache (services/engine/cache)
// uses it to test a BaseConditionSet's static predicates without needing a
// full evaluate.Context, since neither operator ever touches regex recovery.
func EvalStatic(p *predicate.Predicate, attr event.Attr, present bool) bool {
	return evalOperator(p, attr, present, nil)
}

// evalOperator implements the operator semantics of spec §4.7.
func evalOperator(p *predicate.Predicate, attr event.Attr, present bool, ctx *Context) bool {
	switch p.Operator {
	case predicate.EqualTo:
		if !present {
			return false
		}
		if p.HasStringID {
			return attr.IsString && attr.HasStringID && attr.StringID == p.StringID
		}
		return attr.IsNumeric && attr.Num == p.NumValue

	case predicate.NotEqualTo:
		if !present {
			return false
		}
		if p.HasStringID {
			if !attr.IsString {
				return true
			}
			if !attr.HasStringID {
				// Encoding miss: the event's raw string was never registered,
				// so it can't be the specific value the predicate names.
				return true
			}
			return attr.StringID != p.StringID
		}
		return attr.IsNumeric && attr.Num != p.NumValue

	case predicate.GreaterThan:
		return present && attr.IsNumeric && attr.Num > p.NumValue

	case predicate.LessThan:
		return present && attr.IsNumeric && attr.Num < p.NumValue

	case predicate.Between:
		return present && attr.IsNumeric && attr.Num >= p.Lo && attr.Num <= p.Hi

	case predicate.IsAnyOf:
		return present && matchesAny(p, attr, func(v int64) bool { return predicate.ContainsInt64(p.Set, v) })

	case predicate.IsNoneOf:
		if !present {
			return false
		}
		return !matchesAny(p, attr, func(v int64) bool { return predicate.ContainsInt64(p.Set, v) })

	case predicate.Contains:
		return present && matchesString(attr, func(s string) bool { return strings.Contains(s, p.Substr) })

	case predicate.StartsWith:
		return present && matchesString(attr, func(s string) bool { return strings.HasPrefix(s, p.Substr) })

	case predicate.EndsWith:
		return present && matchesString(attr, func(s string) bool { return strings.HasSuffix(s, p.Substr) })

	case predicate.Regex:
		if !present || p.Pattern == nil {
			return false
		}
		return regexMatch(p, attr, ctx)

	case predicate.IsNull:
		return !present

	case predicate.IsNotNull:
		return present

	default:
		return false
	}
}

// encodedValue returns the int64 form an IS_ANY_OF/IS_NONE_OF set compares
// against: the dictionary id for strings, the numeric value otherwise.
func encodedValue(attr event.Attr) (int64, bool) {
	if attr.IsString {
		if !attr.HasStringID {
			return 0, false
		}
		return int64(attr.StringID), true
	}
	if attr.IsNumeric {
		return int64(attr.Num), true
	}
	return 0, false
}

// matchesAny applies test to attr directly, or — when attr came from a
// slice-valued event attribute — to any of its elements (spec §6: arrays are
// "only meaningful to CONTAINS and IS_ANY_OF on event side").
func matchesAny(p *predicate.Predicate, attr event.Attr, test func(int64) bool) bool {
	if len(attr.Elements) > 0 {
		for _, el := range attr.Elements {
			if v, ok := encodedValue(el); ok && test(v) {
				return true
			}
		}
		return false
	}
	v, ok := encodedValue(attr)
	return ok && test(v)
}

// matchesString applies test to attr's raw decoded string, or to any element
// of a slice-valued attribute.
func matchesString(attr event.Attr, test func(string) bool) bool {
	if len(attr.Elements) > 0 {
		for _, el := range attr.Elements {
			if test(el.Raw) {
				return true
			}
		}
		return false
	}
	return test(attr.Raw)
}

// regexMatch runs p's compiled pattern, recovering from a runtime panic
// (spec §7 RegexRuntimeError: "treated as false; counted") rather than
// letting a single pathological input take down the whole evaluation.
func regexMatch(p *predicate.Predicate, attr event.Attr, ctx *Context) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			ctx.RegexErrors++
			matched = false
		}
	}()
	return matchesString(attr, p.Pattern.MatchString)
}
