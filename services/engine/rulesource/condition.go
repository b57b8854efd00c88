package rulesource

import (
	"fmt"
	"strings"

	"github.com/heliosrules/helios/services/engine/compile"
	"github.com/heliosrules/helios/services/engine/dictionary"
	"github.com/heliosrules/helios/services/engine/predicate"
)

// addCondition resolves cond against fieldDict/valueDict and appends the
// resulting predicate material to rule: a conjunctive *predicate.Predicate
// for every operator except IS_ANY_OF, which becomes a DisjunctiveGroup
// (spec §4.3/§4.4: "the only operator the combination builder expands into
// a Cartesian product").
func addCondition(rule *compile.LogicalRule, fieldDict, valueDict *dictionary.Dictionary, cond RawCondition) error {
	op, ok := predicate.ParseOperator(cond.Operator)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOperator, cond.Operator)
	}
	fieldID := fieldDict.Encode(strings.ToUpper(strings.TrimSpace(cond.Field)))

	switch op {
	case predicate.EqualTo, predicate.NotEqualTo:
		p, err := equalityPredicate(fieldID, op, valueDict, cond.Value)
		if err != nil {
			return err
		}
		rule.Conjunctive = append(rule.Conjunctive, p)

	case predicate.GreaterThan, predicate.LessThan:
		n, ok := toFloat(cond.Value)
		if !ok {
			return fmt.Errorf("%w: %s expects a number, got %v", ErrMalformedCondition, op, cond.Value)
		}
		rule.Conjunctive = append(rule.Conjunctive, &predicate.Predicate{FieldID: fieldID, Operator: op, NumValue: n})

	case predicate.Between:
		lo, hi, err := betweenBounds(cond.Value)
		if err != nil {
			return err
		}
		rule.Conjunctive = append(rule.Conjunctive, &predicate.Predicate{FieldID: fieldID, Operator: predicate.Between, Lo: lo, Hi: hi})

	case predicate.IsAnyOf:
		values, stringValued, err := operandSet(valueDict, cond.Value)
		if err != nil {
			return err
		}
		for i, g := range rule.Disjunctive {
			if g.FieldID == fieldID {
				// A second IS_ANY_OF on the same field narrows the first,
				// since every condition of a rule has to hold.
				kept := make([]int64, 0, len(values))
				for _, v := range values {
					if predicate.ContainsInt64(g.Values, v) {
						kept = append(kept, v)
					}
				}
				rule.Disjunctive[i].Values = kept
				return nil
			}
		}
		rule.Disjunctive = append(rule.Disjunctive, compile.DisjunctiveGroup{FieldID: fieldID, Values: values, StringValued: stringValued})

	case predicate.IsNoneOf:
		values, _, err := operandSet(valueDict, cond.Value)
		if err != nil {
			return err
		}
		rule.Conjunctive = append(rule.Conjunctive, &predicate.Predicate{FieldID: fieldID, Operator: predicate.IsNoneOf, Set: values})

	case predicate.Contains, predicate.StartsWith, predicate.EndsWith:
		s, ok := cond.Value.(string)
		if !ok {
			return fmt.Errorf("%w: %s expects a string, got %v", ErrMalformedCondition, op, cond.Value)
		}
		rule.Conjunctive = append(rule.Conjunctive, &predicate.Predicate{FieldID: fieldID, Operator: op, Substr: s})

	case predicate.Regex:
		s, ok := cond.Value.(string)
		if !ok {
			return fmt.Errorf("%w: REGEX expects a string pattern, got %v", ErrMalformedCondition, cond.Value)
		}
		compiled, err := predicate.CompileRegex(s)
		if err != nil {
			return fmt.Errorf("%w: REGEX %q: %v", ErrMalformedCondition, s, err)
		}
		rule.Conjunctive = append(rule.Conjunctive, &predicate.Predicate{FieldID: fieldID, Operator: predicate.Regex, PatternSrc: s, Pattern: compiled})

	case predicate.IsNull, predicate.IsNotNull:
		rule.Conjunctive = append(rule.Conjunctive, &predicate.Predicate{FieldID: fieldID, Operator: op})

	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperator, cond.Operator)
	}

	return nil
}

func equalityPredicate(fieldID int32, op predicate.Operator, valueDict *dictionary.Dictionary, value any) (*predicate.Predicate, error) {
	switch v := value.(type) {
	case string:
		return &predicate.Predicate{FieldID: fieldID, Operator: op, HasStringID: true, StringID: valueDict.Encode(v)}, nil
	default:
		n, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string or number, got %v", ErrMalformedCondition, op, value)
		}
		return &predicate.Predicate{FieldID: fieldID, Operator: op, NumValue: n}, nil
	}
}

// betweenBounds decodes a two-element [lo, hi] array (spec §6 "value =
// [lo, hi]").
func betweenBounds(value any) (lo, hi float64, err error) {
	arr, ok := value.([]any)
	if !ok || len(arr) != 2 {
		return 0, 0, fmt.Errorf("%w: BETWEEN expects a [lo, hi] pair, got %v", ErrMalformedCondition, value)
	}
	lo, loOK := toFloat(arr[0])
	hi, hiOK := toFloat(arr[1])
	if !loOK || !hiOK {
		return 0, 0, fmt.Errorf("%w: BETWEEN bounds must be numbers, got %v", ErrMalformedCondition, value)
	}
	return lo, hi, nil
}

// operandSet decodes an IS_ANY_OF/IS_NONE_OF array operand into a sorted,
// de-duplicated encoded int64 set (spec §4.2), reporting whether the
// operands were strings (interned through valueDict) or raw numbers. A
// mixed-type array is rejected as malformed — a field's declared type is
// fixed (compile.DisjunctiveGroup doc comment).
func operandSet(valueDict *dictionary.Dictionary, value any) ([]int64, bool, error) {
	arr, ok := value.([]any)
	if !ok || len(arr) == 0 {
		return nil, false, fmt.Errorf("%w: expects a non-empty array, got %v", ErrMalformedCondition, value)
	}

	_, firstIsString := arr[0].(string)
	out := make([]int64, 0, len(arr))
	for _, el := range arr {
		if firstIsString {
			s, ok := el.(string)
			if !ok {
				return nil, false, fmt.Errorf("%w: mixed-type array %v", ErrMalformedCondition, value)
			}
			out = append(out, int64(valueDict.Encode(s)))
			continue
		}
		n, ok := toFloat(el)
		if !ok {
			return nil, false, fmt.Errorf("%w: mixed-type array %v", ErrMalformedCondition, value)
		}
		out = append(out, int64(n))
	}
	return predicate.CanonicalizeSet(out), firstIsString, nil
}

// toFloat converts the decoded JSON/YAML numeric forms (float64 from
// encoding/json, int or float64 from yaml.v3) to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
