package compile

import "github.com/heliosrules/helios/services/engine/predicate"

// isContradictory reports whether preds (every predicate in a single
// candidate combination, as registered) contains two predicates that can
// never both be true, restricted to the per-field numeric/null conflicts
// spec §4.4 calls out (e.g. `x > 100` and `x < 50`). Combinations it flags
// are dropped silently by Build (spec §7 ContradictoryRule).
func isContradictory(preds []*predicate.Predicate) bool {
	byField := make(map[int32][]*predicate.Predicate)
	for _, p := range preds {
		byField[p.FieldID] = append(byField[p.FieldID], p)
	}
	for _, fieldPreds := range byField {
		if fieldContradictory(fieldPreds) {
			return true
		}
	}
	return false
}

func fieldContradictory(preds []*predicate.Predicate) bool {
	var (
		hasEqual          bool
		equalVal          float64
		hasLower          bool
		lowerVal          float64
		lowerInclusive    bool
		hasUpper          bool
		upperVal          float64
		upperInclusive    bool
		excluded          []float64
		hasNull, hasNotNl bool
	)

	for _, p := range preds {
		switch p.Operator {
		case predicate.EqualTo:
			v := equalityValue(p)
			if hasEqual && v != equalVal {
				return true
			}
			hasEqual, equalVal = true, v
		case predicate.NotEqualTo:
			excluded = append(excluded, equalityValue(p))
		case predicate.GreaterThan:
			if !hasLower || p.NumValue > lowerVal || (p.NumValue == lowerVal && !lowerInclusive) {
				hasLower, lowerVal, lowerInclusive = true, p.NumValue, false
			}
		case predicate.LessThan:
			if !hasUpper || p.NumValue < upperVal || (p.NumValue == upperVal && !upperInclusive) {
				hasUpper, upperVal, upperInclusive = true, p.NumValue, false
			}
		case predicate.Between:
			if !hasLower || p.Lo > lowerVal {
				hasLower, lowerVal, lowerInclusive = true, p.Lo, true
			}
			if !hasUpper || p.Hi < upperVal {
				hasUpper, upperVal, upperInclusive = true, p.Hi, true
			}
		case predicate.IsNull:
			hasNull = true
		case predicate.IsNotNull:
			hasNotNl = true
		}
	}

	if hasNull && hasNotNl {
		return true
	}
	if hasLower && hasUpper {
		if lowerInclusive && upperInclusive {
			if lowerVal > upperVal {
				return true
			}
		} else if lowerVal >= upperVal {
			return true
		}
	}
	if hasEqual {
		if hasLower && (equalVal < lowerVal || (equalVal == lowerVal && !lowerInclusive)) {
			return true
		}
		if hasUpper && (equalVal > upperVal || (equalVal == upperVal && !upperInclusive)) {
			return true
		}
		for _, ex := range excluded {
			if equalVal == ex {
				return true
			}
		}
	}
	return false
}

// equalityValue returns the comparable numeric form of an EQUAL_TO/
// NOT_EQUAL_TO predicate's operand, whether it is a string (dictionary id)
// or a plain number.
func equalityValue(p *predicate.Predicate) float64 {
	if p.HasStringID {
		return float64(p.StringID)
	}
	return p.NumValue
}
