package rulesource

import (
	"fmt"

	"github.com/heliosrules/helios/services/engine/compile"
	"github.com/heliosrules/helios/services/engine/dictionary"
)

// Build validates raw and converts it into compiler-ready LogicalRules,
// interning field and string-operand names through fieldDict/valueDict
// (spec §6 rule source -> §4.3/§4.4 compiler input). fieldDict and
// valueDict accumulate entries as Build runs; pass fresh or
// already-partially-built dictionaries consistently with how the caller
// later encodes events.
func Build(fieldDict, valueDict *dictionary.Dictionary, raw []RawRule) ([]compile.LogicalRule, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyRuleSet
	}

	seen := make(map[string]struct{}, len(raw))
	rules := make([]compile.LogicalRule, 0, len(raw))

	for i, r := range raw {
		if r.RuleCode == "" {
			return nil, fmt.Errorf("%w: rule[%d]", ErrMissingCode, i)
		}
		if _, dup := seen[r.RuleCode]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateCode, r.RuleCode)
		}
		seen[r.RuleCode] = struct{}{}

		if err := validate.Struct(r); err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrMalformedCondition, r.RuleCode, err)
		}

		rule := compile.LogicalRule{
			RuleCode:    r.RuleCode,
			Priority:    r.Priority,
			Description: r.Description,
			Enabled:     r.IsEnabled(),
		}

		for j, cond := range r.Conditions {
			if err := addCondition(&rule, fieldDict, valueDict, cond); err != nil {
				return nil, fmt.Errorf("rule %q, condition[%d]: %w", r.RuleCode, j, err)
			}
		}

		rules = append(rules, rule)
	}

	return rules, nil
}
