package rulesource

import "errors"

// Sentinel errors for the rule-source validation failures spec §6/§7
// name explicitly. Every one is returned wrapped with fmt.Errorf so
// errors.Is still matches while the message carries the offending rule or
// condition.
var (
	ErrEmptyRuleSet       = errors.New("rulesource: empty rule set")
	ErrMissingCode        = errors.New("rulesource: missing rule_code")
	ErrDuplicateCode      = errors.New("rulesource: duplicate rule_code")
	ErrUnknownOperator    = errors.New("rulesource: unknown operator")
	ErrMalformedCondition = errors.New("rulesource: malformed condition")
)
