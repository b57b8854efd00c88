// Package rulesource decodes and validates the rule-source wire format
// (spec §6) into compile.LogicalRule values ready for the compiler.
package rulesource

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// RawRule is one rule-source record exactly as it arrives over the wire
// (spec §6: "{rule_code, priority, description, enabled, conditions}"),
// before field/value names are resolved through a Dictionary.
type RawRule struct {
	RuleCode    string         `json:"rule_code" yaml:"rule_code" validate:"required"`
	Priority    int            `json:"priority" yaml:"priority"`
	Description string         `json:"description" yaml:"description"`
	Enabled     *bool          `json:"enabled" yaml:"enabled"`
	Conditions  []RawCondition `json:"conditions" yaml:"conditions" validate:"dive"`
}

// RawCondition is one `{field, operator, value}` entry. Value is left as
// `any` since its expected shape (scalar, pair, or array) depends on
// Operator.
type RawCondition struct {
	Field    string `json:"field" yaml:"field" validate:"required"`
	Operator string `json:"operator" yaml:"operator" validate:"required"`
	Value    any    `json:"value" yaml:"value"`
}

// IsEnabled reports the rule's enabled state, defaulting to true when the
// source omits the field entirely (spec §6 "enabled: bool = true").
func (r RawRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// DecodeJSON parses a JSON array of rule-source records.
func DecodeJSON(data []byte) ([]RawRule, error) {
	var rules []RawRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("rulesource: parsing JSON: %w", err)
	}
	return rules, nil
}

// DecodeYAML parses a YAML array of rule-source records.
func DecodeYAML(data []byte) ([]RawRule, error) {
	var rules []RawRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("rulesource: parsing YAML: %w", err)
	}
	return rules, nil
}
