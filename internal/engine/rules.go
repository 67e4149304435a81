package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"

	"profile-backend/internal/metadata"
)

// EvaluateRules checks a section data record against its whitelist rules.
// Field rules run before expression rules. On update the record holds just
// the changed fields, so a required rule only applies to a field present in
// it: omitting a field keeps it, sending null or blank clears it.
func EvaluateRules(rules []*metadata.Rule, fields Record, isCreate bool) ValidationErrors {
	if len(rules) == 0 {
		return nil
	}

	action := "update"
	if isCreate {
		action = "create"
	}
	env := map[string]any{
		"record": fields,
		"action": action,
	}

	var errs ValidationErrors

	for _, r := range rules {
		if r.Type != metadata.RuleField {
			continue
		}
		if r.Operator == "required" && !isCreate {
			if _, present := fields[r.Field]; !present {
				continue
			}
		}
		if detail := EvaluateFieldRule(r, fields); detail != nil {
			errs = append(errs, *detail)
			if r.StopOnFail {
				return errs
			}
		}
	}

	for _, r := range rules {
		if r.Type != metadata.RuleExpression {
			continue
		}
		if detail := EvaluateExpressionRule(r, env); detail != nil {
			errs = append(errs, *detail)
			if r.StopOnFail {
				return errs
			}
		}
	}

	return errs
}

// EvaluateFieldRule evaluates a single field rule against a record.
// Returns nil if the rule passes, or an ErrorDetail if it fails.
func EvaluateFieldRule(rule *metadata.Rule, record Record) *ErrorDetail {
	fieldName := rule.Field
	op := rule.Operator
	msg := rule.Message
	if msg == "" {
		msg = fmt.Sprintf("field %s failed %s validation", fieldName, op)
	}

	val, exists := record[fieldName]
	if op == "required" {
		if !exists || val == nil {
			return &ErrorDetail{Field: fieldName, Rule: "required", Message: msg}
		}
		if s, ok := val.(string); ok && strings.TrimSpace(s) == "" {
			return &ErrorDetail{Field: fieldName, Rule: "required", Message: msg}
		}
		return nil
	}
	if !exists || val == nil {
		return nil // absent fields are only checked by "required"
	}

	switch op {
	case "min", "max":
		num, ok := toFloat64(val)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(rule.Value)
		if !ok {
			return nil
		}
		if (op == "min" && num < threshold) || (op == "max" && num > threshold) {
			return &ErrorDetail{Field: fieldName, Rule: op, Message: msg}
		}

	case "min_length", "max_length":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		threshold, ok := toFloat64(rule.Value)
		if !ok {
			return nil
		}
		n := len([]rune(s))
		if (op == "min_length" && n < int(threshold)) || (op == "max_length" && n > int(threshold)) {
			return &ErrorDetail{Field: fieldName, Rule: op, Message: msg}
		}

	case "pattern":
		s, ok := val.(string)
		if !ok {
			return nil
		}
		pattern, ok := rule.Value.(string)
		if !ok {
			return nil
		}
		matched, err := regexp.MatchString(pattern, s)
		if err != nil || !matched {
			return &ErrorDetail{Field: fieldName, Rule: "pattern", Message: msg}
		}
	}

	return nil
}

// EvaluateExpressionRule runs a boolean expression against env. Returns nil
// if the rule passes (expression is false), or an ErrorDetail if violated.
func EvaluateExpressionRule(rule *metadata.Rule, env map[string]any) *ErrorDetail {
	prog, err := rule.Program()
	if err != nil {
		return &ErrorDetail{Rule: "expression", Message: err.Error()}
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return &ErrorDetail{Rule: "expression", Message: fmt.Sprintf("rule evaluation error: %v", err)}
	}

	violated, ok := result.(bool)
	if !ok || !violated {
		return nil
	}

	msg := rule.Message
	if msg == "" {
		msg = "Expression rule violated"
	}
	return &ErrorDetail{Field: rule.Field, Rule: "expression", Message: msg}
}

// toFloat64 converts numeric types to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
