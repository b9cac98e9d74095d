// Package conditional evaluates the visibility rules that gate questions
// on earlier answers, and validates rule sets at authoring time.
package conditional

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Evaluator decides question visibility from the current answer set.
// Evaluation never fails: malformed rules degrade to a logged default so a
// bad rule cannot block a respondent from submitting.
type Evaluator struct {
	logger ectologger.Logger
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(logger ectologger.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate reports whether a question gated by rule is visible given the
// answers so far. A nil rule or a rule without conditions is visible.
// An unknown combinator fails open (visible) with a warning.
func (e *Evaluator) Evaluate(rule *models.ConditionalRule, answers map[string]any) bool {
	if rule == nil || len(rule.Conditions) == 0 {
		return true
	}

	switch rule.Logic {
	case models.LogicAnd:
		for _, condition := range rule.Conditions {
			if !e.evaluateCondition(condition, answers) {
				return false
			}
		}
		return true
	case models.LogicOr:
		for _, condition := range rule.Conditions {
			if e.evaluateCondition(condition, answers) {
				return true
			}
		}
		return false
	default:
		e.logger.Warnf("unknown rule combinator %q, treating question as visible", rule.Logic)
		return true
	}
}

// VisibleKeys returns the keys of all visible questions, in declared order.
func (e *Evaluator) VisibleKeys(questions []models.Question, answers map[string]any) []string {
	keys := make([]string, 0, len(questions))
	for _, question := range questions {
		if e.Evaluate(question.Rule, answers) {
			keys = append(keys, question.Key)
		}
	}
	return keys
}

func (e *Evaluator) evaluateCondition(condition models.Condition, answers map[string]any) bool {
	answer, present := answers[condition.Field]
	if isAbsent(answer) {
		present = false
	}

	switch condition.Operator {
	case models.OperatorEquals:
		if !present {
			return false
		}
		return valueEquals(answer, condition.Value)
	case models.OperatorNotEquals:
		// Exact complement of equals: an unanswered question is
		// "not equal" to anything.
		if !present {
			return true
		}
		return !valueEquals(answer, condition.Value)
	case models.OperatorContains:
		if !present {
			return false
		}
		return valueContains(answer, condition.Value)
	default:
		e.logger.Warnf("unknown condition operator %q on field %q, treating condition as not met", condition.Operator, condition.Field)
		return false
	}
}

func isAbsent(answer any) bool {
	if answer == nil {
		return true
	}
	if s, ok := answer.(string); ok && s == "" {
		return true
	}
	return false
}

// valueEquals compares an answer with the condition value. A sequence
// answer (multi-select) matches when any element equals the value.
func valueEquals(answer any, value any) bool {
	if elements, ok := asSlice(answer); ok {
		for _, element := range elements {
			if scalarEquals(element, value) {
				return true
			}
		}
		return false
	}
	return scalarEquals(answer, value)
}

func scalarEquals(answer any, value any) bool {
	if reflect.DeepEqual(answer, value) {
		return true
	}
	// Numbers arrive as float64 from JSON but may be declared as ints
	// in the rule, and vice versa. Other cross-type pairs never match:
	// true is not "true".
	af, aok := asFloat(answer)
	vf, vok := asFloat(value)
	return aok && vok && af == vf
}

// valueContains is a case-insensitive substring match for string answers,
// and an any-element match for sequence answers.
func valueContains(answer any, value any) bool {
	needle := strings.ToLower(fmt.Sprintf("%v", value))

	if elements, ok := asSlice(answer); ok {
		for _, element := range elements {
			if strings.Contains(strings.ToLower(fmt.Sprintf("%v", element)), needle) {
				return true
			}
		}
		return false
	}

	return strings.Contains(strings.ToLower(fmt.Sprintf("%v", answer)), needle)
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		elements := make([]any, len(s))
		for i, e := range s {
			elements[i] = e
		}
		return elements, true
	default:
		return nil, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
