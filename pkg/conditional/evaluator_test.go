package conditional

import (
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestEvaluate_NoRule(t *testing.T) {
	e := NewEvaluator(testLogger())

	assert.True(t, e.Evaluate(nil, map[string]any{}))
	assert.True(t, e.Evaluate(&models.ConditionalRule{Logic: models.LogicAnd}, map[string]any{}))
}

func TestEvaluate_Equals(t *testing.T) {
	e := NewEvaluator(testLogger())
	rule := &models.ConditionalRule{
		Logic: models.LogicAnd,
		Conditions: []models.Condition{
			{Field: "plan", Operator: models.OperatorEquals, Value: "pro"},
		},
	}

	assert.True(t, e.Evaluate(rule, map[string]any{"plan": "pro"}))
	assert.False(t, e.Evaluate(rule, map[string]any{"plan": "free"}))
	assert.False(t, e.Evaluate(rule, map[string]any{}), "missing answer never satisfies equals")
	assert.False(t, e.Evaluate(rule, map[string]any{"plan": ""}), "empty answer counts as missing")
	assert.False(t, e.Evaluate(rule, map[string]any{"plan": nil}))
}

func TestEvaluate_EqualsNumericTypes(t *testing.T) {
	e := NewEvaluator(testLogger())
	rule := &models.ConditionalRule{
		Logic: models.LogicAnd,
		Conditions: []models.Condition{
			{Field: "count", Operator: models.OperatorEquals, Value: 3},
		},
	}

	// JSON decodes numbers as float64
	assert.True(t, e.Evaluate(rule, map[string]any{"count": float64(3)}))
}

func TestEvaluate_EqualsIsTypeStrict(t *testing.T) {
	e := NewEvaluator(testLogger())
	rule := &models.ConditionalRule{
		Logic: models.LogicAnd,
		Conditions: []models.Condition{
			{Field: "agreed", Operator: models.OperatorEquals, Value: true},
		},
	}

	assert.True(t, e.Evaluate(rule, map[string]any{"agreed": true}))
	assert.False(t, e.Evaluate(rule, map[string]any{"agreed": "true"}), "a string answer never equals a bool value")
	assert.False(t, e.Evaluate(rule, map[string]any{"agreed": 1}), "a number never equals a bool value")
}

func TestEvaluate_EqualsSequenceMembership(t *testing.T) {
	e := NewEvaluator(testLogger())
	rule := &models.ConditionalRule{
		Logic: models.LogicAnd,
		Conditions: []models.Condition{
			{Field: "toppings", Operator: models.OperatorEquals, Value: "cheese"},
		},
	}

	assert.True(t, e.Evaluate(rule, map[string]any{"toppings": []any{"ham", "cheese"}}))
	assert.False(t, e.Evaluate(rule, map[string]any{"toppings": []any{"ham"}}))
}

func TestEvaluate_NotEquals(t *testing.T) {
	e := NewEvaluator(testLogger())
	rule := &models.ConditionalRule{
		Logic: models.LogicAnd,
		Conditions: []models.Condition{
			{Field: "plan", Operator: models.OperatorNotEquals, Value: "pro"},
		},
	}

	assert.False(t, e.Evaluate(rule, map[string]any{"plan": "pro"}))
	assert.True(t, e.Evaluate(rule, map[string]any{"plan": "free"}))
	assert.True(t, e.Evaluate(rule, map[string]any{}), "missing answer satisfies notEquals")
	assert.True(t, e.Evaluate(rule, map[string]any{"plan": ""}))
}

func TestEvaluate_Contains(t *testing.T) {
	e := NewEvaluator(testLogger())
	rule := &models.ConditionalRule{
		Logic: models.LogicAnd,
		Conditions: []models.Condition{
			{Field: "feedback", Operator: models.OperatorContains, Value: "great"},
		},
	}

	assert.True(t, e.Evaluate(rule, map[string]any{"feedback": "This was GREAT service"}), "contains is case-insensitive")
	assert.False(t, e.Evaluate(rule, map[string]any{"feedback": "fine"}))
	assert.False(t, e.Evaluate(rule, map[string]any{}), "missing answer never satisfies contains")
	assert.True(t, e.Evaluate(rule, map[string]any{"feedback": []any{"so great", "meh"}}), "any element may match")
}

func TestEvaluate_Combinators(t *testing.T) {
	e := NewEvaluator(testLogger())
	conditions := []models.Condition{
		{Field: "a", Operator: models.OperatorEquals, Value: "yes"},
		{Field: "b", Operator: models.OperatorEquals, Value: "yes"},
	}
	answers := map[string]any{"a": "yes", "b": "no"}

	assert.False(t, e.Evaluate(&models.ConditionalRule{Logic: models.LogicAnd, Conditions: conditions}, answers))
	assert.True(t, e.Evaluate(&models.ConditionalRule{Logic: models.LogicOr, Conditions: conditions}, answers))
}

func TestEvaluate_UnknownOperatorIsNotMet(t *testing.T) {
	e := NewEvaluator(testLogger())
	rule := &models.ConditionalRule{
		Logic: models.LogicAnd,
		Conditions: []models.Condition{
			{Field: "a", Operator: "regex", Value: ".*"},
		},
	}

	assert.False(t, e.Evaluate(rule, map[string]any{"a": "anything"}))
}

func TestEvaluate_UnknownCombinatorFailsOpen(t *testing.T) {
	e := NewEvaluator(testLogger())
	rule := &models.ConditionalRule{
		Logic: "XOR",
		Conditions: []models.Condition{
			{Field: "a", Operator: models.OperatorEquals, Value: "never"},
		},
	}

	assert.True(t, e.Evaluate(rule, map[string]any{"a": "something else"}))
}

func TestVisibleKeys_DeclaredOrder(t *testing.T) {
	e := NewEvaluator(testLogger())
	questions := []models.Question{
		{Key: "name", Type: models.QuestionTypeText},
		{Key: "has_pet", Type: models.QuestionTypeCheckbox},
		{Key: "pet_name", Type: models.QuestionTypeText, Rule: &models.ConditionalRule{
			Logic: models.LogicAnd,
			Conditions: []models.Condition{
				{Field: "has_pet", Operator: models.OperatorEquals, Value: true},
			},
		}},
	}

	assert.Equal(t, []string{"name", "has_pet", "pet_name"},
		e.VisibleKeys(questions, map[string]any{"has_pet": true}))
	assert.Equal(t, []string{"name", "has_pet"},
		e.VisibleKeys(questions, map[string]any{"has_pet": false}))
}
