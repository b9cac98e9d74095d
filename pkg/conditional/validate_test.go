package conditional

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func rule(logic string, conditions ...models.Condition) *models.ConditionalRule {
	return &models.ConditionalRule{Logic: logic, Conditions: conditions}
}

func TestValidate_CleanRules(t *testing.T) {
	questions := []models.Question{
		{Key: "plan"},
		{Key: "seats", Rule: rule(models.LogicAnd,
			models.Condition{Field: "plan", Operator: models.OperatorEquals, Value: "team"})},
	}

	assert.Empty(t, Validate(questions))
}

func TestValidate_UnknownOperator(t *testing.T) {
	questions := []models.Question{
		{Key: "a"},
		{Key: "b", Rule: rule(models.LogicAnd,
			models.Condition{Field: "a", Operator: "matches", Value: "x"})},
	}

	violations := Validate(questions)
	require.Len(t, violations, 1)
	assert.Equal(t, 1, violations[0].QuestionIndex)
	assert.Equal(t, "b", violations[0].QuestionKey)
	assert.Equal(t, 0, violations[0].ConditionIndex)
	assert.Contains(t, violations[0].Message, "matches")
}

func TestValidate_UnknownCombinator(t *testing.T) {
	questions := []models.Question{
		{Key: "a"},
		{Key: "b", Rule: rule("XOR",
			models.Condition{Field: "a", Operator: models.OperatorEquals, Value: "x"})},
	}

	violations := Validate(questions)
	require.Len(t, violations, 1)
	assert.Equal(t, -1, violations[0].ConditionIndex)
	assert.Contains(t, violations[0].Message, "XOR")
}

func TestValidate_SelfReference(t *testing.T) {
	questions := []models.Question{
		{Key: "a", Rule: rule(models.LogicAnd,
			models.Condition{Field: "a", Operator: models.OperatorEquals, Value: "x"})},
	}

	violations := Validate(questions)
	require.Len(t, violations, 1)
	assert.Equal(t, "question references itself", violations[0].Message)
}

func TestValidate_UnknownTarget(t *testing.T) {
	questions := []models.Question{
		{Key: "a", Rule: rule(models.LogicAnd,
			models.Condition{Field: "ghost", Operator: models.OperatorEquals, Value: "x"})},
	}

	violations := Validate(questions)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Message, "ghost")
}

func TestValidate_ForwardReference(t *testing.T) {
	questions := []models.Question{
		{Key: "a", Rule: rule(models.LogicAnd,
			models.Condition{Field: "b", Operator: models.OperatorEquals, Value: "x"})},
		{Key: "b"},
	}

	violations := Validate(questions)
	require.Len(t, violations, 1)
	assert.Equal(t, 0, violations[0].QuestionIndex)
	assert.Contains(t, violations[0].Message, "later question")
}

func TestValidate_Cycle(t *testing.T) {
	// a depends on b and b depends on a; the forward edge is also
	// reported on its own.
	questions := []models.Question{
		{Key: "a", Rule: rule(models.LogicAnd,
			models.Condition{Field: "b", Operator: models.OperatorEquals, Value: "x"})},
		{Key: "b", Rule: rule(models.LogicAnd,
			models.Condition{Field: "a", Operator: models.OperatorEquals, Value: "x"})},
	}

	violations := Validate(questions)

	var cycleKeys []string
	forward := 0
	for _, v := range violations {
		switch {
		case v.ConditionIndex == -1:
			cycleKeys = append(cycleKeys, v.QuestionKey)
		default:
			forward++
		}
	}

	assert.Equal(t, []string{"a", "b"}, cycleKeys)
	assert.Equal(t, 1, forward)
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	questions := []models.Question{
		{Key: "a"},
		{Key: "b", Rule: rule("MAYBE",
			models.Condition{Field: "ghost", Operator: "matches", Value: "x"},
			models.Condition{Field: "b", Operator: models.OperatorEquals, Value: "x"},
		)},
	}

	// Bad combinator, unknown operator, unknown target, self-reference.
	violations := Validate(questions)
	assert.Len(t, violations, 4)
}
