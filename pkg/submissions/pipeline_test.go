package submissions

import (
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/conditional"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testPipeline() *Pipeline {
	logger := testLogger()
	return NewPipeline(conditional.NewEvaluator(logger), logger)
}

func formWith(questions ...models.Question) *models.Form {
	form := &models.Form{BaseID: "appBase", TableID: "tblTable"}
	form.Questions.Data = questions
	return form
}

func TestProcess_MapsToFieldNames(t *testing.T) {
	form := formWith(
		models.Question{Key: "full_name", Type: models.QuestionTypeText, FieldName: "Full Name"},
		models.Question{Key: "age", Type: models.QuestionTypeNumber, FieldName: "Age"},
	)

	fields, err := testPipeline().Process(form, map[string]any{
		"full_name": "Ada Lovelace",
		"age":       float64(36),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"Full Name": "Ada Lovelace",
		"Age":       float64(36),
	}, fields)
}

func TestProcess_FallsBackToQuestionKey(t *testing.T) {
	form := formWith(models.Question{Key: "email", Type: models.QuestionTypeEmail})

	fields, err := testPipeline().Process(form, map[string]any{"email": "ada@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", fields["email"])
}

func TestProcess_RequiredMissing(t *testing.T) {
	form := formWith(
		models.Question{Key: "name", Type: models.QuestionTypeText, FieldName: "Name", Required: true},
	)

	_, err := testPipeline().Process(form, map[string]any{})

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "name", validation.QuestionKey)
}

func TestProcess_HiddenRequiredIsSkipped(t *testing.T) {
	form := formWith(
		models.Question{Key: "has_pet", Type: models.QuestionTypeCheckbox},
		models.Question{Key: "pet_name", Type: models.QuestionTypeText, FieldName: "Pet", Required: true,
			Rule: &models.ConditionalRule{
				Logic: models.LogicAnd,
				Conditions: []models.Condition{
					{Field: "has_pet", Operator: models.OperatorEquals, Value: true},
				},
			}},
	)

	fields, err := testPipeline().Process(form, map[string]any{"has_pet": false})
	require.NoError(t, err)
	assert.NotContains(t, fields, "Pet")
}

func TestProcess_HiddenAnswerInvisibleToLaterRules(t *testing.T) {
	// "b" is hidden, so its answer must not satisfy the rule on "c" even
	// though the respondent sent one.
	form := formWith(
		models.Question{Key: "a", Type: models.QuestionTypeCheckbox},
		models.Question{Key: "b", Type: models.QuestionTypeText,
			Rule: &models.ConditionalRule{
				Logic: models.LogicAnd,
				Conditions: []models.Condition{
					{Field: "a", Operator: models.OperatorEquals, Value: true},
				},
			}},
		models.Question{Key: "c", Type: models.QuestionTypeText, FieldName: "C",
			Rule: &models.ConditionalRule{
				Logic: models.LogicAnd,
				Conditions: []models.Condition{
					{Field: "b", Operator: models.OperatorEquals, Value: "secret"},
				},
			}},
	)

	fields, err := testPipeline().Process(form, map[string]any{
		"a": false,
		"b": "secret",
		"c": "should not appear",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": false}, fields)
}

func TestProcess_SingleSelectValidatesOptions(t *testing.T) {
	form := formWith(
		models.Question{Key: "size", Type: models.QuestionTypeSingleSelect,
			FieldName: "Size", Options: []string{"S", "M", "L"}},
	)

	fields, err := testPipeline().Process(form, map[string]any{"size": "M"})
	require.NoError(t, err)
	assert.Equal(t, "M", fields["Size"])

	_, err = testPipeline().Process(form, map[string]any{"size": "XXL"})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "size", validation.QuestionKey)
}

func TestProcess_MultiSelectValidatesEveryElement(t *testing.T) {
	form := formWith(
		models.Question{Key: "toppings", Type: models.QuestionTypeMultiSelect,
			FieldName: "Toppings", Options: []string{"ham", "cheese"}},
	)

	fields, err := testPipeline().Process(form, map[string]any{
		"toppings": []any{"ham", "cheese"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ham", "cheese"}, fields["Toppings"])

	_, err = testPipeline().Process(form, map[string]any{
		"toppings": []any{"ham", "pineapple"},
	})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Message, "pineapple")
}

func TestProcess_AttachmentShaping(t *testing.T) {
	form := formWith(
		models.Question{Key: "resume", Type: models.QuestionTypeAttachment, FieldName: "Resume"},
	)

	fields, err := testPipeline().Process(form, map[string]any{
		"resume": "https://files.example.com/resume.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"url": "https://files.example.com/resume.pdf"},
	}, fields["Resume"])

	fields, err = testPipeline().Process(form, map[string]any{
		"resume": []any{"https://a.example.com/1.png", "https://a.example.com/2.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"url": "https://a.example.com/1.png"},
		{"url": "https://a.example.com/2.png"},
	}, fields["Resume"])
}

func TestProcess_UnknownTypePassesThrough(t *testing.T) {
	form := formWith(
		models.Question{Key: "sig", Type: "signature", FieldName: "Signature"},
	)

	fields, err := testPipeline().Process(form, map[string]any{
		"sig": map[string]any{"points": []any{1.0, 2.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"points": []any{1.0, 2.0}}, fields["Signature"])
}

func TestProcess_WrongTypeRejected(t *testing.T) {
	form := formWith(
		models.Question{Key: "age", Type: models.QuestionTypeNumber, FieldName: "Age"},
	)

	_, err := testPipeline().Process(form, map[string]any{"age": "old"})

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "age", validation.QuestionKey)
}

func TestProcess_OptionalEmptySkipped(t *testing.T) {
	form := formWith(
		models.Question{Key: "nickname", Type: models.QuestionTypeText, FieldName: "Nickname"},
	)

	fields, err := testPipeline().Process(form, map[string]any{"nickname": ""})
	require.NoError(t, err)
	assert.Empty(t, fields)
}
