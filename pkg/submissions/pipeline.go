// Package submissions turns raw form answers into the field map written to
// the external table.
package submissions

import (
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/conditional"
	"github.com/Ramsey-B/fern/pkg/models"
)

// ValidationError reports a submission that failed validation. It names the
// question so the caller can point the respondent at the offending field.
type ValidationError struct {
	QuestionKey string `json:"questionKey"`
	Message     string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("question %q: %s", e.QuestionKey, e.Message)
}

// Pipeline validates answers against a form's questions and maps them onto
// external field names.
type Pipeline struct {
	evaluator *conditional.Evaluator
	logger    ectologger.Logger
}

// NewPipeline creates a new submission pipeline.
func NewPipeline(evaluator *conditional.Evaluator, logger ectologger.Logger) *Pipeline {
	return &Pipeline{
		evaluator: evaluator,
		logger:    logger,
	}
}

// Process walks the questions in declared order, deciding visibility from
// the answers accumulated so far. Hidden questions are skipped entirely:
// their answers do not reach the output and later rules cannot see them.
// A required visible question without an answer stops the walk with a
// ValidationError. The result maps external field names to coerced values.
func (p *Pipeline) Process(form *models.Form, answers map[string]any) (map[string]any, error) {
	accumulated := make(map[string]any, len(answers))
	fields := make(map[string]any, len(answers))

	for _, question := range form.Questions.Data {
		if !p.evaluator.Evaluate(question.Rule, accumulated) {
			continue
		}

		answer, ok := answers[question.Key]
		if !ok || isEmpty(answer) {
			if question.Required {
				return nil, &ValidationError{
					QuestionKey: question.Key,
					Message:     "answer is required",
				}
			}
			continue
		}

		coerced, err := p.coerce(question, answer)
		if err != nil {
			return nil, err
		}

		accumulated[question.Key] = answer
		fields[fieldName(question)] = coerced
	}

	return fields, nil
}

func (p *Pipeline) coerce(question models.Question, answer any) (any, error) {
	switch question.Type {
	case models.QuestionTypeText, models.QuestionTypeLongText,
		models.QuestionTypeEmail, models.QuestionTypePhone,
		models.QuestionTypeDate:
		value, err := AnyToType[string](answer)
		if err != nil {
			return nil, &ValidationError{QuestionKey: question.Key, Message: "answer must be text"}
		}
		return value, nil

	case models.QuestionTypeNumber:
		value, err := AnyToType[float64](answer)
		if err != nil {
			return nil, &ValidationError{QuestionKey: question.Key, Message: "answer must be a number"}
		}
		return value, nil

	case models.QuestionTypeCheckbox:
		value, err := AnyToType[bool](answer)
		if err != nil {
			return nil, &ValidationError{QuestionKey: question.Key, Message: "answer must be true or false"}
		}
		return value, nil

	case models.QuestionTypeSingleSelect:
		value, err := AnyToType[string](answer)
		if err != nil {
			return nil, &ValidationError{QuestionKey: question.Key, Message: "answer must be one of the question's options"}
		}
		if !isOption(question.Options, value) {
			return nil, &ValidationError{
				QuestionKey: question.Key,
				Message:     fmt.Sprintf("%q is not one of the question's options", value),
			}
		}
		return value, nil

	case models.QuestionTypeMultiSelect:
		values, err := AnyToType[[]string](answer)
		if err != nil {
			return nil, &ValidationError{QuestionKey: question.Key, Message: "answer must be a list of the question's options"}
		}
		for _, value := range values {
			if !isOption(question.Options, value) {
				return nil, &ValidationError{
					QuestionKey: question.Key,
					Message:     fmt.Sprintf("%q is not one of the question's options", value),
				}
			}
		}
		return values, nil

	case models.QuestionTypeAttachment:
		return shapeAttachments(question, answer)

	default:
		// Unknown question types pass the answer through untouched so
		// new types degrade gracefully instead of dropping data.
		p.logger.Warnf("unknown question type %q on question %q, passing answer through", question.Type, question.Key)
		return answer, nil
	}
}

// shapeAttachments converts one URL or a list of URLs into the url-object
// shape the external service expects for attachment fields.
func shapeAttachments(question models.Question, answer any) (any, error) {
	urls, err := AnyToType[[]string](answer)
	if err != nil {
		single, serr := AnyToType[string](answer)
		if serr != nil {
			return nil, &ValidationError{QuestionKey: question.Key, Message: "answer must be a URL or a list of URLs"}
		}
		urls = []string{single}
	}

	attachments := make([]map[string]any, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		attachments = append(attachments, map[string]any{"url": u})
	}
	return attachments, nil
}

func fieldName(question models.Question) string {
	if question.FieldName != "" {
		return question.FieldName
	}
	return question.Key
}

func isOption(options []string, value string) bool {
	for _, option := range options {
		if option == value {
			return true
		}
	}
	return false
}

func isEmpty(answer any) bool {
	switch v := answer.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	default:
		return false
	}
}
