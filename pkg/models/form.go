package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/google/uuid"
)

// QuestionType enumerates the supported answer types.
type QuestionType string

const (
	QuestionTypeText         QuestionType = "text"
	QuestionTypeLongText     QuestionType = "longText"
	QuestionTypeNumber       QuestionType = "number"
	QuestionTypeEmail        QuestionType = "email"
	QuestionTypePhone        QuestionType = "phone"
	QuestionTypeDate         QuestionType = "date"
	QuestionTypeCheckbox     QuestionType = "checkbox"
	QuestionTypeSingleSelect QuestionType = "singleSelect"
	QuestionTypeMultiSelect  QuestionType = "multiSelect"
	QuestionTypeAttachment   QuestionType = "attachment"
)

// Condition operators and rule combinators.
const (
	OperatorEquals    = "equals"
	OperatorNotEquals = "notEquals"
	OperatorContains  = "contains"

	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Condition compares the answer of another question against a value.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// ConditionalRule gates a question's visibility on earlier answers.
type ConditionalRule struct {
	Logic      string      `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

// Question is one entry of a form, in declared order. FieldID and FieldName
// identify the column the answer maps to in the external table.
type Question struct {
	Key       string           `json:"key"`
	Label     string           `json:"label"`
	Type      QuestionType     `json:"type"`
	Required  bool             `json:"required"`
	Options   []string         `json:"options,omitempty"`
	FieldID   string           `json:"field_id,omitempty"`
	FieldName string           `json:"field_name,omitempty"`
	Rule      *ConditionalRule `json:"rule,omitempty"`
}

// Form is an ordered set of questions mirrored into one external table.
type Form struct {
	ID          uuid.UUID                  `db:"id" json:"id"`
	OwnerID     uuid.UUID                  `db:"owner_id" json:"owner_id"`
	Name        string                     `db:"name" json:"name"`
	Description *string                    `db:"description" json:"description,omitempty"`
	BaseID      string                     `db:"base_id" json:"base_id"`
	TableID     string                     `db:"table_id" json:"table_id"`
	Questions   database.JSONB[[]Question] `db:"questions" json:"questions"`
	CreatedAt   time.Time                  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time                  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Form) TableName() string {
	return "forms"
}
