package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	apperrors "bimoi/backend/pkg/errors"
)

// MaxContextLength bounds a relationship context note
const MaxContextLength = 4000

var validate = validator.New()

// Validate checks struct tags and converts the first failure into a
// validation error naming the offending field.
func Validate(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		return fieldError(fieldErrs[0])
	}
	return apperrors.NewValidation("input", err.Error())
}

func fieldError(e validator.FieldError) error {
	field := snake(e.Field())
	switch e.Tag() {
	case "required":
		return apperrors.NewValidation(field, "is required")
	case "required_with":
		return apperrors.NewValidation(field, "is required when "+snake(e.Param())+" is set")
	case "max":
		return apperrors.NewValidation(field, "must be at most "+e.Param()+" characters")
	default:
		return apperrors.NewValidation(field, "is invalid")
	}
}

// ValidateContextText checks a relationship note after trimming
func ValidateContextText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.NewValidation("context", "must not be empty")
	}
	if utf8.RuneCountInString(text) > MaxContextLength {
		return "", apperrors.NewValidation("context", "is too long")
	}
	return text, nil
}

// snake converts a Go field name such as PhoneNumber to phone_number
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
