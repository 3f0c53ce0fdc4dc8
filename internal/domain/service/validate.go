package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jonny/sentinel/internal/domain/model"
)

var commandValidate = validator.New(validator.WithRequiredStructEnabled())

// validateCommand runs struct tag validation and reports the first failing
// field as a model.ValidationError.
func validateCommand(cmd any) error {
	err := commandValidate.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := fmt.Sprintf("failed %q check", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q check (%s)", fe.Tag(), fe.Param())
		}
		return model.NewValidationError(lowerFirst(fe.Field()), msg)
	}
	return model.NewValidationError("", err.Error())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// persistErr passes domain errors through and classifies everything else as a
// persistence failure.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrPersistence) ||
		errors.Is(err, model.ErrConflict) || errors.Is(err, model.ErrValidation) {
		return err
	}
	return model.NewPersistenceError(op, err)
}

func requireNonEmpty(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return model.NewValidationError(field, "must not be empty")
	}
	return nil
}
