package usecase

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"billing-saga/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names (unit_amount) instead of Go names (UnitAmount)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validateInput checks struct tags and returns a domain input error naming the first bad field.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return domain.Invalid("%v", err)
	}
	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return domain.Invalid("%s is required", fe.Field())
	case "email":
		return domain.Invalid("%s must be a valid email address", fe.Field())
	case "gt":
		return domain.Invalid("%s must be greater than %s", fe.Field(), fe.Param())
	case "url":
		return domain.Invalid("%s must be a valid URL", fe.Field())
	case "max":
		return domain.Invalid("%s must be at most %s characters", fe.Field(), fe.Param())
	}
	return domain.Invalid("%s is invalid", fe.Field())
}
