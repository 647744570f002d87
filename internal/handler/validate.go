package handler

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/abdusco/shortly/internal"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var vanityPattern = regexp.MustCompile(`^[^\s/?#]+$`)

// RequestValidator plugs validator/v10 into echo.Context.Validate.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		return lo.Ternary(name == "" || name == "-", field.Name, name)
	})
	_ = v.RegisterValidation("vanity", func(fl validator.FieldLevel) bool {
		return vanityPattern.MatchString(fl.Field().String())
	})
	return &RequestValidator{validate: v}
}

func (v *RequestValidator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %s", internal.ErrValidation, err)
	}

	problems := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
		return describe(fe)
	})
	return fmt.Errorf("%w: %s", internal.ErrValidation, strings.Join(problems, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "url":
		return field + " must be a valid url"
	case "email":
		return field + " must be a valid email"
	case "eqfield":
		return field + " does not match"
	case "vanity":
		return field + " must not contain whitespace, '/', '?' or '#'"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "alpha":
		return field + " must contain only letters"
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
