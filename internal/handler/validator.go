package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RequestValidator adapts go-playground/validator to echo.Validator so
// handlers can call c.Validate on their bound request bodies.
type RequestValidator struct {
	v *validator.Validate
}

// NewRequestValidator returns a validator with required-struct checks
// enabled.  Fields are reported by their JSON names.
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{v: v}
}

// Validate checks the struct tags of i and flattens failures into one
// readable message.
func (rv *RequestValidator) Validate(i interface{}) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fieldName(fe)))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fieldName(fe), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fieldName(fe), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fieldName(fe)))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldName(fe validator.FieldError) string { return fe.Field() }
