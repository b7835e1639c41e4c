package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sogeor/flow/domain"
)

// RequestValidator adapts validator/v10 to echo.Validator and turns the
// first failing rule into a field-level ValidationError.
type RequestValidator struct {
	v *validator.Validate
}

// NewValidator returns the echo.Validator used for request bodies.
func NewValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{v: v}
}

func (rv *RequestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return domain.Invalid(fe.Field(), fieldMessage(fe))
	}
	return err
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "email":
		return "Invalid email"
	case "password":
		if fe.Tag() == "min" {
			return fmt.Sprintf("Password must be at least %s characters", fe.Param())
		}
		return "Password is required"
	case "username":
		return "Username is required"
	case "title":
		return "Title is required"
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
