package utils

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	eaverrors "github.com/congraphcms/eav-sub001/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// ParseArguments converts loosely typed input into T via JSON.
func ParseArguments[T any](args any) (T, error) {
	var result T

	if arg, ok := args.(T); ok {
		return arg, nil
	}

	b, err := json.Marshal(args)
	if err != nil {
		return result, err
	}

	if err = json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("argument %v is not a valid %T", args, result)
	}

	return result, nil
}

// Validate checks struct tags and reports failures as a ValidationError keyed
// by json field path.
func Validate[T any](value T) (T, error) {
	if err := validate.Struct(value); err != nil {
		return value, ValidationErrorFrom(err)
	}
	return value, nil
}

func ValidateArguments[T any](args any) (T, error) {
	result, err := ParseArguments[T](args)
	if err != nil {
		return result, eaverrors.NewBadRequestError("", "%s", err.Error())
	}
	return Validate(result)
}

func ValidationErrorFrom(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	result := eaverrors.NewValidationError()
	for _, fe := range verrs {
		result.Add(fieldPath(fe.Namespace()), ruleMessage(fe))
	}
	return result
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	}
	if fe.Param() != "" {
		return fmt.Sprintf("failed rule '%s' (%s)", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("failed rule '%s'", fe.Tag())
}
