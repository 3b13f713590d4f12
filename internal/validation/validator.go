// Package validation validates request and configuration structs with
// go-playground/validator and reports failures as *errs.ValidationError,
// named by the field's JSON (or koanf) key.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/nvandessel/eventradar/internal/errs"
)

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Get returns the singleton validator instance. It is safe for concurrent use
// and caches struct metadata across calls.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(fieldName)
		// notblank rejects strings that are empty after trimming whitespace.
		_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	})
	return validate
}

// fieldName reports the json tag name, falling back to the koanf tag and then
// to the Go field name.
func fieldName(f reflect.StructField) string {
	for _, key := range []string{"json", "koanf"} {
		name, _, _ := strings.Cut(f.Tag.Get(key), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

// Struct validates s. It returns nil, or an error from which errors.As
// extracts the first *errs.ValidationError; every failing field is joined
// into the error.
func Struct(s any) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs.Invalid("", err.Error())
	}

	out := make([]error, len(fieldErrs))
	for i, fe := range fieldErrs {
		out[i] = errs.Invalid(fieldPath(fe), translate(fe))
	}
	if len(out) == 1 {
		return out[0]
	}
	return errors.Join(out...)
}

// fieldPath drops the top-level struct name from the namespace:
// "EventInput.tags[2]" becomes "tags[2]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

// messages maps validation tags to reasons.
var messages = map[string]string{
	"required": "is required",
	"notblank": "must not be blank",
	"url":      "must be a valid URL",
	"dive":     "is invalid",
}

// messagesWithParam maps validation tags to reasons that include the param.
var messagesWithParam = map[string]string{
	"oneof": "must be one of: %s",
	"gte":   "must be greater than or equal to %s",
	"lte":   "must be less than or equal to %s",
	"gt":    "must be greater than %s",
	"lt":    "must be less than %s",
}

func translate(fe validator.FieldError) string {
	if msg, ok := messages[fe.Tag()]; ok {
		return msg
	}
	if tmpl, ok := messagesWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Param())
	}

	unit := ""
	switch fe.Kind() {
	case reflect.String:
		unit = " characters"
	case reflect.Slice, reflect.Map:
		unit = " items"
	}
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("must be at least %s%s", fe.Param(), unit)
	case "max":
		return fmt.Sprintf("must be at most %s%s", fe.Param(), unit)
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
