package trigger

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lumaops/provisioner/pkg/engine"
)

var (
	slugPattern      = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)
	numericPattern   = regexp.MustCompile(`^[0-9]+$`)
	projectIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)
)

// Validator checks client records before any side effect happens.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a validator with the record tags registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "slug", slugPattern)
	mustRegister(v, "numeric_id", numericPattern)
	mustRegister(v, "project_id", projectIDPattern)
	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, re *regexp.Regexp) {
	err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// Validate returns a ValidationError listing every offending field.
func (v *Validator) Validate(rec *engine.ClientRecord) error {
	if rec == nil {
		return engine.NewValidationError("client record is missing", nil)
	}

	err := v.v.Struct(rec)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return engine.NewValidationError("client record could not be validated", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return engine.NewValidationError(
		fmt.Sprintf("invalid client record: %s", strings.Join(msgs, "; ")), err).
		WithResource(rec.ID)
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "slug":
		return field + " must be lowercase letters and digits separated by '-' or '_'"
	case "numeric_id":
		return field + " must be a decimal number"
	case "project_id":
		return field + " must be 6-30 characters of lowercase letters, digits and hyphens, starting with a letter"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
