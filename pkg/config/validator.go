package config

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers the validation tags used by Config.
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("regexp", validateRegexp)
}

// validateRegexp accepts empty strings; pair it with required when a pattern is mandatory.
func validateRegexp(fl validator.FieldLevel) bool {
	p := strings.TrimSpace(fl.Field().String())
	if p == "" {
		return true
	}
	_, err := regexp.Compile(p)
	return err == nil
}
