// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `Load` calls `validateStruct` immediately after it unmarshals the merged
// Koanf tree into a `Config`.  Any validation error aborts start-up, so
// the binary never runs with partial, malformed, or missing
// configuration.
//
// Besides the built-in rules the model registers `prefix`, which rejects
// session prefixes containing whitespace.
//
// Notes
// -----
//   • Oxford commas, two spaces after periods.
package config

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	_ = val.RegisterValidation("prefix", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsSpace)
	})
	return val
}

//
// public API
//

// validateStruct returns the validation errors, or nil on success.
func validateStruct(c *Config) error {
	return v.Struct(c)
}
