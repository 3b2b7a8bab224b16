package api

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the declarative field tags of a request payload.
func validateStruct(v any) error {
	return validate.Struct(v)
}
