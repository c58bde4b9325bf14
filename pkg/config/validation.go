package config

import (
	"reflect"

	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// Validator lets a configuration struct check invariants that tags
// cannot express. When the struct passed to [Loader.Load] implements it,
// Validate runs after the required-tag check, on the fully resolved
// values.
//
// Return the first problem found, or nil. Classified errors pass through
// untouched; anything else is wrapped with [iderr.CodeValidation].
//
//	func (c *StoreConfig) Validate() error {
//	    if c.MaxConns < c.MinConns {
//	        return iderr.Newf(iderr.CodeValidation,
//	            "config: max_conns %d is below min_conns %d", c.MaxConns, c.MinConns)
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

// validate runs the required-tag sweep and then the struct's own
// Validate method when present. cfg is the original pointer (for the
// interface assertion); rv is the dereferenced struct value.
func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv); err != nil {
		return err
	}

	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	err := v.Validate()
	if err == nil {
		return nil
	}
	if _, classified := iderr.AsError(err); classified {
		return err
	}
	return iderr.Wrap(err, iderr.CodeValidation, "config: custom validation failed")
}

// validateRequired rejects the first field tagged required:"true" that
// still holds its zero value after all layers applied.
func validateRequired(rv reflect.Value) error {
	return walk(rv, "", "", func(field reflect.Value, sf reflect.StructField, _, path string) error {
		if sf.Tag.Get(tagRequired) != "true" {
			return nil
		}
		if field.IsZero() {
			return iderr.Newf(iderr.CodeValidationRequired,
				"config: required field %q is empty", path)
		}
		return nil
	})
}
