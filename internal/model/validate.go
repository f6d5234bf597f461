package model

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks v's validate tags and reports the first failing field as
// a ValidationError.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return NewValidationError("", "%v", err)
	}
	fe := verrs[0]
	field := fieldPath(fe.Namespace())
	if fe.Param() != "" {
		return NewValidationError(field, "failed rule %q (%s), got %v", fe.Tag(), fe.Param(), fe.Value())
	}
	return NewValidationError(field, "failed rule %q, got %v", fe.Tag(), fe.Value())
}

// fieldPath drops the root type name from a validator namespace:
// "Extraction.Items[0].UnitPrice" becomes "Items[0].UnitPrice".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
