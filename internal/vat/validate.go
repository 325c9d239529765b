package vat

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

// validate caches struct metadata; safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validateRequest checks struct tags and returns an ErrValidation-marked
// error whose hint names every failing field.
func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Mark(errors.Wrap(err, "validating request"), ErrValidation)
	}

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s (%s=%s)", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
	}

	return errors.WithHint(
		errors.Mark(errors.Newf("invalid request: %s", strings.Join(fields, ", ")), ErrValidation),
		"fix the listed fields and resubmit",
	)
}
