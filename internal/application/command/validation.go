// Package command contains write operations (CQRS - Commands).
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// validate is shared by every command; validator caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validateCommand checks the `validate` tags of cmd and reports failures as
// a Validation domain error naming the offending fields.
func validateCommand(op string, cmd interface{}) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return shared.WrapError("command", op, shared.ErrValidation, "invalid command", err)
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", toSnake(fe.Field()), fe.Tag()))
	}
	return shared.NewDomainError("command", op, shared.ErrValidation, strings.Join(parts, "; "))
}

// toSnake turns Go field names into the snake_case used on the wire, e.g.
// AttemptID -> attempt_id.
func toSnake(name string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range name {
		upper := r >= 'A' && r <= 'Z'
		if upper && prevLower {
			b.WriteByte('_')
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
		prevLower = !upper
	}
	return b.String()
}
