package models

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mono/internal/apperr"
)

// maxNameLen keeps "<name>.md" within common file name limits.
const maxNameLen = 250

var errNameChars = errors.New(`must not contain "/", "\" or control characters`)

// ValidateName checks that name can be used as a note name and as a remote
// file name. The error wraps apperr.ErrInvalidName.
func ValidateName(name string) error {
	err := validation.Validate(name,
		validation.Required,
		validation.RuneLength(1, maxNameLen),
		validation.By(func(v any) error {
			s, _ := v.(string)
			if strings.ContainsAny(s, `/\`) || strings.IndexFunc(s, isControl) >= 0 {
				return errNameChars
			}
			if strings.TrimSpace(s) != s {
				return errors.New("must not start or end with whitespace")
			}
			if strings.HasPrefix(s, ".") {
				return errors.New(`must not start with "."`)
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %q %v", apperr.ErrInvalidName, name, err)
	}
	return nil
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}
