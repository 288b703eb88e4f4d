package cart

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ProductIDLength is the fixed length of a well-formed product identifier.
const ProductIDLength = 24

const productIDRule = "required,len=24,hexadecimal"

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidProductID reports whether id has the fixed-length opaque identifier shape.
func ValidProductID(id string) bool {
	return Validator().Var(id, productIDRule) == nil
}

// ValidateProductID returns ErrInvalidProductID for malformed ids.
func ValidateProductID(id string) error {
	if err := Validator().Var(id, productIDRule); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %q fails %s", ErrInvalidProductID, id, verrs[0].Tag())
		}
		return fmt.Errorf("%w: %q", ErrInvalidProductID, id)
	}
	return nil
}
