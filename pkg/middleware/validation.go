package middleware

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var nicknamePattern = regexp.MustCompile(`^[\p{L}\p{N}_]{2,20}$`)

// RegisterValidators installs custom binding tags on gin's validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin binding engine is not go-playground/validator")
	}
	return v.RegisterValidation("nickname", func(fl validator.FieldLevel) bool {
		return nicknamePattern.MatchString(fl.Field().String())
	})
}

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors flattens a binding error into per-field messages. It
// returns nil when err is not a validation failure.
func ValidationErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{Field: fe.Field(), Message: errorMessage(fe)})
	}
	return out
}

func errorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		return fmt.Sprintf("Minimum length is %s", fe.Param())
	case "max":
		return fmt.Sprintf("Maximum length is %s", fe.Param())
	case "url":
		return "Invalid URL"
	case "nickname":
		return "Nickname must be 2-20 letters, digits or underscores"
	default:
		return "Invalid value"
	}
}
